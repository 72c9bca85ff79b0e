package cdp_test

import (
	"encoding/base64"
	"testing"

	cdpadapter "mockrelay/internal/adapter/cdp"
	"mockrelay/pkg/domain"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

func pausedEvent(resourceType network.ResourceType, headers string) *fetch.RequestPausedReply {
	return &fetch.RequestPausedReply{
		RequestID: "interception-1",
		Request: network.Request{
			URL:            "http://app.test/api/jobs?page=1",
			Method:         "GET",
			Headers:        network.Headers(headers),
			ReferrerPolicy: "strict-origin-when-cross-origin",
		},
		ResourceType: resourceType,
	}
}

func TestToInterceptedRequest_Fetch(t *testing.T) {
	ev := pausedEvent(network.ResourceTypeFetch, `{"Accept":"application/json","X-Mockrelay-Client":"tab-1","Referer":"http://app.test/"}`)
	req := cdpadapter.ToInterceptedRequest("target-1", ev)

	if req.ClientID != "tab-1" {
		t.Errorf("ClientID = %q, want tab-1", req.ClientID)
	}
	if req.Headers.Has(cdpadapter.ClientHeader) {
		t.Error("客户端标识头不应进入请求描述")
	}
	if req.Headers.Get("accept") != "application/json" {
		t.Errorf("accept = %q", req.Headers.Get("accept"))
	}
	if req.Mode != domain.ModeCORS {
		t.Errorf("Mode = %q, want cors", req.Mode)
	}
	if req.Referrer != "http://app.test/" {
		t.Errorf("Referrer = %q", req.Referrer)
	}
	if req.ReferrerPolicy != "strict-origin-when-cross-origin" {
		t.Errorf("ReferrerPolicy = %q", req.ReferrerPolicy)
	}
	if req.URL != "http://app.test/api/jobs?page=1" || req.Method != "GET" {
		t.Errorf("URL/Method = %s %s", req.Method, req.URL)
	}
}

func TestToInterceptedRequest_DocumentIsNavigate(t *testing.T) {
	req := cdpadapter.ToInterceptedRequest("target-1", pausedEvent(network.ResourceTypeDocument, `{}`))
	if req.Mode != domain.ModeNavigate {
		t.Errorf("Mode = %q, want navigate", req.Mode)
	}
	if req.Destination != "document" {
		t.Errorf("Destination = %q", req.Destination)
	}
	if req.ClientID != "target-1" {
		t.Errorf("ClientID = %q, want target-1", req.ClientID)
	}
	if req.Referrer != "about:client" {
		t.Errorf("Referrer = %q", req.Referrer)
	}
}

func TestToInterceptedRequest_Body(t *testing.T) {
	ev := pausedEvent(network.ResourceTypeXHR, `{"Cache-Control":"only-if-cached"}`)
	ev.Request.Method = "POST"
	a := base64.StdEncoding.EncodeToString([]byte(`{"name":`))
	b := base64.StdEncoding.EncodeToString([]byte(`"Ada"}`))
	ev.Request.PostDataEntries = []network.PostDataEntry{{Bytes: &a}, {Bytes: &b}}

	req := cdpadapter.ToInterceptedRequest("target-1", ev)
	if string(req.Body) != `{"name":"Ada"}` {
		t.Errorf("Body = %q", req.Body)
	}
	if req.Cache != domain.CacheOnlyIfCached {
		t.Errorf("Cache = %q", req.Cache)
	}

	legacy := pausedEvent(network.ResourceTypeXHR, `{}`)
	data := "a=1"
	legacy.Request.PostData = &data
	if got := cdpadapter.ToInterceptedRequest("t", legacy).Body; string(got) != "a=1" {
		t.Errorf("PostData body = %q", got)
	}
}

func TestToFulfillArgs(t *testing.T) {
	resp := domain.NewMockedResponse(domain.ResponseDescriptor{
		Status:     201,
		StatusText: "Created",
		Headers:    domain.Header{"X-B": "2", "content-type": "application/json"},
		Body:       []byte(`{"ok":true}`),
	})
	args := cdpadapter.ToFulfillArgs("interception-1", resp)

	if args.ResponseCode != 201 {
		t.Errorf("ResponseCode = %d", args.ResponseCode)
	}
	if args.ResponsePhrase == nil || *args.ResponsePhrase != "Created" {
		t.Errorf("ResponsePhrase = %v", args.ResponsePhrase)
	}
	if string(args.Body) != `{"ok":true}` {
		t.Errorf("Body = %q", args.Body)
	}
	if len(args.ResponseHeaders) != 2 || args.ResponseHeaders[0].Name != "content-type" || args.ResponseHeaders[1].Name != "x-b" {
		t.Errorf("ResponseHeaders = %+v", args.ResponseHeaders)
	}
}
