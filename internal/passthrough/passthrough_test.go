package passthrough_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mockrelay/internal/passthrough"
	"mockrelay/pkg/domain"
)

type recordingFetcher struct {
	got domain.RequestDescriptor
	err error
}

func (f *recordingFetcher) Fetch(_ context.Context, req domain.RequestDescriptor) (*domain.Response, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return domain.NewResponse(200, "OK", nil, []byte("real")), nil
}

func TestDo_ScrubsToken(t *testing.T) {
	f := &recordingFetcher{}
	p := passthrough.New(f, nil)

	headers := domain.Header{"accept": "msw/passthrough"}
	resp, err := p.Do(context.Background(), domain.RequestDescriptor{URL: "http://x/", Headers: headers})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if f.got.Headers.Has("accept") {
		t.Error("accept should be removed when only the token was present")
	}
	if !headers.Has("accept") {
		t.Error("caller headers must not be modified")
	}
	if resp.IsMocked() {
		t.Error("passthrough response must not be marked mocked")
	}
}

func TestBypass_KeepsHeaders(t *testing.T) {
	f := &recordingFetcher{}
	p := passthrough.New(f, nil)

	_, _ = p.Bypass(context.Background(), domain.RequestDescriptor{Headers: domain.Header{"accept": "msw/passthrough"}})
	if f.got.Headers.Get("accept") != "msw/passthrough" {
		t.Error("bypass must forward the request unmodified")
	}
}

func TestDo_FetchErrorIsNetworkError(t *testing.T) {
	p := passthrough.New(&recordingFetcher{err: errors.New("dial failed")}, nil)
	resp, err := p.Do(context.Background(), domain.RequestDescriptor{Headers: domain.Header{}})
	if err == nil {
		t.Error("expected error")
	}
	if !resp.IsNetworkError() {
		t.Errorf("got %+v, want network error", resp)
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Accept", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := passthrough.NewHTTPFetcher(passthrough.HTTPOptions{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), domain.RequestDescriptor{
		URL:     srv.URL + "/jobs",
		Method:  http.MethodPost,
		Headers: domain.Header{"accept": "application/json", "connection": "close"},
		Body:    []byte(`{"title":"x"}`),
	})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resp.Status != http.StatusCreated || resp.StatusText != "Created" {
		t.Errorf("status = %d %q", resp.Status, resp.StatusText)
	}
	if string(resp.Body) != `{"title":"x"}` {
		t.Errorf("body = %q", resp.Body)
	}
	if resp.Headers.Get("x-method") != "POST" || resp.Headers.Get("x-accept") != "application/json" {
		t.Errorf("headers = %v", resp.Headers)
	}
}

func TestHTTPFetcher_ManualRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	f := passthrough.NewHTTPFetcher(passthrough.HTTPOptions{})
	resp, err := f.Fetch(context.Background(), domain.RequestDescriptor{URL: srv.URL + "/old", Redirect: "manual"})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resp.Status != http.StatusFound {
		t.Errorf("status = %d, want 302", resp.Status)
	}

	resp, err = f.Fetch(context.Background(), domain.RequestDescriptor{URL: srv.URL + "/old", Redirect: "follow"})
	if err != nil || string(resp.Body) != "new" {
		t.Errorf("follow: %v %v", resp, err)
	}

	if _, err := f.Fetch(context.Background(), domain.RequestDescriptor{URL: srv.URL + "/old", Redirect: "error"}); err == nil {
		t.Error("redirect mode error should fail on redirect")
	}
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	f := passthrough.NewHTTPFetcher(passthrough.HTTPOptions{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), domain.RequestDescriptor{URL: "http://127.0.0.1:1/"})
	if !errors.Is(err, domain.ErrUpstreamUnreachable) {
		t.Errorf("err = %v, want ErrUpstreamUnreachable", err)
	}
}
