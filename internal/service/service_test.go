package service_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mockrelay/internal/config"
	"mockrelay/internal/service"
	"mockrelay/pkg/domain"
	"mockrelay/pkg/mockclient"
)

func setup(t *testing.T) (*service.App, string) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "real:"+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	cfg := config.NewConfig()
	cfg.Server.Upstream = upstream.URL
	cfg.Sqlite.Db = ":memory:"
	cfg.Log.Writer = nil

	app, err := service.New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		app.Close()
		srv.Close()
	})
	return app, srv.URL
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func get(t *testing.T, url string, header http.Header) (int, string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestApp_ProxyMockAndPersist(t *testing.T) {
	app, base := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := mockclient.Dial(ctx, mockclient.Options{
		URL:      "ws" + strings.TrimPrefix(base, "http") + "/__mockrelay/ws",
		ClientID: "tab-1",
		Handler: func(_ context.Context, req domain.RequestPayload) domain.MockDecision {
			if strings.HasSuffix(req.URL, "/api/jobs") {
				return domain.UseMock(domain.ResponseDescriptor{
					Status:  200,
					Headers: domain.Header{"content-type": "application/json"},
					Body:    []byte(`[{"id":1}]`),
				})
			}
			return domain.Passthrough()
		},
	})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()
	if _, err := c.Activate(ctx); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}

	h := http.Header{"X-Mockrelay-Client": {"tab-1"}}
	if code, body := get(t, base+"/api/jobs", h); code != 200 || body != `[{"id":1}]` {
		t.Fatalf("mocked = %d %q", code, body)
	}
	if code, body := get(t, base+"/api/other", h); code != 200 || body != "real:/api/other" {
		t.Fatalf("passthrough = %d %q", code, body)
	}
	h.Set("Sec-Fetch-Mode", "navigate")
	if code, body := get(t, base+"/index.html", h); code != 200 || body != "real:/index.html" {
		t.Fatalf("navigate = %d %q", code, body)
	}

	var page struct {
		Data struct {
			Total int64 `json:"total"`
			Items []struct {
				IsMockedResponse bool `json:"isMockedResponse"`
				Request          struct {
					URL string `json:"url"`
				} `json:"request"`
			} `json:"items"`
		} `json:"data"`
	}
	waitFor(t, func() bool {
		_, body := get(t, base+"/__mockrelay/api/events", nil)
		_ = json.Unmarshal([]byte(body), &page)
		return page.Data.Total == 2
	})
	mocked := 0
	for _, item := range page.Data.Items {
		if item.IsMockedResponse {
			mocked++
		}
	}
	if mocked != 1 {
		t.Errorf("mocked events = %d, want 1", mocked)
	}

	health := app.Health(context.Background())
	if health.ActiveClients != 1 || health.ConnectedClients != 1 || health.Generations != 1 {
		t.Errorf("health = %+v", health)
	}

	code, body := get(t, base+"/__mockrelay/api/events/har", nil)
	if code != 200 || !strings.Contains(body, `"version":"1.2"`) {
		t.Errorf("har = %d %s", code, body)
	}
}

func TestApp_NoClientsBypasses(t *testing.T) {
	app, base := setup(t)
	if code, body := get(t, base+"/plain", nil); code != 200 || body != "real:/plain" {
		t.Fatalf("bypass = %d %q", code, body)
	}
	if n := len(app.ListInflight(context.Background())); n != 0 {
		t.Errorf("inflight = %d", n)
	}
}

func TestApp_SessionsRecorded(t *testing.T) {
	app, base := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := mockclient.Dial(ctx, mockclient.Options{
		URL:      "ws" + strings.TrimPrefix(base, "http") + "/__mockrelay/ws",
		ClientID: "tab-9",
	})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	if _, err := c.Activate(ctx); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	_ = c.Close()

	waitFor(t, func() bool {
		sessions, err := app.ListSessions(context.Background(), false, 10)
		return err == nil && len(sessions) == 1 && sessions[0].ClosedAt > 0
	})
	waitFor(t, func() bool { return app.Health(context.Background()).Generations == 2 })
}

func TestApp_TargetsWithoutBridge(t *testing.T) {
	app, _ := setup(t)
	if _, err := app.ListTargets(context.Background()); err == nil {
		t.Error("ListTargets() without browser bridge should fail")
	}
}
