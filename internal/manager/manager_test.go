package manager_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mockrelay/internal/manager"
	"mockrelay/internal/router"
	"mockrelay/pkg/domain"
)

type nopInterceptor struct{}

func (nopInterceptor) Intercept(context.Context, *domain.InterceptedRequest) router.Outcome {
	return router.Outcome{Bypass: true}
}

// fakeDevTools 仅提供 /json/list，目标不带调试地址因此不会被附着
func fakeDevTools(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id":"page-1","type":"page","title":"Jobs","url":"http://app.test/jobs"},
			{"id":"sw-1","type":"service_worker","title":"sw","url":"http://app.test/sw.js"},
			{"id":"page-2","type":"page","title":"Candidates","url":"http://app.test/candidates"}
		]`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTargets_OnlyPages(t *testing.T) {
	srv := fakeDevTools(t)
	m := manager.New(manager.Options{DevToolsURL: srv.URL, Interceptor: nopInterceptor{}})

	targets, err := m.Targets(context.Background())
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("期望 2 个页面目标, got %d", len(targets))
	}
	for _, tt := range targets {
		if tt.Attached {
			t.Errorf("目标 %s 不应标记为已附着", tt.ID)
		}
	}
}

func TestStartStop_UnreachableBrowser(t *testing.T) {
	m := manager.New(manager.Options{
		DevToolsURL:  "http://127.0.0.1:1",
		Interceptor:  nopInterceptor{},
		PollInterval: 10 * time.Millisecond,
	})
	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop 未返回")
	}
}
