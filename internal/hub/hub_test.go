package hub_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mockrelay/internal/hub"
	"mockrelay/internal/worker"
	"mockrelay/pkg/domain"
	"mockrelay/pkg/mockclient"
)

type realNetwork struct{}

func (realNetwork) Do(context.Context, domain.RequestDescriptor) (*domain.Response, error) {
	return domain.NewResponse(200, "OK", nil, []byte("real")), nil
}

func setup(t *testing.T) (*hub.Hub, *worker.Host, string) {
	t.Helper()
	h := hub.New(nil)
	host := worker.NewHost(func() *worker.Worker {
		return worker.New(worker.Options{Directory: h, Passthrough: realNetwork{}})
	}, nil)
	h.Bind(host)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
		host.Close()
	})
	return h, host, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, id string, handler mockclient.Handler) *mockclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := mockclient.Dial(ctx, mockclient.Options{URL: url, ClientID: domain.ClientID(id), Handler: handler})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeHTTP_RequiresClientID(t *testing.T) {
	h := hub.New(nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHub_HandshakeAndMock(t *testing.T) {
	h, host, url := setup(t)
	ctx := context.Background()

	c := dial(t, url, "tab-1", func(_ context.Context, req domain.RequestPayload) domain.MockDecision {
		if strings.HasSuffix(req.URL, "/api/jobs") {
			return domain.UseMock(domain.ResponseDescriptor{Status: 200, Body: []byte(`[]`)})
		}
		return domain.Passthrough()
	})
	defer c.Close()

	waitFor(t, func() bool { return len(h.Clients()) == 1 })

	integrity, err := c.CheckIntegrity(ctx)
	if err != nil || integrity.Checksum != domain.IntegrityChecksum {
		t.Fatalf("CheckIntegrity() = %+v, %v", integrity, err)
	}
	enabled, err := c.Activate(ctx)
	if err != nil || enabled.Client.ID != "tab-1" || enabled.Client.FrameType != domain.FrameTypeTopLevel {
		t.Fatalf("Activate() = %+v, %v", enabled, err)
	}
	if err := c.Keepalive(ctx); err != nil {
		t.Fatalf("Keepalive() error: %v", err)
	}

	out := host.Intercept(ctx, &domain.InterceptedRequest{
		ClientID:          "tab-1",
		RequestDescriptor: domain.RequestDescriptor{URL: "http://app/api/jobs", Method: "GET", Mode: domain.ModeCORS},
	})
	if out.Bypass || !out.Response.IsMocked() || string(out.Response.Body) != "[]" {
		t.Fatalf("mocked outcome = %+v", out)
	}

	out = host.Intercept(ctx, &domain.InterceptedRequest{
		ClientID:          "tab-1",
		RequestDescriptor: domain.RequestDescriptor{URL: "http://app/other", Method: "GET", Mode: domain.ModeCORS},
	})
	if out.Response.IsMocked() || string(out.Response.Body) != "real" {
		t.Fatalf("passthrough outcome = %+v", out)
	}
}

func TestHub_VisibilityChange(t *testing.T) {
	h, _, url := setup(t)
	c := dial(t, url, "tab-1", nil)
	defer c.Close()
	waitFor(t, func() bool { return len(h.Clients()) == 1 })

	if err := c.SetVisibility(domain.VisibilityHidden); err != nil {
		t.Fatalf("SetVisibility() error: %v", err)
	}
	waitFor(t, func() bool { return h.Clients()[0].Visibility == domain.VisibilityHidden })
}

func TestHub_DisconnectCancelsPendingRequest(t *testing.T) {
	h, host, url := setup(t)
	block := make(chan struct{})
	defer close(block)

	c := dial(t, url, "tab-1", func(context.Context, domain.RequestPayload) domain.MockDecision {
		<-block
		return domain.Passthrough()
	})
	dial(t, url, "tab-2", nil)
	waitFor(t, func() bool { return len(h.Clients()) == 2 })
	if _, err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}

	result := make(chan *domain.Response, 1)
	go func() {
		out := host.Intercept(context.Background(), &domain.InterceptedRequest{
			ClientID:          "tab-1",
			RequestDescriptor: domain.RequestDescriptor{URL: "http://app/api", Mode: domain.ModeCORS},
		})
		result <- out.Response
	}()

	time.Sleep(50 * time.Millisecond)
	_ = c.Close()

	select {
	case resp := <-result:
		if resp.IsMocked() || string(resp.Body) != "real" {
			t.Errorf("got %+v, want passthrough", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not released after client disconnected")
	}
	if host.Current().Unregistered() {
		t.Error("worker should stay while tab-2 is connected")
	}
}

func TestHub_LastWindowClosedReinstallsWorker(t *testing.T) {
	h, host, url := setup(t)
	c := dial(t, url, "tab-1", nil)
	waitFor(t, func() bool { return len(h.Clients()) == 1 })
	first := host.Current()

	_ = c.Close()
	waitFor(t, func() bool { return host.Current() != first })
	if host.Generations() != 2 {
		t.Errorf("generations = %d, want 2", host.Generations())
	}
}

func TestHub_DisconnectActsAsClientClosed(t *testing.T) {
	h, host, url := setup(t)
	c := dial(t, url, "tab-1", nil)
	defer c.Close()
	waitFor(t, func() bool { return len(h.Clients()) == 1 })
	if _, err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	first := host.Current()

	if err := h.Disconnect(context.Background(), "ghost"); err == nil {
		t.Error("Disconnect() of unknown client should fail")
	}
	if err := h.Disconnect(context.Background(), "tab-1"); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	waitFor(t, func() bool { return len(h.Clients()) == 0 })
	waitFor(t, func() bool { return host.Current() != first })
	if !first.Unregistered() {
		t.Error("last window disconnect should unregister the worker")
	}
}

func TestHub_CloseDoesNotTearDownWorker(t *testing.T) {
	h, host, url := setup(t)
	c := dial(t, url, "tab-1", nil)
	defer c.Close()
	waitFor(t, func() bool { return len(h.Clients()) == 1 })
	if _, err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	first := host.Current()

	h.Close()
	if first.Unregistered() {
		t.Error("hub shutdown must not unregister the worker")
	}
	if !first.Registry().IsActive("tab-1") {
		t.Error("hub shutdown must not deactivate clients")
	}
	if host.Generations() != 1 {
		t.Errorf("generations = %d, want 1", host.Generations())
	}
}
