package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"mockrelay/internal/logger"
	"mockrelay/internal/router"
	"mockrelay/pkg/domain"
)

// Factory 创建新一代 Worker
type Factory func() *Worker

// Host 持有当前一代 Worker，Worker 注销后同步安装新的一代
type Host struct {
	current     atomic.Pointer[Worker]
	factory     Factory
	generations atomic.Int64
	log         logger.Logger

	mu      sync.Mutex
	stopped bool
	retired sync.WaitGroup
}

// NewHost 创建宿主并安装第一代 Worker
func NewHost(factory Factory, l logger.Logger) *Host {
	if l == nil {
		l = logger.NewNop()
	}
	h := &Host{factory: factory, log: l}
	h.mu.Lock()
	h.install()
	h.mu.Unlock()
	return h
}

// Current 当前一代 Worker，当前一代已注销时先安装下一代
func (h *Host) Current() *Worker {
	w := h.current.Load()
	if w.Unregistered() {
		return h.advance(w)
	}
	return w
}

// Generations 已安装的 Worker 代数
func (h *Host) Generations() int64 { return h.generations.Load() }

// Intercept 交给当前 Worker
func (h *Host) Intercept(ctx context.Context, req *domain.InterceptedRequest) router.Outcome {
	return h.Current().Intercept(ctx, req)
}

// HandleMessage 交给当前 Worker。激活期间该代恰好注销时，激活转交给下一代
func (h *Host) HandleMessage(ctx context.Context, from domain.ClientID, msg domain.Message) error {
	w := h.Current()
	err := w.HandleMessage(ctx, from, msg)
	if !w.Unregistered() {
		return err
	}
	next := h.advance(w)
	if msg.Type == domain.MsgMockActivate && next != w {
		h.log.Info("激活期间 Worker 已注销，转交下一代", "clientId", from, "worker", next.ID())
		return next.HandleMessage(ctx, from, msg)
	}
	return err
}

// ClientClosed 交给当前 Worker
func (h *Host) ClientClosed(ctx context.Context, id domain.ClientID) {
	w := h.Current()
	w.ClientClosed(ctx, id)
	if w.Unregistered() {
		h.advance(w)
	}
}

// Close 停止安装新 Worker，并等待各代 Worker 的生命周期通知
func (h *Host) Close() {
	h.mu.Lock()
	h.stopped = true
	w := h.current.Load()
	h.mu.Unlock()

	h.retired.Wait()
	w.Wait()
}

// advance 当 old 仍是当前一代且已注销时安装下一代，返回安装后的当前一代
func (h *Host) advance(old *Worker) *Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.current.Load() != old || !old.Unregistered() {
		return h.current.Load()
	}
	h.log.Info("Worker 已注销，安装新的一代", "worker", old.ID())
	h.retired.Add(1)
	go func() {
		defer h.retired.Done()
		old.Wait()
	}()
	h.install()
	return h.current.Load()
}

// install 调用方持有 mu
func (h *Host) install() {
	w := h.factory()
	h.current.Store(w)
	gen := h.generations.Add(1)
	h.log.Info("Worker 已安装", "worker", w.ID(), "generation", gen)
}
