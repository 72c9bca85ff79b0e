// Package worker 拦截上下文：维护已激活客户端、处理客户端消息，并把被拦截的请求交给路由。
package worker

import (
	"context"
	"fmt"

	"mockrelay/internal/channel"
	"mockrelay/internal/clients"
	"mockrelay/internal/dispatch"
	"mockrelay/internal/logger"
	"mockrelay/internal/registry"
	"mockrelay/internal/resolver"
	"mockrelay/internal/router"
	"mockrelay/internal/tracker"
	"mockrelay/pkg/domain"

	"github.com/google/uuid"
)

// SessionRecorder 记录客户端激活与关闭，可选
type SessionRecorder interface {
	Activated(generation string, info domain.ClientInfo)
	Closed(generation string, id domain.ClientID)
}

// Options Worker 依赖
type Options struct {
	Directory   clients.Directory
	Transport   *channel.Transport
	Passthrough dispatch.Passthrough
	Tracker     *tracker.Tracker
	Recorder    dispatch.Recorder
	Sessions    SessionRecorder

	// PackageVersion/Checksum 完整性校验握手上报的值，为空使用内置值
	PackageVersion string
	Checksum       string

	Logger logger.Logger
}

// Worker 一代拦截上下文
type Worker struct {
	id         string
	dir        clients.Directory
	transport  *channel.Transport
	registry   *registry.Registry
	teardown   *registry.Teardown
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	sessions   SessionRecorder
	integrity  domain.IntegrityPayload
	log        logger.Logger
}

// New 创建 Worker
func New(opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Transport == nil {
		opts.Transport = channel.New(channel.Options{Logger: opts.Logger})
	}
	if opts.PackageVersion == "" {
		opts.PackageVersion = domain.PackageVersion
	}
	if opts.Checksum == "" {
		opts.Checksum = domain.IntegrityChecksum
	}

	id := uuid.NewString()
	l := opts.Logger.With("worker", id)
	reg := registry.New()
	d := dispatch.New(dispatch.Options{
		Resolver:    resolver.New(opts.Directory, reg, l),
		Active:      reg,
		Transport:   opts.Transport,
		Passthrough: opts.Passthrough,
		Tracker:     opts.Tracker,
		Recorder:    opts.Recorder,
		Logger:      l,
	})

	return &Worker{
		id:         id,
		dir:        opts.Directory,
		transport:  opts.Transport,
		registry:   reg,
		teardown:   registry.NewTeardown(),
		router:     router.New(reg, d, l),
		dispatcher: d,
		sessions:   opts.Sessions,
		integrity:  domain.IntegrityPayload{PackageVersion: opts.PackageVersion, Checksum: opts.Checksum},
		log:        l,
	}
}

// ID Worker 代际ID
func (w *Worker) ID() string { return w.id }

// Registry 已激活客户端
func (w *Worker) Registry() *registry.Registry { return w.registry }

// Done Worker 注销后关闭
func (w *Worker) Done() <-chan struct{} { return w.teardown.Done() }

// Unregistered 是否已注销
func (w *Worker) Unregistered() bool { return w.teardown.Triggered() }

// Wait 等待在途的生命周期通知
func (w *Worker) Wait() { w.dispatcher.Wait() }

// Intercept 拦截请求，已注销的 Worker 不再拦截
func (w *Worker) Intercept(ctx context.Context, req *domain.InterceptedRequest) router.Outcome {
	if w.teardown.Triggered() {
		return router.Outcome{Bypass: true}
	}
	return w.router.Intercept(ctx, req)
}

// HandleMessage 处理客户端发来的消息，来自未知客户端的消息被忽略
func (w *Worker) HandleMessage(ctx context.Context, from domain.ClientID, msg domain.Message) error {
	if from == "" || w.dir == nil {
		return nil
	}
	client, err := w.dir.Get(ctx, from)
	if err != nil {
		w.log.Debug("忽略未知客户端的消息", "clientId", from, "type", msg.Type)
		return nil
	}

	switch msg.Type {
	case domain.MsgKeepaliveRequest:
		return w.post(client, domain.MsgKeepaliveResponse, nil)

	case domain.MsgIntegrityCheckRequest:
		return w.post(client, domain.MsgIntegrityCheckResponse, w.integrity)

	case domain.MsgMockActivate:
		w.registry.Activate(from)
		info := client.Info()
		var payload domain.MockingEnabledPayload
		payload.Client.ID = info.ID
		payload.Client.FrameType = info.FrameType
		w.log.Info("客户端已启用模拟", "clientId", from, "frameType", info.FrameType)
		if w.sessions != nil {
			w.sessions.Activated(w.id, info)
		}
		return w.post(client, domain.MsgMockingEnabled, payload)

	case domain.MsgClientClosed:
		w.ClientClosed(ctx, from)
		return nil

	default:
		w.log.Debug("忽略未知类型的消息", "clientId", from, "type", msg.Type)
		return nil
	}
}

// ClientClosed 客户端关闭：移出注册表，且没有其他窗口客户端时注销自身
func (w *Worker) ClientClosed(ctx context.Context, id domain.ClientID) {
	wasActive := w.registry.Deactivate(id)
	if w.sessions != nil && wasActive {
		w.sessions.Closed(w.id, id)
	}

	windows, err := w.dir.MatchAll(ctx, domain.ClientTypeWindow)
	if err != nil {
		w.log.Err(err, "枚举窗口客户端失败", "clientId", id)
		return
	}
	remaining := 0
	for _, c := range windows {
		if c.Info().ID != id {
			remaining++
		}
	}

	w.log.Info("客户端已关闭", "clientId", id, "remainingWindows", remaining)
	if remaining == 0 && w.teardown.Trigger(fmt.Sprintf("last window client %s closed", id)) {
		w.log.Info("没有剩余窗口客户端，Worker 注销")
	}
}

func (w *Worker) post(c clients.Client, t domain.MessageType, payload any) error {
	msg, err := domain.NewMessage(t, payload)
	if err != nil {
		return err
	}
	if err := w.transport.Post(c, msg); err != nil {
		w.log.Debug("发送消息失败", "clientId", c.Info().ID, "type", t, "error", err)
		return err
	}
	return nil
}
