// Package dispatch 将被拦截的请求交给页面客户端决定：使用模拟响应或放行到真实网络。
// 任何失败都退化为放行，调用方始终拿到一个响应。
package dispatch

import (
	"context"
	"sync"
	"time"

	"mockrelay/internal/channel"
	"mockrelay/internal/clients"
	"mockrelay/internal/logger"
	"mockrelay/internal/tracker"
	"mockrelay/pkg/domain"
)

// Resolver 选出负责应答的客户端
type Resolver interface {
	Resolve(ctx context.Context, id domain.ClientID) (clients.Client, bool)
}

// ActiveSet 查询客户端是否已激活
type ActiveSet interface {
	IsActive(id domain.ClientID) bool
}

// Transport 与客户端之间的消息通道
type Transport interface {
	Send(ctx context.Context, target channel.Target, msg domain.Message, transfer ...[]byte) (domain.Message, error)
	Post(target channel.Target, msg domain.Message, transfer ...[]byte) error
}

// Passthrough 真实网络路径
type Passthrough interface {
	Do(ctx context.Context, req domain.RequestDescriptor) (*domain.Response, error)
}

// Recorder 本地生命周期观察者
type Recorder interface {
	Record(evt domain.LifecycleEvent)
}

// Options 派发器依赖
type Options struct {
	Resolver    Resolver
	Active      ActiveSet
	Transport   Transport
	Passthrough Passthrough
	// Tracker 可选，记录在途请求
	Tracker *tracker.Tracker
	// Recorder 可选，接收生命周期事件
	Recorder Recorder
	Logger   logger.Logger
}

// Dispatcher 模拟派发器
type Dispatcher struct {
	resolver    Resolver
	active      ActiveSet
	transport   Transport
	passthrough Passthrough
	tracker     *tracker.Tracker
	recorder    Recorder
	log         logger.Logger

	notifying sync.WaitGroup
}

// New 创建派发器
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Dispatcher{
		resolver:    opts.Resolver,
		active:      opts.Active,
		transport:   opts.Transport,
		passthrough: opts.Passthrough,
		tracker:     opts.Tracker,
		recorder:    opts.Recorder,
		log:         opts.Logger,
	}
}

// Dispatch 为一个被拦截的请求产出响应，并异步发送生命周期通知
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.InterceptedRequest, id domain.CorrelationID, interceptedAt int64) *domain.Response {
	log := d.log.With("traceID", id, "url", req.URL)
	if d.tracker != nil {
		d.tracker.Begin(id, req.ClientID, req.Method, req.URL)
	}

	client, found := d.resolver.Resolve(ctx, req.ClientID)
	resp := d.respond(ctx, log, client, found, req, id, interceptedAt)

	if d.tracker != nil {
		if elapsed, ok := d.tracker.Finish(id); ok {
			log.Debug("请求处理完成", "elapsed", elapsed, "status", resp.Status, "mocked", resp.IsMocked())
		}
	}

	d.notifying.Add(1)
	go func() {
		defer d.notifying.Done()
		d.notify(log, client, found, req, id, interceptedAt, resp)
	}()
	return resp
}

// Wait 等待所有生命周期通知发送完毕
func (d *Dispatcher) Wait() {
	d.notifying.Wait()
}

func (d *Dispatcher) respond(
	ctx context.Context,
	log logger.Logger,
	client clients.Client,
	found bool,
	req *domain.InterceptedRequest,
	id domain.CorrelationID,
	interceptedAt int64,
) *domain.Response {
	if !found || !d.active.IsActive(client.Info().ID) {
		log.Debug("没有可用的模拟客户端，放行")
		return d.pass(ctx, log, id, req)
	}

	msg, err := domain.NewMessage(domain.MsgRequest, domain.RequestPayload{
		ID:                id,
		InterceptedAt:     interceptedAt,
		RequestDescriptor: req.RequestDescriptor,
	})
	if err != nil {
		log.Err(err, "构造 REQUEST 消息失败，放行")
		return d.pass(ctx, log, id, req)
	}
	msg.ID = id

	reply, err := d.transport.Send(ctx, client, msg, req.Body)
	if err != nil {
		log.Warn("客户端未给出决策，放行", "clientId", client.Info().ID, "error", err)
		return d.pass(ctx, log, id, req)
	}

	decision, err := domain.DecodeDecision(reply)
	if err != nil {
		log.Warn("无法识别的客户端回复，放行", "error", err)
		return d.pass(ctx, log, id, req)
	}

	switch {
	case decision.Kind == domain.DecisionPassthrough:
		return d.pass(ctx, log, id, req)
	case decision.IsNetworkError():
		log.Debug("使用模拟网络错误")
		return domain.NetworkError()
	default:
		// 无法构造的模拟响应与页面端 new Response() 抛错一致，给出网络错误而不是放行
		if err := decision.Response.Validate(); err != nil {
			log.Warn("模拟响应无法构造，按网络错误处理", "error", err)
			return domain.NetworkError()
		}
		log.Debug("使用模拟响应", "status", decision.Response.Status)
		return domain.NewMockedResponse(decision.Response)
	}
}

func (d *Dispatcher) pass(ctx context.Context, log logger.Logger, id domain.CorrelationID, req *domain.InterceptedRequest) *domain.Response {
	if d.tracker != nil {
		d.tracker.Advance(id, tracker.StageFetching)
	}
	resp, err := d.passthrough.Do(ctx, req.RequestDescriptor)
	if err != nil {
		log.Debug("放行请求失败", "error", err)
	}
	return resp
}

func (d *Dispatcher) notify(
	log logger.Logger,
	client clients.Client,
	found bool,
	req *domain.InterceptedRequest,
	id domain.CorrelationID,
	interceptedAt int64,
	resp *domain.Response,
) {
	evt := domain.LifecycleEvent{
		ClientID:         req.ClientID,
		InterceptedAt:    interceptedAt,
		RespondedAt:      time.Now().UnixMilli(),
		IsMockedResponse: resp.IsMocked(),
		Request:          domain.LifecycleRequest{ID: id, RequestDescriptor: req.RequestDescriptor},
		Response:         *resp,
	}

	if found && d.active.IsActive(client.Info().ID) {
		msg, err := domain.NewMessage(domain.MsgResponse, evt)
		if err == nil {
			msg.ID = id
			err = d.transport.Post(client, msg, req.Body, resp.Body)
		}
		if err != nil {
			log.Debug("发送生命周期通知失败", "clientId", client.Info().ID, "error", err)
		}
	}

	if d.recorder != nil {
		d.recorder.Record(evt)
	}
}
