// Package interceptor 消费目标页面的 Fetch.requestPaused 事件流。
package interceptor

import (
	"context"
	"fmt"
	"sync"

	cdpadapter "mockrelay/internal/adapter/cdp"
	"mockrelay/internal/logger"
	"mockrelay/internal/pool"

	"github.com/mafredri/cdp/protocol/fetch"
)

// HandlerFunc 单个暂停请求的处理函数，必须对请求执行终结动作
type HandlerFunc func(ctx context.Context, s *cdpadapter.TargetSession, ev *fetch.RequestPausedReply)

// Interceptor 拦截控制器，负责按目标启停拦截与事件分发
type Interceptor struct {
	pool    *pool.Pool
	actions *cdpadapter.Actions
	handler HandlerFunc
	log     logger.Logger

	mu     sync.Mutex
	active map[*cdpadapter.TargetSession]struct{}
	wg     sync.WaitGroup
}

// New 创建拦截控制器，p 为 nil 时每个事件一个协程，p 由调用方启动
func New(handler HandlerFunc, actions *cdpadapter.Actions, p *pool.Pool, l logger.Logger) *Interceptor {
	if l == nil {
		l = logger.NewNop()
	}
	if actions == nil {
		actions = cdpadapter.NewActions(l)
	}
	return &Interceptor{
		pool:    p,
		actions: actions,
		handler: handler,
		log:     l,
		active:  make(map[*cdpadapter.TargetSession]struct{}),
	}
}

// EnableTarget 为目标开启请求阶段拦截并开始消费事件，重复调用无副作用
func (i *Interceptor) EnableTarget(s *cdpadapter.TargetSession) error {
	if s == nil || s.Client == nil {
		return nil
	}
	i.mu.Lock()
	if _, ok := i.active[s]; ok {
		i.mu.Unlock()
		return nil
	}
	i.active[s] = struct{}{}
	i.mu.Unlock()

	if err := i.actions.Enable(s.Ctx, s.Client); err != nil {
		i.forget(s)
		return err
	}

	// 先订阅再返回，避免丢失紧随其后的事件
	rp, err := s.Client.Fetch.RequestPaused(s.Ctx)
	if err != nil {
		i.forget(s)
		return err
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer rp.Close()
		defer i.forget(s)
		i.consume(s, rp)
	}()
	return nil
}

// DisableTarget 关闭目标拦截
func (i *Interceptor) DisableTarget(ctx context.Context, s *cdpadapter.TargetSession) error {
	if s == nil || s.Client == nil {
		return nil
	}
	i.forget(s)
	return i.actions.Disable(ctx, s.Client)
}

// ActiveTargets 正在消费事件的目标数
func (i *Interceptor) ActiveTargets() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.active)
}

// Wait 等待所有消费循环退出
func (i *Interceptor) Wait() { i.wg.Wait() }

// PoolStats 工作池统计
func (i *Interceptor) PoolStats() pool.Stats {
	if i.pool == nil {
		return pool.Stats{}
	}
	return i.pool.Stats()
}

func (i *Interceptor) forget(s *cdpadapter.TargetSession) {
	i.mu.Lock()
	delete(i.active, s)
	i.mu.Unlock()
}

func (i *Interceptor) consume(s *cdpadapter.TargetSession, rp fetch.RequestPausedClient) {
	i.log.Info("开始消费拦截事件流", "targetID", string(s.ID))
	for {
		ev, err := rp.Recv()
		if err != nil {
			if s.Ctx.Err() == nil {
				i.log.Err(err, "接收拦截事件失败", "targetID", string(s.ID))
			}
			return
		}
		i.log.Debug("接收暂停请求", "requestID", ev.RequestID, "url", ev.Request.URL)
		i.dispatch(s, ev)
	}
}

// dispatch 调度单次事件处理，队列满或处理异常时降级放行
func (i *Interceptor) dispatch(s *cdpadapter.TargetSession, ev *fetch.RequestPausedReply) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				i.degrade(s, ev, fmt.Sprintf("handler panic: %v", r))
			}
		}()
		i.handler(s.Ctx, s, ev)
	}
	if i.pool == nil {
		go run()
		return
	}
	if !i.pool.Submit(run) {
		i.degrade(s, ev, "并发队列已满")
	}
}

func (i *Interceptor) degrade(s *cdpadapter.TargetSession, ev *fetch.RequestPausedReply, reason string) {
	i.log.Warn("执行降级策略：直接放行", "reason", reason, "requestID", ev.RequestID)
	_ = i.actions.Continue(s.Ctx, s.Client, ev.RequestID)
}
