// Package router 决定被拦截的请求是否进入模拟派发。
package router

import (
	"context"
	"time"

	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"

	"github.com/google/uuid"
)

// Registry 已激活客户端计数
type Registry interface {
	Count() int
}

// Dispatcher 模拟派发
type Dispatcher interface {
	Dispatch(ctx context.Context, req *domain.InterceptedRequest, id domain.CorrelationID, interceptedAt int64) *domain.Response
}

// Outcome 拦截结果
type Outcome struct {
	// Bypass 为 true 时请求不经拦截，由默认网络行为处理
	Bypass bool
	// ID 关联ID，Bypass 时为空
	ID       domain.CorrelationID
	Response *domain.Response
}

// Router 请求拦截路由
type Router struct {
	registry   Registry
	dispatcher Dispatcher
	log        logger.Logger
}

// New 创建路由
func New(reg Registry, d Dispatcher, l logger.Logger) *Router {
	if l == nil {
		l = logger.NewNop()
	}
	return &Router{registry: reg, dispatcher: d, log: l}
}

// Intercept 处理一个被拦截的请求
func (r *Router) Intercept(ctx context.Context, req *domain.InterceptedRequest) Outcome {
	interceptedAt := time.Now().UnixMilli()

	if reason, skip := r.skip(req); skip {
		r.log.Debug("请求不拦截", "url", req.URL, "reason", reason)
		return Outcome{Bypass: true}
	}

	id := domain.CorrelationID(uuid.NewString())
	return Outcome{
		ID:       id,
		Response: r.dispatcher.Dispatch(ctx, req, id, interceptedAt),
	}
}

func (r *Router) skip(req *domain.InterceptedRequest) (string, bool) {
	switch {
	case req.Mode == domain.ModeNavigate:
		return "navigate", true
	case req.Cache == domain.CacheOnlyIfCached && req.Mode != domain.ModeSameOrigin:
		return "only-if-cached", true
	case r.registry.Count() == 0:
		return "no active clients", true
	}
	return "", false
}
