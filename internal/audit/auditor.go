package audit

import (
	"sync/atomic"

	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"
)

// Auditor 本地生命周期观察者，将每个请求的完整周期分发给订阅方（持久化、实时查看）
type Auditor struct {
	enabled atomic.Bool
	events  chan domain.LifecycleEvent
	dropped atomic.Int64
	log     logger.Logger
}

// New 创建审计员，events 为 nil 时只记录日志
func New(events chan domain.LifecycleEvent, l logger.Logger) *Auditor {
	if l == nil {
		l = logger.NewNop()
	}
	a := &Auditor{events: events, log: l}
	a.enabled.Store(true)
	return a
}

// SetEnabled 设置是否启用审计
func (a *Auditor) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// Enabled 是否启用审计
func (a *Auditor) Enabled() bool {
	return a.enabled.Load()
}

// Dropped 因通道已满被丢弃的事件数
func (a *Auditor) Dropped() int64 {
	return a.dropped.Load()
}

// Record 记录一个完整的请求/响应周期
func (a *Auditor) Record(evt domain.LifecycleEvent) {
	if !a.enabled.Load() {
		a.log.Debug("[Auditor] 审计已禁用，跳过记录", "traceID", evt.Request.ID)
		return
	}

	a.log.Debug("[Auditor] 记录生命周期事件",
		"traceID", evt.Request.ID,
		"url", evt.Request.URL,
		"status", evt.Response.Status,
		"mocked", evt.IsMockedResponse,
	)
	a.dispatch(evt)
}

// dispatch 分发事件到观察通道，通道满时丢弃
func (a *Auditor) dispatch(evt domain.LifecycleEvent) {
	if a.events == nil {
		return
	}

	select {
	case a.events <- evt:
	default:
		// 通道满时丢弃，防止阻塞主流程
		a.dropped.Add(1)
		a.log.Warn("[Auditor] 审计事件分发通道已满，丢弃事件", "traceID", evt.Request.ID)
	}
}
