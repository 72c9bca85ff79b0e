package clients

import (
	"sync"

	"mockrelay/internal/channel"
	"mockrelay/pkg/domain"
)

// Local 进程内客户端，消息交给处理函数在独立协程中处理
type Local struct {
	mu     sync.RWMutex
	info   domain.ClientInfo
	handle func(env channel.Envelope)

	done      chan struct{}
	closeOnce sync.Once
}

// NewLocal 创建进程内客户端，handle 可以为 nil（丢弃所有消息）
func NewLocal(info domain.ClientInfo, handle func(env channel.Envelope)) *Local {
	if info.Type == "" {
		info.Type = domain.ClientTypeWindow
	}
	return &Local{info: info, handle: handle, done: make(chan struct{})}
}

// PostMessage 实现 channel.Target
func (l *Local) PostMessage(env channel.Envelope) error {
	select {
	case <-l.done:
		return domain.ErrTargetGone
	default:
	}
	if l.handle != nil {
		go l.handle(env)
	}
	return nil
}

// Done 实现 channel.Target
func (l *Local) Done() <-chan struct{} { return l.done }

// Info 实现 Client
func (l *Local) Info() domain.ClientInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.info
}

// SetVisibility 更新可见性
func (l *Local) SetVisibility(v domain.VisibilityState) {
	l.mu.Lock()
	l.info.Visibility = v
	l.mu.Unlock()
}

// Close 断开客户端
func (l *Local) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}
