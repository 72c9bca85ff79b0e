package registry

import "sync"

// Teardown 拦截上下文的一次性注销状态，只能从运行态迁移到已注销
type Teardown struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	reason string
}

// NewTeardown 创建处于运行态的注销状态
func NewTeardown() *Teardown {
	return &Teardown{done: make(chan struct{})}
}

// Trigger 触发注销，仅第一次调用返回 true
func (t *Teardown) Trigger(reason string) bool {
	fired := false
	t.once.Do(func() {
		t.mu.Lock()
		t.reason = reason
		t.mu.Unlock()
		close(t.done)
		fired = true
	})
	return fired
}

// Done 注销后关闭
func (t *Teardown) Done() <-chan struct{} { return t.done }

// Triggered 是否已注销
func (t *Teardown) Triggered() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Reason 注销原因
func (t *Teardown) Reason() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reason
}
