package tracker

import (
	"sort"
	"sync"
	"time"

	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"
)

// Stage 在途请求所处阶段
type Stage string

const (
	StageAwaitingClient Stage = "awaiting-client"
	StageFetching       Stage = "fetching"
)

// Entry 在途请求条目
type Entry struct {
	ID        domain.CorrelationID `json:"id"`
	ClientID  domain.ClientID      `json:"clientId,omitempty"`
	Method    string               `json:"method"`
	URL       string               `json:"url"`
	Stage     Stage                `json:"stage"`
	StartTime time.Time            `json:"startTime"`
}

// Tracker 在途请求追踪器，请求从派发到响应就绪期间可见
type Tracker struct {
	mu      sync.RWMutex
	pool    map[domain.CorrelationID]*Entry
	timeout time.Duration
	log     logger.Logger
	done    chan struct{}
	once    sync.Once
}

// New 创建追踪器，超过 timeout 仍未完成的条目会被清理
func New(timeout time.Duration, l logger.Logger) *Tracker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if l == nil {
		l = logger.NewNop()
	}
	t := &Tracker{
		pool:    make(map[domain.CorrelationID]*Entry),
		timeout: timeout,
		log:     l,
		done:    make(chan struct{}),
	}
	go t.cleanupLoop(time.Minute)
	return t
}

// Begin 开始追踪
func (t *Tracker) Begin(id domain.CorrelationID, clientID domain.ClientID, method, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pool[id] = &Entry{
		ID:        id,
		ClientID:  clientID,
		Method:    method,
		URL:       url,
		Stage:     StageAwaitingClient,
		StartTime: time.Now(),
	}
}

// Advance 更新阶段
func (t *Tracker) Advance(id domain.CorrelationID, stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.pool[id]; ok {
		e.Stage = stage
	}
}

// Finish 结束追踪，返回耗时
func (t *Tracker) Finish(id domain.CorrelationID) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pool[id]
	if !ok {
		return 0, false
	}
	delete(t.pool, id)
	return time.Since(e.StartTime), true
}

// Peek 获取条目副本
func (t *Tracker) Peek(id domain.CorrelationID) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.pool[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List 按开始时间列出全部在途请求
func (t *Tracker) List() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.pool))
	for _, e := range t.pool {
		out = append(out, *e)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Len 在途数量
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pool)
}

// Stop 停止追踪器，释放资源
func (t *Tracker) Stop() {
	t.once.Do(func() { close(t.done) })
}

// Reap 清理过期条目，返回清理数量
func (t *Tracker) Reap(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, e := range t.pool {
		if now.Sub(e.StartTime) > t.timeout {
			delete(t.pool, id)
			n++
			t.log.Warn("清理长时间未完成的请求", "traceID", id, "url", e.URL, "stage", e.Stage, "startTime", e.StartTime)
		}
	}
	return n
}

// cleanupLoop 定期清理过期条目的后台协程
func (t *Tracker) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case now := <-ticker.C:
			t.Reap(now)
		}
	}
}
