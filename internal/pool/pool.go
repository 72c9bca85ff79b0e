package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mockrelay/internal/logger"
)

// Stats 工作池运行统计
type Stats struct {
	QueueLen  int   `json:"queueLen"`
	QueueCap  int   `json:"queueCap"`
	Workers   int   `json:"workers"`
	Busy      int64 `json:"busy"`
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
}

// Pool 固定数量工作协程加有界队列，队列满时拒绝任务由调用方降级
type Pool struct {
	size     int
	queue    chan func()
	log      logger.Logger
	interval time.Duration

	busy      atomic.Int64
	submitted atomic.Int64
	dropped   atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// New 创建工作池
// size: 最大并发协程数，<=0 表示不限制；queueCap: 缓冲队列容量（<=0 时为 size * 8）
func New(size, queueCap int, l logger.Logger) *Pool {
	if l == nil {
		l = logger.NewNop()
	}
	p := &Pool{size: size, log: l, interval: 30 * time.Second, stop: make(chan struct{})}
	if size <= 0 {
		return p
	}
	if queueCap <= 0 {
		queueCap = size * 8
	}
	p.queue = make(chan func(), queueCap)
	return p
}

// IsEnabled 是否启用并发限制
func (p *Pool) IsEnabled() bool { return p.queue != nil }

// Start 启动工作协程与状态监控，重复调用无副作用
func (p *Pool) Start(ctx context.Context) {
	if !p.IsEnabled() {
		return
	}
	p.startOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			go p.worker(ctx)
		}
		go p.monitor(ctx)
	})
}

// Stop 停止工作协程，队列中未执行的任务被丢弃
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Submit 提交任务，队列已满返回 false
func (p *Pool) Submit(fn func()) bool {
	if !p.IsEnabled() {
		go p.run(fn)
		return true
	}
	p.submitted.Add(1)
	select {
	case p.queue <- fn:
		return true
	default:
		dropped := p.dropped.Add(1)
		p.log.Warn("工作池队列已满，任务被拒绝", "queueCap", cap(p.queue), "totalDrop", dropped)
		return false
	}
}

// Stats 返回统计信息
func (p *Pool) Stats() Stats {
	s := Stats{
		Workers:   p.size,
		Busy:      p.busy.Load(),
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
	}
	if p.IsEnabled() {
		s.QueueLen = len(p.queue)
		s.QueueCap = cap(p.queue)
	}
	return s
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case fn := <-p.queue:
			p.run(fn)
		}
	}
}

// run 执行任务，任务 panic 不影响工作协程
func (p *Pool) run(fn func()) {
	if fn == nil {
		return
	}
	p.busy.Add(1)
	defer func() {
		p.busy.Add(-1)
		if r := recover(); r != nil {
			p.log.Error("工作池任务异常", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// monitor 定期输出工作池状态
func (p *Pool) monitor(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			s := p.Stats()
			if s.Submitted == 0 {
				continue
			}
			p.log.Info("工作池状态监控",
				"queueLen", s.QueueLen,
				"queueCap", s.QueueCap,
				"busy", s.Busy,
				"totalSubmit", s.Submitted,
				"totalDrop", s.Dropped,
				"dropRate", fmt.Sprintf("%.2f%%", float64(s.Dropped)/float64(s.Submitted)*100),
			)
		}
	}
}
