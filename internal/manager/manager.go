// Package manager 把浏览器页面目标接入拦截路由。
package manager

import (
	"context"
	"strings"
	"sync"
	"time"

	cdpadapter "mockrelay/internal/adapter/cdp"
	"mockrelay/internal/interceptor"
	"mockrelay/internal/logger"
	"mockrelay/internal/pool"
	"mockrelay/internal/router"
	"mockrelay/pkg/domain"

	"github.com/mafredri/cdp/protocol/fetch"
)

// Interceptor 拦截路由
type Interceptor interface {
	Intercept(ctx context.Context, req *domain.InterceptedRequest) router.Outcome
}

// Options 管理器选项
type Options struct {
	DevToolsURL string
	Interceptor Interceptor
	// Pool 为 nil 时每个暂停请求一个协程
	Pool *pool.Pool
	// PollInterval 目标发现周期，默认 1s
	PollInterval time.Duration
	Logger       logger.Logger
}

// Manager 发现页面目标、附着并开启拦截，把暂停请求交给路由
type Manager struct {
	clients     *cdpadapter.ClientManager
	actions     *cdpadapter.Actions
	interceptor *interceptor.Interceptor
	router      Interceptor
	pool        *pool.Pool
	interval    time.Duration
	log         logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建管理器
func New(opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	m := &Manager{
		clients:  cdpadapter.NewClientManager(opts.DevToolsURL, l),
		actions:  cdpadapter.NewActions(l),
		router:   opts.Interceptor,
		pool:     opts.Pool,
		interval: opts.PollInterval,
		log:      l,
	}
	m.interceptor = interceptor.New(m.handle, m.actions, opts.Pool, l)
	return m
}

// Start 开始目标发现循环
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	if m.pool != nil {
		m.pool.Start(ctx)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

// Stop 停止发现并断开所有目标
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.clients.DetachAll()
	m.interceptor.Wait()
	if m.pool != nil {
		m.pool.Stop()
	}
}

// Targets 当前浏览器页面目标
func (m *Manager) Targets(ctx context.Context) ([]cdpadapter.TargetInfo, error) {
	return m.clients.ListTargets(ctx)
}

// PoolStats 工作池统计
func (m *Manager) PoolStats() pool.Stats { return m.interceptor.PoolStats() }

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.sync(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sync 附着新出现的页面，断开已消失的页面
func (m *Manager) sync(ctx context.Context) {
	targets, err := m.clients.ListTargets(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Debug("获取浏览器目标失败", "error", err)
		}
		return
	}

	seen := make(map[domain.TargetID]bool, len(targets))
	for _, t := range targets {
		if strings.HasPrefix(t.URL, "devtools://") {
			continue
		}
		seen[t.ID] = true
		if t.Attached {
			continue
		}
		s, err := m.clients.AttachTarget(ctx, t.ID)
		if err != nil {
			continue
		}
		if err := m.interceptor.EnableTarget(s); err != nil {
			m.log.Err(err, "开启拦截失败", "targetID", string(t.ID))
			_ = m.clients.DetachTarget(t.ID)
		}
	}

	for _, id := range m.clients.Attached() {
		if !seen[id] {
			m.log.Info("页面目标已关闭", "targetID", string(id))
			_ = m.clients.DetachTarget(id)
		}
	}
}

// handle 把暂停请求交给路由并执行终结动作
func (m *Manager) handle(ctx context.Context, s *cdpadapter.TargetSession, ev *fetch.RequestPausedReply) {
	req := cdpadapter.ToInterceptedRequest(s.ID, ev)
	out := m.router.Intercept(ctx, req)
	_ = m.actions.Apply(ctx, s.Client, ev.RequestID, out.Bypass, out.Response)
}
