// Package service 组装拦截上下文、客户端接入、代理、浏览器桥接与持久化，并实现管理接口。
package service

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mockrelay/internal/audit"
	"mockrelay/internal/browser"
	"mockrelay/internal/channel"
	"mockrelay/internal/config"
	"mockrelay/internal/export"
	"mockrelay/internal/httpapi"
	"mockrelay/internal/hub"
	"mockrelay/internal/logger"
	"mockrelay/internal/manager"
	"mockrelay/internal/passthrough"
	"mockrelay/internal/pool"
	"mockrelay/internal/proxy"
	"mockrelay/internal/storage/db"
	"mockrelay/internal/storage/model"
	"mockrelay/internal/storage/repo"
	"mockrelay/internal/tracker"
	"mockrelay/internal/worker"
	api "mockrelay/pkg/api"
	"mockrelay/pkg/domain"
	"mockrelay/pkg/errx"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// harLimit HAR 导出的最大条目数
const harLimit = 1000

// App 一个完整的 mockrelay 进程
type App struct {
	cfg *config.Config
	log logger.Logger

	db       *gorm.DB
	events   *repo.EventRepo
	sessions *repo.ClientRepo
	eventCh  chan domain.LifecycleEvent
	auditor  *audit.Auditor

	tracker *tracker.Tracker
	path    *passthrough.Path
	hub     *hub.Hub
	host    *worker.Host
	proxy   *proxy.Proxy

	cdp     *manager.Manager
	browser *browser.Browser

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 按配置创建各组件，此时尚未启动后台任务
func New(cfg *config.Config, l logger.Logger) (*App, error) {
	if l == nil {
		l = logger.NewNop()
	}
	a := &App{cfg: cfg, log: l}

	gdb, err := openDB(cfg, l)
	if err != nil {
		return nil, errx.Wrap(errx.CodeStorage, err, "open database")
	}
	if err := db.Migrate(gdb, model.All()...); err != nil {
		return nil, errx.Wrap(errx.CodeStorage, err, "migrate database")
	}
	a.db = gdb
	a.events = repo.NewEventRepo(gdb, l, repo.EventRepoOptions{MaxBodyBytes: int(cfg.Events.MaxBodyBytes)})
	a.sessions = repo.NewClientRepo(gdb, l)

	a.eventCh = make(chan domain.LifecycleEvent, cfg.Events.Buffer)
	a.auditor = audit.New(a.eventCh, l)

	a.tracker = tracker.New(0, l)
	a.path = passthrough.New(passthrough.NewHTTPFetcher(passthrough.HTTPOptions{Timeout: cfg.FetchTimeout()}), l)
	transport := channel.New(channel.Options{ReplyTimeout: cfg.ReplyTimeout(), Logger: l})

	a.hub = hub.New(l)
	a.host = worker.NewHost(func() *worker.Worker {
		return worker.New(worker.Options{
			Directory:      a.hub,
			Transport:      transport,
			Passthrough:    a.path,
			Tracker:        a.tracker,
			Recorder:       a.auditor,
			Sessions:       a.sessions,
			PackageVersion: cfg.Worker.PackageVersion,
			Checksum:       cfg.Worker.Checksum,
			Logger:         l,
		})
	}, l)
	a.hub.Bind(a.host)

	a.proxy, err = proxy.New(proxy.Options{
		Upstream:    cfg.Server.Upstream,
		Interceptor: a.host,
		Forwarder:   a.path,
		Logger:      l,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func openDB(cfg *config.Config, l logger.Logger) (*gorm.DB, error) {
	opts := db.Options{Prefix: cfg.Sqlite.Prefix, Logger: db.NewLogger(l)}
	if cfg.Sqlite.Db == db.MemoryPath || filepath.IsAbs(cfg.Sqlite.Db) || strings.ContainsRune(cfg.Sqlite.Db, filepath.Separator) {
		opts.FullPath = cfg.Sqlite.Db
	} else {
		opts.Name = cfg.Sqlite.Db
	}
	return db.New(opts)
}

// Start 启动事件持久化、过期清理与浏览器桥接
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.events.Consume(ctx, a.eventCh)
	}()
	go func() {
		defer a.wg.Done()
		a.retention(ctx)
	}()

	if !a.cfg.CDP.Enabled {
		return nil
	}
	devtools := a.cfg.CDP.DevToolsURL
	if a.cfg.CDP.Launch {
		b, err := browser.Launch(ctx, browser.Options{
			ExecPath: a.cfg.CDP.BrowserPath,
			Headless: a.cfg.CDP.Headless,
			Args:     a.cfg.CDP.BrowserArgs,
			Logger:   a.log,
		})
		if err != nil {
			return errx.Wrap(errx.CodeDevTools, err, "launch browser")
		}
		a.browser = b
		devtools = b.DevToolsURL
	}
	a.cdp = manager.New(manager.Options{
		DevToolsURL: devtools,
		Interceptor: a.host,
		Pool:        pool.New(a.cfg.CDP.Concurrency, a.cfg.CDP.QueueCap, a.log),
		Logger:      a.log,
	})
	a.cdp.Start(ctx)
	a.log.Info("浏览器桥接已启动", "devtools", devtools)
	return nil
}

// retention 每天按保留天数清理一次事件
func (a *App) retention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if n, err := a.events.CleanupOldEvents(ctx, a.cfg.Events.RetentionDays); err != nil {
			a.log.Err(err, "清理过期事件失败")
		} else if n > 0 {
			a.log.Info("已清理过期事件", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Handler 内部端点挂在前缀下，其余请求交给代理
func (a *App) Handler() http.Handler {
	prefix := strings.TrimSuffix(a.cfg.Server.PathPrefix, "/")
	r := chi.NewRouter()
	r.Handle(prefix+"/ws", a.hub)
	r.Mount(prefix+"/api", httpapi.NewServer(httpapi.Options{Service: a, Version: a.cfg.Version, Logger: a.log}))
	r.NotFound(a.proxy.ServeHTTP)
	r.MethodNotAllowed(a.proxy.ServeHTTP)
	return r
}

// Close 按依赖倒序释放资源
func (a *App) Close() {
	if a.cdp != nil {
		a.cdp.Stop()
	}
	if a.browser != nil {
		if err := a.browser.Stop(3 * time.Second); err != nil {
			a.log.Err(err, "关闭浏览器失败")
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.host != nil {
		a.host.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.drain()
	if a.tracker != nil {
		a.tracker.Stop()
	}
	if a.events != nil {
		a.events.Stop()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// drain 消费完通道中尚未持久化的事件
func (a *App) drain() {
	if a.events == nil {
		return
	}
	for {
		select {
		case evt := <-a.eventCh:
			a.events.Record(evt)
		default:
			return
		}
	}
}

// Health 实现 api.Service
func (a *App) Health(_ context.Context) api.Health {
	h := api.Health{
		Status:           "ok",
		Version:          a.cfg.Version,
		Generations:      a.host.Generations(),
		ConnectedClients: len(a.hub.Clients()),
		Inflight:         a.tracker.Len(),
		AuditDropped:     a.auditor.Dropped(),
		AuditEnabled:     a.auditor.Enabled(),
	}
	if w := a.host.Current(); w != nil {
		h.Generation = w.ID()
		h.ActiveClients = w.Registry().Count()
	}
	if a.cdp != nil {
		s := a.cdp.PoolStats()
		h.CDP = &api.CDPHealth{
			DevToolsURL: a.cfg.CDP.DevToolsURL,
			QueueLen:    s.QueueLen,
			QueueCap:    s.QueueCap,
			Busy:        s.Busy,
			Submitted:   s.Submitted,
			Dropped:     s.Dropped,
		}
		if a.browser != nil {
			h.CDP.DevToolsURL = a.browser.DevToolsURL
		}
	}
	return h
}

// ListClients 实现 api.Service
func (a *App) ListClients(_ context.Context) []api.ClientView {
	infos := a.hub.Clients()
	out := make([]api.ClientView, 0, len(infos))
	w := a.host.Current()
	for _, info := range infos {
		out = append(out, api.ClientView{ClientInfo: info, Active: w != nil && w.Registry().IsActive(info.ID)})
	}
	return out
}

// DisconnectClient 实现 api.Service
func (a *App) DisconnectClient(ctx context.Context, id domain.ClientID) error {
	if err := a.hub.Disconnect(ctx, id); err != nil {
		return errx.Wrap(errx.CodeClientNotFound, err, string(id))
	}
	return nil
}

// ListInflight 实现 api.Service
func (a *App) ListInflight(_ context.Context) []api.InflightView {
	now := time.Now()
	entries := a.tracker.List()
	out := make([]api.InflightView, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.InflightView{
			ID:        e.ID,
			ClientID:  e.ClientID,
			Method:    e.Method,
			URL:       e.URL,
			Stage:     string(e.Stage),
			StartedAt: e.StartTime.UnixMilli(),
			ElapsedMS: now.Sub(e.StartTime).Milliseconds(),
		})
	}
	return out
}

// QueryEvents 实现 api.Service
func (a *App) QueryEvents(ctx context.Context, q api.EventQuery) (api.EventPage, error) {
	a.events.Flush()
	records, total, err := a.events.Query(ctx, queryOptions(q))
	if err != nil {
		return api.EventPage{}, errx.Wrap(errx.CodeStorage, err, "query events")
	}
	page := api.EventPage{Total: total, Items: make([]api.EventView, 0, len(records))}
	for _, rec := range records {
		evt, err := repo.Decode(rec)
		if err != nil {
			a.log.Warn("跳过无法解析的事件记录", "correlationId", rec.CorrelationID, "error", err)
			continue
		}
		page.Items = append(page.Items, api.EventView{LifecycleEvent: evt, BodyTruncated: rec.BodyTruncated})
	}
	return page, nil
}

// ClearEvents 实现 api.Service
func (a *App) ClearEvents(ctx context.Context) (int64, error) {
	a.events.Flush()
	n, err := a.events.ClearAll(ctx)
	if err != nil {
		return 0, errx.Wrap(errx.CodeStorage, err, "clear events")
	}
	return n, nil
}

// ExportHAR 实现 api.Service
func (a *App) ExportHAR(ctx context.Context, q api.EventQuery) (export.Log, error) {
	if q.Limit <= 0 || q.Limit > harLimit {
		q.Limit = harLimit
	}
	page, err := a.QueryEvents(ctx, q)
	if err != nil {
		return export.Log{}, err
	}
	events := make([]domain.LifecycleEvent, 0, len(page.Items))
	for _, item := range page.Items {
		events = append(events, item.LifecycleEvent)
	}
	return export.HAR(events, a.cfg.Version), nil
}

// ListSessions 实现 api.Service
func (a *App) ListSessions(ctx context.Context, activeOnly bool, limit int) ([]api.SessionView, error) {
	records, err := a.sessions.List(ctx, activeOnly, limit)
	if err != nil {
		return nil, errx.Wrap(errx.CodeStorage, err, "list sessions")
	}
	out := make([]api.SessionView, 0, len(records))
	for _, r := range records {
		out = append(out, api.SessionView{
			Generation:  r.Generation,
			ClientID:    r.ClientID,
			Type:        r.Type,
			FrameType:   r.FrameType,
			URL:         r.URL,
			ActivatedAt: r.ActivatedAt,
			ClosedAt:    r.ClosedAt,
		})
	}
	return out, nil
}

// ListTargets 实现 api.Service
func (a *App) ListTargets(ctx context.Context) ([]api.TargetView, error) {
	if a.cdp == nil {
		return nil, errx.Wrap(errx.CodeDevTools, domain.ErrDevToolsUnreachable, "browser bridge disabled")
	}
	targets, err := a.cdp.Targets(ctx)
	if err != nil {
		return nil, errx.Wrap(errx.CodeDevTools, errors.Join(domain.ErrDevToolsUnreachable, err), "list targets")
	}
	out := make([]api.TargetView, 0, len(targets))
	for _, t := range targets {
		out = append(out, api.TargetView{ID: string(t.ID), URL: t.URL, Title: t.Title, Attached: t.Attached})
	}
	return out, nil
}

// SetAuditEnabled 实现 api.Service
func (a *App) SetAuditEnabled(enabled bool) { a.auditor.SetEnabled(enabled) }

func queryOptions(q api.EventQuery) repo.QueryOptions {
	return repo.QueryOptions{
		ClientID:  q.ClientID,
		URL:       q.URL,
		Method:    q.Method,
		Mocked:    q.Mocked,
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
		Offset:    q.Offset,
		Limit:     q.Limit,
	}
}
