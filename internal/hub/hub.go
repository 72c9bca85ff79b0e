// Package hub 通过 WebSocket 接入页面客户端，并作为客户端目录供拦截上下文查询。
package hub

import (
	"context"
	"net/http"
	"sync"

	"mockrelay/internal/clients"
	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"

	"github.com/gobwas/ws"
)

// Handler 处理客户端消息
type Handler interface {
	HandleMessage(ctx context.Context, from domain.ClientID, msg domain.Message) error
	ClientClosed(ctx context.Context, id domain.ClientID)
}

// Hub 客户端接入点
type Hub struct {
	set *clients.Set
	log logger.Logger

	mu      sync.RWMutex
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建接入点
func New(l logger.Logger) *Hub {
	if l == nil {
		l = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{set: clients.NewSet(), log: l, ctx: ctx, cancel: cancel}
}

// Bind 绑定消息处理方
func (h *Hub) Bind(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *Hub) current() Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}

// Get 实现 clients.Directory
func (h *Hub) Get(ctx context.Context, id domain.ClientID) (clients.Client, error) {
	return h.set.Get(ctx, id)
}

// MatchAll 实现 clients.Directory
func (h *Hub) MatchAll(ctx context.Context, typ domain.ClientType) ([]clients.Client, error) {
	return h.set.MatchAll(ctx, typ)
}

// Clients 按连接顺序列出已连接的客户端
func (h *Hub) Clients() []domain.ClientInfo {
	return h.set.Infos()
}

// ServeHTTP 升级为 WebSocket 连接
//
// 查询参数：clientId（必填）、type、frameType、visibility、url
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info, ok := parseInfo(r)
	if !ok {
		http.Error(w, "clientId is required", http.StatusBadRequest)
		return
	}

	nc, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.log.Warn("WebSocket 升级失败", "clientId", info.ID, "error", err)
		return
	}

	c := newConn(h, nc, info)
	if prev, err := h.set.Get(r.Context(), info.ID); err == nil {
		if old, ok := prev.(*conn); ok {
			old.replace()
		}
	}
	h.set.Add(c)
	h.log.Info("客户端已连接", "clientId", info.ID, "type", info.Type, "frameType", info.FrameType)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.readLoop(h.ctx)
	}()
}

// Disconnect 断开指定客户端，按页面关闭处理
func (h *Hub) Disconnect(ctx context.Context, id domain.ClientID) error {
	c, err := h.set.Get(ctx, id)
	if err != nil {
		return err
	}
	if cc, ok := c.(*conn); ok {
		cc.close()
	}
	return nil
}

// Close 断开所有客户端并等待读循环退出
func (h *Hub) Close() {
	h.cancel()
	all, _ := h.set.MatchAll(context.Background(), "")
	for _, c := range all {
		if cc, ok := c.(*conn); ok {
			cc.close()
		}
	}
	h.wg.Wait()
}

// disconnected 连接断开后的清理，未显式关闭的客户端视为已关闭
func (h *Hub) disconnected(c *conn) {
	h.set.RemoveIf(c)
	info := c.Info()
	h.log.Info("客户端已断开", "clientId", info.ID)

	if c.isReplaced() || c.closedExplicitly() {
		return
	}
	// 关闭 Hub 时断开的连接不视为页面关闭
	if h.ctx.Err() != nil {
		return
	}
	if handler := h.current(); handler != nil {
		handler.ClientClosed(context.Background(), info.ID)
	}
}

func parseInfo(r *http.Request) (domain.ClientInfo, bool) {
	q := r.URL.Query()
	info := domain.ClientInfo{
		ID:         domain.ClientID(q.Get("clientId")),
		Type:       domain.ClientType(q.Get("type")),
		FrameType:  domain.FrameType(q.Get("frameType")),
		Visibility: domain.VisibilityState(q.Get("visibility")),
		URL:        q.Get("url"),
	}
	if info.ID == "" {
		return info, false
	}
	if info.Type == "" {
		info.Type = domain.ClientTypeWindow
	}
	if info.FrameType == "" {
		info.FrameType = domain.FrameTypeTopLevel
	}
	if info.Visibility == "" {
		info.Visibility = domain.VisibilityVisible
	}
	if info.URL == "" {
		info.URL = r.Header.Get("Origin")
	}
	return info, true
}
