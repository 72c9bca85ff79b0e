// Package cdp 封装与浏览器 DevTools 的连接及 Fetch 域操作。
package cdp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"
)

// writeBufferSize 大响应体填充时需要较大的写缓冲
const writeBufferSize = 16 * 1024 * 1024

// TargetInfo 浏览器页面目标
type TargetInfo struct {
	ID       domain.TargetID `json:"id"`
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Attached bool            `json:"attached"`
}

// TargetSession 已附着的目标会话
type TargetSession struct {
	ID     domain.TargetID
	URL    string
	Client *cdp.Client
	Conn   *rpcc.Conn
	Ctx    context.Context
	Cancel context.CancelFunc
}

// Close 先取消会话上下文，再关闭连接
func (s *TargetSession) Close() error {
	if s.Cancel != nil {
		s.Cancel()
	}
	if s.Conn != nil {
		return s.Conn.Close()
	}
	return nil
}

// ClientManager 管理与浏览器各页面目标的 CDP 连接
type ClientManager struct {
	devtoolsURL string
	log         logger.Logger
	mu          sync.RWMutex
	sessions    map[domain.TargetID]*TargetSession
}

// NewClientManager 创建 CDP 客户端管理器
func NewClientManager(url string, l logger.Logger) *ClientManager {
	if l == nil {
		l = logger.NewNop()
	}
	return &ClientManager{
		devtoolsURL: url,
		log:         l,
		sessions:    make(map[domain.TargetID]*TargetSession),
	}
}

// ListTargets 列出所有 page 目标并标记是否已附着
func (m *ClientManager) ListTargets(ctx context.Context) ([]TargetInfo, error) {
	targets, err := m.pages(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TargetInfo, 0, len(targets))
	for _, t := range targets {
		id := domain.TargetID(t.ID)
		_, attached := m.sessions[id]
		out = append(out, TargetInfo{ID: id, URL: t.URL, Title: t.Title, Attached: attached})
	}
	return out, nil
}

// AttachTarget 附着到指定目标，已附着时复用会话
func (m *ClientManager) AttachTarget(ctx context.Context, id domain.TargetID) (*TargetSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	targets, err := m.pages(ctx)
	if err != nil {
		m.log.Err(err, "获取 Target 列表失败")
		return nil, err
	}
	var target *devtool.Target
	for _, t := range targets {
		if domain.TargetID(t.ID) == id {
			target = t
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTargetNotFound, id)
	}

	sessionCtx, sessionCancel := context.WithCancel(ctx)
	conn, err := rpcc.DialContext(sessionCtx, target.WebSocketDebuggerURL,
		rpcc.WithWriteBufferSize(writeBufferSize),
		rpcc.WithCompression())
	if err != nil {
		sessionCancel()
		m.log.Err(err, "CDP 连接建立失败", "targetID", string(id))
		return nil, err
	}

	s := &TargetSession{
		ID:     id,
		URL:    target.URL,
		Client: cdp.NewClient(conn),
		Conn:   conn,
		Ctx:    sessionCtx,
		Cancel: sessionCancel,
	}
	m.sessions[id] = s
	m.log.Info("Target 附着成功", "targetID", string(id), "url", target.URL)
	return s, nil
}

// DetachTarget 断开与目标的连接
func (m *ClientManager) DetachTarget(id domain.TargetID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// DetachAll 断开所有目标
func (m *ClientManager) DetachAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[domain.TargetID]*TargetSession)
	m.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
}

// Attached 已附着的目标ID（排序）
func (m *ClientManager) Attached() []domain.TargetID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TargetID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetSession 获取已存在的会话
func (m *ClientManager) GetSession(id domain.TargetID) (*TargetSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *ClientManager) pages(ctx context.Context) ([]*devtool.Target, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*devtool.Target, 0, len(targets))
	for _, t := range targets {
		if t != nil && t.Type == devtool.Page {
			out = append(out, t)
		}
	}
	return out, nil
}
