// Package api 定义管理接口的服务契约与视图。
package api

import (
	"context"

	"mockrelay/internal/export"
	"mockrelay/pkg/domain"
)

// Service 管理接口依赖的服务
type Service interface {
	// Health 运行状态
	Health(ctx context.Context) Health
	// ListClients 已连接的客户端
	ListClients(ctx context.Context) []ClientView
	// DisconnectClient 断开客户端连接，等同于页面关闭
	DisconnectClient(ctx context.Context, id domain.ClientID) error
	// ListInflight 等待答复或正在放行的请求
	ListInflight(ctx context.Context) []InflightView
	// QueryEvents 查询已持久化的生命周期事件
	QueryEvents(ctx context.Context, q EventQuery) (EventPage, error)
	// ClearEvents 清空生命周期事件
	ClearEvents(ctx context.Context) (int64, error)
	// ExportHAR 以 HAR 1.2 导出生命周期事件
	ExportHAR(ctx context.Context, q EventQuery) (export.Log, error)
	// ListSessions 客户端激活记录
	ListSessions(ctx context.Context, activeOnly bool, limit int) ([]SessionView, error)
	// ListTargets 浏览器页面目标
	ListTargets(ctx context.Context) ([]TargetView, error)
	// SetAuditEnabled 开关生命周期事件记录
	SetAuditEnabled(enabled bool)
}

// Health 运行状态
type Health struct {
	Status           string     `json:"status"`
	Version          string     `json:"version"`
	Generation       string     `json:"generation"`
	Generations      int64      `json:"generations"`
	ActiveClients    int        `json:"activeClients"`
	ConnectedClients int        `json:"connectedClients"`
	Inflight         int        `json:"inflight"`
	AuditEnabled     bool       `json:"auditEnabled"`
	AuditDropped     int64      `json:"auditDropped"`
	CDP              *CDPHealth `json:"cdp,omitempty"`
}

// CDPHealth 浏览器桥接状态
type CDPHealth struct {
	DevToolsURL string `json:"devToolsURL"`
	QueueLen    int    `json:"queueLen"`
	QueueCap    int    `json:"queueCap"`
	Busy        int64  `json:"busy"`
	Submitted   int64  `json:"submitted"`
	Dropped     int64  `json:"dropped"`
}

// ClientView 客户端及其激活状态
type ClientView struct {
	domain.ClientInfo
	Active bool `json:"active"`
}

// InflightView 在途请求
type InflightView struct {
	ID        domain.CorrelationID `json:"id"`
	ClientID  domain.ClientID      `json:"clientId"`
	Method    string               `json:"method"`
	URL       string               `json:"url"`
	Stage     string               `json:"stage"`
	StartedAt int64                `json:"startedAt"`
	ElapsedMS int64                `json:"elapsedMs"`
}

// EventQuery 事件查询条件
type EventQuery struct {
	ClientID  string
	URL       string
	Method    string
	Mocked    *bool
	StartTime int64
	EndTime   int64
	Offset    int
	Limit     int
}

// EventView 生命周期事件
type EventView struct {
	domain.LifecycleEvent
	BodyTruncated bool `json:"bodyTruncated,omitempty"`
}

// EventPage 事件分页
type EventPage struct {
	Total int64       `json:"total"`
	Items []EventView `json:"items"`
}

// SessionView 客户端激活记录
type SessionView struct {
	Generation  string `json:"generation"`
	ClientID    string `json:"clientId"`
	Type        string `json:"type"`
	FrameType   string `json:"frameType"`
	URL         string `json:"url"`
	ActivatedAt int64  `json:"activatedAt"`
	ClosedAt    int64  `json:"closedAt,omitempty"`
}

// TargetView 浏览器页面目标
type TargetView struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Attached bool   `json:"attached"`
}
