package domain

import "errors"

// 客户端相关错误
var (
	ErrClientNotFound = errors.New("client not found")
)

// 消息通道相关错误
var (
	ErrTargetGone     = errors.New("message target disconnected")
	ErrReplyTimeout   = errors.New("reply timeout")
	ErrMalformedReply = errors.New("malformed reply")

	ErrInvalidMockResponse = errors.New("invalid mock response")
)

// 目标相关错误
var (
	ErrTargetNotFound = errors.New("target not found")
)

// 连接相关错误
var (
	ErrDevToolsUnreachable = errors.New("devtools unreachable")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// 配置相关错误
var (
	ErrInvalidConfig = errors.New("invalid config")
)

// 数据库相关错误
var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
	ErrRecordNotFound         = errors.New("record not found")
)
