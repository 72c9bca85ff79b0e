// Package resolver 选出负责应答某个被拦截请求的客户端。
package resolver

import (
	"context"

	"mockrelay/internal/clients"
	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"
)

// ActiveSet 查询客户端是否已激活
type ActiveSet interface {
	IsActive(id domain.ClientID) bool
}

// Resolver 主客户端解析器
type Resolver struct {
	dir    clients.Directory
	active ActiveSet
	log    logger.Logger
}

// New 创建解析器
func New(dir clients.Directory, active ActiveSet, l logger.Logger) *Resolver {
	if l == nil {
		l = logger.NewNop()
	}
	return &Resolver{dir: dir, active: active, log: l}
}

// Resolve 依次尝试：已激活的发起方、顶层发起方、第一个可见且已激活的窗口客户端
func (r *Resolver) Resolve(ctx context.Context, id domain.ClientID) (clients.Client, bool) {
	requester, err := r.dir.Get(ctx, id)
	if err != nil {
		requester = nil
	}

	if id != "" && r.active.IsActive(id) {
		// 已激活但已不在目录中时不回退
		return requester, requester != nil
	}
	if requester != nil && requester.Info().FrameType == domain.FrameTypeTopLevel {
		return requester, true
	}

	windows, err := r.dir.MatchAll(ctx, domain.ClientTypeWindow)
	if err != nil {
		r.log.Err(err, "枚举窗口客户端失败")
		return nil, false
	}
	for _, c := range windows {
		info := c.Info()
		if info.Visibility == domain.VisibilityVisible && r.active.IsActive(info.ID) {
			return c, true
		}
	}
	return nil, false
}
