// Package passthrough 将请求原样发往真实网络。
package passthrough

import (
	"context"

	"mockrelay/internal/logger"
	"mockrelay/internal/transformer"
	"mockrelay/pkg/domain"
)

// Fetcher 执行真实网络请求
type Fetcher interface {
	Fetch(ctx context.Context, req domain.RequestDescriptor) (*domain.Response, error)
}

// Path 放行路径
type Path struct {
	fetcher Fetcher
	log     logger.Logger
}

// New 创建放行路径
func New(f Fetcher, l logger.Logger) *Path {
	if l == nil {
		l = logger.NewNop()
	}
	return &Path{fetcher: f, log: l}
}

// Do 剔除放行令牌后请求真实网络，失败时返回网络错误响应以及原因
func (p *Path) Do(ctx context.Context, req domain.RequestDescriptor) (*domain.Response, error) {
	req.Headers = transformer.ScrubAccept(req.Headers)
	return p.fetch(ctx, req)
}

// Bypass 未经拦截的请求直接转发，不做任何改写
func (p *Path) Bypass(ctx context.Context, req domain.RequestDescriptor) (*domain.Response, error) {
	req.Headers = req.Headers.Clone()
	return p.fetch(ctx, req)
}

func (p *Path) fetch(ctx context.Context, req domain.RequestDescriptor) (*domain.Response, error) {
	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		p.log.Warn("真实网络请求失败", "url", req.URL, "method", req.Method, "error", err)
		return domain.NetworkError(), err
	}
	return resp, nil
}
