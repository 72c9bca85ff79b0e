// Package proxy 以 HTTP 代理的形式拦截页面请求。
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"mockrelay/internal/logger"
	"mockrelay/internal/router"
	"mockrelay/internal/transformer"
	"mockrelay/pkg/domain"
)

// ClientHeader 标识发起请求的客户端
const ClientHeader = "X-Mockrelay-Client"

// Interceptor 拦截入口
type Interceptor interface {
	Intercept(ctx context.Context, req *domain.InterceptedRequest) router.Outcome
}

// Forwarder 未拦截请求的默认网络行为
type Forwarder interface {
	Bypass(ctx context.Context, req domain.RequestDescriptor) (*domain.Response, error)
}

// Options 代理配置
type Options struct {
	// Upstream 反向代理的上游地址，为空时只接受绝对地址的正向代理请求
	Upstream     string
	Interceptor  Interceptor
	Forwarder    Forwarder
	MaxBodyBytes int64
	Logger       logger.Logger
}

// Proxy HTTP 拦截代理
type Proxy struct {
	upstream    *url.URL
	interceptor Interceptor
	forwarder   Forwarder
	maxBody     int64
	log         logger.Logger
}

// New 创建代理
func New(opts Options) (*Proxy, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	p := &Proxy{
		interceptor: opts.Interceptor,
		forwarder:   opts.Forwarder,
		maxBody:     opts.MaxBodyBytes,
		log:         opts.Logger,
	}
	if opts.Upstream != "" {
		u, err := url.Parse(opts.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: upstream %q", domain.ErrInvalidConfig, opts.Upstream)
		}
		p.upstream = u
	}
	return p, nil
}

// ServeHTTP 拦截请求并写回结果
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT is not supported", http.StatusMethodNotAllowed)
		return
	}

	req, err := p.describe(r)
	if err != nil {
		status := http.StatusBadGateway
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}

	ctx := r.Context()
	out := p.interceptor.Intercept(ctx, req)
	resp := out.Response
	if out.Bypass {
		resp, err = p.forwarder.Bypass(ctx, req.RequestDescriptor)
		if err != nil {
			p.log.Debug("未拦截请求转发失败", "url", req.URL, "error", err)
		}
	}
	p.write(w, req, resp)
}

// describe 将 HTTP 请求转换为被拦截请求
func (p *Proxy) describe(r *http.Request) (*domain.InterceptedRequest, error) {
	target, err := p.targetURL(r)
	if err != nil {
		return nil, err
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(http.MaxBytesReader(nil, r.Body, p.maxBody))
		if err != nil {
			return nil, err
		}
	}

	headers := transformer.FromHTTP(r.Header)
	headers.Del(ClientHeader)

	return &domain.InterceptedRequest{
		ClientID: domain.ClientID(r.Header.Get(ClientHeader)),
		RequestDescriptor: domain.RequestDescriptor{
			URL:            target,
			Method:         r.Method,
			Headers:        headers,
			Body:           body,
			Mode:           transformer.RequestMode(r.Header.Get("Sec-Fetch-Mode"), r.Header.Get("Sec-Fetch-Dest")),
			Cache:          transformer.CacheMode(r.Header.Get("Cache-Control")),
			Credentials:    "include",
			Destination:    r.Header.Get("Sec-Fetch-Dest"),
			Integrity:      r.Header.Get("Integrity"),
			Redirect:       "manual",
			Referrer:       transformer.Referrer(r.Header.Get("Referer")),
			ReferrerPolicy: r.Header.Get("Referrer-Policy"),
		},
	}, nil
}

func (p *Proxy) targetURL(r *http.Request) (string, error) {
	if r.URL.IsAbs() {
		return r.URL.String(), nil
	}
	if p.upstream == nil {
		return "", fmt.Errorf("%w: no upstream for %s", domain.ErrUpstreamUnreachable, r.URL.Path)
	}
	return p.upstream.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery}).String(), nil
}

// write 写回响应，网络错误时直接断开连接
func (p *Proxy) write(w http.ResponseWriter, req *domain.InterceptedRequest, resp *domain.Response) {
	if resp == nil || resp.IsNetworkError() {
		p.abort(w, req)
		return
	}

	h := w.Header()
	for _, e := range transformer.Entries(resp.Headers) {
		switch e.Name {
		case "content-length", "transfer-encoding", "connection", "keep-alive":
			continue
		}
		h.Set(e.Name, e.Value)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 && req.Method != http.MethodHead {
		if _, err := w.Write(resp.Body); err != nil {
			p.log.Debug("写回响应失败", "url", req.URL, "error", err)
		}
	}
}

func (p *Proxy) abort(w http.ResponseWriter, req *domain.InterceptedRequest) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "network error", http.StatusBadGateway)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		http.Error(w, "network error", http.StatusBadGateway)
		return
	}
	p.log.Debug("以网络错误结束请求", "url", req.URL)
	_ = conn.Close()
}
