package passthrough

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mockrelay/internal/transformer"
	"mockrelay/pkg/domain"
)

// 不转发的逐跳头部
var hopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-connection":    {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
}

var errRedirectRejected = errors.New("redirect rejected by request redirect mode")

// HTTPOptions HTTP 拉取配置
type HTTPOptions struct {
	Timeout   time.Duration
	Transport http.RoundTripper
}

// HTTPFetcher 基于 net/http 的 Fetcher
type HTTPFetcher struct {
	follow *http.Client
	manual *http.Client
	strict *http.Client
}

// NewHTTPFetcher 创建 HTTP 拉取器
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	base := func(check func(*http.Request, []*http.Request) error) *http.Client {
		return &http.Client{Timeout: opts.Timeout, Transport: opts.Transport, CheckRedirect: check}
	}
	return &HTTPFetcher{
		follow: base(nil),
		manual: base(func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }),
		strict: base(func(*http.Request, []*http.Request) error { return errRedirectRejected }),
	}
}

// Fetch 实现 Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, req domain.RequestDescriptor) (*domain.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		if _, hop := hopHeaders[k]; hop {
			continue
		}
		httpReq.Header.Set(k, v)
	}
	if req.Referrer != "" && req.Referrer != "about:client" && httpReq.Header.Get("Referer") == "" {
		httpReq.Header.Set("Referer", req.Referrer)
	}

	resp, err := f.client(req.Redirect).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := transformer.FromHTTP(resp.Header)
	for k := range hopHeaders {
		headers.Del(k)
	}
	return domain.NewResponse(resp.StatusCode, statusText(resp), headers, data), nil
}

func (f *HTTPFetcher) client(redirect string) *http.Client {
	switch redirect {
	case "manual":
		return f.manual
	case "error":
		return f.strict
	default:
		return f.follow
	}
}

func statusText(resp *http.Response) string {
	// resp.Status 形如 "200 OK"
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
