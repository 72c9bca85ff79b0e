package transformer

import (
	"net/http"
	"sort"
	"strings"

	"mockrelay/pkg/domain"
)

// ScrubAccept 从 accept 头中剔除内部放行令牌，剔除后为空则删除该头。
// 返回新的 Header，不修改入参
func ScrubAccept(h domain.Header) domain.Header {
	out := h.Clone()
	accept := out.Get("accept")
	if accept == "" {
		return out
	}

	parts := strings.Split(accept, ",")
	kept := parts[:0:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == domain.PassthroughToken {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) > 0 {
		out.Set("accept", strings.Join(kept, ", "))
	} else {
		out.Del("accept")
	}
	return out
}

// FromHTTP 将 net/http 头转换为小写键的 Header，多值以 ", " 合并
func FromHTTP(h http.Header) domain.Header {
	out := make(domain.Header, len(h))
	for k, vs := range h {
		out.Set(k, strings.Join(vs, ", "))
	}
	return out
}

// ApplyTo 将 Header 写入 net/http 头
func ApplyTo(h domain.Header, dst http.Header) {
	for k, v := range h {
		dst.Set(k, v)
	}
}

// Entry 有序的头部键值对
type Entry struct {
	Name  string
	Value string
}

// Entries 按名称排序输出头部
func Entries(h domain.Header) []Entry {
	out := make([]Entry, 0, len(h))
	for k, v := range h {
		out = append(out, Entry{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
