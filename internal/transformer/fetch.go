package transformer

import (
	"strings"

	"mockrelay/pkg/domain"
)

// RequestMode 根据 Sec-Fetch-Mode / Sec-Fetch-Dest 推断请求模式
func RequestMode(secFetchMode, dest string) domain.RequestMode {
	if secFetchMode != "" {
		return domain.RequestMode(secFetchMode)
	}
	if dest == "document" {
		return domain.ModeNavigate
	}
	return domain.ModeCORS
}

// CacheMode 根据 Cache-Control 推断缓存模式
func CacheMode(cacheControl string) domain.CacheMode {
	cc := strings.ToLower(cacheControl)
	switch {
	case strings.Contains(cc, "only-if-cached"):
		return domain.CacheOnlyIfCached
	case strings.Contains(cc, "no-store"):
		return domain.CacheNoStore
	case strings.Contains(cc, "no-cache"), strings.Contains(cc, "max-age=0"):
		return domain.CacheNoCache
	default:
		return domain.CacheDefault
	}
}

// Referrer 缺省引用方为 about:client
func Referrer(referer string) string {
	if referer != "" {
		return referer
	}
	return "about:client"
}
