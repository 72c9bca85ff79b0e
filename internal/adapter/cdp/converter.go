package cdp

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"mockrelay/internal/transformer"
	"mockrelay/pkg/domain"

	"github.com/mafredri/cdp/protocol/fetch"
)

// ClientHeader 页面可通过该请求头声明自身在客户端目录中的ID
const ClientHeader = "X-Mockrelay-Client"

// resourceDestinations CDP ResourceType 到 Request.destination 的映射
var resourceDestinations = map[string]string{
	"Document":   "document",
	"Stylesheet": "style",
	"Image":      "image",
	"Media":      "video",
	"Font":       "font",
	"Script":     "script",
	"TextTrack":  "track",
	"Manifest":   "manifest",
}

// ToInterceptedRequest 将暂停事件转换为被拦截请求
// 客户端ID优先取 ClientHeader，缺省为目标ID
func ToInterceptedRequest(target domain.TargetID, ev *fetch.RequestPausedReply) *domain.InterceptedRequest {
	headers := domain.Header{}
	var raw map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &raw); err == nil {
			for k, v := range raw {
				headers.Set(k, v)
			}
		}
	}

	clientID := domain.ClientID(headers.Get(ClientHeader))
	if clientID == "" {
		clientID = domain.ClientID(target)
	}
	headers.Del(ClientHeader)

	dest := resourceDestinations[string(ev.ResourceType)]
	mode := transformer.RequestMode(headers.Get("Sec-Fetch-Mode"), dest)
	if dest == "document" {
		mode = domain.ModeNavigate
	}

	return &domain.InterceptedRequest{
		ClientID: clientID,
		RequestDescriptor: domain.RequestDescriptor{
			URL:            requestURL(ev),
			Method:         ev.Request.Method,
			Headers:        headers,
			Body:           requestBody(ev),
			Mode:           mode,
			Cache:          transformer.CacheMode(headers.Get("Cache-Control")),
			Credentials:    "include",
			Destination:    dest,
			Redirect:       "follow",
			Referrer:       transformer.Referrer(headers.Get("Referer")),
			ReferrerPolicy: string(ev.Request.ReferrerPolicy),
		},
	}
}

// requestURL 拼回 URL 片段
func requestURL(ev *fetch.RequestPausedReply) string {
	u := ev.Request.URL
	if ev.Request.URLFragment != nil && !strings.Contains(u, "#") {
		u += *ev.Request.URLFragment
	}
	return u
}

// requestBody 优先使用 PostDataEntries（Base64），回退到 PostData
func requestBody(ev *fetch.RequestPausedReply) []byte {
	if len(ev.Request.PostDataEntries) > 0 {
		var parts [][]byte
		for _, entry := range ev.Request.PostDataEntries {
			if entry.Bytes == nil {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(*entry.Bytes)
			if err != nil {
				decoded = []byte(*entry.Bytes)
			}
			parts = append(parts, decoded)
		}
		if len(parts) > 0 {
			return bytes.Join(parts, nil)
		}
		return nil
	}
	if ev.Request.PostData != nil {
		return []byte(*ev.Request.PostData)
	}
	return nil
}

// ToHeaderEntries 将领域 Header 转换为 CDP Header 条目（按名称排序）
func ToHeaderEntries(h domain.Header) []fetch.HeaderEntry {
	entries := transformer.Entries(h)
	out := make([]fetch.HeaderEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fetch.HeaderEntry{Name: e.Name, Value: e.Value})
	}
	return out
}

// ToFulfillArgs 将最终响应转换为 Fetch.fulfillRequest 参数
func ToFulfillArgs(id fetch.RequestID, resp *domain.Response) *fetch.FulfillRequestArgs {
	args := &fetch.FulfillRequestArgs{
		RequestID:       id,
		ResponseCode:    resp.Status,
		ResponseHeaders: ToHeaderEntries(resp.Headers),
	}
	if resp.StatusText != "" {
		phrase := resp.StatusText
		args.ResponsePhrase = &phrase
	}
	if len(resp.Body) > 0 {
		args.Body = resp.Body
	}
	return args
}
