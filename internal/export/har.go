// Package export 把生命周期事件导出为 HAR 1.2。
package export

import (
	"net/http"
	"net/url"
	"sort"
	"time"

	"mockrelay/internal/transformer"
	"mockrelay/pkg/domain"
)

// Log HAR 顶层结构
type Log struct {
	Log LogInner `json:"log"`
}

// LogInner 版本、生成工具与条目
type LogInner struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

// Creator 生成工具
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Entry 一次请求/响应
type Entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            int64    `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           struct{} `json:"cache"`
	Timings         Timings  `json:"timings"`
	Comment         string   `json:"comment,omitempty"`
}

// Request HAR 请求
type Request struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []NameValue `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	QueryString []NameValue `json:"queryString"`
	PostData    *PostData   `json:"postData,omitempty"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

// Response HAR 响应
type Response struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []NameValue `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	Content     Content     `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

// Content 响应体
type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// Timings 耗时拆分，-1 表示不适用
type Timings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}

// NameValue 名值对
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PostData 请求体
type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// HAR 按拦截时间升序导出
func HAR(events []domain.LifecycleEvent, version string) Log {
	sorted := make([]domain.LifecycleEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].InterceptedAt < sorted[j].InterceptedAt })

	entries := make([]Entry, 0, len(sorted))
	for _, evt := range sorted {
		entries = append(entries, toEntry(evt))
	}
	return Log{Log: LogInner{
		Version: "1.2",
		Creator: Creator{Name: "mockrelay", Version: version},
		Entries: entries,
	}}
}

func toEntry(evt domain.LifecycleEvent) Entry {
	elapsed := evt.RespondedAt - evt.InterceptedAt
	if elapsed < 0 || evt.RespondedAt == 0 {
		elapsed = 0
	}
	e := Entry{
		StartedDateTime: time.UnixMilli(evt.InterceptedAt).UTC().Format(time.RFC3339Nano),
		Time:            elapsed,
		Request:         toRequest(evt.Request),
		Response:        toResponse(evt.Response),
		Timings:         Timings{Send: -1, Wait: elapsed, Receive: -1},
	}
	if evt.IsMockedResponse {
		e.Comment = "mocked"
	}
	return e
}

func toRequest(r domain.LifecycleRequest) Request {
	req := Request{
		Method:      r.Method,
		URL:         r.URL,
		HTTPVersion: "HTTP/1.1",
		Cookies:     requestCookies(r.Headers),
		Headers:     nameValues(r.Headers),
		QueryString: queryString(r.URL),
		HeadersSize: -1,
		BodySize:    len(r.Body),
	}
	if len(r.Body) > 0 {
		ct := r.Headers.Get("Content-Type")
		text, _ := transformer.EncodeBody(r.Body, ct)
		req.PostData = &PostData{MimeType: ct, Text: text}
	}
	return req
}

func toResponse(r domain.Response) Response {
	ct := r.Headers.Get("Content-Type")
	text, encoding := transformer.EncodeBody(r.Body, ct)
	statusText := r.StatusText
	if statusText == "" {
		statusText = http.StatusText(r.Status)
	}
	return Response{
		Status:      r.Status,
		StatusText:  statusText,
		HTTPVersion: "HTTP/1.1",
		Cookies:     responseCookies(r.Headers),
		Headers:     nameValues(r.Headers),
		Content: Content{
			Size:     len(r.Body),
			MimeType: ct,
			Text:     text,
			Encoding: encoding,
		},
		RedirectURL: r.Headers.Get("Location"),
		HeadersSize: -1,
		BodySize:    len(r.Body),
	}
}

func nameValues(h domain.Header) []NameValue {
	entries := transformer.Entries(h)
	out := make([]NameValue, 0, len(entries))
	for _, e := range entries {
		out = append(out, NameValue{Name: e.Name, Value: e.Value})
	}
	return out
}

func requestCookies(h domain.Header) []NameValue {
	out := []NameValue{}
	for _, c := range transformer.ParseCookies(h.Get("Cookie")) {
		out = append(out, NameValue{Name: c.Name, Value: c.Value})
	}
	return out
}

func responseCookies(h domain.Header) []NameValue {
	out := []NameValue{}
	if c, ok := transformer.ParseSetCookie(h.Get("Set-Cookie")); ok {
		out = append(out, NameValue{Name: c.Name, Value: c.Value})
	}
	return out
}

func queryString(raw string) []NameValue {
	u, err := url.Parse(raw)
	if err != nil {
		return []NameValue{}
	}
	params := u.Query()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]NameValue, 0, len(params))
	for _, name := range names {
		for _, v := range params[name] {
			out = append(out, NameValue{Name: name, Value: v})
		}
	}
	return out
}
