package domain

import (
	"fmt"
	"strings"
)

// ClientID 浏览器客户端（标签页）ID
type ClientID string

// CorrelationID 单次拦截请求的关联ID，全局唯一且不复用
type CorrelationID string

// TargetID 浏览器调试目标ID
type TargetID string

// ClientType 客户端类型
type ClientType string

const (
	ClientTypeWindow       ClientType = "window"
	ClientTypeWorker       ClientType = "worker"
	ClientTypeSharedWorker ClientType = "sharedworker"
)

// FrameType 客户端所在的浏览上下文类型
type FrameType string

const (
	FrameTypeTopLevel  FrameType = "top-level"
	FrameTypeNested    FrameType = "nested"
	FrameTypeAuxiliary FrameType = "auxiliary"
	FrameTypeNone      FrameType = "none"
)

// VisibilityState 客户端可见性
type VisibilityState string

const (
	VisibilityVisible VisibilityState = "visible"
	VisibilityHidden  VisibilityState = "hidden"
)

// RequestMode 请求模式
type RequestMode string

const (
	ModeNavigate   RequestMode = "navigate"
	ModeSameOrigin RequestMode = "same-origin"
	ModeNoCORS     RequestMode = "no-cors"
	ModeCORS       RequestMode = "cors"
)

// CacheMode 请求缓存模式
type CacheMode string

const (
	CacheDefault      CacheMode = "default"
	CacheNoStore      CacheMode = "no-store"
	CacheReload       CacheMode = "reload"
	CacheNoCache      CacheMode = "no-cache"
	CacheForceCache   CacheMode = "force-cache"
	CacheOnlyIfCached CacheMode = "only-if-cached"
)

const (
	// PassthroughToken accept 头中标记"不要拦截"的内部令牌，真实请求发出前必须剔除
	PassthroughToken = "msw/passthrough"

	// NetworkErrorStatus 模拟响应中表示"网络错误"的保留状态码
	NetworkErrorStatus = 0

	// PackageVersion 完整性校验握手中上报的协议版本
	PackageVersion = "2.11.3"
	// IntegrityChecksum 完整性校验握手中上报的校验和
	IntegrityChecksum = "4db4a41e972cec1b64cc569c66952d82"
)

// ClientInfo 客户端描述信息
type ClientInfo struct {
	ID         ClientID        `json:"id"`
	Type       ClientType      `json:"type"`
	FrameType  FrameType       `json:"frameType"`
	Visibility VisibilityState `json:"visibilityState"`
	URL        string          `json:"url,omitempty"`
}

// Header 请求/响应头，键统一为小写
type Header map[string]string

// NewHeader 从任意大小写的键值对创建 Header
func NewHeader(kv map[string]string) Header {
	h := make(Header, len(kv))
	for k, v := range kv {
		h.Set(k, v)
	}
	return h
}

// Get 获取头部值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置头部值
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除头部
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Has 是否存在某个头部
func (h Header) Has(key string) bool {
	if h == nil {
		return false
	}
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Clone 深拷贝
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// RequestDescriptor 请求的可序列化快照，是跨上下文传输的线上格式，创建后不可修改
type RequestDescriptor struct {
	URL            string      `json:"url"`
	Method         string      `json:"method"`
	Headers        Header      `json:"headers"`
	Body           []byte      `json:"body,omitempty"`
	Mode           RequestMode `json:"mode"`
	Cache          CacheMode   `json:"cache"`
	Credentials    string      `json:"credentials"`
	Destination    string      `json:"destination"`
	Integrity      string      `json:"integrity"`
	Redirect       string      `json:"redirect"`
	Referrer       string      `json:"referrer"`
	ReferrerPolicy string      `json:"referrerPolicy"`
	KeepAlive      bool        `json:"keepalive"`
}

// InterceptedRequest 被拦截的请求，附带发起请求的客户端
type InterceptedRequest struct {
	ClientID ClientID
	RequestDescriptor
}

// RequestPayload REQUEST 消息的负载
type RequestPayload struct {
	ID            CorrelationID `json:"id"`
	InterceptedAt int64         `json:"interceptedAt"`
	RequestDescriptor
}

// ResponseDescriptor 模拟响应描述
type ResponseDescriptor struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText,omitempty"`
	Headers    Header `json:"headers,omitempty"`
	Body       []byte `json:"body,omitempty"`
}

// 响应类型
const (
	ResponseTypeBasic   = "basic"
	ResponseTypeDefault = "default"
	ResponseTypeError   = "error"
)

// Response 最终交付给页面的响应
type Response struct {
	Type       string `json:"type"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Headers    Header `json:"headers"`
	Body       []byte `json:"body,omitempty"`

	// mocked 响应来源标记，属于元数据，不进入头部也不参与序列化
	mocked bool
}

// NewResponse 创建真实网络响应
func NewResponse(status int, statusText string, headers Header, body []byte) *Response {
	if headers == nil {
		headers = Header{}
	}
	return &Response{
		Type:       ResponseTypeBasic,
		Status:     status,
		StatusText: statusText,
		Headers:    headers,
		Body:       body,
	}
}

// NewMockedResponse 根据模拟响应描述创建响应并打上来源标记
func NewMockedResponse(d ResponseDescriptor) *Response {
	headers := NewHeader(d.Headers)
	return &Response{
		Type:       ResponseTypeDefault,
		Status:     d.Status,
		StatusText: d.StatusText,
		Headers:    headers,
		Body:       d.Body,
		mocked:     true,
	}
}

// NetworkError 创建网络错误结果
func NetworkError() *Response {
	return &Response{Type: ResponseTypeError, Status: NetworkErrorStatus, Headers: Header{}}
}

// IsNetworkError 是否为网络错误结果
func (r *Response) IsNetworkError() bool {
	return r != nil && r.Type == ResponseTypeError
}

// IsMocked 是否由模拟路径产生
func (r *Response) IsMocked() bool {
	return r != nil && r.mocked
}

// LifecycleRequest RESPONSE 通知中的请求部分
type LifecycleRequest struct {
	ID CorrelationID `json:"id"`
	RequestDescriptor
}

// LifecycleEvent 请求/响应全周期通知
type LifecycleEvent struct {
	ClientID         ClientID         `json:"clientId,omitempty"`
	InterceptedAt    int64            `json:"interceptedAt,omitempty"`
	RespondedAt      int64            `json:"respondedAt,omitempty"`
	IsMockedResponse bool             `json:"isMockedResponse"`
	Request          LifecycleRequest `json:"request"`
	Response         Response         `json:"response"`
}

// Validate 检查模拟响应能否构造为合法响应：状态码须在 200-599 之间，
// 且 204/205/304 不能携带消息体
func (d ResponseDescriptor) Validate() error {
	if d.Status < 200 || d.Status > 599 {
		return fmt.Errorf("%w: status %d out of range", ErrInvalidMockResponse, d.Status)
	}
	switch d.Status {
	case 204, 205, 304:
		if len(d.Body) > 0 {
			return fmt.Errorf("%w: status %d cannot carry a body", ErrInvalidMockResponse, d.Status)
		}
	}
	return nil
}
