package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// MessageType 上下文间消息类型
type MessageType string

const (
	MsgKeepaliveRequest       MessageType = "KEEPALIVE_REQUEST"
	MsgKeepaliveResponse      MessageType = "KEEPALIVE_RESPONSE"
	MsgIntegrityCheckRequest  MessageType = "INTEGRITY_CHECK_REQUEST"
	MsgIntegrityCheckResponse MessageType = "INTEGRITY_CHECK_RESPONSE"
	MsgMockActivate           MessageType = "MOCK_ACTIVATE"
	MsgMockingEnabled         MessageType = "MOCKING_ENABLED"
	MsgClientClosed           MessageType = "CLIENT_CLOSED"
	MsgVisibilityChange       MessageType = "VISIBILITY_CHANGE"
	MsgRequest                MessageType = "REQUEST"
	MsgMockResponse           MessageType = "MOCK_RESPONSE"
	MsgPassthrough            MessageType = "PASSTHROUGH"
	MsgResponse               MessageType = "RESPONSE"
)

// Message 上下文间传递的消息信封
type Message struct {
	Type MessageType `json:"type"`
	// ID 关联ID，REQUEST/RESPONSE 及其回复都携带
	ID CorrelationID `json:"id,omitempty"`
	// ReplyTo 期待回复时的端口ID
	ReplyTo string `json:"replyTo,omitempty"`
	// InReplyTo 回复所对应的端口ID
	InReplyTo string          `json:"inReplyTo,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewMessage 创建消息，payload 为 nil 时不携带负载
func NewMessage(t MessageType, payload any) (Message, error) {
	msg := Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return msg, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

// IntegrityPayload 完整性校验响应负载
type IntegrityPayload struct {
	PackageVersion string `json:"packageVersion"`
	Checksum       string `json:"checksum"`
}

// MockingEnabledPayload MOCKING_ENABLED 响应负载
type MockingEnabledPayload struct {
	Client struct {
		ID        ClientID  `json:"id"`
		FrameType FrameType `json:"frameType"`
	} `json:"client"`
}

// VisibilityPayload VISIBILITY_CHANGE 消息负载
type VisibilityPayload struct {
	Visibility VisibilityState `json:"visibilityState"`
}

// DecisionKind 模拟决策的分支
type DecisionKind int

const (
	DecisionPassthrough DecisionKind = iota
	DecisionMock
)

// String 返回决策名称
func (k DecisionKind) String() string {
	switch k {
	case DecisionMock:
		return "use-mock"
	case DecisionPassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// MockDecision 客户端对 REQUEST 的答复，只有两个分支
type MockDecision struct {
	Kind     DecisionKind
	Response ResponseDescriptor
}

// UseMock 使用模拟响应
func UseMock(r ResponseDescriptor) MockDecision {
	return MockDecision{Kind: DecisionMock, Response: r}
}

// Passthrough 放行到真实网络
func Passthrough() MockDecision {
	return MockDecision{Kind: DecisionPassthrough}
}

// IsNetworkError 模拟响应是否要求模拟网络错误
func (d MockDecision) IsNetworkError() bool {
	return d.Kind == DecisionMock && d.Response.Status == NetworkErrorStatus
}

// Reply 编码为对 REQUEST 的回复消息
func (d MockDecision) Reply(id CorrelationID) (Message, error) {
	switch d.Kind {
	case DecisionMock:
		raw, err := json.Marshal(d.Response)
		if err != nil {
			return Message{}, fmt.Errorf("marshal mock response: %w", err)
		}
		return Message{Type: MsgMockResponse, ID: id, Data: raw}, nil
	case DecisionPassthrough:
		return Message{Type: MsgPassthrough, ID: id}, nil
	default:
		return Message{}, fmt.Errorf("%w: decision kind %d", ErrMalformedReply, d.Kind)
	}
}

// DecodeDecision 将回复消息解码为模拟决策，不认识的形状一律报错
func DecodeDecision(msg Message) (MockDecision, error) {
	switch msg.Type {
	case MsgPassthrough:
		return Passthrough(), nil
	case MsgMockResponse:
		if len(msg.Data) == 0 || !gjson.ValidBytes(msg.Data) {
			return MockDecision{}, fmt.Errorf("%w: mock response without data", ErrMalformedReply)
		}
		data := gjson.ParseBytes(msg.Data)
		if !data.IsObject() {
			return MockDecision{}, fmt.Errorf("%w: mock response data is %s", ErrMalformedReply, data.Type)
		}
		if st := data.Get("status"); st.Type != gjson.Number {
			return MockDecision{}, fmt.Errorf("%w: mock response status missing", ErrMalformedReply)
		}
		var r ResponseDescriptor
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			return MockDecision{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
		return UseMock(r), nil
	default:
		return MockDecision{}, fmt.Errorf("%w: unexpected reply type %q", ErrMalformedReply, msg.Type)
	}
}

// BodyEncodingBase64 线上消息体为 base64 时 bodyEncoding 的取值，缺省为 UTF-8 文本
const BodyEncodingBase64 = "base64"

type responseWire struct {
	Status       int    `json:"status"`
	StatusText   string `json:"statusText,omitempty"`
	Headers      Header `json:"headers,omitempty"`
	Body         string `json:"body,omitempty"`
	BodyEncoding string `json:"bodyEncoding,omitempty"`
}

// MarshalJSON 消息体为合法 UTF-8 时按文本输出，否则 base64 并标注 bodyEncoding
func (d ResponseDescriptor) MarshalJSON() ([]byte, error) {
	w := responseWire{Status: d.Status, StatusText: d.StatusText, Headers: d.Headers}
	if len(d.Body) > 0 {
		if utf8.Valid(d.Body) {
			w.Body = string(d.Body)
		} else {
			w.Body = base64.StdEncoding.EncodeToString(d.Body)
			w.BodyEncoding = BodyEncodingBase64
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON 消息体字符串默认按 UTF-8 文本解读，bodyEncoding 为 base64 时解码
func (d *ResponseDescriptor) UnmarshalJSON(data []byte) error {
	var w responseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = ResponseDescriptor{Status: w.Status, StatusText: w.StatusText, Headers: w.Headers}
	switch w.BodyEncoding {
	case "", "text", "utf-8":
		if w.Body != "" {
			d.Body = []byte(w.Body)
		}
	case BodyEncodingBase64:
		body, err := base64.StdEncoding.DecodeString(w.Body)
		if err != nil {
			return fmt.Errorf("decode body: %w", err)
		}
		if len(body) > 0 {
			d.Body = body
		}
	default:
		return fmt.Errorf("unknown body encoding %q", w.BodyEncoding)
	}
	return nil
}
