package model

import (
	"time"
)

// LifecycleRecord 请求生命周期记录
type LifecycleRecord struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	CorrelationID string `gorm:"uniqueIndex;not null" json:"correlationId"`
	ClientID      string `gorm:"index" json:"clientId"`
	URL           string `json:"url"`
	Method        string `json:"method"`
	Status        int    `json:"status"`
	ResponseType  string `json:"responseType"` // basic / default / error
	Mocked        bool   `gorm:"index" json:"mocked"`

	RequestJSON          string `gorm:"type:text" json:"requestJson"`  // 请求描述（不含消息体）
	ResponseJSON         string `gorm:"type:text" json:"responseJson"` // 响应描述（不含消息体）
	RequestBody          string `gorm:"type:text" json:"requestBody"`
	RequestBodyEncoding  string `json:"requestBodyEncoding"` // 空或 base64
	ResponseBody         string `gorm:"type:text" json:"responseBody"`
	ResponseBodyEncoding string `json:"responseBodyEncoding"`
	BodyTruncated        bool   `json:"bodyTruncated"`

	InterceptedAt int64     `gorm:"index" json:"interceptedAt"`
	RespondedAt   int64     `json:"respondedAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ClientSessionRecord 客户端模拟会话记录
type ClientSessionRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Generation  string    `gorm:"index" json:"generation"` // Worker 代际ID
	ClientID    string    `gorm:"index" json:"clientId"`
	Type        string    `json:"type"`
	FrameType   string    `json:"frameType"`
	URL         string    `json:"url"`
	ActivatedAt int64     `gorm:"index" json:"activatedAt"`
	ClosedAt    int64     `json:"closedAt"` // 0 表示仍在活动
	CreatedAt   time.Time `json:"createdAt"`
}

// All 需要迁移的模型
func All() []any {
	return []any{&LifecycleRecord{}, &ClientSessionRecord{}}
}
