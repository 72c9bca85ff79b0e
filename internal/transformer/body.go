package transformer

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// IsBinaryContentType 判断是否为二进制内容类型
func IsBinaryContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	binaryPrefixes := []string{"image/", "video/", "audio/", "application/octet-stream", "font/"}
	for _, prefix := range binaryPrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// EncodeBody 将消息体编码为可存储的文本，二进制或非 UTF-8 内容使用 base64
func EncodeBody(body []byte, contentType string) (text string, encoding string) {
	if len(body) == 0 {
		return "", ""
	}
	if IsBinaryContentType(contentType) || !utf8.Valid(body) {
		return base64.StdEncoding.EncodeToString(body), "base64"
	}
	return string(body), ""
}

// DecodeBody 按编码还原消息体
func DecodeBody(text, encoding string) ([]byte, error) {
	if encoding == "base64" {
		return base64.StdEncoding.DecodeString(text)
	}
	return []byte(text), nil
}

// Truncate 截断超过上限的消息体，max <= 0 不截断
func Truncate(body []byte, max int) ([]byte, bool) {
	if max <= 0 || len(body) <= max {
		return body, false
	}
	return body[:max], true
}
