package transformer

import "strings"

// ParseCookies 按出现顺序解析 Cookie 请求头
func ParseCookies(s string) []Entry {
	var out []Entry
	for _, part := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			out = append(out, Entry{Name: kv[0], Value: kv[1]})
		}
	}
	return out
}

// ParseSetCookie 取 Set-Cookie 的名值部分，忽略属性
func ParseSetCookie(s string) (Entry, bool) {
	pair, _, _ := strings.Cut(s, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
	if !ok || name == "" {
		return Entry{}, false
	}
	return Entry{Name: name, Value: value}, true
}
