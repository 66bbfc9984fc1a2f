package utils

import (
	"net/http"
	"sort"
	"strings"
)

// credentialKeywords 名称包含这些片段的头部按凭据处理
var credentialKeywords = []string{
	"authorization",
	"token",
	"secret",
	"password",
	"credential",
	"session",
	"key",
}

// Redactor 日志脱敏
// 下载请求携带浏览器会话的Cookie,写日志时只保留Cookie名称
type Redactor struct {
	keywords []string
}

// NewRedactor 创建脱敏器
func NewRedactor() *Redactor {
	return &Redactor{keywords: credentialKeywords}
}

// IsCredential 头部是否携带凭据
func (r *Redactor) IsCredential(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range r.keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// Value 脱敏单个头部值
func (r *Redactor) Value(name, value string) string {
	switch http.CanonicalHeaderKey(name) {
	case "Cookie":
		return redactCookiePairs(value)
	case "Set-Cookie":
		pair, _, _ := strings.Cut(value, ";")
		return redactCookiePairs(pair)
	}
	if r.IsCredential(name) {
		return maskSecret(value)
	}
	return value
}

// Header 脱敏整个头部,只取每个头部的第一个值
func (r *Redactor) Header(headers http.Header) map[string]string {
	safe := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		safe[name] = r.Value(name, values[0])
	}
	return safe
}

// String 按名称排序输出 "Name: value, ..."
func (r *Redactor) String(headers http.Header) string {
	safe := r.Header(headers)
	names := make([]string, 0, len(safe))
	for name := range safe {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+safe[name])
	}
	return strings.Join(parts, ", ")
}

// RedactCookies 输出会话Cookie的名称与所属域,不包含值
func RedactCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		entry := c.Name + "=***"
		if c.Domain != "" {
			entry += "@" + c.Domain
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, "; ")
}

// redactCookiePairs "a=1; b=2" → "a=***; b=***"
func redactCookiePairs(header string) string {
	var parts []string
	for _, pair := range strings.Split(header, ";") {
		name, _, _ := strings.Cut(strings.TrimSpace(pair), "=")
		if name == "" {
			continue
		}
		parts = append(parts, name+"=***")
	}
	return strings.Join(parts, "; ")
}

// maskSecret 认证方案保留前缀; 长值保留首尾各4位; 短值完全隐藏
func maskSecret(value string) string {
	if scheme, _, ok := strings.Cut(value, " "); ok && (scheme == "Bearer" || scheme == "Basic") {
		return scheme + " ***"
	}
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}
