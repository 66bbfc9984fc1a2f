package models

import (
	"fmt"
	"net/http"
	"strings"
)

// HeaderSource 头部画像的来源层,合并时后者覆盖前者
type HeaderSource string

const (
	SourceDefault HeaderSource = "默认画像"
	SourceConfig  HeaderSource = "配置文件"
	SourceCLI     HeaderSource = "命令行"
	SourceMerged  HeaderSource = "合并画像"
)

// HeaderConfig headers.yaml 的结构
type HeaderConfig struct {
	// Headers 覆盖默认画像的头部
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// Profile 转换为 http.Header
// viper读取时键名被转为小写,这里恢复为规范形式 (user-agent → User-Agent)
func (c *HeaderConfig) Profile() http.Header {
	profile := make(http.Header, len(c.Headers))
	for name, value := range c.Headers {
		profile.Set(name, value)
	}
	return profile
}

// CliHeaders 命令行 -H 传入的 "Name: Value" 列表
type CliHeaders []string

// Parse 解析为 http.Header,同名头部以最后一次为准
func (ch CliHeaders) Parse() (http.Header, error) {
	profile := make(http.Header, len(ch))
	for i, raw := range ch {
		name, value, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("--header 第%d项缺少冒号,应为 'Name: Value': %q", i+1, raw)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("--header 第%d项缺少头部名称: %q", i+1, raw)
		}
		profile.Set(name, strings.TrimSpace(value))
	}
	return profile, nil
}

// HeaderProvider 提供图片下载请求的固定头部画像
// Referer/Origin/Cookie 由下载器按页面和会话逐请求设置,不属于画像
type HeaderProvider interface {
	GetHeaders() (http.Header, error)
}

// ValidationError 头部画像验证错误
type ValidationError struct {
	Source     HeaderSource
	HeaderName string
	Reason     string
	Suggestion string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("头部验证失败 [%s/%s]: %s", e.Source, e.HeaderName, e.Reason)
	if e.Suggestion != "" {
		msg += " (建议: " + e.Suggestion + ")"
	}
	return msg
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }
