package models

import (
	"errors"
	"strings"
	"testing"
)

func TestCliHeaders_Parse(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		header  string
		want    string
		wantErr bool
	}{
		{"名称前后空格", []string{"  User-Agent  : Mozilla/5.0"}, "User-Agent", "Mozilla/5.0", false},
		{"值前后空格", []string{"User-Agent:  Mozilla/5.0  "}, "User-Agent", "Mozilla/5.0", false},
		{"保留值中间的空格", []string{"X-Custom: value with spaces"}, "X-Custom", "value with spaces", false},
		{"值中包含冒号", []string{"X-URL: https://example.com:8080/path"}, "X-URL", "https://example.com:8080/path", false},
		{"多个冒号按第一个分割", []string{"Authorization: Bearer: token"}, "Authorization", "Bearer: token", false},
		{"值中包含等号", []string{"X-Equation: 1+1=2"}, "X-Equation", "1+1=2", false},
		{"空值", []string{"Accept-Language:"}, "Accept-Language", "", false},
		{"后者覆盖前者", []string{"X-A: 1", "x-a: 2"}, "X-A", "2", false},
		{"缺少冒号", []string{"User-Agent Mozilla/5.0"}, "", "", true},
		{"缺少名称", []string{":value"}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, err := CliHeaders(tt.input).Parse()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := headers.Get(tt.header); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestCliHeaders_Empty(t *testing.T) {
	for _, input := range []CliHeaders{nil, {}} {
		headers, err := input.Parse()
		if err != nil {
			t.Fatalf("空输入不应报错: %v", err)
		}
		if headers == nil || len(headers) != 0 {
			t.Errorf("应返回空的http.Header, 得到 %v", headers)
		}
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := &ConfigError{FilePath: "configs/headers.yaml", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("ConfigError应能解包出原因")
	}
}

func TestHeaderConfig_Profile(t *testing.T) {
	cfg := &HeaderConfig{Headers: map[string]string{
		"user-agent":      "ConfigBot/1.0",
		"accept-language": "zh-CN",
	}}

	profile := cfg.Profile()
	if _, ok := profile["User-Agent"]; !ok {
		t.Errorf("键名应恢复为规范形式, 得到 %v", profile)
	}
	if profile.Get("Accept-Language") != "zh-CN" {
		t.Errorf("Accept-Language = %q", profile.Get("Accept-Language"))
	}
	if len((&HeaderConfig{}).Profile()) != 0 {
		t.Error("空配置应返回空画像")
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Source: SourceCLI, HeaderName: "Referer", Reason: "由下载器设置", Suggestion: "移除该头部"}
	msg := err.Error()
	for _, part := range []string{"命令行", "Referer", "由下载器设置", "移除该头部"} {
		if !strings.Contains(msg, part) {
			t.Errorf("错误信息缺少 %q: %s", part, msg)
		}
	}
}
