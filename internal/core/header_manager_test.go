package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeHeaderConfig 在临时目录写入headers.yaml并返回路径
func writeHeaderConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "headers.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试配置失败: %v", err)
	}
	return path
}

func TestHeaderManager_DefaultProfile(t *testing.T) {
	hm, err := NewHeaderManager(writeHeaderConfig(t, "headers: {}\n"), nil)
	if err != nil {
		t.Fatalf("创建HeaderManager失败: %v", err)
	}

	headers, err := hm.GetHeaders()
	if err != nil {
		t.Fatalf("GetHeaders() error = %v", err)
	}

	want := map[string]string{
		"User-Agent":      DefaultUserAgent,
		"Accept":          ImageAccept,
		"Accept-Encoding": "gzip, deflate, br",
		"Cache-Control":   "no-cache",
	}
	for name, value := range want {
		if got := headers.Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}

	for _, managed := range []string{"Referer", "Origin", "Cookie", "Connection"} {
		if headers.Get(managed) != "" {
			t.Errorf("画像中不应包含 %s", managed)
		}
	}
}

func TestHeaderManager_MergePriority(t *testing.T) {
	configPath := writeHeaderConfig(t, `headers:
  User-Agent: "ConfigBot/1.0"
  Accept-Language: "zh-CN"
`)

	t.Run("配置文件覆盖默认", func(t *testing.T) {
		hm, err := NewHeaderManager(configPath, nil)
		if err != nil {
			t.Fatal(err)
		}
		headers, err := hm.GetHeaders()
		if err != nil {
			t.Fatalf("GetHeaders() error = %v", err)
		}
		if headers.Get("User-Agent") != "ConfigBot/1.0" {
			t.Errorf("User-Agent = %q", headers.Get("User-Agent"))
		}
		if headers.Get("Accept-Language") != "zh-CN" {
			t.Errorf("Accept-Language = %q", headers.Get("Accept-Language"))
		}
		if headers.Get("Accept") != ImageAccept {
			t.Error("未覆盖的默认头部应保留")
		}
		if hm.UserAgent() != "ConfigBot/1.0" {
			t.Errorf("UserAgent() = %q", hm.UserAgent())
		}
	})

	t.Run("命令行覆盖配置文件", func(t *testing.T) {
		hm, err := NewHeaderManager(configPath, []string{"User-Agent: CliBot/2.0", "X-Custom: value1"})
		if err != nil {
			t.Fatal(err)
		}
		headers, err := hm.GetHeaders()
		if err != nil {
			t.Fatalf("GetHeaders() error = %v", err)
		}
		if headers.Get("User-Agent") != "CliBot/2.0" {
			t.Errorf("User-Agent = %q", headers.Get("User-Agent"))
		}
		if headers.Get("Accept-Language") != "zh-CN" {
			t.Error("配置文件中的其他头部应保留")
		}
		if headers.Get("X-Custom") != "value1" {
			t.Error("X-Custom未正确设置")
		}
	})
}

func TestHeaderManager_MergedHeadersAreCopies(t *testing.T) {
	chdirTemp(t)
	hm, err := NewHeaderManager("", []string{"X-Custom: v"})
	if err != nil {
		t.Fatal(err)
	}

	merged := hm.GetMergedHeaders()
	merged.Set("X-Custom", "changed")
	merged["User-Agent"][0] = "mutated"

	again := hm.GetMergedHeaders()
	if again.Get("X-Custom") != "v" || again.Get("User-Agent") != DefaultUserAgent {
		t.Error("修改返回值不应影响HeaderManager内部状态")
	}
}

func TestHeaderManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		cli  []string
	}{
		{"禁止的Referer", []string{"Referer: https://evil.example"}},
		{"禁止的Cookie", []string{"Cookie: a=b"}},
		{"禁止的Host", []string{"Host: example.com"}},
		{"非法名称", []string{"Bad Header: x"}},
		{"非法值", []string{"X-Bad: a\x01b"}},
		{"禁止的Range", []string{"Range: bytes=0-1023"}},
		{"Accept不接受图片", []string{"Accept: application/json"}},
		{"空User-Agent", []string{"User-Agent:"}},
		{"无法解压的编码", []string{"Accept-Encoding: zstd"}},
	}

	configPath := writeHeaderConfig(t, "headers: {}\n")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm, err := NewHeaderManager(configPath, tt.cli)
			if err != nil {
				return // 解析阶段已拒绝
			}
			if _, err := hm.GetHeaders(); err == nil {
				t.Error("期望验证失败")
			}
		})
	}

	t.Run("缺少冒号", func(t *testing.T) {
		if _, err := NewHeaderManager(configPath, []string{"NoColon"}); err == nil {
			t.Error("期望解析失败")
		}
	})

	t.Run("配置文件中的禁止头部", func(t *testing.T) {
		hm, err := NewHeaderManager(writeHeaderConfig(t, "headers:\n  Origin: x\n"), nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := hm.GetHeaders(); err == nil {
			t.Error("配置文件中的Origin应被拒绝")
		}
	})
}

func TestHeaderManager_GetSafeHeaders(t *testing.T) {
	chdirTemp(t)
	hm, err := NewHeaderManager("", []string{
		"Authorization: Bearer secret-token-12345",
		"X-API-Key: api-key-67890",
	})
	if err != nil {
		t.Fatal(err)
	}

	safe := hm.GetSafeHeaders()
	for name, value := range safe {
		if strings.Contains(value, "secret-token") || strings.Contains(value, "api-key-67890") {
			t.Errorf("%s 未脱敏: %s", name, value)
		}
	}
	if safe["User-Agent"] != DefaultUserAgent {
		t.Error("非敏感头部不应被脱敏")
	}
}
