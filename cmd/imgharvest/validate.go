package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/RecoveryAshes/imgharvest/internal/models"
)

// maxDimension 最小尺寸参数的上限
const maxDimension = 100000

// ValidateFlags 验证命令行标志
func ValidateFlags(targetURL string, minWidth, minHeight int, mode string) error {
	if err := models.ValidateURL(targetURL); err != nil {
		return fmt.Errorf("无效的目标URL: %w", err)
	}

	if minWidth < 0 || minWidth > maxDimension {
		return fmt.Errorf("最小宽度必须在0-%d之间,当前值: %d", maxDimension, minWidth)
	}
	if minHeight < 0 || minHeight > maxDimension {
		return fmt.Errorf("最小高度必须在0-%d之间,当前值: %d", maxDimension, minHeight)
	}

	if _, err := models.ParseCrawlMode(mode); err != nil {
		return err
	}

	return nil
}

// NormalizeURL 规范化URL,没有协议时默认使用https
func NormalizeURL(urlStr string) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", fmt.Errorf("URL不能为空")
	}

	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

// ResolveTargetURL 从位置参数或 --url 中取出目标URL并规范化
// 两者都未指定时返回错误
func ResolveTargetURL(args []string, flagURL string) (string, error) {
	raw := flagURL
	if len(args) == 1 {
		if flagURL != "" && flagURL != args[0] {
			return "", fmt.Errorf("目标URL重复指定: %s 与 %s", args[0], flagURL)
		}
		raw = args[0]
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("缺少目标URL: 请通过位置参数或 --url 指定")
	}

	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", fmt.Errorf("无效的目标URL: %w", err)
	}
	return normalized, nil
}
