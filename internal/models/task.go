package models

import (
	"fmt"
	"time"
)

// CrawlMode 页面驱动模式
type CrawlMode string

const (
	ModeDynamic CrawlMode = "dynamic" // 真实浏览器渲染(go-rod)
	ModeStatic  CrawlMode = "static"  // 仅HTTP抓取+HTML解析,不执行JS
)

// ParseCrawlMode 解析模式字符串
func ParseCrawlMode(s string) (CrawlMode, error) {
	switch CrawlMode(s) {
	case ModeDynamic, ModeStatic:
		return CrawlMode(s), nil
	default:
		return "", fmt.Errorf("无效的爬取模式: %s (有效值: dynamic, static)", s)
	}
}

// CrawlTarget 一次运行的目标,运行期间不可变
type CrawlTarget struct {
	PageURL   string `json:"page_url"`
	OutputDir string `json:"output_dir"`
	MinWidth  int    `json:"min_width"`  // 0 表示不限制
	MinHeight int    `json:"min_height"` // 0 表示不限制
}

// NewCrawlTarget 校验并创建目标
func NewCrawlTarget(pageURL, outputDir string, minWidth, minHeight int) (CrawlTarget, error) {
	if err := ValidateURL(pageURL); err != nil {
		return CrawlTarget{}, err
	}
	if outputDir == "" {
		return CrawlTarget{}, fmt.Errorf("输出目录不能为空")
	}
	if minWidth < 0 || minHeight < 0 {
		return CrawlTarget{}, fmt.Errorf("最小尺寸不能为负数: %dx%d", minWidth, minHeight)
	}
	return CrawlTarget{
		PageURL:   pageURL,
		OutputDir: outputDir,
		MinWidth:  minWidth,
		MinHeight: minHeight,
	}, nil
}

// TaskStats 运行统计
type TaskStats struct {
	Candidates int     `json:"candidates"` // 发现的候选元素数
	Frames     int     `json:"frames"`     // 扫描的子框架数
	Downloaded int     `json:"downloaded"` // 已保存文件数
	Skipped    int     `json:"skipped"`    // 尺寸不足或无法解码
	Failed     int     `json:"failed"`     // URL无效或下载失败
	TotalSize  int64   `json:"total_size"` // 已保存字节数
	Duration   float64 `json:"duration"`   // 秒
}

// CrawlConfig 爬取配置
type CrawlConfig struct {
	Mode            CrawlMode     `json:"mode" mapstructure:"mode"`
	SettleDelay     time.Duration `json:"settle_delay" mapstructure:"settle_delay"`           // 导航后固定等待
	AwaitTimeout    time.Duration `json:"await_timeout" mapstructure:"await_timeout"`         // 等待图片元素出现的上限
	ScrollStepDelay time.Duration `json:"scroll_step_delay" mapstructure:"scroll_step_delay"` // 每次滚动后的等待
	NudgeDelay      time.Duration `json:"nudge_delay" mapstructure:"nudge_delay"`             // 每个元素滚入视口后的等待
	MaxScrollSteps  int           `json:"max_scroll_steps" mapstructure:"max_scroll_steps"`   // 0 表示不限制
	ScanFrames      bool          `json:"scan_frames" mapstructure:"scan_frames"`
	DedupeURLs      bool          `json:"dedupe_urls" mapstructure:"dedupe_urls"`
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if _, err := ParseCrawlMode(string(c.Mode)); err != nil {
		return err
	}
	if c.SettleDelay < 0 || c.SettleDelay > 5*time.Minute {
		return fmt.Errorf("等待时间必须在0-5分钟之间,当前值: %s", c.SettleDelay)
	}
	if c.AwaitTimeout <= 0 {
		return fmt.Errorf("等待超时必须大于0,当前值: %s", c.AwaitTimeout)
	}
	if c.ScrollStepDelay < 0 || c.NudgeDelay < 0 {
		return fmt.Errorf("滚动等待时间不能为负数")
	}
	if c.MaxScrollSteps < 0 {
		return fmt.Errorf("最大滚动次数不能为负数,当前值: %d", c.MaxScrollSteps)
	}
	return nil
}
