package models

import (
	"encoding/json"
	"time"
)

// CrawlReport 爬取报告
type CrawlReport struct {
	// 任务信息
	RunID     string      `json:"run_id"`
	Target    CrawlTarget `json:"target"`
	Mode      CrawlMode   `json:"mode"`
	Succeeded bool        `json:"succeeded"`
	Error     string      `json:"error,omitempty"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// 统计信息
	Stats TaskStats `json:"stats"`

	// 每个候选的处理结果(按发现顺序)
	Outcomes []DownloadOutcome `json:"outcomes"`

	// 启动前的系统资源快照
	System *SystemSnapshot `json:"system,omitempty"`

	// 配置快照
	Config CrawlConfig `json:"config"`
}

// SystemSnapshot 系统资源快照
type SystemSnapshot struct {
	TotalMemory     uint64  `json:"total_memory"`
	AvailableMemory uint64  `json:"available_memory"`
	CPUPercent      float64 `json:"cpu_percent"`
	Warning         string  `json:"warning,omitempty"`
}

// ToJSON 序列化为JSON
func (r *CrawlReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
