package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 报告生成器
type Reporter struct {
	reportDir string
}

// NewReporter 创建报告生成器
func NewReporter(reportDir string) *Reporter {
	return &Reporter{
		reportDir: reportDir,
	}
}

// GenerateReport 生成爬取报告,返回报告所在目录
// 每次运行写入 reportDir/<run_id>/ 下的三个文件
func (r *Reporter) GenerateReport(report *models.CrawlReport) (string, error) {
	runDir := filepath.Join(r.reportDir, report.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	saved := make([]models.DownloadOutcome, 0, report.Stats.Downloaded)
	failed := make([]models.DownloadOutcome, 0, report.Stats.Failed+report.Stats.Skipped)
	for _, outcome := range report.Outcomes {
		if outcome.Kind == models.OutcomeSaved {
			saved = append(saved, outcome)
		} else {
			failed = append(failed, outcome)
		}
	}

	// 保存主报告
	jsonData, err := report.ToJSON()
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}
	if err := writeReportFile(runDir, "crawl_report.json", jsonData); err != nil {
		return "", err
	}

	// 保存成功列表
	if err := r.saveJSONReport(runDir, "saved_images.json", saved); err != nil {
		return "", err
	}

	// 保存跳过/失败列表
	if err := r.saveJSONReport(runDir, "rejected_images.json", failed); err != nil {
		return "", err
	}

	Infof("✅ 报告已生成: %s", runDir)
	return runDir, nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return writeReportFile(dir, filename, jsonData)
}

func writeReportFile(dir, filename string, data []byte) error {
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}
	Debugf("保存报告: %s", path)
	return nil
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
