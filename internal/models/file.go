package models

import (
	"context"
	"fmt"
)

const (
	// MaxImageSize 单个资源默认下载上限 50MB
	MaxImageSize = 50 * 1024 * 1024

	// MainFrame 主文档的框架标识
	MainFrame = "main"
)

// FrameName 返回第i个子框架的标识
func FrameName(i int) string {
	return fmt.Sprintf("frame[%d]", i)
}

// ImageHandle 指向页面中某个图片元素的句柄
// 由PageDriver实现提供,编排器通过它在读取src之前把元素滚入视口
type ImageHandle interface {
	// ScrollIntoView 尽力将元素滚入视口,失败不影响后续处理
	ScrollIntoView(ctx context.Context) error

	// Source 读取元素当前的图片地址(src,为空时回退到data-src)
	Source(ctx context.Context) (string, error)
}

// CandidateImage DOM枚举阶段发现的候选图片
type CandidateImage struct {
	Src    string      `json:"src"`   // 枚举时读取的原始地址
	Frame  string      `json:"frame"` // "main" 或 "frame[i]"
	Order  int         `json:"order"` // 全局发现顺序
	Handle ImageHandle `json:"-"`
}

// ResolvedResource 候选图片解析后的绝对URL与安全文件名
type ResolvedResource struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

// OutcomeKind 下载结果类型
type OutcomeKind string

const (
	OutcomeSaved           OutcomeKind = "saved"
	OutcomeSkippedTooSmall OutcomeKind = "skipped"
	OutcomeFailed          OutcomeKind = "failed"
)

// DownloadOutcome 单个资源的处理结果
type DownloadOutcome struct {
	Kind     OutcomeKind `json:"kind"`
	Order    int         `json:"order"`
	Frame    string      `json:"frame"`
	URL      string      `json:"url,omitempty"`
	FilePath string      `json:"file_path,omitempty"` // 仅 Saved
	Size     int64       `json:"size,omitempty"`      // 仅 Saved
	Width    int         `json:"width,omitempty"`
	Height   int         `json:"height,omitempty"`
	Reason   string      `json:"reason,omitempty"` // Skipped/Failed 的原因
}

// Saved 创建保存成功的结果
func Saved(c CandidateImage, res ResolvedResource, path string, size int64) DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeSaved, Order: c.Order, Frame: c.Frame, URL: res.URL, FilePath: path, Size: size}
}

// Skipped 创建尺寸不足(或无法解码)的结果
func Skipped(c CandidateImage, res ResolvedResource, reason string) DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeSkippedTooSmall, Order: c.Order, Frame: c.Frame, URL: res.URL, Reason: reason}
}

// Failed 创建失败的结果
func Failed(c CandidateImage, rawURL string, err error) DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeFailed, Order: c.Order, Frame: c.Frame, URL: rawURL, Reason: err.Error()}
}
