package models

import (
	"errors"
	"fmt"
)

// NavigationError 页面无法打开(顶层错误,终止运行)
type NavigationError struct {
	URL   string
	Cause error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("导航失败 [%s]: %v", e.URL, e.Cause)
}

func (e *NavigationError) Unwrap() error { return e.Cause }

// TimeoutError 等待页面内容超时(顶层错误,终止运行)
type TimeoutError struct {
	What  string
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("等待超时 [%s]: %v", e.What, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// InvalidURLError 图片地址无法解析为URL
type InvalidURLError struct {
	Raw   string
	Cause error
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("无效的图片地址 [%s]: %v", e.Raw, e.Cause)
}

func (e *InvalidURLError) Unwrap() error { return e.Cause }

// FetchError 下载失败: 非200状态码(StatusCode>0)或传输错误(StatusCode==0)
type FetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("下载失败 [%s]: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("下载失败 [%s]: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// DecodeError 下载的字节无法识别为图片
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("图片解码失败: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// FrameAccessError 无法进入或扫描子框架
type FrameAccessError struct {
	Frame string
	Cause error
}

func (e *FrameAccessError) Error() string {
	return fmt.Sprintf("框架访问失败 [%s]: %v", e.Frame, e.Cause)
}

func (e *FrameAccessError) Unwrap() error { return e.Cause }

// IsTopLevel 判断错误是否应终止整个运行
func IsTopLevel(err error) bool {
	var navErr *NavigationError
	var timeoutErr *TimeoutError
	return errors.As(err, &navErr) || errors.As(err, &timeoutErr)
}
