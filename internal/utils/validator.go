package utils

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"golang.org/x/net/http/httpguts"
)

// MaxHeaderValueLength 单个头部值的上限 (8KB)
const MaxHeaderValueLength = 8192

// managedHeaders 不允许出现在画像中的头部及原因
var managedHeaders = map[string]string{
	"Referer":           "由下载器按页面URL逐请求设置",
	"Origin":            "由下载器按页面主机逐请求设置",
	"Cookie":            "下载时使用浏览器会话导出的Cookie",
	"Range":             "分段响应(206)会被当作下载失败",
	"Host":              "由HTTP客户端管理",
	"Content-Length":    "由HTTP客户端管理",
	"Transfer-Encoding": "由HTTP客户端管理",
	"Connection":        "由HTTP客户端管理",
}

// decodableEncodings 下载器能解开的内容编码
var decodableEncodings = map[string]bool{
	"gzip":     true,
	"x-gzip":   true,
	"deflate":  true,
	"br":       true,
	"identity": true,
	"*":        true,
}

// ProfileValidator 验证图片下载请求的头部画像
// 单个头部按RFC 7230检查; 合并后的画像还要能请求到图片并被下载器解码
type ProfileValidator struct {
	maxValueLength int
}

// NewProfileValidator 创建画像验证器
func NewProfileValidator() *ProfileValidator {
	return &ProfileValidator{maxValueLength: MaxHeaderValueLength}
}

// IsManaged 头部是否由下载器或HTTP客户端管理
func IsManaged(name string) bool {
	_, ok := managedHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// ValidateHeader 验证单个头部
func (v *ProfileValidator) ValidateHeader(source models.HeaderSource, name, value string) error {
	if reason, ok := managedHeaders[http.CanonicalHeaderKey(name)]; ok {
		return &models.ValidationError{
			Source:     source,
			HeaderName: name,
			Reason:     reason + ",不能自定义",
			Suggestion: fmt.Sprintf("移除 '%s'", name),
		}
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return &models.ValidationError{
			Source:     source,
			HeaderName: name,
			Reason:     "名称不是合法的HTTP token",
			Suggestion: "只使用字母、数字和连字符,如 'Accept-Language'",
		}
	}
	if len(value) > v.maxValueLength {
		return &models.ValidationError{
			Source:     source,
			HeaderName: name,
			Reason:     fmt.Sprintf("值过长: %d 字节 (上限 %d)", len(value), v.maxValueLength),
		}
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return &models.ValidationError{
			Source:     source,
			HeaderName: name,
			Reason:     "值包含控制字符",
			Suggestion: "移除换行等不可见字符",
		}
	}
	return nil
}

// ValidateLayer 验证某一来源层的全部头部,按名称顺序报告第一个错误
func (v *ProfileValidator) ValidateLayer(source models.HeaderSource, layer http.Header) error {
	names := make([]string, 0, len(layer))
	for name := range layer {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range layer[name] {
			if err := v.ValidateHeader(source, name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateProfile 验证合并后的画像
//   - User-Agent 与浏览器共用,不能为空
//   - Accept 必须接受图片类型
//   - Accept-Encoding 只能声明下载器能解压的编码
func (v *ProfileValidator) ValidateProfile(profile http.Header) error {
	if strings.TrimSpace(profile.Get("User-Agent")) == "" {
		return &models.ValidationError{
			Source:     models.SourceMerged,
			HeaderName: "User-Agent",
			Reason:     "浏览器与下载器共用User-Agent,不能为空",
		}
	}

	if accept := profile.Get("Accept"); accept != "" && !AcceptsImages(accept) {
		return &models.ValidationError{
			Source:     models.SourceMerged,
			HeaderName: "Accept",
			Reason:     fmt.Sprintf("%q 不接受任何图片类型", accept),
			Suggestion: "包含 image/* 或 */*",
		}
	}

	if encoding := profile.Get("Accept-Encoding"); encoding != "" {
		for _, coding := range acceptedTokens(encoding) {
			if !decodableEncodings[coding] {
				return &models.ValidationError{
					Source:     models.SourceMerged,
					HeaderName: "Accept-Encoding",
					Reason:     fmt.Sprintf("下载器无法解压 %q 编码", coding),
					Suggestion: "只使用 gzip, deflate, br",
				}
			}
		}
	}
	return nil
}

// AcceptsImages Accept中是否有q>0的图片媒体范围 (image/..., image/* 或 */*)
func AcceptsImages(accept string) bool {
	for _, mediaRange := range acceptedTokens(accept) {
		if mediaRange == "*/*" || strings.HasPrefix(mediaRange, "image/") {
			return true
		}
	}
	return false
}

// acceptedTokens 解析逗号分隔的列表,丢弃 q=0 的项,返回小写的主值
func acceptedTokens(list string) []string {
	var tokens []string
	for _, item := range strings.Split(list, ",") {
		value, params, _ := strings.Cut(item, ";")
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" || qualityOf(params) == 0 {
			continue
		}
		tokens = append(tokens, value)
	}
	return tokens
}

// qualityOf 读取参数中的q值,缺省或无法解析时为1
func qualityOf(params string) float64 {
	for _, param := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(param, "=")
		if !ok || strings.ToLower(strings.TrimSpace(key)) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 1
		}
		return q
	}
	return 1
}
