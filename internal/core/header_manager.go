package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/imgharvest/internal/config"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

const (
	// DefaultUserAgent 桌面浏览器User-Agent,浏览器与下载器共用
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"

	// ImageAccept 偏向图片类型的Accept
	ImageAccept = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
)

// HeaderManager 管理图片下载请求的固定头部画像
// 实现 models.HeaderProvider 接口; 合并优先级: 默认 < 配置文件 < 命令行
type HeaderManager struct {
	configFile string

	defaults http.Header
	config   http.Header
	cli      http.Header

	validator    *utils.ProfileValidator
	redactor     *utils.Redactor
	configLoader *config.HeaderConfigLoader

	mu     sync.Mutex
	loaded bool
}

// NewHeaderManager 创建头部管理器
// 参数:
//   - configFile: headers.yaml 路径 (为空则使用默认路径并自动生成模板)
//   - cliHeaders: 命令行传递的 "Name: Value" 列表
//
// 返回:
//   - *HeaderManager: 头部管理器实例
//   - error: 如果命令行参数解析失败
func NewHeaderManager(configFile string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		configFile:   configFile,
		defaults:     getDefaultHeaders(),
		config:       make(http.Header),
		cli:          make(http.Header),
		validator:    utils.NewProfileValidator(),
		redactor:     utils.NewRedactor(),
		configLoader: config.NewHeaderConfigLoader(configFile),
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	return hm, nil
}

// getDefaultHeaders 返回内置的图片请求画像
// Connection由HTTP客户端管理,不在画像中
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{ImageAccept},
		"Accept-Encoding": []string{"gzip, deflate, br"},
		"Cache-Control":   []string{"no-cache"},
	}
}

// LoadConfig 加载配置文件,已加载则跳过
func (hm *HeaderManager) LoadConfig() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hm.loaded {
		return nil
	}

	overlay, err := hm.configLoader.Load()
	if err != nil {
		utils.Errorf("加载HTTP头部配置失败: %v", err)
		return err
	}

	hm.config = overlay
	hm.loaded = true

	if len(overlay) > 0 {
		utils.Debugf("配置文件覆盖头部: %s", hm.redactor.String(overlay))
	}
	return nil
}

// Validate 逐层验证头部,再验证合并后的画像能否用于下载图片
func (hm *HeaderManager) Validate() error {
	layers := []struct {
		source models.HeaderSource
		header http.Header
	}{
		{models.SourceDefault, hm.defaults},
		{models.SourceConfig, hm.config},
		{models.SourceCLI, hm.cli},
	}
	for _, layer := range layers {
		if err := hm.validator.ValidateLayer(layer.source, layer.header); err != nil {
			utils.Errorf("%s头部验证失败: %v", layer.source, err)
			return err
		}
	}

	if err := hm.validator.ValidateProfile(hm.GetMergedHeaders()); err != nil {
		utils.Errorf("请求头画像无效: %v", err)
		return err
	}

	utils.Debugf("所有HTTP头部验证通过")
	return nil
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = append([]string(nil), values...)
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Header(hm.GetMergedHeaders())
}

// UserAgent 返回合并后的User-Agent,浏览器启动时使用同一个值
func (hm *HeaderManager) UserAgent() string {
	if ua := hm.GetMergedHeaders().Get("User-Agent"); ua != "" {
		return ua
	}
	return DefaultUserAgent
}

// GetHeaders 实现 HeaderProvider 接口
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.LoadConfig(); err != nil {
		return nil, err
	}

	if err := hm.Validate(); err != nil {
		return nil, err
	}

	return hm.GetMergedHeaders(), nil
}
