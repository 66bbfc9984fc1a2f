package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigFile 默认的请求头配置文件
	DefaultConfigFile = "configs/headers.yaml"

	// MaxConfigFileSize 请求头配置文件上限 (1MB)
	MaxConfigFileSize = 1 << 20
)

//go:embed headers_template.yaml
var defaultHeaderTemplate string

// Template 返回内置的配置模板
func Template() string {
	return defaultHeaderTemplate
}

// HeaderConfigLoader 读取覆盖图片请求画像的 headers.yaml
// 默认路径缺失时生成模板; 显式指定的路径必须存在
type HeaderConfigLoader struct {
	path     string
	scaffold bool
}

// NewHeaderConfigLoader 创建加载器,path为空时使用默认路径
func NewHeaderConfigLoader(path string) *HeaderConfigLoader {
	if path == "" {
		return &HeaderConfigLoader{path: DefaultConfigFile, scaffold: true}
	}
	return &HeaderConfigLoader{path: path}
}

// Path 返回配置文件路径
func (hcl *HeaderConfigLoader) Path() string {
	return hcl.path
}

// Load 读取配置并返回画像覆盖层,头部名称为规范形式
func (hcl *HeaderConfigLoader) Load() (http.Header, error) {
	cfg, err := hcl.LoadConfig()
	if err != nil {
		return nil, err
	}
	overlay := cfg.Profile()
	if len(overlay) > 0 {
		utils.Debugf("从 %s 读取 %d 个请求头覆盖项", hcl.path, len(overlay))
	}
	return overlay, nil
}

// LoadConfig 读取并解析配置文件,Headers 保证非nil
func (hcl *HeaderConfigLoader) LoadConfig() (*models.HeaderConfig, error) {
	if err := hcl.prepare(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(hcl.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, &models.ConfigError{FilePath: hcl.path, Cause: err}
	}

	var cfg models.HeaderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &models.ConfigError{FilePath: hcl.path, Cause: fmt.Errorf("解析headers失败: %w", err)}
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return &cfg, nil
}

// prepare 检查文件存在且大小合法,默认路径缺失时写入模板
func (hcl *HeaderConfigLoader) prepare() error {
	info, err := os.Stat(hcl.path)
	if errors.Is(err, fs.ErrNotExist) && hcl.scaffold {
		if err := writeTemplate(hcl.path); err != nil {
			return err
		}
		utils.Infof("已生成请求头配置模板: %s", hcl.path)
		return nil
	}
	if err != nil {
		return &models.ConfigError{FilePath: hcl.path, Cause: err}
	}

	if info.Size() > MaxConfigFileSize {
		return &models.ConfigError{
			FilePath: hcl.path,
			Cause:    fmt.Errorf("文件过大: %d 字节 (上限 %d)", info.Size(), MaxConfigFileSize),
		}
	}
	return nil
}

func writeTemplate(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("无法创建配置目录: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultHeaderTemplate), 0644); err != nil {
		return fmt.Errorf("无法生成配置模板 [%s]: %w", path, err)
	}
	return nil
}
