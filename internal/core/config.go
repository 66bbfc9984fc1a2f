package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/crawlers"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Crawl   models.CrawlConfig     `mapstructure:"crawl"`
	Browser crawlers.BrowserConfig `mapstructure:"browser"`
	Fetch   FetchConfig            `mapstructure:"fetch"`
	Output  OutputConfig           `mapstructure:"output"`
	Logging LoggingConfig          `mapstructure:"logging"`
}

// FetchConfig 图片下载配置
type FetchConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	Delay              time.Duration `mapstructure:"delay"`
	MaxBodySize        int           `mapstructure:"max_body_size"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	Report    bool   `mapstructure:"report"`
	ReportDir string `mapstructure:"report_dir"`
}

// LoadConfig 加载配置文件
// configPath为空时按 ./configs, ., ~/.imgharvest 顺序搜索config.yaml,找不到则使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".imgharvest"))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	// viper默认的DecodeHook会把 "10s" 之类的字符串解析为time.Duration
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 爬取配置默认值
	v.SetDefault("crawl.mode", string(models.ModeDynamic))
	v.SetDefault("crawl.settle_delay", "10s")
	v.SetDefault("crawl.await_timeout", "20s")
	v.SetDefault("crawl.scroll_step_delay", "2s")
	v.SetDefault("crawl.nudge_delay", "500ms")
	v.SetDefault("crawl.max_scroll_steps", 50)
	v.SetDefault("crawl.scan_frames", true)
	v.SetDefault("crawl.dedupe_urls", false)

	// 浏览器配置默认值
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.disable_web_security", true)
	v.SetDefault("browser.ignore_cert_errors", true)
	v.SetDefault("browser.no_sandbox", os.Geteuid() == 0)

	// 下载配置默认值
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.delay", "0s")
	v.SetDefault("fetch.max_body_size", models.MaxImageSize)
	v.SetDefault("fetch.insecure_skip_verify", false)

	// 输出配置默认值
	v.SetDefault("output.dir", "product_images")
	v.SetDefault("output.report", false)
	v.SetDefault("output.report_dir", "reports")

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// FetcherConfig 转换为下载器配置
func (c *Config) FetcherConfig() crawlers.FetcherConfig {
	cfg := crawlers.FetcherConfig{
		Timeout:            c.Fetch.Timeout,
		Delay:              c.Fetch.Delay,
		MaxBodySize:        c.Fetch.MaxBodySize,
		InsecureSkipVerify: c.Fetch.InsecureSkipVerify,
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = models.MaxImageSize
	}
	return cfg
}

// LogConfig 转换为日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// CLIOverrides 命令行参数覆盖项,零值表示未指定
type CLIOverrides struct {
	OutputDir    string
	Mode         string
	Headless     *bool
	SettleDelay  *time.Duration
	AwaitTimeout *time.Duration
	Dedupe       *bool
	Report       *bool
	LogLevel     string
}

// MergeCLIFlags 合并命令行参数到配置,命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.OutputDir != "" {
		c.Output.Dir = o.OutputDir
	}
	if o.Mode != "" {
		c.Crawl.Mode = models.CrawlMode(o.Mode)
	}
	if o.Headless != nil {
		c.Browser.Headless = *o.Headless
	}
	if o.SettleDelay != nil {
		c.Crawl.SettleDelay = *o.SettleDelay
	}
	if o.AwaitTimeout != nil {
		c.Crawl.AwaitTimeout = *o.AwaitTimeout
	}
	if o.Dedupe != nil {
		c.Crawl.DedupeURLs = *o.Dedupe
	}
	if o.Report != nil {
		c.Output.Report = *o.Report
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return err
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("输出目录不能为空")
	}
	if c.Fetch.Timeout < 0 || c.Fetch.Delay < 0 {
		return fmt.Errorf("下载超时与间隔不能为负数")
	}
	return nil
}
