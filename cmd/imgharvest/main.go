package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/core"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string
	headersFile    string
	validateConfig bool

	// 抓取参数
	targetURL    string
	outputDir    string
	minWidth     int
	minHeight    int
	mode         string
	headless     bool
	settleDelay  time.Duration
	awaitTimeout time.Duration
	dedupe       bool
	report       bool
	progress     bool
)

// appConfig 由PersistentPreRunE加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "imgharvest [url]",
	Short: "单页面图片抓取工具",
	Long: `imgharvest - 使用真实浏览器渲染单个页面并下载其中的图片

功能:
  • 等待页面渲染并滚动到底部触发懒加载
  • 扫描主文档与所有iframe中的图片元素
  • 携带浏览器会话Cookie下载,按最小尺寸过滤
  • 文件按 {序号}_{文件名} 保存

示例:
  imgharvest https://shop.example.com/item/1 -o product_images -W 300 --min-height 300

  # 不启动浏览器,仅解析HTML
  imgharvest -u https://shop.example.com/item/1 --mode static

  # 自定义下载请求头
  imgharvest https://shop.example.com/item/1 -H "Accept-Language: zh-CN"

  # 验证请求头配置
  imgharvest --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	Args:    cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		logConfig := config.LogConfig()
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}

		appConfig = config
		return nil
	},
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("imgharvest %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func run(cmd *cobra.Command, args []string) error {
	headerManager, err := core.NewHeaderManager(headersFile, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}

	if validateConfig {
		return runValidateConfig(headerManager)
	}

	normalized, err := ResolveTargetURL(args, targetURL)
	if err != nil {
		return err
	}

	overrides := collectOverrides(cmd)
	appConfig.MergeCLIFlags(overrides)

	if err := ValidateFlags(normalized, minWidth, minHeight, string(appConfig.Crawl.Mode)); err != nil {
		return err
	}
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	// 下载请求头在启动浏览器前验证,浏览器使用同一个User-Agent
	if _, err := headerManager.GetHeaders(); err != nil {
		return fmt.Errorf("HTTP头部配置无效: %w", err)
	}
	utils.Debugf("下载请求头: %v", headerManager.GetSafeHeaders())
	appConfig.Browser.UserAgent = headerManager.UserAgent()

	target, err := models.NewCrawlTarget(normalized, appConfig.Output.Dir, minWidth, minHeight)
	if err != nil {
		return err
	}

	opts := []core.CrawlerOption{
		core.WithBrowserConfig(appConfig.Browser),
		core.WithFetcherConfig(appConfig.FetcherConfig()),
		core.WithProgress(progress),
	}
	if appConfig.Output.Report {
		opts = append(opts, core.WithReporter(utils.NewReporter(appConfig.Output.ReportDir)))
	}

	crawler, err := core.NewCrawler(target, appConfig.Crawl, headerManager, opts...)
	if err != nil {
		return fmt.Errorf("创建抓取器失败: %w", err)
	}

	// Ctrl+C 取消抓取,浏览器随后被关闭
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := crawler.Crawl(ctx)
	printSummary(result)
	if err != nil {
		if models.IsTopLevel(err) {
			return fmt.Errorf("页面未能完成抓取: %w", err)
		}
		return fmt.Errorf("抓取失败: %w", err)
	}

	utils.Info("✨ 抓取任务完成!")
	return nil
}

// runValidateConfig 验证并打印合并后的请求头
func runValidateConfig(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证HTTP头部配置...")
	if err := headerManager.LoadConfig(); err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	safeHeaders := headerManager.GetSafeHeaders()
	utils.Info("✅ 配置验证通过!")
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for name, value := range safeHeaders {
		utils.Infof("  %s: %s", name, value)
	}
	return nil
}

// collectOverrides 只收集用户显式指定的参数
func collectOverrides(cmd *cobra.Command) core.CLIOverrides {
	flags := cmd.Flags()
	o := core.CLIOverrides{
		OutputDir: outputDir,
		Mode:      mode,
		LogLevel:  logLevel,
	}
	if flags.Changed("headless") {
		o.Headless = &headless
	}
	if flags.Changed("settle") {
		o.SettleDelay = &settleDelay
	}
	if flags.Changed("timeout") {
		o.AwaitTimeout = &awaitTimeout
	}
	if flags.Changed("dedupe") {
		o.Dedupe = &dedupe
	}
	if flags.Changed("report") {
		o.Report = &report
	}
	return o
}

func printSummary(r *models.CrawlReport) {
	if r == nil {
		return
	}
	stats := r.Stats
	fmt.Println("\n==================================================")
	fmt.Println("📊 抓取统计")
	fmt.Println("==================================================")
	fmt.Printf("🔍 候选元素: %d (子框架 %d)\n", stats.Candidates, stats.Frames)
	fmt.Printf("✅ 已下载: %d\n", stats.Downloaded)
	fmt.Printf("⏭️  已跳过: %d\n", stats.Skipped)
	fmt.Printf("❌ 失败: %d\n", stats.Failed)
	fmt.Printf("📦 总大小: %s\n", utils.FormatBytes(stats.TotalSize))
	fmt.Printf("⏱️  总耗时: %.2f秒\n", stats.Duration)
	fmt.Println("==================================================")
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义下载请求头,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().StringVar(&headersFile, "headers-file", "", "请求头配置文件 (默认 configs/headers.yaml)")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证请求头配置")

	// 抓取参数
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "目标页面URL (也可作为位置参数)")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "输出目录 (默认 product_images)")
	rootCmd.Flags().IntVarP(&minWidth, "min-width", "W", 0, "最小图片宽度,0表示不限制")
	rootCmd.Flags().IntVar(&minHeight, "min-height", 0, "最小图片高度,0表示不限制")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "", "页面驱动模式 (dynamic|static)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().DurationVar(&settleDelay, "settle", 10*time.Second, "导航后的固定等待时间")
	rootCmd.Flags().DurationVar(&awaitTimeout, "timeout", 20*time.Second, "等待图片元素出现的超时时间")
	rootCmd.Flags().BoolVar(&dedupe, "dedupe", false, "同一URL只下载一次")
	rootCmd.Flags().BoolVar(&report, "report", false, "生成JSON报告")
	rootCmd.Flags().BoolVar(&progress, "progress", false, "显示进度条")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
