package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/crawlers"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/schollz/progressbar/v3"
)

// DriverFactory 创建页面驱动
type DriverFactory func(ctx context.Context) (crawlers.PageDriver, error)

// Crawler 单页图片抓取的编排器
// 持有唯一的页面驱动,所有候选按发现顺序逐个处理
type Crawler struct {
	target  models.CrawlTarget
	config  models.CrawlConfig
	fetch   crawlers.FetcherConfig
	browser crawlers.BrowserConfig

	headerProvider models.HeaderProvider
	newDriver      DriverFactory
	gatekeeper     *crawlers.Gatekeeper
	reporter       *utils.Reporter
	showProgress   bool

	// 运行期状态
	fetcher  *crawlers.ResourceFetcher
	cookies  []*http.Cookie
	seen     map[string]bool
	bar      *progressbar.ProgressBar
	stats    models.TaskStats
	outcomes []models.DownloadOutcome
}

// CrawlerOption 编排器可选项
type CrawlerOption func(*Crawler)

// WithDriverFactory 替换页面驱动的创建方式
func WithDriverFactory(factory DriverFactory) CrawlerOption {
	return func(c *Crawler) { c.newDriver = factory }
}

// WithReporter 运行结束后生成JSON报告
func WithReporter(reporter *utils.Reporter) CrawlerOption {
	return func(c *Crawler) { c.reporter = reporter }
}

// WithProgress 显示候选处理进度条
func WithProgress(enabled bool) CrawlerOption {
	return func(c *Crawler) { c.showProgress = enabled }
}

// WithBrowserConfig 设置动态模式的浏览器配置
func WithBrowserConfig(cfg crawlers.BrowserConfig) CrawlerOption {
	return func(c *Crawler) { c.browser = cfg }
}

// WithFetcherConfig 设置图片下载配置
func WithFetcherConfig(cfg crawlers.FetcherConfig) CrawlerOption {
	return func(c *Crawler) { c.fetch = cfg }
}

// NewCrawler 创建编排器
func NewCrawler(target models.CrawlTarget, config models.CrawlConfig, headerProvider models.HeaderProvider, opts ...CrawlerOption) (*Crawler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("爬取配置无效: %w", err)
	}
	if headerProvider == nil {
		return nil, errors.New("headerProvider不能为空")
	}

	c := &Crawler{
		target:         target,
		config:         config,
		fetch:          crawlers.DefaultFetcherConfig(),
		browser:        crawlers.BrowserConfig{Headless: true, UserAgent: DefaultUserAgent},
		headerProvider: headerProvider,
		gatekeeper:     crawlers.NewGatekeeper(target.MinWidth, target.MinHeight),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.newDriver == nil {
		c.newDriver = c.defaultDriverFactory()
	}
	return c, nil
}

// defaultDriverFactory 按模式选择驱动
func (c *Crawler) defaultDriverFactory() DriverFactory {
	return func(ctx context.Context) (crawlers.PageDriver, error) {
		switch c.config.Mode {
		case models.ModeStatic:
			return crawlers.NewStaticDriver(ctx, c.fetch, c.headerProvider)
		default:
			return crawlers.NewDynamicDriver(c.browser), nil
		}
	}
}

// Crawl 执行一次完整的抓取
// 执行流程:
//  1. 打开页面 → 固定等待 → 等待图片元素出现 → 滚动到底部
//  2. 创建输出目录,导出会话Cookie
//  3. 枚举主文档候选,再逐个进入子框架枚举
//  4. 按发现顺序逐个解析、下载、过滤、保存
//
// 导航失败或等待超时会终止运行并返回错误; 单个候选或框架的错误只记录不终止。
// 无论从哪条路径返回,页面驱动都会被关闭。
func (c *Crawler) Crawl(ctx context.Context) (report *models.CrawlReport, err error) {
	startTime := time.Now()
	c.resetRunState()

	report = &models.CrawlReport{
		RunID:     models.NewRunID(),
		Target:    c.target,
		Mode:      c.config.Mode,
		StartTime: startTime,
		Config:    c.config,
	}

	utils.Infof("🚀 开始抓取任务 [%s]", report.RunID)
	utils.Infof("目标URL: %s", c.target.PageURL)
	utils.Infof("输出目录: %s", c.target.OutputDir)
	utils.Infof("最小尺寸: %dx%d, 模式: %s", c.target.MinWidth, c.target.MinHeight, c.config.Mode)

	defer func() {
		c.finishReport(report, startTime, err)
	}()

	if c.config.Mode == models.ModeDynamic {
		report.System = crawlers.CheckResources(crawlers.DefaultResourceCheckConfig())
	}

	driver, err := c.newDriver(ctx)
	if err != nil {
		return report, fmt.Errorf("创建页面驱动失败: %w", err)
	}
	defer func() {
		if closeErr := driver.Close(); closeErr != nil {
			utils.Warnf("关闭页面驱动失败: %v", closeErr)
		}
	}()

	if err = c.preparePage(ctx, driver); err != nil {
		return report, err
	}

	if err = utils.EnsureDir(c.target.OutputDir); err != nil {
		return report, fmt.Errorf("创建输出目录失败: %w", err)
	}

	c.fetcher, err = crawlers.NewResourceFetcher(ctx, c.fetch, c.headerProvider)
	if err != nil {
		return report, fmt.Errorf("创建下载器失败: %w", err)
	}

	c.cookies, err = driver.HarvestCookies(ctx)
	if err != nil {
		// 没有Cookie仍可以下载公开资源
		utils.Warnf("导出会话Cookie失败,继续以无Cookie方式下载: %v", err)
		c.cookies = nil
	}
	utils.Debugf("会话Cookie (%d): %s", len(c.cookies), utils.RedactCookies(c.cookies))

	candidates, err := driver.EnumerateImageElements(ctx)
	if err != nil {
		utils.Errorf("枚举主文档图片失败: %v", err)
	}
	c.processAll(ctx, candidates)

	if c.config.ScanFrames {
		c.scanFrames(ctx, driver)
	}

	// 中途取消时剩余候选没有被处理,不能算作完成
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, &models.TimeoutError{What: "canceled", Cause: ctxErr}
	}

	return report, nil
}

// preparePage 打开页面并等待内容稳定,返回的错误都是顶层错误
func (c *Crawler) preparePage(ctx context.Context, driver crawlers.PageDriver) error {
	if err := driver.Open(ctx, c.target.PageURL); err != nil {
		return err
	}

	if c.config.SettleDelay > 0 {
		utils.Infof("⏳ 等待页面渲染 %s", c.config.SettleDelay)
		if err := wait(ctx, c.config.SettleDelay); err != nil {
			return &models.TimeoutError{What: "settle", Cause: err}
		}
	}

	if err := driver.AwaitImagesPresent(ctx, c.config.AwaitTimeout); err != nil {
		return err
	}

	if err := driver.AutoScrollToBottom(ctx, c.config.ScrollStepDelay, c.config.MaxScrollSteps); err != nil {
		if ctx.Err() != nil {
			return &models.TimeoutError{What: "scroll", Cause: err}
		}
		// 滚动失败时已渲染的内容仍可抓取
		utils.Warnf("滚动页面失败,使用当前已加载的内容: %v", err)
	}
	return nil
}

// scanFrames 逐个进入子框架处理候选,单个框架失败不影响其他框架
func (c *Crawler) scanFrames(ctx context.Context, driver crawlers.PageDriver) {
	frames, err := driver.EnumerateFrames(ctx)
	if err != nil {
		utils.Errorf("枚举子框架失败: %v", err)
		return
	}
	if len(frames) == 0 {
		return
	}
	utils.Infof("🖼️  发现 %d 个子框架", len(frames))

	for _, frame := range frames {
		if ctx.Err() != nil {
			return
		}
		err := driver.WithFrame(ctx, frame, func() error {
			candidates, err := driver.EnumerateImageElements(ctx)
			if err != nil {
				return err
			}
			c.processAll(ctx, candidates)
			return nil
		})
		c.stats.Frames++
		if err != nil {
			var frameErr *models.FrameAccessError
			if !errors.As(err, &frameErr) {
				err = &models.FrameAccessError{Frame: frame.Name, Cause: err}
			}
			utils.Warnf("⚠️  跳过子框架: %v", err)
		}
	}
}

// processAll 按顺序处理一组候选
func (c *Crawler) processAll(ctx context.Context, candidates []models.CandidateImage) {
	if len(candidates) == 0 {
		return
	}
	c.growProgress(len(candidates))

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		candidate.Order = c.stats.Candidates
		c.stats.Candidates++

		if outcome, ok := c.processCandidate(ctx, candidate); ok {
			c.record(outcome)
		}
		if c.bar != nil {
			_ = c.bar.Add(1)
		}
	}
}

// processCandidate 处理单个候选
// 返回 false 表示候选没有图片地址,按静默忽略处理
func (c *Crawler) processCandidate(ctx context.Context, candidate models.CandidateImage) (models.DownloadOutcome, bool) {
	src := candidate.Src
	if candidate.Handle != nil {
		if err := candidate.Handle.ScrollIntoView(ctx); err != nil {
			utils.Debugf("滚动元素到视口失败: %v", err)
		}
		if c.config.NudgeDelay > 0 {
			_ = wait(ctx, c.config.NudgeDelay)
		}
		// 懒加载的元素在进入视口后才会填充src
		if current, err := candidate.Handle.Source(ctx); err == nil && current != "" {
			src = current
		}
	}
	if src == "" {
		return models.DownloadOutcome{}, false
	}

	absURL, err := crawlers.Resolve(c.target.PageURL, src)
	if err != nil {
		utils.Errorf("❌ 解析图片地址失败 [%s]: %v", candidate.Frame, err)
		return models.Failed(candidate, src, err), true
	}

	if c.config.DedupeURLs {
		if c.seen[absURL] {
			utils.Debugf("跳过重复图片: %s", absURL)
			return models.DownloadOutcome{}, false
		}
		c.seen[absURL] = true
	}

	resource := models.ResolvedResource{URL: absURL, FileName: crawlers.SanitizeFileName(absURL)}

	_, data, err := c.fetcher.Fetch(ctx, resource.URL, c.target.PageURL, c.cookies)
	if err != nil {
		utils.Errorf("❌ 下载失败: %v", err)
		return models.Failed(candidate, resource.URL, err), true
	}

	width, height, ok, err := c.gatekeeper.Inspect(data)
	if err != nil {
		utils.Warnf("⏭️  跳过无法识别的图片 %s: %v", resource.URL, err)
		return models.Skipped(candidate, resource, err.Error()), true
	}
	if !ok {
		utils.Infof("⏭️  跳过小尺寸图片 %s (%dx%d)", resource.URL, width, height)
		outcome := models.Skipped(candidate, resource, fmt.Sprintf("尺寸 %dx%d 小于 %dx%d",
			width, height, c.target.MinWidth, c.target.MinHeight))
		outcome.Width, outcome.Height = width, height
		return outcome, true
	}

	path := filepath.Join(c.target.OutputDir, fmt.Sprintf("%d_%s", c.stats.Downloaded, resource.FileName))
	if err := os.WriteFile(path, data, 0644); err != nil {
		utils.Errorf("❌ 保存文件失败 [%s]: %v", path, err)
		return models.Failed(candidate, resource.URL, fmt.Errorf("保存文件失败: %w", err)), true
	}

	utils.Infof("✅ 已保存: %s (%dx%d, %s)", path, width, height, utils.FormatBytes(int64(len(data))))
	outcome := models.Saved(candidate, resource, path, int64(len(data)))
	outcome.Width, outcome.Height = width, height
	return outcome, true
}

// record 累计结果与计数
func (c *Crawler) record(outcome models.DownloadOutcome) {
	switch outcome.Kind {
	case models.OutcomeSaved:
		c.stats.Downloaded++
		c.stats.TotalSize += outcome.Size
	case models.OutcomeSkippedTooSmall:
		c.stats.Skipped++
	case models.OutcomeFailed:
		c.stats.Failed++
	}
	c.outcomes = append(c.outcomes, outcome)
}

func (c *Crawler) resetRunState() {
	c.fetcher = nil
	c.cookies = nil
	c.seen = make(map[string]bool)
	c.bar = nil
	c.stats = models.TaskStats{}
	c.outcomes = nil
}

// growProgress 子框架的候选在运行中才知道数量,进度条上限随之增加
func (c *Crawler) growProgress(n int) {
	if !c.showProgress {
		return
	}
	if c.bar == nil {
		c.bar = utils.NewProgressBar(n, "处理图片")
		return
	}
	c.bar.ChangeMax(c.bar.GetMax() + n)
}

// finishReport 填充报告并输出汇总,报告生成失败只告警
func (c *Crawler) finishReport(report *models.CrawlReport, startTime time.Time, err error) {
	if c.bar != nil {
		_ = c.bar.Finish()
	}

	report.EndTime = time.Now()
	c.stats.Duration = report.EndTime.Sub(startTime).Seconds()
	report.Stats = c.stats
	report.Outcomes = c.outcomes
	report.Succeeded = err == nil
	if err != nil {
		report.Error = err.Error()
	}

	if err == nil {
		utils.Infof("✅ 抓取完成: 下载 %d, 跳过 %d, 失败 %d, 耗时 %.2f秒",
			c.stats.Downloaded, c.stats.Skipped, c.stats.Failed, c.stats.Duration)
	} else {
		utils.Errorf("❌ 抓取失败: %v", err)
	}

	if c.reporter != nil {
		if dir, reportErr := c.reporter.GenerateReport(report); reportErr != nil {
			utils.Warnf("生成报告失败: %v", reportErr)
		} else {
			utils.Infof("📄 报告已生成: %s", dir)
		}
	}
}

// wait 可取消的等待
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
