package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/crawlers"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

// fixedHeaders 固定的请求头画像
type fixedHeaders struct{}

func (fixedHeaders) GetHeaders() (http.Header, error) {
	h := make(http.Header)
	h.Set("User-Agent", DefaultUserAgent)
	h.Set("Accept", ImageAccept)
	return h, nil
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("编码PNG失败: %v", err)
	}
	return buf.Bytes()
}

// newImageServer 按路径返回图片,/page 返回给定HTML ({{origin}} 替换为服务器地址)
func newImageServer(t *testing.T, page string, images map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, strings.ReplaceAll(page, "{{origin}}", "http://"+r.Host))
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		data, ok := images[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testCrawlConfig() models.CrawlConfig {
	return models.CrawlConfig{
		Mode:         models.ModeStatic,
		AwaitTimeout: 2 * time.Second,
		ScanFrames:   true,
	}
}

func newTestCrawler(t *testing.T, pageURL string, minW, minH int, cfg models.CrawlConfig, opts ...CrawlerOption) (*Crawler, string) {
	t.Helper()
	outDir := filepath.Join(t.TempDir(), "product_images")
	target, err := models.NewCrawlTarget(pageURL, outDir, minW, minH)
	if err != nil {
		t.Fatalf("NewCrawlTarget() error = %v", err)
	}
	c, err := NewCrawler(target, cfg, fixedHeaders{}, opts...)
	if err != nil {
		t.Fatalf("NewCrawler() error = %v", err)
	}
	return c, outDir
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func assertFiles(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("文件 = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("文件[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCrawler_ThreeImages(t *testing.T) {
	img := pngFixture(t, 120, 80)
	images := map[string][]byte{"/img/a.png": img, "/img/b.png": img, "/img/c.png": img}
	page := `<html><body>
		<img src="{{origin}}/img/a.png">
		<img src="{{origin}}/img/b.png?w=200">
		<img src="{{origin}}/img/c.png">
	</body></html>`
	server := newImageServer(t, page, images)

	c, outDir := newTestCrawler(t, server.URL+"/page", 100, 50, testCrawlConfig())
	report, err := c.Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	assertFiles(t, listFiles(t, outDir), "0_a.png", "1_b.png", "2_c.png")
	if report.Stats.Downloaded != 3 || report.Stats.Skipped != 0 || report.Stats.Failed != 0 {
		t.Errorf("统计错误: %+v", report.Stats)
	}
	if !report.Succeeded || report.RunID == "" || len(report.Outcomes) != 3 {
		t.Errorf("报告错误: %+v", report)
	}
	saved, err := os.ReadFile(filepath.Join(outDir, "1_b.png"))
	if err != nil || !bytes.Equal(saved, img) {
		t.Error("保存的内容应与下载的字节一致")
	}
	if report.Stats.TotalSize != int64(3*len(img)) {
		t.Errorf("TotalSize = %d", report.Stats.TotalSize)
	}
}

func TestCrawler_UnreachablePage(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	addr := closed.URL
	closed.Close()

	c, outDir := newTestCrawler(t, addr+"/page", 0, 0, testCrawlConfig())
	report, err := c.Crawl(context.Background())

	var navErr *models.NavigationError
	if !errors.As(err, &navErr) {
		t.Fatalf("期望NavigationError, 得到 %v", err)
	}
	if !models.IsTopLevel(err) {
		t.Error("导航失败应为顶层错误")
	}
	if report == nil || report.Succeeded || report.Error == "" {
		t.Errorf("报告应标记失败: %+v", report)
	}
	if files := listFiles(t, outDir); len(files) != 0 {
		t.Errorf("不应写入任何文件: %v", files)
	}
}

func TestCrawler_SmallImageSkipped(t *testing.T) {
	images := map[string][]byte{
		"/img/big1.png": pngFixture(t, 200, 200),
		"/img/tiny.png": pngFixture(t, 10, 10),
		"/img/big2.png": pngFixture(t, 150, 150),
	}
	page := `<html><body>
		<img src="/img/big1.png">
		<img src="/img/tiny.png">
		<img src="/img/big2.png">
	</body></html>`
	server := newImageServer(t, page, images)

	c, outDir := newTestCrawler(t, server.URL+"/page", 100, 100, testCrawlConfig())
	report, err := c.Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	// 序号只随保存的文件递增
	assertFiles(t, listFiles(t, outDir), "0_big1.png", "1_big2.png")
	if report.Stats.Downloaded != 2 || report.Stats.Skipped != 1 {
		t.Errorf("统计错误: %+v", report.Stats)
	}
	skipped := report.Outcomes[1]
	if skipped.Kind != models.OutcomeSkippedTooSmall || skipped.Width != 10 || skipped.Height != 10 {
		t.Errorf("跳过结果错误: %+v", skipped)
	}
}

func TestCrawler_PerItemFailuresDoNotAbort(t *testing.T) {
	images := map[string][]byte{
		"/img/ok.png":      pngFixture(t, 20, 20),
		"/img/corrupt.png": []byte("not an image"),
	}
	page := `<html><body>
		<img src="/img/missing.png">
		<img src="/img/corrupt.png">
		<img src="">
		<img src="http://[::1">
		<img src="/img/ok.png">
	</body></html>`
	server := newImageServer(t, page, images)

	c, outDir := newTestCrawler(t, server.URL+"/page", 0, 0, testCrawlConfig())
	report, err := c.Crawl(context.Background())
	if err != nil {
		t.Fatalf("单个资源失败不应终止运行: %v", err)
	}

	assertFiles(t, listFiles(t, outDir), "0_ok.png")
	// 404与无效地址计为失败,无法解码计为跳过,空地址静默忽略
	if report.Stats.Failed != 2 || report.Stats.Skipped != 1 || report.Stats.Downloaded != 1 {
		t.Errorf("统计错误: %+v", report.Stats)
	}
	if len(report.Outcomes) != 4 {
		t.Errorf("结果数量 = %d, want 4", len(report.Outcomes))
	}
}

func TestCrawler_Dedupe(t *testing.T) {
	images := map[string][]byte{"/img/same.png": pngFixture(t, 30, 30)}
	page := `<html><body><img src="/img/same.png"><img src="/img/same.png"></body></html>`
	server := newImageServer(t, page, images)

	t.Run("默认不去重", func(t *testing.T) {
		c, outDir := newTestCrawler(t, server.URL+"/page", 0, 0, testCrawlConfig())
		if _, err := c.Crawl(context.Background()); err != nil {
			t.Fatal(err)
		}
		assertFiles(t, listFiles(t, outDir), "0_same.png", "1_same.png")
	})

	t.Run("开启去重", func(t *testing.T) {
		cfg := testCrawlConfig()
		cfg.DedupeURLs = true
		c, outDir := newTestCrawler(t, server.URL+"/page", 0, 0, cfg)
		if _, err := c.Crawl(context.Background()); err != nil {
			t.Fatal(err)
		}
		assertFiles(t, listFiles(t, outDir), "0_same.png")
	})
}

func TestCrawler_WithReporter(t *testing.T) {
	images := map[string][]byte{"/img/a.png": pngFixture(t, 10, 10)}
	server := newImageServer(t, `<html><body><img src="/img/a.png"></body></html>`, images)

	reportDir := t.TempDir()
	c, _ := newTestCrawler(t, server.URL+"/page", 0, 0, testCrawlConfig(),
		WithReporter(utils.NewReporter(reportDir)), WithProgress(true))
	report, err := c.Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(reportDir, report.RunID, "crawl_report.json"))
	if err != nil {
		t.Fatalf("报告未生成: %v", err)
	}
	var loaded models.CrawlReport
	if err := loaded.FromJSON(data); err != nil {
		t.Fatal(err)
	}
	if loaded.Stats.Downloaded != 1 || loaded.Target.PageURL != server.URL+"/page" {
		t.Errorf("报告内容错误: %+v", loaded)
	}
}

// fakeHandle 模拟进入视口后才填充src的懒加载元素
type fakeHandle struct {
	src      string
	lazy     bool
	scrolled bool
}

func (h *fakeHandle) ScrollIntoView(ctx context.Context) error {
	h.scrolled = true
	return nil
}

func (h *fakeHandle) Source(ctx context.Context) (string, error) {
	if h.lazy && !h.scrolled {
		return "", nil
	}
	return h.src, nil
}

// fakeDriver 内存中的页面驱动
type fakeDriver struct {
	openErr     error
	main        []string
	frames      []crawlers.FrameHandle
	frameImages map[string][]string
	frameErrs   map[string]error
	lazy        bool

	scope  string
	closed int
}

func (d *fakeDriver) Open(ctx context.Context, pageURL string) error {
	d.scope = models.MainFrame
	return d.openErr
}

func (d *fakeDriver) AwaitImagesPresent(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (d *fakeDriver) AutoScrollToBottom(ctx context.Context, stepDelay time.Duration, maxSteps int) error {
	return nil
}

func (d *fakeDriver) EnumerateImageElements(ctx context.Context) ([]models.CandidateImage, error) {
	srcs := d.main
	if d.scope != models.MainFrame {
		if err := d.frameErrs[d.scope]; err != nil {
			return nil, err
		}
		srcs = d.frameImages[d.scope]
	}

	var candidates []models.CandidateImage
	for i, src := range srcs {
		handle := &fakeHandle{src: src, lazy: d.lazy}
		initial := src
		if d.lazy {
			initial = ""
		}
		candidates = append(candidates, models.CandidateImage{Src: initial, Frame: d.scope, Order: i, Handle: handle})
	}
	return candidates, nil
}

func (d *fakeDriver) EnumerateFrames(ctx context.Context) ([]crawlers.FrameHandle, error) {
	return d.frames, nil
}

func (d *fakeDriver) WithFrame(ctx context.Context, frame crawlers.FrameHandle, fn func() error) error {
	d.scope = frame.Name
	defer func() { d.scope = models.MainFrame }()
	return fn()
}

func (d *fakeDriver) HarvestCookies(ctx context.Context) ([]*http.Cookie, error) {
	return []*http.Cookie{{Name: "sid", Value: "1"}}, nil
}

func (d *fakeDriver) State() crawlers.DriverState { return crawlers.StateScanning }

func (d *fakeDriver) Close() error {
	d.closed++
	return nil
}

func withFake(d *fakeDriver) CrawlerOption {
	return WithDriverFactory(func(ctx context.Context) (crawlers.PageDriver, error) {
		return d, nil
	})
}

func TestCrawler_FramesShareSequence(t *testing.T) {
	images := map[string][]byte{
		"/img/a.png": pngFixture(t, 20, 20),
		"/img/b.png": pngFixture(t, 20, 20),
		"/img/f.png": pngFixture(t, 20, 20),
	}
	server := newImageServer(t, "", images)

	driver := &fakeDriver{
		main: []string{"/img/a.png", "/img/b.png"},
		frames: []crawlers.FrameHandle{
			{Index: 0, Name: models.FrameName(0)},
			{Index: 1, Name: models.FrameName(1)},
		},
		frameImages: map[string][]string{models.FrameName(1): {server.URL + "/img/f.png"}},
		frameErrs:   map[string]error{models.FrameName(0): errors.New("跨域框架无法访问")},
	}

	c, outDir := newTestCrawler(t, server.URL+"/page", 0, 0, testCrawlConfig(), withFake(driver))
	report, err := c.Crawl(context.Background())
	if err != nil {
		t.Fatalf("框架失败不应终止运行: %v", err)
	}

	assertFiles(t, listFiles(t, outDir), "0_a.png", "1_b.png", "2_f.png")
	if report.Stats.Frames != 2 || report.Stats.Candidates != 3 {
		t.Errorf("统计错误: %+v", report.Stats)
	}
	last := report.Outcomes[2]
	if last.Frame != models.FrameName(1) || last.Order != 2 {
		t.Errorf("子框架结果的顺序号应延续主文档: %+v", last)
	}

	// 失败的框架之后仍能在主文档中操作
	again, err := driver.EnumerateImageElements(context.Background())
	if err != nil || len(again) != 2 || again[0].Frame != models.MainFrame {
		t.Errorf("驱动未回到主文档: %d, %v", len(again), err)
	}
	if driver.closed != 1 {
		t.Errorf("驱动应被关闭一次, 实际 %d", driver.closed)
	}
}

func TestCrawler_LazySourceReadAfterNudge(t *testing.T) {
	images := map[string][]byte{"/img/lazy.png": pngFixture(t, 20, 20)}
	server := newImageServer(t, "", images)

	driver := &fakeDriver{main: []string{"/img/lazy.png"}, lazy: true}
	c, outDir := newTestCrawler(t, server.URL+"/page", 0, 0, testCrawlConfig(), withFake(driver))
	if _, err := c.Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}
	assertFiles(t, listFiles(t, outDir), "0_lazy.png")
}

func TestCrawler_TeardownOnTopLevelFailure(t *testing.T) {
	driver := &fakeDriver{openErr: &models.NavigationError{URL: "https://shop.example.com", Cause: errors.New("dns")}}
	c, outDir := newTestCrawler(t, "https://shop.example.com/p/1", 0, 0, testCrawlConfig(), withFake(driver))

	if _, err := c.Crawl(context.Background()); !models.IsTopLevel(err) {
		t.Fatalf("期望顶层错误, 得到 %v", err)
	}
	if driver.closed != 1 {
		t.Errorf("失败路径也应关闭驱动, 实际 %d", driver.closed)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Error("导航失败时不应创建输出目录")
	}
}

func TestCrawler_CanceledSettle(t *testing.T) {
	driver := &fakeDriver{main: []string{"/img/a.png"}}
	cfg := testCrawlConfig()
	cfg.SettleDelay = time.Minute

	c, _ := newTestCrawler(t, "https://shop.example.com/p/1", 0, 0, cfg, withFake(driver))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Crawl(ctx)
	var timeoutErr *models.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("期望TimeoutError, 得到 %v", err)
	}
	if driver.closed != 1 {
		t.Error("取消后应关闭驱动")
	}
}

func TestCrawler_CanceledMidRunIsNotSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data := pngFixture(t, 20, 20)

	// 第一张图片请求到达时取消运行
	mux := http.NewServeMux()
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	driver := &fakeDriver{main: []string{"/img/a.png", "/img/b.png", "/img/c.png"}}
	c, outDir := newTestCrawler(t, server.URL+"/page", 0, 0, testCrawlConfig(), withFake(driver))

	report, err := c.Crawl(ctx)
	var timeoutErr *models.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("中途取消应返回TimeoutError, 得到 %v", err)
	}
	if !models.IsTopLevel(err) {
		t.Error("中途取消应是顶层错误")
	}
	if report.Succeeded {
		t.Error("被取消的运行不应标记为成功")
	}
	if report.Stats.Candidates != 1 {
		t.Errorf("取消后不应继续处理候选, Candidates=%d", report.Stats.Candidates)
	}
	for _, name := range listFiles(t, outDir) {
		if name != "0_a.png" {
			t.Errorf("取消后不应保存 %s", name)
		}
	}
	if driver.closed != 1 {
		t.Error("取消后应关闭驱动")
	}
}

func TestNewCrawler_InvalidConfig(t *testing.T) {
	target, _ := models.NewCrawlTarget("https://shop.example.com", t.TempDir(), 0, 0)
	if _, err := NewCrawler(target, models.CrawlConfig{Mode: "bogus", AwaitTimeout: time.Second}, fixedHeaders{}); err == nil {
		t.Error("无效模式应返回错误")
	}
	if _, err := NewCrawler(target, testCrawlConfig(), nil); err == nil {
		t.Error("缺少headerProvider应返回错误")
	}
}
