package crawlers

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/publicsuffix"
)

const (
	ctxKeyFinalURL = "final_url"

	htmlAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// staticDocument 已解析的HTML文档
type staticDocument struct {
	url  string // 用于解析相对地址(考虑<base href>)
	doc  *goquery.Document
	name string
}

// StaticDriver 不执行JavaScript的页面驱动
// 通过HTTP获取HTML并用goquery查询元素,子框架按iframe的src(或srcdoc)单独获取
type StaticDriver struct {
	collector      *colly.Collector
	headerProvider models.HeaderProvider

	scope  *frameScope[*staticDocument]
	states stateMachine

	pageURL string
}

// NewStaticDriver 创建静态页面驱动
func NewStaticDriver(ctx context.Context, cfg FetcherConfig, headerProvider models.HeaderProvider) (*StaticDriver, error) {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	)

	// 页面设置的Cookie保存在jar中,随后由HarvestCookies导出给下载器
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("创建Cookie jar失败: %w", err)
	}
	c.SetCookieJar(jar)

	if cfg.InsecureSkipVerify {
		c.WithTransport(&http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		})
	}
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		r.Ctx.Put(ctxKeyBody, r.Body)
		r.Ctx.Put(ctxKeyEncoding, r.Headers.Get("Content-Encoding"))
		r.Ctx.Put(ctxKeyFinalURL, r.Request.URL.String())
	})

	return &StaticDriver{
		collector:      c,
		headerProvider: headerProvider,
		scope:          newFrameScope[*staticDocument](nil),
	}, nil
}

// Open 获取并解析页面
func (d *StaticDriver) Open(ctx context.Context, pageURL string) error {
	if err := d.states.require(StateCreated, "Open"); err != nil {
		return err
	}

	doc, err := d.fetchDocument(ctx, pageURL, models.MainFrame)
	if err != nil {
		return &models.NavigationError{URL: pageURL, Cause: err}
	}

	d.pageURL = pageURL
	d.scope.SetTop(doc)
	utils.Debugf("静态页面已加载: %s", doc.url)
	return d.states.advance(StateNavigated)
}

// AwaitImagesPresent 静态文档不会再变化,没有图片元素即视为超时
func (d *StaticDriver) AwaitImagesPresent(ctx context.Context, timeout time.Duration) error {
	if err := d.states.require(StateNavigated, "AwaitImagesPresent"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &models.TimeoutError{What: imagePresenceSelector, Cause: err}
	}

	top := d.scope.Top()
	if top.doc.Find(imagePresenceSelector).Length() == 0 {
		return &models.TimeoutError{
			What:  imagePresenceSelector,
			Cause: errors.New("静态文档中没有图片元素"),
		}
	}
	return nil
}

// AutoScrollToBottom 静态文档没有懒加载,直接视为内容已稳定
func (d *StaticDriver) AutoScrollToBottom(ctx context.Context, stepDelay time.Duration, maxSteps int) error {
	if err := d.states.require(StateNavigated, "AutoScrollToBottom"); err != nil {
		return err
	}
	utils.Debugf("静态模式不执行滚动")
	return d.states.advance(StateContentSettled)
}

// EnumerateImageElements 枚举当前上下文中的候选图片: 先全部img,再是标记为图片的组件
func (d *StaticDriver) EnumerateImageElements(ctx context.Context) ([]models.CandidateImage, error) {
	if err := d.states.require(StateNavigated, "EnumerateImageElements"); err != nil {
		return nil, err
	}
	if err := d.states.advance(StateScanning); err != nil {
		return nil, err
	}

	current, name := d.scope.Current()
	d.states.setScope(name)

	var candidates []models.CandidateImage
	for _, selector := range []string{imageTagSelector, widgetImageSelector} {
		current.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			handle := &staticImage{sel: s, base: current.url}
			src, _ := handle.Source(ctx)
			candidates = append(candidates, models.CandidateImage{
				Src:    src,
				Frame:  name,
				Order:  len(candidates),
				Handle: handle,
			})
		})
	}

	utils.Debugf("[%s] 发现 %d 个候选图片", name, len(candidates))
	return candidates, nil
}

// EnumerateFrames 枚举主文档中的iframe
func (d *StaticDriver) EnumerateFrames(ctx context.Context) ([]FrameHandle, error) {
	if err := d.states.require(StateNavigated, "EnumerateFrames"); err != nil {
		return nil, err
	}

	top := d.scope.Top()
	var frames []FrameHandle
	top.doc.Find(frameSelector).Each(func(i int, s *goquery.Selection) {
		frame := FrameHandle{Index: i, Name: models.FrameName(i)}
		if srcdoc, ok := s.Attr("srcdoc"); ok {
			frame.ref = srcdoc
		}
		if src := strings.TrimSpace(s.AttrOr("src", "")); src != "" {
			if abs, err := Resolve(top.url, src); err == nil {
				frame.URL = abs
			} else {
				frame.URL = src
			}
		}
		frames = append(frames, frame)
	})
	return frames, nil
}

// WithFrame 加载子框架文档并在其中执行fn
func (d *StaticDriver) WithFrame(ctx context.Context, frame FrameHandle, fn func() error) error {
	if err := d.states.require(StateNavigated, "WithFrame"); err != nil {
		return err
	}

	doc, err := d.loadFrame(ctx, frame)
	if err != nil {
		return &models.FrameAccessError{Frame: frame.Name, Cause: err}
	}

	defer d.states.setScope(models.MainFrame)
	return d.scope.enter(frame.Name, doc, func() error {
		d.states.setScope(frame.Name)
		return fn()
	})
}

func (d *StaticDriver) loadFrame(ctx context.Context, frame FrameHandle) (*staticDocument, error) {
	// srcdoc 优先于 src
	if srcdoc, ok := frame.ref.(string); ok {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(srcdoc))
		if err != nil {
			return nil, fmt.Errorf("解析srcdoc失败: %w", err)
		}
		return &staticDocument{url: baseURL(doc, d.scope.Top().url), doc: doc, name: frame.Name}, nil
	}

	if frame.URL == "" {
		return nil, errors.New("iframe没有src")
	}
	return d.fetchDocument(ctx, frame.URL, frame.Name)
}

// HarvestCookies 导出页面请求过程中服务器设置的Cookie
func (d *StaticDriver) HarvestCookies(ctx context.Context) ([]*http.Cookie, error) {
	if err := d.states.require(StateNavigated, "HarvestCookies"); err != nil {
		return nil, err
	}

	cookies := d.collector.Cookies(d.pageURL)
	result := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		result = append(result, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return result, nil
}

// State 当前驱动状态
func (d *StaticDriver) State() DriverState {
	return d.states.get()
}

// Close 静态驱动没有需要释放的进程
func (d *StaticDriver) Close() error {
	if !d.states.close() {
		utils.Debugf("静态页面驱动已关闭")
	}
	return nil
}

// fetchDocument 获取并解析HTML
func (d *StaticDriver) fetchDocument(ctx context.Context, pageURL, name string) (*staticDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hdr := make(http.Header)
	if d.headerProvider != nil {
		profile, err := d.headerProvider.GetHeaders()
		if err != nil {
			return nil, fmt.Errorf("获取请求头失败: %w", err)
		}
		for k, v := range profile {
			if len(v) > 0 {
				hdr.Set(k, v[0])
			}
		}
	}
	hdr.Set("Accept", htmlAccept)

	reqCtx := colly.NewContext()
	if err := d.collector.Request(http.MethodGet, pageURL, nil, reqCtx, hdr); err != nil {
		return nil, err
	}

	status, _ := reqCtx.GetAny(ctxKeyStatus).(int)
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("HTTP %d", status)
	}

	body, _ := reqCtx.GetAny(ctxKeyBody).([]byte)
	encoding, _ := reqCtx.GetAny(ctxKeyEncoding).(string)
	if decoded, err := decodeBody(encoding, body); err == nil {
		body = decoded
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	finalURL, _ := reqCtx.GetAny(ctxKeyFinalURL).(string)
	if finalURL == "" {
		finalURL = pageURL
	}

	return &staticDocument{url: baseURL(doc, finalURL), doc: doc, name: name}, nil
}

// baseURL 文档中有<base href>时使用它解析相对地址
func baseURL(doc *goquery.Document, docURL string) string {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return docURL
	}
	abs, err := Resolve(docURL, href)
	if err != nil {
		return docURL
	}
	return abs
}

// staticImage 静态文档中的图片元素
type staticImage struct {
	sel  *goquery.Selection
	base string
}

// ScrollIntoView 静态文档无视口
func (i *staticImage) ScrollIntoView(ctx context.Context) error {
	return nil
}

// Source 返回按所属文档解析后的src,src为空时回退到data-src
func (i *staticImage) Source(ctx context.Context) (string, error) {
	raw := strings.TrimSpace(i.sel.AttrOr("src", ""))
	if raw == "" {
		raw = strings.TrimSpace(i.sel.AttrOr("data-src", ""))
	}
	if raw == "" {
		return "", nil
	}

	abs, err := Resolve(i.base, raw)
	if err != nil {
		// 交给编排器按原始值处理并记录
		return raw, nil
	}
	return abs, nil
}
