package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	documentHeightJS = `() => {
		const el = document.body || document.documentElement;
		return el ? el.scrollHeight : 0;
	}`
	scrollToBottomJS = `() => {
		const el = document.body || document.documentElement;
		window.scrollTo(0, el ? el.scrollHeight : 0);
	}`
)

// BrowserConfig 浏览器启动配置
type BrowserConfig struct {
	Headless           bool   `mapstructure:"headless"`
	Bin                string `mapstructure:"bin"` // 为空时自动查找或下载Chromium
	UserAgent          string `mapstructure:"user_agent"`
	DisableWebSecurity bool   `mapstructure:"disable_web_security"`
	IgnoreCertErrors   bool   `mapstructure:"ignore_cert_errors"`
	NoSandbox          bool   `mapstructure:"no_sandbox"`
}

// DynamicDriver 基于go-rod驱动真实浏览器
// 浏览器在Open时启动,Close时无论处于何种状态都会关闭并清理
type DynamicDriver struct {
	config BrowserConfig

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	scope  *frameScope[*rod.Page]
	states stateMachine

	closeOnce sync.Once
	closeErr  error
}

// NewDynamicDriver 创建动态页面驱动(尚未启动浏览器)
func NewDynamicDriver(config BrowserConfig) *DynamicDriver {
	return &DynamicDriver{
		config: config,
		scope:  newFrameScope[*rod.Page](nil),
	}
}

// guard 把浏览器操作中的panic转换为错误
func guard(op string, err *error) {
	if r := recover(); r != nil {
		utils.Errorf("浏览器操作panic [%s]: %v", op, r)
		*err = fmt.Errorf("浏览器操作panic [%s]: %v", op, r)
	}
}

// launchBrowser 启动浏览器并建立连接
func (d *DynamicDriver) launchBrowser(ctx context.Context) error {
	l := launcher.New().Context(ctx).Headless(d.config.Headless)

	if d.config.Bin != "" {
		l = l.Bin(d.config.Bin)
	} else if path, has := launcher.LookPath(); has {
		l = l.Bin(path)
	}

	if d.config.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}
	if d.config.DisableWebSecurity {
		// 允许脚本读取跨域iframe中的元素
		l = l.Set("disable-web-security").Set("disable-site-isolation-trials")
	}
	if d.config.NoSandbox {
		l = l.NoSandbox(true)
	}
	if d.config.UserAgent != "" {
		l = l.Set("user-agent", d.config.UserAgent)
	}
	d.launcher = l

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("连接浏览器失败: %w", err)
	}
	d.browser = browser

	utils.Debugf("浏览器已启动: %s (headless=%v)", controlURL, d.config.Headless)
	return nil
}

// Open 启动浏览器并导航到页面
func (d *DynamicDriver) Open(ctx context.Context, pageURL string) (err error) {
	defer guard("Open", &err)

	if err := d.states.require(StateCreated, "Open"); err != nil {
		return err
	}

	if d.browser == nil {
		if err := d.launchBrowser(ctx); err != nil {
			return err
		}
	}

	page, err := d.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("创建标签页失败: %w", err)
	}
	d.page = page

	if d.config.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.config.UserAgent}); err != nil {
			utils.Warnf("设置User-Agent失败: %v", err)
		}
	}

	p := page.Context(ctx)
	if err := p.Navigate(pageURL); err != nil {
		return &models.NavigationError{URL: pageURL, Cause: err}
	}
	if err := p.WaitLoad(); err != nil {
		return &models.NavigationError{URL: pageURL, Cause: err}
	}

	d.scope.SetTop(page)
	utils.Debugf("页面加载完成: %s", pageURL)
	return d.states.advance(StateNavigated)
}

// AwaitImagesPresent 轮询直到出现图片元素
func (d *DynamicDriver) AwaitImagesPresent(ctx context.Context, timeout time.Duration) (err error) {
	defer guard("AwaitImagesPresent", &err)

	if err := d.states.require(StateNavigated, "AwaitImagesPresent"); err != nil {
		return err
	}

	if _, err := d.page.Context(ctx).Timeout(timeout).Element(imagePresenceSelector); err != nil {
		return &models.TimeoutError{What: imagePresenceSelector, Cause: err}
	}
	return nil
}

// AutoScrollToBottom 滚动到底部直到文档高度不再增长
func (d *DynamicDriver) AutoScrollToBottom(ctx context.Context, stepDelay time.Duration, maxSteps int) (err error) {
	defer guard("AutoScrollToBottom", &err)

	if err := d.states.require(StateNavigated, "AutoScrollToBottom"); err != nil {
		return err
	}

	p := d.page.Context(ctx)
	scroll := func() error {
		_, err := p.Eval(scrollToBottomJS)
		return err
	}
	height := func() (int, error) { return documentHeight(p) }

	steps, lastHeight, err := scrollUntilStable(ctx, scroll, height, stepDelay, maxSteps)
	if err != nil {
		return err
	}

	if maxSteps > 0 && steps >= maxSteps {
		utils.Warnf("滚动次数达到上限 %d,页面可能是无限滚动", maxSteps)
	}
	utils.Debugf("滚动完成: %d 次, 页面高度 %d", steps, lastHeight)
	return d.states.advance(StateContentSettled)
}

// scrollUntilStable 每次滚动后读取文档高度,连续两次读数相同时停止
// maxSteps为0表示不限次数; 返回滚动次数与最后一次读到的高度
func scrollUntilStable(ctx context.Context, scroll func() error, height func() (int, error), stepDelay time.Duration, maxSteps int) (steps, last int, err error) {
	last, err = height()
	if err != nil {
		return 0, 0, fmt.Errorf("读取页面高度失败: %w", err)
	}

	for maxSteps == 0 || steps < maxSteps {
		if err := scroll(); err != nil {
			return steps, last, fmt.Errorf("滚动页面失败: %w", err)
		}
		steps++

		if err := sleepContext(ctx, stepDelay); err != nil {
			return steps, last, err
		}

		current, err := height()
		if err != nil {
			return steps, last, fmt.Errorf("读取页面高度失败: %w", err)
		}
		if current == last {
			break
		}
		last = current
	}
	return steps, last, nil
}

func documentHeight(p *rod.Page) (int, error) {
	res, err := p.Eval(documentHeightJS)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// EnumerateImageElements 枚举当前上下文中的候选图片: 先全部img,再是标记为图片的组件
func (d *DynamicDriver) EnumerateImageElements(ctx context.Context) (candidates []models.CandidateImage, err error) {
	defer guard("EnumerateImageElements", &err)

	if err := d.states.require(StateNavigated, "EnumerateImageElements"); err != nil {
		return nil, err
	}
	if err := d.states.advance(StateScanning); err != nil {
		return nil, err
	}

	current, name := d.scope.Current()
	d.states.setScope(name)
	p := current.Context(ctx)

	for _, selector := range []string{imageTagSelector, widgetImageSelector} {
		elements, err := p.Elements(selector)
		if err != nil {
			return nil, fmt.Errorf("查询元素失败 [%s]: %w", selector, err)
		}
		for _, el := range elements {
			handle := &rodImage{el: el}
			src, srcErr := handle.Source(ctx)
			if srcErr != nil {
				utils.Debugf("[%s] 读取src失败: %v", name, srcErr)
			}
			candidates = append(candidates, models.CandidateImage{
				Src:    src,
				Frame:  name,
				Order:  len(candidates),
				Handle: handle,
			})
		}
	}

	utils.Debugf("[%s] 发现 %d 个候选图片", name, len(candidates))
	return candidates, nil
}

// EnumerateFrames 枚举主文档中的iframe
func (d *DynamicDriver) EnumerateFrames(ctx context.Context) (frames []FrameHandle, err error) {
	defer guard("EnumerateFrames", &err)

	if err := d.states.require(StateNavigated, "EnumerateFrames"); err != nil {
		return nil, err
	}

	elements, err := d.scope.Top().Context(ctx).Elements(frameSelector)
	if err != nil {
		return nil, fmt.Errorf("查询iframe失败: %w", err)
	}

	for i, el := range elements {
		frame := FrameHandle{Index: i, Name: models.FrameName(i), ref: el}
		if src, attrErr := el.Attribute("src"); attrErr == nil && src != nil {
			frame.URL = strings.TrimSpace(*src)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// WithFrame 进入iframe执行fn,结束后回到主文档
func (d *DynamicDriver) WithFrame(ctx context.Context, frame FrameHandle, fn func() error) (err error) {
	defer guard("WithFrame", &err)

	if err := d.states.require(StateNavigated, "WithFrame"); err != nil {
		return err
	}

	el, ok := frame.ref.(*rod.Element)
	if !ok || el == nil {
		return &models.FrameAccessError{Frame: frame.Name, Cause: errors.New("无效的框架句柄")}
	}

	framePage, err := el.Context(ctx).Frame()
	if err != nil {
		return &models.FrameAccessError{Frame: frame.Name, Cause: err}
	}

	defer d.states.setScope(models.MainFrame)
	return d.scope.enter(frame.Name, framePage, func() error {
		d.states.setScope(frame.Name)
		return fn()
	})
}

// HarvestCookies 导出当前页面可见的Cookie
func (d *DynamicDriver) HarvestCookies(ctx context.Context) (cookies []*http.Cookie, err error) {
	defer guard("HarvestCookies", &err)

	if err := d.states.require(StateNavigated, "HarvestCookies"); err != nil {
		return nil, err
	}

	raw, err := d.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("读取Cookie失败: %w", err)
	}

	cookies = make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies, nil
}

// State 当前驱动状态
func (d *DynamicDriver) State() DriverState {
	return d.states.get()
}

// Close 关闭浏览器并清理用户数据目录,可重复调用
func (d *DynamicDriver) Close() error {
	d.closeOnce.Do(func() {
		d.states.close()

		defer func() {
			if r := recover(); r != nil {
				d.closeErr = fmt.Errorf("关闭浏览器panic: %v", r)
			}
		}()

		if d.browser != nil {
			if err := d.browser.Close(); err != nil {
				d.closeErr = fmt.Errorf("关闭浏览器失败: %w", err)
			}
		}
		if d.launcher != nil {
			d.launcher.Kill()
			d.launcher.Cleanup()
		}
		utils.Debugf("浏览器已关闭")
	})
	return d.closeErr
}

// rodImage 浏览器中的图片元素
type rodImage struct {
	el *rod.Element
}

// ScrollIntoView 把元素滚入视口,触发懒加载
func (i *rodImage) ScrollIntoView(ctx context.Context) (err error) {
	defer guard("ScrollIntoView", &err)
	return i.el.Context(ctx).ScrollIntoView()
}

// Source 读取src属性(浏览器已解析为绝对地址),为空时回退到data-src
func (i *rodImage) Source(ctx context.Context) (src string, err error) {
	defer guard("Source", &err)

	el := i.el.Context(ctx)
	prop, err := el.Property("src")
	if err == nil {
		if s, ok := prop.Val().(string); ok {
			src = strings.TrimSpace(s)
		}
	}
	if src == "" {
		// 非img元素没有src属性,读取HTML属性
		if attr, attrErr := el.Attribute("src"); attrErr == nil && attr != nil {
			src = strings.TrimSpace(*attr)
		}
	}
	if src == "" {
		if attr, attrErr := el.Attribute("data-src"); attrErr == nil && attr != nil {
			src = strings.TrimSpace(*attr)
		}
	}
	if src == "" && err != nil {
		return "", err
	}
	return src, nil
}
