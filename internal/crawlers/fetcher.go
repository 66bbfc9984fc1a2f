package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

const (
	ctxKeyStatus   = "status"
	ctxKeyBody     = "body"
	ctxKeyEncoding = "encoding"
)

// ErrBodyTooLarge 响应体超过下载上限
var ErrBodyTooLarge = errors.New("响应体超过大小上限")

// FetcherConfig 资源下载配置
type FetcherConfig struct {
	Timeout            time.Duration // 单次请求超时,0表示使用colly默认值
	Delay              time.Duration // 相邻请求之间的间隔
	MaxBodySize        int           // 响应体上限(字节)
	InsecureSkipVerify bool          // 跳过TLS证书校验
}

// DefaultFetcherConfig 默认下载配置
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:     30 * time.Second,
		MaxBodySize: models.MaxImageSize,
	}
}

// ResourceFetcher 图片资源下载器
// 每个资源只请求一次,按顺序执行,携带浏览器会话的Cookie和固定头部画像
type ResourceFetcher struct {
	collector      *colly.Collector
	headerProvider models.HeaderProvider
	redactor       *utils.Redactor
	maxBodySize    int
}

// NewResourceFetcher 创建下载器
func NewResourceFetcher(ctx context.Context, cfg FetcherConfig, headerProvider models.HeaderProvider) (*ResourceFetcher, error) {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	)

	// Cookie由调用方按浏览器会话原样提供,不使用colly的Cookie jar
	c.DisableCookies()

	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	})
	if cfg.InsecureSkipVerify {
		utils.Debugf("下载器: TLS证书验证已禁用")
	}

	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	// colly到达上限后静默截断,多读一个字节才能区分"恰好等于上限"和"被截断"
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize + 1
	}

	// 顺序下载,不并发
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("设置下载限速失败: %w", err)
	}

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		r.Ctx.Put(ctxKeyBody, r.Body)
		r.Ctx.Put(ctxKeyEncoding, r.Headers.Get("Content-Encoding"))
	})

	if headerProvider != nil {
		headers, err := headerProvider.GetHeaders()
		if err != nil {
			return nil, fmt.Errorf("获取请求头失败: %w", err)
		}
		utils.Debugf("下载请求头画像: %s", utils.NewRedactor().String(headers))
	}

	return &ResourceFetcher{
		collector:      c,
		headerProvider: headerProvider,
		redactor:       utils.NewRedactor(),
		maxBodySize:    cfg.MaxBodySize,
	}, nil
}

// Fetch 下载单个资源
// 非200状态码或传输错误返回 *models.FetchError,状态码仍会返回
func (f *ResourceFetcher) Fetch(ctx context.Context, resourceURL, refererURL string, cookies []*http.Cookie) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, &models.FetchError{URL: resourceURL, Cause: err}
	}

	parsed, err := url.Parse(resourceURL)
	if err != nil {
		return 0, nil, &models.FetchError{URL: resourceURL, Cause: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return 0, nil, &models.FetchError{URL: resourceURL, Cause: fmt.Errorf("不支持的协议: %s", parsed.Scheme)}
	}

	hdr, err := f.requestHeaders(refererURL, cookies)
	if err != nil {
		return 0, nil, &models.FetchError{URL: resourceURL, Cause: err}
	}

	// 请求头带有会话Cookie,日志中只保留Cookie名称
	utils.Debugf("GET %s [%s]", resourceURL, f.redactor.String(hdr))

	reqCtx := colly.NewContext()
	if err := f.collector.Request(http.MethodGet, resourceURL, nil, reqCtx, hdr); err != nil {
		return 0, nil, &models.FetchError{URL: resourceURL, Cause: err}
	}

	status, _ := reqCtx.GetAny(ctxKeyStatus).(int)
	body, _ := reqCtx.GetAny(ctxKeyBody).([]byte)
	encoding, _ := reqCtx.GetAny(ctxKeyEncoding).(string)

	if status != http.StatusOK {
		return status, nil, &models.FetchError{URL: resourceURL, StatusCode: status}
	}
	// 截断的图片头部仍可解码出尺寸,不能交给尺寸过滤
	if f.maxBodySize > 0 && len(body) > f.maxBodySize {
		return status, nil, &models.FetchError{
			URL:   resourceURL,
			Cause: fmt.Errorf("%w: 超过 %d 字节", ErrBodyTooLarge, f.maxBodySize),
		}
	}

	decoded, err := decodeBody(encoding, body)
	if err != nil {
		// 解压失败时保留原始数据,交给尺寸过滤判断
		utils.Warnf("解压响应失败 [%s] (编码=%s): %v", resourceURL, encoding, err)
		decoded = body
	}

	return status, decoded, nil
}

// requestHeaders 组装单次请求头: 固定画像 + Referer/Origin + 会话Cookie
func (f *ResourceFetcher) requestHeaders(refererURL string, cookies []*http.Cookie) (http.Header, error) {
	hdr := make(http.Header)
	if f.headerProvider != nil {
		profile, err := f.headerProvider.GetHeaders()
		if err != nil {
			return nil, err
		}
		for name, values := range profile {
			if len(values) > 0 {
				hdr.Set(name, values[0])
			}
		}
	}

	hdr.Set("Referer", refererURL)
	if origin := originOf(refererURL); origin != "" {
		hdr.Set("Origin", origin)
	}
	if cookie := cookieHeader(cookies); cookie != "" {
		hdr.Set("Cookie", cookie)
	}
	return hdr, nil
}

// originOf 返回页面URL的主机部分(host[:port])
func originOf(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// cookieHeader 按采集到的 name=value 原样拼接,不做域/路径过滤
func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// decodeBody 根据Content-Encoding解压响应体
// colly会自行解开gzip,因此gzip只在数据仍带gzip魔数时处理
func decodeBody(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip", "x-gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return readAll(reader, "gzip")

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return readAll(reader, "deflate")

	case "br":
		return readAll(brotli.NewReader(bytes.NewReader(body)), "brotli")

	default:
		return body, nil
	}
}

func readAll(r io.Reader, name string) ([]byte, error) {
	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s读取失败: %w", name, err)
	}
	return decompressed, nil
}
