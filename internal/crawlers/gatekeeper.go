package crawlers

import (
	"bytes"
	"image"

	// 注册解码器,DecodeConfig只读取头部即可得到尺寸
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/RecoveryAshes/imgharvest/internal/models"
)

// Gatekeeper 图片尺寸过滤器
// 最小宽高为0表示该维度不限制
type Gatekeeper struct {
	MinWidth  int
	MinHeight int
}

// NewGatekeeper 创建尺寸过滤器
func NewGatekeeper(minWidth, minHeight int) *Gatekeeper {
	return &Gatekeeper{MinWidth: minWidth, MinHeight: minHeight}
}

// Dimensions 读取图片的像素宽高
func Dimensions(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", &models.DecodeError{Cause: err}
	}
	return cfg.Width, cfg.Height, format, nil
}

// Accepts 判断给定尺寸是否满足阈值
func (g *Gatekeeper) Accepts(width, height int) bool {
	return width >= g.MinWidth && height >= g.MinHeight
}

// Inspect 解码并判断,返回尺寸供日志与报告使用
// 解码失败时 ok=false 且 err 为 *models.DecodeError
func (g *Gatekeeper) Inspect(data []byte) (width, height int, ok bool, err error) {
	width, height, _, err = Dimensions(data)
	if err != nil {
		return 0, 0, false, err
	}
	return width, height, g.Accepts(width, height), nil
}
