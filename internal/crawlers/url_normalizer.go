package crawlers

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/RecoveryAshes/imgharvest/internal/models"
)

const (
	// illegalFileNameChars 文件名中不允许出现的字符
	illegalFileNameChars = `\/*?:"<>|`

	// maxFileNameBytes 留出序号前缀的空间,多数文件系统单个文件名上限为255字节
	maxFileNameBytes = 200

	placeholderPrefix = "image_"
)

// Resolve 将图片src(可能是相对路径、协议相对或绝对地址)解析为绝对URL
func Resolve(pageURL, rawSrc string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", &models.InvalidURLError{Raw: pageURL, Cause: err}
	}

	ref, err := url.Parse(strings.TrimSpace(rawSrc))
	if err != nil {
		return "", &models.InvalidURLError{Raw: rawSrc, Cause: err}
	}

	abs := base.ResolveReference(ref)
	if abs.Scheme == "" {
		return "", &models.InvalidURLError{Raw: rawSrc, Cause: fmt.Errorf("解析结果缺少协议")}
	}

	return abs.String(), nil
}

// CleanFileName 去掉查询串并删除非法字符
//
//	"photo.jpg?w=200" -> "photo.jpg"
//	"a/b:c*.png"      -> "abc.png"
func CleanFileName(name string) string {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(illegalFileNameChars, r) || r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// SanitizeFileName 由资源绝对URL生成安全的文件名
// 取URL路径的最后一段,清理后为空时返回基于URL哈希的占位名,结果永不为空
func SanitizeFileName(absoluteURL string) string {
	name := CleanFileName(lastPathSegment(absoluteURL))
	name = truncateFileName(name)

	if name == "" || name == "." || name == ".." {
		sum := sha256.Sum256([]byte(absoluteURL))
		return fmt.Sprintf("%s%x", placeholderPrefix, sum[:6])
	}
	return name
}

// lastPathSegment 取URL路径最后一段,无法解析时按字符串切分
func lastPathSegment(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Opaque != "" {
		segment := rawURL[strings.LastIndex(rawURL, "/")+1:]
		if i := strings.IndexByte(segment, '#'); i >= 0 {
			segment = segment[:i]
		}
		return segment
	}
	return parsed.Path[strings.LastIndex(parsed.Path, "/")+1:]
}

// truncateFileName 超长文件名保留扩展名截断
func truncateFileName(name string) string {
	if len(name) <= maxFileNameBytes {
		return name
	}

	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	base := name[:maxFileNameBytes-len(ext)]
	for !utf8.ValidString(base) {
		base = base[:len(base)-1]
	}
	return base + ext
}
