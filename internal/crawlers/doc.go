// Package crawlers 提供单页图片抓取所需的页面驱动与资源处理组件
//
// # 概述
//
// crawlers包把"打开页面 -> 触发懒加载 -> 枚举图片元素 -> 下载 -> 尺寸过滤"拆成可独立测试的组件,
// 由core包的编排器按顺序调用。所有操作都是顺序执行的,不做并发下载。
//
// # 核心组件
//
// ## PageDriver
//
// 页面驱动接口,两种实现:
//   - DynamicDriver: 基于go-rod驱动真实浏览器,执行JavaScript、滚动页面、进入iframe
//   - StaticDriver: 基于Colly获取HTML、goquery查询元素,不执行JavaScript
//
// 状态机: Created -> Navigated -> ContentSettled -> Scanning -> Closed,
// 任何状态都可以直接进入Closed。
//
//	driver := NewDynamicDriver(browserConfig)
//	defer driver.Close()
//
//	if err := driver.Open(ctx, pageURL); err != nil {
//	    return err // *models.NavigationError
//	}
//	_ = driver.AwaitImagesPresent(ctx, 20*time.Second)
//	_ = driver.AutoScrollToBottom(ctx, 2*time.Second, 50)
//
// 子框架通过 WithFrame 进入,无论回调成功、失败还是panic,返回时都已回到主文档:
//
//	frames, _ := driver.EnumerateFrames(ctx)
//	for _, f := range frames {
//	    err := driver.WithFrame(ctx, f, func() error {
//	        candidates, err := driver.EnumerateImageElements(ctx)
//	        ...
//	    })
//	}
//
// ## ResourceFetcher
//
// 基于Colly的图片下载器,每个资源只请求一次。请求头由固定画像(HeaderProvider)、
// Referer/Origin(页面URL)和浏览器会话Cookie(原样转发name=value)组成,
// 支持gzip/deflate/brotli响应解压。非200状态码返回 *models.FetchError。
//
// ## Gatekeeper
//
// 只解码图片头部读取像素尺寸,两个维度都不小于阈值时通过。
// 支持 PNG/JPEG/GIF 以及 golang.org/x/image 提供的 WebP/BMP/TIFF,
// 无法解码的数据(含SVG)视为不通过。
//
// ## URL处理
//
//	Resolve("https://shop.example.com/p/1", "//cdn.example.com/a.png") // https://cdn.example.com/a.png
//	SanitizeFileName("https://cdn.example.com/x/photo.jpg?w=200")     // photo.jpg
//	CleanFileName("a/b:c*.png")                                        // abc.png
//
// 清理后为空的文件名使用 image_<URL哈希前12位> 占位。
//
// ## CheckResources
//
// 启动浏览器前使用gopsutil采集内存与CPU快照,资源紧张时只告警不阻止运行。
package crawlers
