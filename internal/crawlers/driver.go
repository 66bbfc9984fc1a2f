package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

const (
	// imagePresenceSelector 等待阶段判断页面是否已有图片元素
	imagePresenceSelector = `img, [data-gjs-type="image"]`

	// imageTagSelector / widgetImageSelector 枚举阶段先取全部img,再取被标记为图片的非img组件
	imageTagSelector    = "img"
	widgetImageSelector = `[data-gjs-type="image"]:not(img)`

	frameSelector = "iframe"
)

// PageDriver 页面驱动能力
// 编排器只依赖此接口,动态(浏览器)与静态(HTTP+HTML)实现可互换
type PageDriver interface {
	// Open 导航到页面,不可达时返回 *models.NavigationError
	Open(ctx context.Context, pageURL string) error

	// AwaitImagesPresent 轮询直到至少存在一个图片元素,超时返回 *models.TimeoutError
	AwaitImagesPresent(ctx context.Context, timeout time.Duration) error

	// AutoScrollToBottom 反复滚动到底部,文档高度连续两次不变时停止
	// maxSteps 为0表示不限制滚动次数
	AutoScrollToBottom(ctx context.Context, stepDelay time.Duration, maxSteps int) error

	// EnumerateImageElements 按文档顺序枚举当前上下文(主文档或当前子框架)中的候选图片
	EnumerateImageElements(ctx context.Context) ([]models.CandidateImage, error)

	// EnumerateFrames 枚举主文档中的子框架
	EnumerateFrames(ctx context.Context) ([]FrameHandle, error)

	// WithFrame 进入子框架执行fn,无论fn是否失败都回到主文档
	WithFrame(ctx context.Context, frame FrameHandle, fn func() error) error

	// HarvestCookies 导出当前会话的Cookie(仅name/value)
	HarvestCookies(ctx context.Context) ([]*http.Cookie, error)

	// State 当前驱动状态
	State() DriverState

	// Close 释放浏览器等资源,可重复调用
	Close() error
}

// FrameHandle 子框架句柄
type FrameHandle struct {
	Index int
	Name  string // models.FrameName(Index)
	URL   string // iframe的src,可能为空

	ref interface{} // 具体驱动持有的框架对象
}

// DriverState 驱动状态
type DriverState int

const (
	StateCreated DriverState = iota
	StateNavigated
	StateContentSettled
	StateScanning
	StateClosed
)

func (s DriverState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateNavigated:
		return "navigated"
	case StateContentSettled:
		return "content_settled"
	case StateScanning:
		return "scanning"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// stateMachine 记录驱动状态; Closed 是终态,任何状态都可以进入
type stateMachine struct {
	mu    sync.Mutex
	state DriverState
	scope string // Scanning 状态下的上下文: main 或 frame[i]
}

func (m *stateMachine) get() DriverState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// advance 前进到目标状态,不允许回退,已关闭时返回错误
func (m *stateMachine) advance(to DriverState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return fmt.Errorf("驱动已关闭,无法进入 %s 状态", to)
	}
	if to < m.state {
		return fmt.Errorf("非法的状态转换: %s -> %s", m.state, to)
	}
	if to != m.state {
		utils.Debugf("页面驱动状态: %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

// require 要求当前状态不早于 min 且未关闭
func (m *stateMachine) require(min DriverState, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return fmt.Errorf("%s: 驱动已关闭", op)
	}
	if m.state < min {
		return fmt.Errorf("%s: 需要先进入 %s 状态,当前为 %s", op, min, m.state)
	}
	return nil
}

func (m *stateMachine) setScope(scope string) {
	m.mu.Lock()
	m.scope = scope
	m.mu.Unlock()
}

// close 进入终态,返回之前是否已关闭
func (m *stateMachine) close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.state == StateClosed
	m.state = StateClosed
	return was
}

// sleepContext 可被取消的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
