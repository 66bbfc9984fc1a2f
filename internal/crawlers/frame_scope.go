package crawlers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

// frameScope 维护当前查询上下文(主文档或某个子框架)
// enter 返回时上下文一定已恢复到主文档,包括fn返回错误或panic的情况
type frameScope[T any] struct {
	mu      sync.Mutex
	top     T
	current T
	name    string
	inside  bool
}

func newFrameScope[T any](top T) *frameScope[T] {
	return &frameScope[T]{top: top, current: top, name: models.MainFrame}
}

// Current 返回当前上下文及其名称
func (s *frameScope[T]) Current() (T, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.name
}

// Top 返回主文档上下文
func (s *frameScope[T]) Top() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.top
}

// SetTop 替换主文档上下文(重新导航后使用)
func (s *frameScope[T]) SetTop(top T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.top = top
	if !s.inside {
		s.current = top
	}
}

// enter 切换到子框架执行fn,不支持嵌套进入; fn的错误统一包装为 *models.FrameAccessError
func (s *frameScope[T]) enter(name string, frame T, fn func() error) (err error) {
	s.mu.Lock()
	if s.inside {
		current := s.name
		s.mu.Unlock()
		return &models.FrameAccessError{Frame: name, Cause: fmt.Errorf("已处于子框架 %s 中", current)}
	}
	s.current, s.name, s.inside = frame, name, true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.current, s.name, s.inside = s.top, models.MainFrame, false
		s.mu.Unlock()
		utils.Debugf("已从 %s 切回主文档", name)
	}()

	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("子框架处理panic [%s]: %v", name, r)
			err = &models.FrameAccessError{Frame: name, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err = fn(); err != nil {
		var frameErr *models.FrameAccessError
		if !errors.As(err, &frameErr) {
			err = &models.FrameAccessError{Frame: name, Cause: err}
		}
	}
	return err
}
