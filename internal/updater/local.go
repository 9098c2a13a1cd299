package updater

import (
	"context"

	"github.com/offline-hub/offline-hub/internal/lifecycle"
)

// LocalRegistration 直接包装进程内的 lifecycle.Runtime。
type LocalRegistration struct {
	runtime *lifecycle.Runtime
}

// NewLocalRegistration 包装 runtime。
func NewLocalRegistration(runtime *lifecycle.Runtime) *LocalRegistration {
	return &LocalRegistration{runtime: runtime}
}

// Register 实现 Registration。
func (l *LocalRegistration) Register(ctx context.Context) error {
	return l.runtime.Register(ctx)
}

// Controller 实现 Registration。
func (l *LocalRegistration) Controller(context.Context) (uint64, error) {
	if active := l.runtime.Active(); active != nil {
		return active.ID(), nil
	}
	return 0, nil
}

// Events 订阅 runtime 事件，ctx 结束时取消订阅。
func (l *LocalRegistration) Events(ctx context.Context) (<-chan lifecycle.Event, error) {
	events, cancel := l.runtime.Subscribe()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return events, nil
}

// PostMessage 实现 Registration。
func (l *LocalRegistration) PostMessage(ctx context.Context, generation uint64, msg lifecycle.Message) error {
	return l.runtime.PostMessage(ctx, generation, msg)
}
