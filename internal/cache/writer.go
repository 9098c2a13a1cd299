package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrStoreUnavailable 表示当前写入器未注入存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// defaultWriteTimeout 限制单次后台写入的耗时。
const defaultWriteTimeout = 30 * time.Second

// SideEffect 表示一次已脱离请求路径的缓存写入。生产代码无需等待，
// 测试可以调用 Wait 断言缓存状态。
type SideEffect struct {
	done chan struct{}
	err  error
}

// Wait 阻塞到写入完成或 ctx 结束，返回写入错误（nil SideEffect 直接返回 nil）。
func (s *SideEffect) Wait(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done 返回写入完成时关闭的 channel。
func (s *SideEffect) Done() <-chan struct{} {
	if s == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Writer 负责“克隆 + 后台写入”，任何失败只记录日志与指标，不影响响应返回。
type Writer struct {
	storage Storage
	logger  *logrus.Logger
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

// NewWriter 构造后台写入器，默认使用 time.Now 作为时钟。
func NewWriter(storage Storage, logger *logrus.Logger) *Writer {
	return &Writer{
		storage: storage,
		logger:  logger,
		timeout: defaultWriteTimeout,
		now:     time.Now,
	}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w *Writer) Enabled() bool {
	return w != nil && w.storage != nil
}

// Store 克隆 resp 并在独立 goroutine 中写入 partition。调用方持有的 resp 不会被修改。
func (w *Writer) Store(partition string, key Key, resp *Response) *SideEffect {
	effect := &SideEffect{done: make(chan struct{})}
	if !w.Enabled() {
		effect.err = ErrStoreUnavailable
		close(effect.done)
		return effect
	}

	snapshot := resp.Clone()
	if snapshot != nil {
		snapshot.StoredAt = w.now().UTC()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(effect.done)
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		effect.err = w.put(ctx, partition, key, snapshot)
		recordWrite(KindOf(partition), effect.err == nil)
		if effect.err != nil && w.logger != nil {
			w.logger.WithError(effect.err).WithFields(logrus.Fields{
				"action":    "cache_put",
				"partition": partition,
				"key":       key.String(),
			}).Warn("cache_write_failed")
		}
	}()
	return effect
}

func (w *Writer) put(ctx context.Context, partition string, key Key, resp *Response) error {
	p, err := w.storage.Open(ctx, partition)
	if err != nil {
		return err
	}
	return p.Put(ctx, key, resp)
}

// Flush 等待所有已发起的后台写入结束，用于优雅退出。
func (w *Writer) Flush(ctx context.Context) error {
	if w == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
