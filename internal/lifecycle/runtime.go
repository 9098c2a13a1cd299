package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/metrics"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/strategy"
	"github.com/offline-hub/offline-hub/internal/version"
)

// eventBuffer 是单个订阅者的事件缓冲，写满后新事件被丢弃并记录日志。
const eventBuffer = 32

// Snapshot 是注册状态的只读视图。
type Snapshot struct {
	Active     *GenerationInfo `json:"active,omitempty"`
	Waiting    *GenerationInfo `json:"waiting,omitempty"`
	Installing *GenerationInfo `json:"installing,omitempty"`
	Partitions []string        `json:"partitions"`
	CheckedAt  time.Time       `json:"checked_at,omitempty"`
}

// Runtime 持有当前注册的全部代，并实现 proxy.Dispatcher。
type Runtime struct {
	deps     Dependencies
	interval time.Duration
	logger   *logrus.Logger

	// updateMu 串行化 install/activate，避免两次更新交错。
	updateMu sync.Mutex

	mu          sync.RWMutex
	seq         uint64
	installing  *Controller
	waiting     *Controller
	active      *Controller
	lastChecked time.Time
	subscribers map[int]chan Event
	nextSub     int
}

// NewRuntime 创建 Runtime。interval 为 0 时不做周期性更新检查。
func NewRuntime(deps Dependencies, interval time.Duration) (*Runtime, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	for _, state := range States() {
		metrics.Generations.WithLabelValues(string(state)).Add(0)
	}
	return &Runtime{
		deps:        deps,
		interval:    interval,
		logger:      deps.Logger,
		subscribers: make(map[int]chan Event),
	}, nil
}

// Subscribe 注册事件订阅，返回的 cancel 会关闭 channel。
func (r *Runtime) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(sub)
		}
	}
}

func (r *Runtime) publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- evt:
		default:
			r.logger.WithFields(logrus.Fields{
				"action": "lifecycle_event",
				"type":   evt.Type,
			}).Warn("event_dropped")
		}
	}
}

// Active 返回当前生效的代。
func (r *Runtime) Active() *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting 返回已安装、等待激活的代。
func (r *Runtime) Waiting() *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Register 在没有生效代时完成首次安装与激活；已有生效代时等价于 Update。
func (r *Runtime) Register(ctx context.Context) error {
	_, err := r.Update(ctx)
	return err
}

// Update 解析部署版本，与生效代不同（或尚无生效代）时安装新代。返回是否发生了安装。
//
// 版本解析回落到兜底值说明后端不可达：已有生效代时保持不动；尚无生效代（例如离线重启）
// 时接管存储中最近写入的版本，只有存储里没有任何受管分区时才安装兜底版本。
func (r *Runtime) Update(ctx context.Context) (bool, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	tag, resolved := r.deps.Resolver.Lookup(ctx)
	r.mu.Lock()
	r.lastChecked = time.Now().UTC()
	current := r.active
	r.mu.Unlock()

	if current != nil && current.Version() == tag.String() {
		return false, nil
	}
	if !resolved {
		if current != nil {
			r.logger.WithFields(logging.GenerationFields("lifecycle_update", current.ID(), current.Version(), string(current.State()))).
				WithField("fallback", tag.String()).
				Info("version_unresolved_keep_active")
			return false, nil
		}
		restored, err := r.restore(ctx)
		if err != nil {
			return false, err
		}
		if restored {
			return false, nil
		}
	}
	if err := r.install(ctx, tag, resolved); err != nil {
		return false, err
	}
	return true, nil
}

// restore 以存储中最近写入的版本直接激活一代，不清理任何分区。没有可接管的版本时返回 false。
func (r *Runtime) restore(ctx context.Context) (bool, error) {
	tag, err := cache.LatestTag(ctx, r.deps.Storage)
	if err != nil {
		return false, fmt.Errorf("inspect persisted partitions: %w", err)
	}
	if tag == "" {
		return false, nil
	}

	r.mu.Lock()
	r.seq++
	id := r.seq
	r.mu.Unlock()

	ctrl, err := NewController(id, r.deps)
	if err != nil {
		return false, err
	}
	ctrl.onState = r.onStateChange
	if err := ctrl.Restore(ctx, tag); err != nil {
		ctrl.MarkRedundant()
		return false, fmt.Errorf("restore generation %d: %w", id, err)
	}

	r.mu.Lock()
	previous := r.active
	r.active = ctrl
	r.mu.Unlock()
	if previous != nil && previous != ctrl {
		previous.MarkRedundant()
	}

	r.publish(Event{
		Type:       EventControllerChange,
		Generation: ctrl.ID(),
		Version:    ctrl.Version(),
		State:      StateActivated,
	})
	r.logger.WithFields(logging.GenerationFields("lifecycle_restore", ctrl.ID(), ctrl.Version(), string(StateActivated))).
		Info("generation_restored")
	return true, nil
}

// install 安装新代。resolved 为 true 时 tag 来自后端，install 期间再次解析失败也沿用它。
func (r *Runtime) install(ctx context.Context, tag version.Tag, resolved bool) error {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.mu.Unlock()

	ctrl, err := NewController(id, r.deps)
	if err != nil {
		return err
	}
	ctrl.onState = r.onStateChange
	if resolved {
		ctrl.target = tag
	}

	r.mu.Lock()
	r.installing = ctrl
	r.mu.Unlock()
	r.publish(Event{Type: EventUpdateFound, Generation: id, State: StateInstalling})

	if _, err := ctrl.Install(ctx); err != nil {
		r.mu.Lock()
		r.installing = nil
		r.mu.Unlock()
		ctrl.MarkRedundant()
		return fmt.Errorf("install generation %d: %w", id, err)
	}

	r.mu.Lock()
	r.installing = nil
	previousWaiting := r.waiting
	r.waiting = ctrl
	r.mu.Unlock()
	if previousWaiting != nil {
		previousWaiting.MarkRedundant()
	}

	if ctrl.SkipWaitingRequested() {
		return r.activate(ctx, ctrl)
	}
	return nil
}

// activate 激活等待中的代，旧代转为 redundant，随后接管所有客户端。
func (r *Runtime) activate(ctx context.Context, ctrl *Controller) error {
	r.mu.RLock()
	isWaiting := r.waiting == ctrl
	r.mu.RUnlock()
	if !isWaiting {
		return nil
	}

	err := ctrl.Activate(ctx)

	r.mu.Lock()
	previous := r.active
	r.active = ctrl
	if r.waiting == ctrl {
		r.waiting = nil
	}
	r.mu.Unlock()

	if previous != nil && previous != ctrl {
		previous.MarkRedundant()
	}
	r.publish(Event{
		Type:       EventControllerChange,
		Generation: ctrl.ID(),
		Version:    ctrl.Version(),
		State:      StateActivated,
	})
	r.logger.WithFields(logging.GenerationFields("lifecycle_claim", ctrl.ID(), ctrl.Version(), string(StateActivated))).
		Info("generation_activated")
	return err
}

func (r *Runtime) onStateChange(ctrl *Controller, state State) {
	r.publish(Event{
		Type:       EventStateChange,
		Generation: ctrl.ID(),
		Version:    ctrl.Version(),
		State:      state,
	})
}

// PostMessage 向指定代发送控制消息；generation 为 0 时优先选择等待中的代，其次是生效代。
func (r *Runtime) PostMessage(ctx context.Context, generation uint64, msg Message) error {
	target := r.lookup(generation)
	if target == nil {
		return fmt.Errorf("%w: %d", ErrUnknownGeneration, generation)
	}
	if err := target.Message(ctx, msg); err != nil {
		return err
	}
	if msg != MessageSkipWaiting {
		return nil
	}

	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	return r.activate(ctx, target)
}

func (r *Runtime) lookup(generation uint64) *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	candidates := []*Controller{r.waiting, r.active, r.installing}
	if generation == 0 {
		for _, c := range candidates {
			if c != nil {
				return c
			}
		}
		return nil
	}
	for _, c := range candidates {
		if c != nil && c.ID() == generation {
			return c
		}
	}
	return nil
}

// Fetch 实现 proxy.Dispatcher。没有生效代时请求直接走网络，不读写缓存。
func (r *Runtime) Fetch(ctx context.Context, req *strategy.Request) (proxy.Outcome, error) {
	if active := r.Active(); active != nil {
		return active.Fetch(ctx, req)
	}

	kind := r.deps.Classifier.Classify(req)
	if kind == strategy.KindIgnore {
		return proxy.Outcome{Strategy: kind}, proxy.ErrIgnored
	}
	resp, err := r.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return proxy.Outcome{Strategy: strategy.KindPassthrough}, err
	}
	return proxy.Outcome{
		Result:   proxy.Result{Response: resp, Source: proxy.SourceNetwork},
		Strategy: strategy.KindPassthrough,
	}, nil
}

// Snapshot 返回注册状态与现存分区列表。
func (r *Runtime) Snapshot(ctx context.Context) (Snapshot, error) {
	r.mu.RLock()
	snap := Snapshot{CheckedAt: r.lastChecked}
	if r.active != nil {
		info := r.active.Info()
		snap.Active = &info
	}
	if r.waiting != nil {
		info := r.waiting.Info()
		snap.Waiting = &info
	}
	if r.installing != nil {
		info := r.installing.Info()
		snap.Installing = &info
	}
	r.mu.RUnlock()

	names, err := r.deps.Storage.Names(ctx)
	if err != nil {
		return snap, err
	}
	snap.Partitions = names
	if snap.Partitions == nil {
		snap.Partitions = []string{}
	}
	return snap, nil
}

// Start 完成首次注册，然后按 interval 周期检查更新，直到 ctx 结束。
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Register(ctx); err != nil {
		r.logger.WithError(err).WithField("action", "lifecycle_register").Error("register_failed")
	}
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Update(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.WithError(err).WithField("action", "lifecycle_update").Warn("update_failed")
			}
		}
	}
}

// Close 关闭所有事件订阅。
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subscribers {
		delete(r.subscribers, id)
		close(ch)
	}
}
