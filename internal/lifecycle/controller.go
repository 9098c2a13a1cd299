package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
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

// Dependencies 汇总单个代运行所需的协作方，由 Runtime 共享给所有代。
type Dependencies struct {
	Resolver   VersionResolver
	Storage    cache.Storage
	Engine     *proxy.Engine
	Fetcher    proxy.Fetcher
	Classifier strategy.Classifier
	// Precache 是 install 阶段逐个写入 page 分区的绝对 URL。
	Precache []string
	// PrecacheTimeout 限制单个预缓存条目的网络耗时。
	PrecacheTimeout time.Duration
	Logger          *logrus.Logger
}

func (d Dependencies) validate() error {
	switch {
	case d.Resolver == nil:
		return errors.New("version resolver is required")
	case d.Storage == nil:
		return errors.New("cache storage is required")
	case d.Engine == nil:
		return errors.New("strategy engine is required")
	case d.Fetcher == nil:
		return errors.New("fetcher is required")
	}
	return nil
}

// PrecacheReport 记录 install 阶段的预缓存结果。
type PrecacheReport struct {
	Stored  []string          `json:"stored"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

// Controller 表示一个 worker 代。namespace 仅在 install/activate 中重算，
// fetch 期间只读。
type Controller struct {
	id   uint64
	deps Dependencies

	// target 是 Runtime 触发安装时已解析到的版本，install 期间后端不可达时沿用它。
	target version.Tag

	mu    sync.RWMutex
	state State
	ns    cache.Namespace
	// resolved 表示 ns 的版本来自后端而非兜底值；只有 resolved 的命名空间才会驱动清理。
	resolved    bool
	skipWaiting bool
	installedAt time.Time
	activatedAt time.Time
	precache    PrecacheReport

	onState func(*Controller, State)
}

// NewController 创建处于 idle 状态的代。
func NewController(id uint64, deps Dependencies) (*Controller, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	metrics.Generations.WithLabelValues(string(StateIdle)).Inc()
	return &Controller{id: id, deps: deps, state: StateIdle}, nil
}

// ID 返回代编号。
func (c *Controller) ID() uint64 {
	return c.id
}

// State 返回当前状态。
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Namespace 返回当前分区命名空间。
func (c *Controller) Namespace() cache.Namespace {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ns
}

// Version 返回该代解析到的版本。
func (c *Controller) Version() string {
	return c.Namespace().Tag()
}

// SkipWaitingRequested 表示该代在 install 后是否要求立即激活。
func (c *Controller) SkipWaitingRequested() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skipWaiting
}

// Install 解析版本并逐条预缓存页面。单条失败只会被跳过；只有 page 分区无法打开时
// install 才失败，此时该代进入 redundant。
func (c *Controller) Install(ctx context.Context) (PrecacheReport, error) {
	c.setState(StateInstalling)

	tag, ok := c.deps.Resolver.Lookup(ctx)
	if !ok && c.target != "" {
		tag, ok = c.target, true
	}
	ns := cache.NewNamespace(tag.String())
	c.mu.Lock()
	c.ns = ns
	c.resolved = ok
	c.mu.Unlock()

	partition, err := c.deps.Storage.Open(ctx, ns.Page())
	if err != nil {
		c.setState(StateRedundant)
		return PrecacheReport{}, fmt.Errorf("open page partition %s: %w", ns.Page(), err)
	}

	report := c.precacheAll(ctx, partition)

	c.mu.Lock()
	c.precache = report
	c.skipWaiting = true
	c.installedAt = time.Now().UTC()
	c.mu.Unlock()

	c.setState(StateInstalled)
	return report, nil
}

func (c *Controller) precacheAll(ctx context.Context, partition cache.Partition) PrecacheReport {
	report := PrecacheReport{Skipped: map[string]string{}}
	for _, raw := range c.deps.Precache {
		if err := c.precacheOne(ctx, partition, raw); err != nil {
			report.Skipped[raw] = err.Error()
			metrics.PrecacheEntries.WithLabelValues("skipped").Inc()
			c.deps.Logger.WithError(err).WithFields(logrus.Fields{
				"action":     "precache",
				"generation": c.id,
				"url":        raw,
			}).Warn("precache_entry_skipped")
			continue
		}
		report.Stored = append(report.Stored, raw)
		metrics.PrecacheEntries.WithLabelValues("stored").Inc()
	}
	return report
}

// precacheOne 语义与 cache.add 一致：必须拿到 200 才写入。
func (c *Controller) precacheOne(ctx context.Context, partition cache.Partition, raw string) error {
	target, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if c.deps.PrecacheTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deps.PrecacheTimeout)
		defer cancel()
	}
	req := &strategy.Request{
		Method:      http.MethodGet,
		URL:         target,
		Mode:        strategy.ModeNavigate,
		Destination: "document",
		Header:      http.Header{"Accept": {"text/html"}},
	}
	resp, err := c.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	snapshot := resp.Clone()
	snapshot.StoredAt = time.Now().UTC()
	return partition.Put(ctx, cache.NewKey(http.MethodGet, target.String()), snapshot)
}

// Activate 重新解析版本、清理旧分区，并确保当前版本的三个分区都已存在。
// 后端不可达时沿用 install 时的命名空间；命名空间来自兜底版本时不做清理，
// 离线期间已有缓存不会被删掉。清理或建分区失败只记录日志。
func (c *Controller) Activate(ctx context.Context) error {
	c.setState(StateActivating)

	tag, ok := c.deps.Resolver.Lookup(ctx)
	c.mu.Lock()
	switch {
	case ok:
		c.ns = cache.NewNamespace(tag.String())
		c.resolved = true
	case c.ns.Tag() != "":
		// 保持 install 阶段的命名空间。
	case c.target != "":
		c.ns = cache.NewNamespace(c.target.String())
		c.resolved = true
	default:
		c.ns = cache.NewNamespace(tag.String())
		c.resolved = false
	}
	ns, resolved := c.ns, c.resolved
	c.mu.Unlock()

	if resolved {
		c.prune(ctx, ns)
	} else {
		c.deps.Logger.WithFields(logrus.Fields{
			"action":     "cache_prune",
			"generation": c.id,
			"version":    ns.Tag(),
		}).Warn("cache_prune_skipped_unresolved_version")
	}
	c.ensurePartitions(ctx, ns)

	c.mu.Lock()
	c.activatedAt = time.Now().UTC()
	c.mu.Unlock()
	c.setState(StateActivated)
	return ctx.Err()
}

// Restore 让本代直接接管已持久化的版本 tag：不预缓存也不清理，用于版本无法解析时
// 的启动场景（例如离线重启）。
func (c *Controller) Restore(ctx context.Context, tag string) error {
	c.mu.Lock()
	c.ns = cache.NewNamespace(tag)
	c.resolved = false
	c.mu.Unlock()

	c.setState(StateActivating)
	c.ensurePartitions(ctx, c.Namespace())

	c.mu.Lock()
	c.activatedAt = time.Now().UTC()
	c.mu.Unlock()
	c.setState(StateActivated)
	return ctx.Err()
}

func (c *Controller) prune(ctx context.Context, ns cache.Namespace) {
	report, err := cache.PruneStale(ctx, c.deps.Storage, ns, c.deps.Logger)
	if err != nil {
		c.deps.Logger.WithError(err).WithFields(logrus.Fields{
			"action":     "cache_prune",
			"generation": c.id,
		}).Warn("cache_prune_failed")
		return
	}
	if len(report.Deleted) > 0 {
		c.deps.Logger.WithFields(logrus.Fields{
			"action":     "cache_prune",
			"generation": c.id,
			"deleted":    report.Deleted,
		}).Info("stale_partitions_pruned")
	}
}

// ensurePartitions 打开当前命名空间的全部分区，使其在激活后即存在（可为空）。
func (c *Controller) ensurePartitions(ctx context.Context, ns cache.Namespace) {
	for _, name := range ns.Current() {
		if _, err := c.deps.Storage.Open(ctx, name); err != nil {
			c.deps.Logger.WithError(err).WithFields(logrus.Fields{
				"action":     "cache_open",
				"generation": c.id,
				"partition":  name,
			}).Warn("partition_open_failed")
		}
	}
}

// Fetch 对请求分类并执行对应策略。
func (c *Controller) Fetch(ctx context.Context, req *strategy.Request) (proxy.Outcome, error) {
	ns := c.Namespace()
	kind := c.deps.Classifier.Classify(req)
	result, err := c.deps.Engine.Execute(ctx, ns, kind, req)
	return proxy.Outcome{Result: result, Strategy: kind, Version: ns.Tag()}, err
}

// Message 处理控制消息。SKIP_WAITING 由 Runtime 负责实际激活，这里仅记录请求。
func (c *Controller) Message(ctx context.Context, msg Message) error {
	switch msg {
	case MessageSkipWaiting:
		c.mu.Lock()
		c.skipWaiting = true
		c.mu.Unlock()
		return nil
	case MessageClearCache:
		report, err := cache.ClearAll(ctx, c.deps.Storage, c.deps.Logger)
		if err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		c.deps.Logger.WithFields(logrus.Fields{
			"action":     "cache_clear",
			"generation": c.id,
			"deleted":    len(report.Deleted),
			"failed":     len(report.Failed),
		}).Info("cache_cleared")
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg)
	}
}

// MarkRedundant 在被新代取代或 install 失败时调用。
func (c *Controller) MarkRedundant() {
	if c.State() == StateRedundant {
		return
	}
	c.setState(StateRedundant)
}

// Info 返回用于诊断输出的快照。
func (c *Controller) Info() GenerationInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return GenerationInfo{
		ID:          c.id,
		Version:     c.ns.Tag(),
		State:       c.state,
		InstalledAt: c.installedAt,
		ActivatedAt: c.activatedAt,
		Precache:    c.precache,
	}
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	tag := c.ns.Tag()
	hook := c.onState
	c.mu.Unlock()

	if previous == state {
		return
	}
	metrics.Generations.WithLabelValues(string(previous)).Dec()
	metrics.Generations.WithLabelValues(string(state)).Inc()
	c.deps.Logger.WithFields(logging.GenerationFields("lifecycle", c.id, tag, string(state))).
		Debug("generation_state_changed")
	if hook != nil {
		hook(c, state)
	}
}

// GenerationInfo 是单个代的只读快照。
type GenerationInfo struct {
	ID          uint64         `json:"id"`
	Version     string         `json:"version"`
	State       State          `json:"state"`
	InstalledAt time.Time      `json:"installed_at,omitempty"`
	ActivatedAt time.Time      `json:"activated_at,omitempty"`
	Precache    PrecacheReport `json:"precache"`
}
