package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/metrics"
	"github.com/offline-hub/offline-hub/internal/strategy"
)

var (
	// ErrIgnored 表示请求不属于本网关拦截范围。
	ErrIgnored = errors.New("request not intercepted")
	// ErrNoResponse 表示策略在离线且无缓存时没有可返回的响应。
	ErrNoResponse = errors.New("no response available")
	// ErrUnknownStrategy 表示策略未在注册表中登记。
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// DefaultNetworkTimeout 是 network-first 策略等待网络的默认上限。
const DefaultNetworkTimeout = 10 * time.Second

// Source 标识响应来源。
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
)

// Result 是一次策略执行的结果。SideEffect 非空时表示已发起后台缓存写入。
type Result struct {
	Response   *cache.Response
	Source     Source
	Partition  string
	SideEffect *cache.SideEffect
}

// EngineOptions 汇总 Engine 的依赖。
type EngineOptions struct {
	Storage        cache.Storage
	Writer         *cache.Writer
	Fetcher        Fetcher
	NetworkTimeout time.Duration
	// RootURL 是导航回退使用的根页面地址（<Origin>/）。
	RootURL string
	Logger  *logrus.Logger
}

// Engine 按策略元数据执行“网络 / 缓存”回退链。
type Engine struct {
	storage        cache.Storage
	writer         *cache.Writer
	fetcher        Fetcher
	networkTimeout time.Duration
	rootURL        string
	logger         *logrus.Logger
}

// NewEngine 构造策略引擎；Writer 为空时按 Storage 创建。
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	writer := opts.Writer
	if writer == nil {
		writer = cache.NewWriter(opts.Storage, logger)
	}
	timeout := opts.NetworkTimeout
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	return &Engine{
		storage:        opts.Storage,
		writer:         writer,
		fetcher:        opts.Fetcher,
		networkTimeout: timeout,
		rootURL:        opts.RootURL,
		logger:         logger,
	}, nil
}

// Writer 返回引擎使用的后台写入器。
func (e *Engine) Writer() *cache.Writer {
	return e.writer
}

// Execute 在命名空间 ns 下对 req 执行 kind 策略。
func (e *Engine) Execute(ctx context.Context, ns cache.Namespace, kind strategy.Kind, req *strategy.Request) (Result, error) {
	started := time.Now()
	result, err := e.execute(ctx, ns, kind, req)

	source := string(result.Source)
	switch {
	case errors.Is(err, ErrIgnored):
		source = "ignored"
	case err != nil:
		source = "error"
	}
	metrics.FetchOutcomes.WithLabelValues(string(kind), source).Inc()
	metrics.FetchDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	return result, err
}

func (e *Engine) execute(ctx context.Context, ns cache.Namespace, kind strategy.Kind, req *strategy.Request) (Result, error) {
	profile, ok := strategy.Resolve(kind)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, kind)
	}
	switch profile.Order {
	case strategy.OrderNone:
		return Result{}, ErrIgnored
	case strategy.OrderNetworkOnly:
		return e.passthrough(ctx, req)
	case strategy.OrderNetworkFirst:
		return e.networkFirst(ctx, ns, profile, req)
	case strategy.OrderCacheFirst:
		return e.cacheFirst(ctx, ns, profile, req)
	default:
		return Result{}, fmt.Errorf("%w: order %s", ErrUnknownStrategy, profile.Order)
	}
}

// passthrough 不读写任何缓存，网络结果或错误原样返回。
func (e *Engine) passthrough(ctx context.Context, req *strategy.Request) (Result, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Response: resp, Source: SourceNetwork}, nil
}

func (e *Engine) networkFirst(ctx context.Context, ns cache.Namespace, profile strategy.Profile, req *strategy.Request) (Result, error) {
	resp, err := e.fetchNetwork(ctx, req)
	if err == nil {
		return Result{
			Response:   resp,
			Source:     SourceNetwork,
			SideEffect: e.maybeStore(ns, profile, req, resp),
		}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	e.logNetworkFailure(profile, req, err)

	key := requestKey(req)
	if hit, searchErr := e.lookup(ctx, ns, profile, key); searchErr == nil {
		return Result{Response: hit.Response, Source: SourceCache, Partition: hit.Partition}, nil
	}
	return e.offline(ctx, profile, req)
}

func (e *Engine) cacheFirst(ctx context.Context, ns cache.Namespace, profile strategy.Profile, req *strategy.Request) (Result, error) {
	key := requestKey(req)
	if hit, err := e.lookup(ctx, ns, profile, key); err == nil {
		return Result{Response: hit.Response, Source: SourceCache, Partition: hit.Partition}, nil
	}

	resp, err := e.fetchNetwork(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		e.logNetworkFailure(profile, req, err)
		return Result{Response: emptyNotFound(), Source: SourceOffline}, nil
	}
	return Result{
		Response:   resp,
		Source:     SourceNetwork,
		SideEffect: e.maybeStore(ns, profile, req, resp),
	}, nil
}

// offline 生成网络与缓存均不可用时的终态响应。
func (e *Engine) offline(ctx context.Context, profile strategy.Profile, req *strategy.Request) (Result, error) {
	switch profile.Kind {
	case strategy.KindNetworkFirstAPI:
		return Result{Response: offlineAPIResponse(), Source: SourceOffline}, nil
	case strategy.KindNetworkFirstNavigation:
		if e.rootURL != "" {
			rootKey := cache.NewKey(http.MethodGet, e.rootURL)
			if hit, err := cache.SearchKind(ctx, e.storage, cache.KindPage, rootKey); err == nil {
				return Result{Response: hit.Response, Source: SourceCache, Partition: hit.Partition}, nil
			}
		}
		return Result{Response: offlinePageResponse(), Source: SourceOffline}, nil
	default:
		return Result{}, ErrNoResponse
	}
}

func (e *Engine) fetchNetwork(ctx context.Context, req *strategy.Request) (*cache.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.networkTimeout)
	defer cancel()
	return e.fetcher.Fetch(ctx, req)
}

// lookup 按策略的读取范围组装候选分区并顺序查找。
func (e *Engine) lookup(ctx context.Context, ns cache.Namespace, profile strategy.Profile, key cache.Key) (cache.Hit, error) {
	var candidates []string
	for _, kind := range profile.ReadKinds {
		if profile.ReadScope == strategy.ScopeAllVersions {
			names, err := cache.PartitionsOf(ctx, e.storage, kind)
			if err != nil {
				e.logger.WithError(err).WithField("action", "cache_list").Warn("cache_list_failed")
				continue
			}
			candidates = append(candidates, names...)
			continue
		}
		candidates = append(candidates, ns.Name(kind))
	}
	if len(candidates) == 0 {
		return cache.Hit{}, cache.ErrNotFound
	}
	return cache.Search(ctx, e.storage, candidates, key)
}

func (e *Engine) maybeStore(ns cache.Namespace, profile strategy.Profile, req *strategy.Request, resp *cache.Response) *cache.SideEffect {
	if resp == nil || !resp.OK() || req.Method != http.MethodGet {
		return nil
	}
	if !profile.StoresDestination(req.Destination) {
		return nil
	}
	return e.writer.Store(ns.Name(profile.WriteKind), requestKey(req), resp)
}

func (e *Engine) logNetworkFailure(profile strategy.Profile, req *strategy.Request, err error) {
	e.logger.WithError(err).WithFields(logrus.Fields{
		"action":   "network_fetch",
		"strategy": string(profile.Kind),
		"url":      requestURL(req),
	}).Debug("network_unavailable")
}

func requestKey(req *strategy.Request) cache.Key {
	return cache.NewKey(req.Method, requestURL(req))
}

func requestURL(req *strategy.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.String()
}
