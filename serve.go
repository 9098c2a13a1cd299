package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/lifecycle"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/metrics"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/server"
	"github.com/offline-hub/offline-hub/internal/server/routes"
	"github.com/offline-hub/offline-hub/internal/strategy"
	"github.com/offline-hub/offline-hub/internal/version"
)

// shutdownTimeout 限制优雅退出时等待在途请求与缓存写入的时间。
const shutdownTimeout = 15 * time.Second

var errStorageInit = errors.New("storage init failed")

// gateway 聚合一次 serve 运行中需要统一关闭的组件。
type gateway struct {
	app     *fiber.App
	runtime *lifecycle.Runtime
	engine  *proxy.Engine
	storage cache.Storage
	hosts   []string
}

// serve 遵循“配置 → 存储 → 生命周期 → Fiber server”顺序启动，直到收到退出信号。
func serve(opts cliOptions, cfg *config.Config, logger *logrus.Logger) error {
	gw, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.close(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := gw.runtime.Start(ctx); err != nil {
			logger.WithError(err).WithField("action", "lifecycle_start").Error("lifecycle 停止")
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Worker.Origin
	fields["upstream"] = cfg.Worker.Upstream
	fields["hosts"] = gw.hosts
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := gw.app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 服务关闭失败")
		}
	}()

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")
	return gw.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}

// buildGateway 组装存储、策略引擎、生命周期与 HTTP 路由，不启动监听。
func buildGateway(cfg *config.Config, logger *logrus.Logger) (*gateway, error) {
	storage, err := openStorage(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errStorageInit, err)
	}

	upstream, err := url.Parse(cfg.Worker.Upstream)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	fetcher := proxy.NewHTTPFetcher(server.NewUpstreamClient(cfg), upstream)
	resolver := version.NewResolver(server.NewVersionClient(cfg), cfg.Worker.VersionURL(), cfg.Worker.FallbackVersion, logger)
	classifier := strategy.NewClassifier(cfg.Worker.APIPrefix, cfg.Worker.StaticSegment, cfg.Worker.DataSegment)
	networkTimeout := cfg.Global.NetworkTimeout.DurationValue()

	engine, err := proxy.NewEngine(proxy.EngineOptions{
		Storage:        storage,
		Fetcher:        fetcher,
		NetworkTimeout: networkTimeout,
		RootURL:        strings.TrimRight(cfg.Worker.Origin, "/") + "/",
		Logger:         logger,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	runtime, err := lifecycle.NewRuntime(lifecycle.Dependencies{
		Resolver:        resolver,
		Storage:         storage,
		Engine:          engine,
		Fetcher:         fetcher,
		Classifier:      classifier,
		Precache:        cfg.Worker.PrecacheURLs(),
		PrecacheTimeout: networkTimeout,
		Logger:          logger,
	}, cfg.Global.UpdateInterval.DurationValue())
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("构建源站注册表失败: %w", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxy.NewForwarder(proxy.NewHandler(runtime, logger), logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	routes.RegisterWorkerRoutes(app, runtime, logger)
	routes.RegisterStrategyRoutes(app, classifier)
	routes.RegisterMetricsRoutes(app, metrics.Registry)

	return &gateway{app: app, runtime: runtime, engine: engine, storage: storage, hosts: registry.Hosts()}, nil
}

// close 等待后台缓存写入落盘后关闭存储。
func (g *gateway) close(logger *logrus.Logger) {
	g.runtime.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.engine.Writer().Flush(ctx); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("缓存写入未全部完成")
	}
	if err := g.storage.Close(); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("关闭缓存存储失败")
	}
}

// openStorage 按 StorageDriver 选择 cache.Storage 实现。
func openStorage(cfg config.GlobalConfig) (cache.Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverFS:
		return cache.NewFileStorage(cfg.StoragePath)
	case config.StorageDriverMemory:
		return cache.NewMemoryStorage(), nil
	case config.StorageDriverLevelDB, "":
		return cache.NewLevelDBStorage(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
