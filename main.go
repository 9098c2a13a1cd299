package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/logging"
)

// CLI 描述 offline-hub 的命令行结构，由 kong 解析。
type CLI struct {
	Config string `help:"配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）" env:"OFFLINE_HUB_CONFIG" default:"config.toml" short:"c"`

	Serve        ServeCmd        `cmd:"" default:"withargs" help:"启动离线缓存网关（默认命令）。"`
	CheckConfig  CheckConfigCmd  `cmd:"" help:"仅校验配置后退出。"`
	Version      VersionCmd      `cmd:"" help:"显示版本信息。"`
	WatchUpdates WatchUpdatesCmd `cmd:"" help:"监听网关的新版本并提示重新加载。"`
}

// ServeCmd 启动 HTTP 网关。
type ServeCmd struct{}

// CheckConfigCmd 校验配置。
type CheckConfigCmd struct{}

// VersionCmd 打印版本。
type VersionCmd struct{}

// WatchUpdatesCmd 通过网关诊断接口运行更新协调器。
type WatchUpdatesCmd struct {
	Gateway  string        `help:"网关地址，例如 http://127.0.0.1:5000。" required:""`
	Interval time.Duration `help:"轮询间隔。" default:"5s"`
}

// cliOptions 汇总 CLI 解析后的结果，便于在测试中注入。
type cliOptions struct {
	command      string
	configPath   string
	gateway      string
	pollInterval time.Duration
}

const (
	commandServe        = "serve"
	commandCheckConfig  = "check-config"
	commandVersion      = "version"
	commandWatchUpdates = "watch-updates"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
	stdIn  io.Reader = os.Stdin
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// parseCLIFlags 使用 kong 解析参数；配置路径优先级为 flag > 环境变量 > 默认值。
func parseCLIFlags(args []string) (cliOptions, error) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("offline-hub"),
		kong.Description("Offline-first caching gateway."),
		kong.Writers(stdOut, stdErr),
		kong.UsageOnError(),
	)
	if err != nil {
		return cliOptions{}, fmt.Errorf("构建命令行解析器失败: %w", err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := cli.Config
	if path == "" {
		path = "config.toml"
	}
	return cliOptions{
		command:      kctx.Command(),
		configPath:   path,
		gateway:      cli.WatchUpdates.Gateway,
		pollInterval: cli.WatchUpdates.Interval,
	}, nil
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	switch opts.command {
	case commandVersion:
		printVersion()
		return 0
	case commandWatchUpdates:
		if err := watchUpdates(opts); err != nil {
			fmt.Fprintf(stdErr, "更新监听失败: %v\n", err)
			return 1
		}
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.command == commandCheckConfig {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Worker.Origin
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["precache"] = len(cfg.Worker.Precache)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if err := serve(opts, cfg, logger); err != nil {
		if errors.Is(err, errStorageInit) {
			fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		} else {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		}
		return 1
	}
	return 0
}
