package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/updater"
)

// watchUpdates 针对远程网关运行更新协调器，新代安装后在终端询问是否重新加载。
func watchUpdates(opts cliOptions) error {
	logger, err := logging.NewConsoleLogger(stdErr, "info")
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	registration, err := updater.NewRemoteRegistration(client, opts.gateway, opts.pollInterval, logger)
	if err != nil {
		return err
	}
	coordinator, err := updater.NewCoordinator(
		registration,
		updater.NewTerminalPrompter(stdIn, stdOut),
		updater.ReloaderFunc(reloadNotice),
		logger,
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return coordinator.Run(ctx)
}

// reloadNotice 是终端场景下的 Reloader：网关已切换到新代，提示使用方刷新客户端。
func reloadNotice(_ context.Context, update updater.Update) error {
	_, err := fmt.Fprintf(stdOut, "generation %d (%s) is now active, reload your clients\n", update.Generation, update.Version)
	return err
}
