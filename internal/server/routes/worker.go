package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/lifecycle"
	"github.com/offline-hub/offline-hub/internal/server"
)

// WorkerRuntime 是 /-/worker 诊断接口依赖的运行时能力。
type WorkerRuntime interface {
	Snapshot(ctx context.Context) (lifecycle.Snapshot, error)
	Update(ctx context.Context) (bool, error)
	PostMessage(ctx context.Context, generation uint64, msg lifecycle.Message) error
}

type messageRequest struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
}

// RegisterWorkerRoutes 暴露 worker 注册状态、控制消息与手动更新检查。
func RegisterWorkerRoutes(app *fiber.App, runtime WorkerRuntime, logger *logrus.Logger) {
	if app == nil || runtime == nil {
		return
	}

	app.Get("/-/worker", func(c fiber.Ctx) error {
		snap, err := runtime.Snapshot(c.Context())
		if err != nil {
			logWorkerError(logger, c, "worker_snapshot", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "snapshot_failed"})
		}
		return c.JSON(snap)
	})

	app.Post("/-/worker/message", func(c fiber.Ctx) error {
		var req messageRequest
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		msg := lifecycle.Message(strings.ToUpper(strings.TrimSpace(req.Type)))
		err := runtime.PostMessage(c.Context(), req.Generation, msg)
		switch {
		case err == nil:
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted", "type": msg})
		case errors.Is(err, lifecycle.ErrUnknownMessage):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_message"})
		case errors.Is(err, lifecycle.ErrUnknownGeneration):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_generation"})
		default:
			logWorkerError(logger, c, "worker_message", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "message_failed"})
		}
	})

	app.Post("/-/worker/update", func(c fiber.Ctx) error {
		installed, err := runtime.Update(c.Context())
		if err != nil {
			logWorkerError(logger, c, "worker_update", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "update_failed"})
		}
		snap, err := runtime.Snapshot(c.Context())
		if err != nil {
			logWorkerError(logger, c, "worker_snapshot", err)
		}
		return c.JSON(fiber.Map{"installed": installed, "worker": snap})
	})
}

func logWorkerError(logger *logrus.Logger, c fiber.Ctx, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithError(err).WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}).Warn("worker_route_failed")
}
