package updater

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/lifecycle"
)

// Registration 是 Coordinator 观察的注册对象。
type Registration interface {
	// Register 注册（或重新检查）worker，可重复调用。
	Register(ctx context.Context) error
	// Controller 返回当前控制客户端的代编号，0 表示尚无控制者。
	Controller(ctx context.Context) (uint64, error)
	// Events 返回注册事件流，ctx 结束后 channel 关闭。
	Events(ctx context.Context) (<-chan lifecycle.Event, error)
	// PostMessage 向指定代发送控制消息。
	PostMessage(ctx context.Context, generation uint64, msg lifecycle.Message) error
}

// Update 描述一个等待用户确认的新代。
type Update struct {
	Generation uint64
	Version    string
}

// Prompter 询问用户是否立即切换到新版本。
type Prompter interface {
	Prompt(ctx context.Context, update Update) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, update Update) (bool, error)

// Prompt makes PrompterFunc satisfy Prompter.
func (f PrompterFunc) Prompt(ctx context.Context, update Update) (bool, error) {
	return f(ctx, update)
}

// Reloader 在新代接管后重新加载客户端。
type Reloader interface {
	Reload(ctx context.Context, update Update) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context, update Update) error

// Reload makes ReloaderFunc satisfy Reloader.
func (f ReloaderFunc) Reload(ctx context.Context, update Update) error {
	return f(ctx, update)
}

// Coordinator 驱动“发现更新 → 询问 → SKIP_WAITING → 重新加载”流程。
type Coordinator struct {
	registration Registration
	prompter     Prompter
	reloader     Reloader
	logger       *logrus.Logger
}

// NewCoordinator 构造 Coordinator，三个协作方均不可为空。
func NewCoordinator(registration Registration, prompter Prompter, reloader Reloader, logger *logrus.Logger) (*Coordinator, error) {
	if registration == nil {
		return nil, errors.New("registration is required")
	}
	if prompter == nil {
		return nil, errors.New("prompter is required")
	}
	if reloader == nil {
		return nil, errors.New("reloader is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{registration: registration, prompter: prompter, reloader: reloader, logger: logger}, nil
}

// Run 注册一次并持续处理事件，直到 ctx 结束或事件流关闭。
func (c *Coordinator) Run(ctx context.Context) error {
	events, err := c.registration.Events(ctx)
	if err != nil {
		return err
	}
	// 控制者需在注册前读取：注册可能同步激活新代，而提示判断依据的是页面加载时的控制者。
	controller, err := c.registration.Controller(ctx)
	if err != nil {
		return err
	}
	if err := c.registration.Register(ctx); err != nil {
		return err
	}

	// pending 记录已收到 updatefound、尚未到达 installed 的代。
	pending := make(map[uint64]struct{})
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			switch evt.Type {
			case lifecycle.EventUpdateFound:
				pending[evt.Generation] = struct{}{}
			case lifecycle.EventStateChange:
				if evt.State != lifecycle.StateInstalled {
					continue
				}
				if _, ok := pending[evt.Generation]; !ok {
					continue
				}
				delete(pending, evt.Generation)
				// 首次安装（没有控制者）不提示。
				if controller == 0 || controller == evt.Generation {
					continue
				}
				c.offer(ctx, Update{Generation: evt.Generation, Version: evt.Version})
			case lifecycle.EventControllerChange:
				controller = evt.Generation
			}
		}
	}
}

func (c *Coordinator) offer(ctx context.Context, update Update) {
	fields := logrus.Fields{
		"action":     "update_prompt",
		"generation": update.Generation,
		"version":    update.Version,
	}
	accepted, err := c.prompter.Prompt(ctx, update)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("update_prompt_failed")
		return
	}
	if !accepted {
		c.logger.WithFields(fields).Info("update_dismissed")
		return
	}
	if err := c.registration.PostMessage(ctx, update.Generation, lifecycle.MessageSkipWaiting); err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("skip_waiting_failed")
		return
	}
	if err := c.reloader.Reload(ctx, update); err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("reload_failed")
		return
	}
	c.logger.WithFields(fields).Info("update_applied")
}
