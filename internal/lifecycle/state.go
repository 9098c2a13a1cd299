package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/offline-hub/offline-hub/internal/version"
)

// State 是单个 worker 代的生命周期状态。
type State string

const (
	StateIdle       State = "idle"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// States 返回全部状态，供指标初始化。
func States() []State {
	return []State{StateIdle, StateInstalling, StateInstalled, StateActivating, StateActivated, StateRedundant}
}

// Message 是发送给 worker 代的控制消息。
type Message string

const (
	MessageSkipWaiting Message = "SKIP_WAITING"
	MessageClearCache  Message = "CLEAR_CACHE"
)

var (
	// ErrUnknownMessage 表示消息类型无法识别。
	ErrUnknownMessage = errors.New("unknown message")
	// ErrUnknownGeneration 表示消息指向的代不存在或已失效。
	ErrUnknownGeneration = errors.New("unknown generation")
)

// EventType 是 Runtime 广播的事件类型。
type EventType string

const (
	EventUpdateFound      EventType = "updatefound"
	EventStateChange      EventType = "statechange"
	EventControllerChange EventType = "controllerchange"
)

// Event 描述一次注册状态变化。
type Event struct {
	Type       EventType `json:"type"`
	Generation uint64    `json:"generation"`
	Version    string    `json:"version"`
	State      State     `json:"state"`
	At         time.Time `json:"at"`
}

// VersionResolver 解析当前部署版本。ok 为 false 表示后端不可达、tag 是兜底版本；
// 兜底版本永远不会触发新代安装，也不会驱动旧分区清理。
type VersionResolver interface {
	Lookup(ctx context.Context) (tag version.Tag, ok bool)
}

// VersionResolverFunc adapts a function to VersionResolver.
type VersionResolverFunc func(ctx context.Context) (version.Tag, bool)

// Lookup makes VersionResolverFunc satisfy VersionResolver.
func (f VersionResolverFunc) Lookup(ctx context.Context) (version.Tag, bool) {
	return f(ctx)
}
