package updater

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/lifecycle"
)

// DefaultPollInterval 是 RemoteRegistration 轮询网关的默认间隔。
const DefaultPollInterval = 5 * time.Second

const (
	workerPath  = "/-/worker"
	messagePath = "/-/worker/message"
	updatePath  = "/-/worker/update"
)

// RemoteRegistration 通过轮询网关诊断接口模拟注册事件。
type RemoteRegistration struct {
	client   *http.Client
	base     *url.URL
	interval time.Duration
	logger   *logrus.Logger
}

// NewRemoteRegistration 以网关地址构造远程注册对象。
func NewRemoteRegistration(client *http.Client, gateway string, interval time.Duration, logger *logrus.Logger) (*RemoteRegistration, error) {
	base, err := url.Parse(strings.TrimSpace(gateway))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q", gateway)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RemoteRegistration{client: client, base: base, interval: interval, logger: logger}, nil
}

// MessageRequest 是 /-/worker/message 的请求体。
type MessageRequest struct {
	Type       lifecycle.Message `json:"type"`
	Generation uint64            `json:"generation,omitempty"`
}

// Register 请求网关立即做一次更新检查。
func (r *RemoteRegistration) Register(ctx context.Context) error {
	return r.post(ctx, updatePath, nil)
}

// Controller 实现 Registration。
func (r *RemoteRegistration) Controller(ctx context.Context) (uint64, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap.Active == nil {
		return 0, nil
	}
	return snap.Active.ID, nil
}

// PostMessage 实现 Registration。
func (r *RemoteRegistration) PostMessage(ctx context.Context, generation uint64, msg lifecycle.Message) error {
	return r.post(ctx, messagePath, MessageRequest{Type: msg, Generation: generation})
}

// Snapshot 读取网关当前的注册状态。
func (r *RemoteRegistration) Snapshot(ctx context.Context) (lifecycle.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(workerPath), nil)
	if err != nil {
		return lifecycle.Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return lifecycle.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lifecycle.Snapshot{}, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	var snap lifecycle.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return lifecycle.Snapshot{}, fmt.Errorf("decode worker snapshot: %w", err)
	}
	return snap, nil
}

// Events 以首个快照为基线，之后每次轮询把状态差异转换为事件。
func (r *RemoteRegistration) Events(ctx context.Context) (<-chan lifecycle.Event, error) {
	baseline, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	tracker := newSnapshotTracker(baseline)

	ch := make(chan lifecycle.Event, 16)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			snap, err := r.Snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WithError(err).WithField("action", "worker_poll").Debug("worker_poll_failed")
				}
				continue
			}
			for _, evt := range tracker.diff(snap) {
				select {
				case ch <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (r *RemoteRegistration) post(ctx context.Context, path string, payload any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(path), body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var failure struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&failure)
	if failure.Error == "" {
		failure.Error = http.StatusText(resp.StatusCode)
	}
	return &GatewayError{Status: resp.StatusCode, Code: failure.Error}
}

func (r *RemoteRegistration) endpoint(path string) string {
	u := *r.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

// GatewayError 表示网关拒绝了请求。
type GatewayError struct {
	Status int
	Code   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Status, e.Code)
}

// IsGatewayError 判断 err 是否为网关返回的错误。
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}

// snapshotTracker 记录已观察到的代状态，用于把快照差异还原为事件序列。
type snapshotTracker struct {
	seen       map[uint64]lifecycle.State
	controller uint64
}

func newSnapshotTracker(baseline lifecycle.Snapshot) *snapshotTracker {
	t := &snapshotTracker{seen: map[uint64]lifecycle.State{}}
	for _, info := range generations(baseline) {
		t.seen[info.ID] = info.State
	}
	if baseline.Active != nil {
		t.controller = baseline.Active.ID
	}
	return t
}

func (t *snapshotTracker) diff(snap lifecycle.Snapshot) []lifecycle.Event {
	var events []lifecycle.Event
	for _, info := range generations(snap) {
		prev, known := t.seen[info.ID]
		if !known {
			events = append(events, event(lifecycle.EventUpdateFound, info, lifecycle.StateInstalling))
		}
		if stateRank(info.State) >= stateRank(lifecycle.StateInstalled) &&
			(!known || stateRank(prev) < stateRank(lifecycle.StateInstalled)) {
			events = append(events, event(lifecycle.EventStateChange, info, lifecycle.StateInstalled))
		}
		if info.State == lifecycle.StateActivated && prev != lifecycle.StateActivated {
			events = append(events, event(lifecycle.EventStateChange, info, lifecycle.StateActivated))
		}
		t.seen[info.ID] = info.State
	}
	if snap.Active != nil && snap.Active.ID != t.controller {
		t.controller = snap.Active.ID
		events = append(events, event(lifecycle.EventControllerChange, *snap.Active, lifecycle.StateActivated))
	}
	return events
}

func generations(snap lifecycle.Snapshot) []lifecycle.GenerationInfo {
	var infos []lifecycle.GenerationInfo
	for _, info := range []*lifecycle.GenerationInfo{snap.Installing, snap.Waiting, snap.Active} {
		if info != nil {
			infos = append(infos, *info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func event(typ lifecycle.EventType, info lifecycle.GenerationInfo, state lifecycle.State) lifecycle.Event {
	return lifecycle.Event{
		Type:       typ,
		Generation: info.ID,
		Version:    info.Version,
		State:      state,
		At:         time.Now().UTC(),
	}
}

func stateRank(state lifecycle.State) int {
	switch state {
	case lifecycle.StateInstalling:
		return 1
	case lifecycle.StateInstalled:
		return 2
	case lifecycle.StateActivating:
		return 3
	case lifecycle.StateActivated:
		return 4
	default:
		return 0
	}
}
