package lifecycle

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/strategy"
)

func apiRequest(t *testing.T, method, path string) *strategy.Request {
	t.Helper()
	u, err := url.Parse(testOrigin + path)
	require.NoError(t, err)
	return &strategy.Request{Method: method, URL: u, Mode: strategy.ModeCORS, Header: http.Header{}}
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case evt := <-ch:
			events = append(events, evt)
		default:
			return events
		}
	}
}

func summarize(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, evt := range events {
		entry := string(evt.Type)
		if evt.Type == EventStateChange {
			entry += ":" + string(evt.State)
		}
		out = append(out, entry)
	}
	return out
}

func TestRuntimeRegisterInstallsAndActivates(t *testing.T) {
	network := newStubNetwork()
	network.Serve(testOrigin+"/", http.StatusOK, "root")
	deps, _ := newDeps(t, newStubVersion("v1"), network, testOrigin+"/")

	rt, err := NewRuntime(deps, 0)
	require.NoError(t, err)
	events, cancel := rt.Subscribe()
	defer cancel()

	require.NoError(t, rt.Register(context.Background()))

	active := rt.Active()
	require.NotNil(t, active)
	assert.Equal(t, StateActivated, active.State())
	assert.Nil(t, rt.Waiting())

	assert.Equal(t, []string{
		"updatefound",
		"statechange:installing",
		"statechange:installed",
		"statechange:activating",
		"statechange:activated",
		"controllerchange",
	}, summarize(drain(events)))
}

func TestRuntimeUpdateOnlyWhenVersionChanges(t *testing.T) {
	versions := newStubVersion("v1")
	deps, storage := newDeps(t, versions, newStubNetwork())
	rt, err := NewRuntime(deps, 0)
	require.NoError(t, err)
	require.NoError(t, rt.Register(context.Background()))
	first := rt.Active()
	seedPartition(t, storage, "runtime-cache-v1")

	installed, err := rt.Update(context.Background())
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Same(t, first, rt.Active())

	events, cancel := rt.Subscribe()
	defer cancel()

	versions.Set("v2")
	installed, err = rt.Update(context.Background())
	require.NoError(t, err)
	assert.True(t, installed)

	second := rt.Active()
	require.NotSame(t, first, second)
	assert.Equal(t, "v2", second.Version())
	assert.Equal(t, StateRedundant, first.State())
	assert.NotContains(t, partitionNames(t, storage), "runtime-cache-v1")
	assert.Contains(t, summarize(drain(events)), "statechange:redundant")
}

func TestRuntimeUpdateWhileOfflineKeepsCachedData(t *testing.T) {
	network := newStubNetwork()
	network.Serve(testOrigin+"/", http.StatusOK, "root")
	network.Serve(testOrigin+"/api/reports", http.StatusOK, `{"reports":[1]}`)
	versions := newStubVersion("v1")
	deps, storage := newDeps(t, versions, network, testOrigin+"/")

	rt, err := NewRuntime(deps, 0)
	require.NoError(t, err)
	require.NoError(t, rt.Register(context.Background()))
	first := rt.Active()

	outcome, err := rt.Fetch(context.Background(), apiRequest(t, http.MethodGet, "/api/reports"))
	require.NoError(t, err)
	require.Equal(t, proxy.SourceNetwork, outcome.Source)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, deps.Engine.Writer().Flush(ctx))

	network.Down()
	versions.SetOffline(true)

	installed, err := rt.Update(context.Background())
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Same(t, first, rt.Active())
	assert.Subset(t, partitionNames(t, storage), []string{"page-cache-v1", "runtime-cache-v1"})
	assert.NotContains(t, partitionNames(t, storage), "page-cache-dev")

	outcome, err = rt.Fetch(context.Background(), apiRequest(t, http.MethodGet, "/api/reports"))
	require.NoError(t, err)
	assert.Equal(t, proxy.SourceCache, outcome.Source)
	assert.Equal(t, http.StatusOK, outcome.Response.Status)
	assert.Equal(t, `{"reports":[1]}`, string(outcome.Response.Body))

	nav := apiRequest(t, http.MethodGet, "/")
	nav.Mode = strategy.ModeNavigate
	outcome, err = rt.Fetch(context.Background(), nav)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, outcome.Response.Status)
	assert.Equal(t, "root", string(outcome.Response.Body))
}

func TestRuntimeRegisterWhileOfflineRestoresPersistedVersion(t *testing.T) {
	versions := newStubVersion("v1")
	versions.SetOffline(true)
	deps, storage := newDeps(t, versions, newStubNetwork())

	runtimePartition, err := storage.Open(context.Background(), "runtime-cache-v1")
	require.NoError(t, err)
	require.NoError(t, runtimePartition.Put(context.Background(), cache.NewKey(http.MethodGet, testOrigin+"/api/reports"), &cache.Response{
		Status: http.StatusOK, Header: http.Header{}, Body: []byte(`{"reports":[1]}`),
	}))

	rt, err := NewRuntime(deps, 0)
	require.NoError(t, err)
	events, cancel := rt.Subscribe()
	defer cancel()

	require.NoError(t, rt.Register(context.Background()))
	active := rt.Active()
	require.NotNil(t, active)
	assert.Equal(t, "v1", active.Version())
	assert.Equal(t, StateActivated, active.State())
	assert.NotContains(t, summarize(drain(events)), "updatefound", "restoring is not an update")
	assert.ElementsMatch(t, []string{"page-cache-v1", "runtime-cache-v1", "static-cache-v1"}, partitionNames(t, storage))

	outcome, err := rt.Fetch(context.Background(), apiRequest(t, http.MethodGet, "/api/reports"))
	require.NoError(t, err)
	assert.Equal(t, proxy.SourceCache, outcome.Source)

	// 后端恢复并报告同一版本时不重新安装。
	versions.SetOffline(false)
	installed, err := rt.Update(context.Background())
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestRuntimeRegisterWhileOfflineWithEmptyStorageInstallsFallback(t *testing.T) {
	versions := newStubVersion("v1")
	versions.SetOffline(true)
	deps, storage := newDeps(t, versions, newStubNetwork())

	rt, err := NewRuntime(deps, 0)
	require.NoError(t, err)
	require.NoError(t, rt.Register(context.Background()))
	require.NotNil(t, rt.Active())
	assert.Equal(t, "dev", rt.Active().Version())

	// 后端恢复后安装真实版本并清理兜底分区。
	versions.SetOffline(false)
	installed, err := rt.Update(context.Background())
	require.NoError(t, err)
	assert.True(t, installed)
	assert.Equal(t, "v1", rt.Active().Version())
	assert.ElementsMatch(t, []string{"page-cache-v1", "runtime-cache-v1", "static-cache-v1"}, partitionNames(t, storage))
}

func TestRuntimeFetchWithoutActiveGenerationUsesNetwork(t *testing.T) {
	network := newStubNetwork()
	network.Serve(testOrigin+"/api/jobs", http.StatusOK, "[]")
	deps, storage := newDeps(t, newStubVersion("v1"), network)
	rt, err := NewRuntime(deps, 0)
	require.NoError(t, err)

	outcome, err := rt.Fetch(context.Background(), apiRequest(t, http.MethodGet, "/api/jobs"))
	require.NoError(t, err)
	assert.Equal(t, proxy.SourceNetwork, outcome.Source)
	assert.Equal(t, strategy.KindPassthrough, outcome.Strategy)
	assert.Empty(t, partitionNames(t, storage))

	u, _ := url.Parse("https://cdn.other.com/lib.js")
	_, err = rt.Fetch(context.Background(), &strategy.Request{Method: http.MethodGet, URL: u, CrossOrigin: true})
	assert.ErrorIs(t, err, proxy.ErrIgnored)
}

func TestRuntimePostMessage(t *testing.T) {
	deps, storage := newDeps(t, newStubVersion("v1"), newStubNetwork())
	rt, err := NewRuntime(deps, 0)
	require.NoError(t, err)

	err = rt.PostMessage(context.Background(), 0, MessageSkipWaiting)
	assert.ErrorIs(t, err, ErrUnknownGeneration)

	require.NoError(t, rt.Register(context.Background()))
	active := rt.Active()

	// 已生效的代收到 SKIP_WAITING 时被忽略。
	require.NoError(t, rt.PostMessage(context.Background(), active.ID(), MessageSkipWaiting))
	assert.Same(t, active, rt.Active())

	err = rt.PostMessage(context.Background(), active.ID()+10, MessageClearCache)
	assert.ErrorIs(t, err, ErrUnknownGeneration)

	seedPartition(t, storage, "static-cache-v0")
	require.NoError(t, rt.PostMessage(context.Background(), 0, MessageClearCache))
	assert.Empty(t, partitionNames(t, storage))

	err = rt.PostMessage(context.Background(), 0, Message("PING"))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestRuntimeSnapshot(t *testing.T) {
	network := newStubNetwork()
	network.Serve(testOrigin+"/", http.StatusOK, "root")
	deps, _ := newDeps(t, newStubVersion("v7"), network, testOrigin+"/")
	rt, err := NewRuntime(deps, 0)
	require.NoError(t, err)
	require.NoError(t, rt.Register(context.Background()))

	snap, err := rt.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Active)
	assert.Equal(t, "v7", snap.Active.Version)
	assert.Equal(t, StateActivated, snap.Active.State)
	assert.Equal(t, []string{testOrigin + "/"}, snap.Active.Precache.Stored)
	assert.Equal(t, []string{"page-cache-v7"}, snap.Partitions)
	assert.Nil(t, snap.Waiting)
	assert.False(t, snap.CheckedAt.IsZero())
}

func TestRuntimeStartChecksPeriodically(t *testing.T) {
	versions := newStubVersion("v1")
	deps, _ := newDeps(t, versions, newStubNetwork())
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rt, err := NewRuntime(deps, 10*time.Millisecond)
	require.NoError(t, err)
	events, cancelSub := rt.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	versions.Set("v2")
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type == EventControllerChange && evt.Version == "v2" {
				cancel()
				require.NoError(t, <-done)
				return
			}
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("expected periodic update to activate v2")
		}
	}
}
