package updater

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/lifecycle"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/strategy"
	"github.com/offline-hub/offline-hub/internal/version"
)

func newLocalRuntime(t *testing.T, tag *atomic.Value) *lifecycle.Runtime {
	t.Helper()
	storage := cache.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })

	network := proxy.FetcherFunc(func(context.Context, *strategy.Request) (*cache.Response, error) {
		return &cache.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("ok")}, nil
	})
	engine, err := proxy.NewEngine(proxy.EngineOptions{Storage: storage, Fetcher: network, Logger: quietLogger()})
	require.NoError(t, err)

	rt, err := lifecycle.NewRuntime(lifecycle.Dependencies{
		Resolver: lifecycle.VersionResolverFunc(func(context.Context) (version.Tag, bool) {
			return version.Tag(tag.Load().(string)), true
		}),
		Storage:    storage,
		Engine:     engine,
		Fetcher:    network,
		Classifier: strategy.NewClassifier("", "", ""),
		Logger:     quietLogger(),
	}, 0)
	require.NoError(t, err)
	return rt
}

func TestCoordinatorWithLocalRuntime(t *testing.T) {
	defer goleak.VerifyNone(t)

	var tag atomic.Value
	tag.Store("v1")
	rt := newLocalRuntime(t, &tag)

	rec := &recorder{decision: true}
	coord, err := NewCoordinator(NewLocalRegistration(rt), rec, rec, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	require.Eventually(t, func() bool { return rt.Active() != nil }, 2*time.Second, 5*time.Millisecond)
	first := rt.Active()

	tag.Store("v2")
	installed, err := rt.Update(context.Background())
	require.NoError(t, err)
	require.True(t, installed)

	require.Eventually(t, func() bool {
		_, reloads := rec.counts()
		return reloads == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	prompts, _ := rec.counts()
	assert.Equal(t, 1, prompts, "first install must not prompt")
	assert.Equal(t, "v2", rec.reloads[0].Version)
	assert.Equal(t, lifecycle.StateRedundant, first.State())
}
