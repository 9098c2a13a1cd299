package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/strategy"
	"github.com/offline-hub/offline-hub/internal/version"
)

const testOrigin = "https://reports.example.com"

var errUnreachable = errors.New("connect: connection refused")

// stubVersion 是可在测试中切换的版本源；offline 时模拟版本接口不可达，返回兜底版本。
type stubVersion struct {
	tag     atomic.Value
	offline atomic.Bool
}

func newStubVersion(tag string) *stubVersion {
	v := &stubVersion{}
	v.Set(tag)
	return v
}

func (v *stubVersion) Set(tag string) { v.tag.Store(tag) }

func (v *stubVersion) SetOffline(offline bool) { v.offline.Store(offline) }

func (v *stubVersion) Lookup(context.Context) (version.Tag, bool) {
	if v.offline.Load() {
		return version.FallbackTag, false
	}
	return version.Tag(v.tag.Load().(string)), true
}

// stubNetwork 按 URL 返回预设响应；未登记的 URL 视为网络不可达。
type stubNetwork struct {
	mu        sync.Mutex
	responses map[string]*cache.Response
	calls     map[string]int
}

func newStubNetwork() *stubNetwork {
	return &stubNetwork{responses: map[string]*cache.Response{}, calls: map[string]int{}}
}

func (n *stubNetwork) Serve(rawURL string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[rawURL] = &cache.Response{Status: status, Header: http.Header{}, Body: []byte(body)}
}

// Down 清空全部预设响应，之后所有请求都视为网络不可达。
func (n *stubNetwork) Down() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses = map[string]*cache.Response{}
}

func (n *stubNetwork) Calls(rawURL string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[rawURL]
}

func (n *stubNetwork) Fetch(_ context.Context, req *strategy.Request) (*cache.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := req.URL.String()
	n.calls[key]++
	resp, ok := n.responses[key]
	if !ok {
		return nil, errUnreachable
	}
	return resp.Clone(), nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newDeps(t *testing.T, resolver VersionResolver, network proxy.Fetcher, precache ...string) (Dependencies, cache.Storage) {
	t.Helper()
	storage := cache.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })

	engine, err := proxy.NewEngine(proxy.EngineOptions{
		Storage:        storage,
		Fetcher:        network,
		NetworkTimeout: time.Second,
		RootURL:        testOrigin + "/",
		Logger:         quietLogger(),
	})
	require.NoError(t, err)

	return Dependencies{
		Resolver:        resolver,
		Storage:         storage,
		Engine:          engine,
		Fetcher:         network,
		Classifier:      strategy.NewClassifier("", "", ""),
		Precache:        precache,
		PrecacheTimeout: time.Second,
		Logger:          quietLogger(),
	}, storage
}

func seedPartition(t *testing.T, storage cache.Storage, name string) {
	t.Helper()
	p, err := storage.Open(context.Background(), name)
	require.NoError(t, err)
	require.NoError(t, p.Put(context.Background(), cache.NewKey(http.MethodGet, testOrigin+"/seed"), &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{},
		Body:   []byte(name),
	}))
}

func partitionNames(t *testing.T, storage cache.Storage) []string {
	t.Helper()
	names, err := storage.Names(context.Background())
	require.NoError(t, err)
	return names
}
