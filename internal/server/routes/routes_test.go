package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/offline-hub/offline-hub/internal/lifecycle"
	"github.com/offline-hub/offline-hub/internal/strategy"
)

type fakeRuntime struct {
	snapshot  lifecycle.Snapshot
	installed bool
	updateErr error
	messages  []lifecycle.Message
}

func (f *fakeRuntime) Snapshot(context.Context) (lifecycle.Snapshot, error) {
	return f.snapshot, nil
}

func (f *fakeRuntime) Update(context.Context) (bool, error) {
	return f.installed, f.updateErr
}

func (f *fakeRuntime) PostMessage(_ context.Context, generation uint64, msg lifecycle.Message) error {
	switch {
	case msg != lifecycle.MessageSkipWaiting && msg != lifecycle.MessageClearCache:
		return lifecycle.ErrUnknownMessage
	case generation > 5:
		return lifecycle.ErrUnknownGeneration
	}
	f.messages = append(f.messages, msg)
	return nil
}

func doRequest(t *testing.T, app *fiber.App, method, target, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(payload)
}

func TestWorkerSnapshotRoute(t *testing.T) {
	app := fiber.New()
	rt := &fakeRuntime{snapshot: lifecycle.Snapshot{
		Active:     &lifecycle.GenerationInfo{ID: 2, Version: "v2", State: lifecycle.StateActivated},
		Partitions: []string{"page-cache-v2"},
	}}
	RegisterWorkerRoutes(app, rt, nil)

	status, body := doRequest(t, app, "GET", "/-/worker", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var snap lifecycle.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Active == nil || snap.Active.Version != "v2" {
		t.Fatalf("unexpected snapshot: %s", body)
	}
}

func TestWorkerMessageRoute(t *testing.T) {
	app := fiber.New()
	rt := &fakeRuntime{}
	RegisterWorkerRoutes(app, rt, nil)

	cases := []struct {
		body   string
		status int
		want   string
	}{
		{`{"type":"skip_waiting"}`, fiber.StatusAccepted, "accepted"},
		{`{"type":"CLEAR_CACHE","generation":1}`, fiber.StatusAccepted, "accepted"},
		{`{"type":"RELOAD"}`, fiber.StatusBadRequest, "unknown_message"},
		{`{"type":"SKIP_WAITING","generation":9}`, fiber.StatusNotFound, "unknown_generation"},
		{`not-json`, fiber.StatusBadRequest, "invalid_body"},
		{`{"type":"SKIP_WAITING","generation":"one"}`, fiber.StatusBadRequest, "invalid_body"},
	}
	for _, tc := range cases {
		status, body := doRequest(t, app, "POST", "/-/worker/message", tc.body)
		if status != tc.status || !strings.Contains(body, tc.want) {
			t.Fatalf("body %s: expected %d/%s, got %d/%s", tc.body, tc.status, tc.want, status, body)
		}
	}
	if len(rt.messages) != 2 || rt.messages[0] != lifecycle.MessageSkipWaiting {
		t.Fatalf("unexpected delivered messages: %v", rt.messages)
	}
}

func TestWorkerUpdateRoute(t *testing.T) {
	app := fiber.New()
	rt := &fakeRuntime{installed: true}
	RegisterWorkerRoutes(app, rt, nil)

	status, body := doRequest(t, app, "POST", "/-/worker/update", "")
	if status != fiber.StatusOK || !strings.Contains(body, `"installed":true`) {
		t.Fatalf("unexpected update response %d %s", status, body)
	}

	rt.updateErr = errors.New("storage closed")
	status, body = doRequest(t, app, "POST", "/-/worker/update", "")
	if status != fiber.StatusBadGateway || !strings.Contains(body, "update_failed") {
		t.Fatalf("expected update_failed, got %d %s", status, body)
	}
}

func TestStrategyRoutes(t *testing.T) {
	app := fiber.New()
	RegisterStrategyRoutes(app, strategy.NewClassifier("", "", ""))

	status, body := doRequest(t, app, "GET", "/-/strategies", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.Contains(body, `"api_prefix":"/api"`) || !strings.Contains(body, "network-first-navigation") {
		t.Fatalf("unexpected strategies payload: %s", body)
	}

	status, body = doRequest(t, app, "GET", "/-/strategies/cache-first-static", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var payload profilePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if payload.ReadScope != string(strategy.ScopeAllVersions) || payload.WritePartition != "static-cache-<version>" {
		t.Fatalf("unexpected profile payload: %+v", payload)
	}

	status, _ = doRequest(t, app, "GET", "/-/strategies/unknown", "")
	if status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown strategy, got %d", status)
	}
}

func TestMetricsRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "offline_hub_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	app := fiber.New()
	RegisterMetricsRoutes(app, registry)

	status, body := doRequest(t, app, "GET", "/-/metrics", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.Contains(body, "offline_hub_test_total 1") {
		t.Fatalf("expected counter in metrics output, got %s", body)
	}
}
