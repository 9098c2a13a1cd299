package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNamespaceNamesAreDistinctAndDeterministic(t *testing.T) {
	for _, tag := range []string{"dev", "1.4.2", "2024-11-03T10:00", ""} {
		ns := NewNamespace(tag)
		names := ns.Current()
		if len(names) != 3 {
			t.Fatalf("expected three names, got %v", names)
		}
		seen := map[string]struct{}{}
		for _, name := range names {
			if _, dup := seen[name]; dup {
				t.Fatalf("names must be pairwise distinct for %q: %v", tag, names)
			}
			seen[name] = struct{}{}
		}
		again := NewNamespace(tag).Current()
		for i := range names {
			if names[i] != again[i] {
				t.Fatalf("names must be deterministic for %q", tag)
			}
		}
	}

	ns := NewNamespace("v7")
	if ns.Page() != "page-cache-v7" || ns.Runtime() != "runtime-cache-v7" || ns.Static() != "static-cache-v7" {
		t.Fatalf("unexpected names: %v", ns.Current())
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]Kind{
		"page-cache-v1":    KindPage,
		"runtime-cache-v1": KindRuntime,
		"static-cache-dev": KindStatic,
		"workbox-precache": "",
	}
	for name, want := range cases {
		if got := KindOf(name); got != want {
			t.Fatalf("KindOf(%s) = %q, want %q", name, got, want)
		}
	}
}

func TestPruneStaleKeepsCurrentGeneration(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		for _, name := range append(NewNamespace("v1").Current(), NewNamespace("v2").Current()...) {
			if _, err := s.Open(ctx, name); err != nil {
				t.Fatalf("open error: %v", err)
			}
		}
		if _, err := s.Open(ctx, "third-party-cache"); err != nil {
			t.Fatalf("open error: %v", err)
		}

		report, err := PruneStale(ctx, s, NewNamespace("v2"), quietLogger())
		if err != nil {
			t.Fatalf("prune error: %v", err)
		}
		if len(report.Deleted) != 3 || len(report.Failed) != 0 {
			t.Fatalf("unexpected report: %+v", report)
		}

		names, _ := s.Names(ctx)
		sort.Strings(names)
		want := []string{"page-cache-v2", "runtime-cache-v2", "static-cache-v2", "third-party-cache"}
		if len(names) != len(want) {
			t.Fatalf("expected %v, got %v", want, names)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, names)
			}
		}
	})
}

func TestPruneStaleContinuesAfterFailure(t *testing.T) {
	base := NewMemoryStorage()
	ctx := context.Background()
	for _, name := range []string{"page-cache-v1", "runtime-cache-v1", "static-cache-v1", "page-cache-v2"} {
		_, _ = base.Open(ctx, name)
	}
	s := &failingDeleteStorage{Storage: base, fail: "runtime-cache-v1"}

	report, err := PruneStale(ctx, s, NewNamespace("v2"), quietLogger())
	if err != nil {
		t.Fatalf("prune error: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed["runtime-cache-v1"] == nil {
		t.Fatalf("expected one failure, got %+v", report.Failed)
	}
	if len(report.Deleted) != 2 {
		t.Fatalf("other partitions should still be deleted: %+v", report.Deleted)
	}
}

func TestLatestTagPicksMostRecentlyWrittenVersion(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		if tag, err := LatestTag(ctx, s); err != nil || tag != "" {
			t.Fatalf("empty storage should yield no tag, got %q %v", tag, err)
		}

		base := time.Date(2024, 11, 3, 10, 0, 0, 0, time.UTC)
		put := func(name string, at time.Time) {
			p, err := s.Open(ctx, name)
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			err = p.Put(ctx, NewKey(http.MethodGet, "https://reports.example.com/"+name), &Response{
				Status: http.StatusOK, Header: http.Header{}, Body: []byte(name), StoredAt: at,
			})
			if err != nil {
				t.Fatalf("put error: %v", err)
			}
		}
		put("page-cache-v9", base)
		put("runtime-cache-v1", base.Add(time.Hour))
		put("reports-export", base.Add(2*time.Hour))
		if _, err := s.Open(ctx, "static-cache-v10"); err != nil {
			t.Fatalf("open error: %v", err)
		}

		tag, err := LatestTag(ctx, s)
		if err != nil {
			t.Fatalf("latest tag error: %v", err)
		}
		if tag != "v1" {
			t.Fatalf("expected v1 (newest entry among managed partitions), got %q", tag)
		}
	})
}

func TestLatestTagBreaksTiesByName(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	for _, name := range []string{"page-cache-a", "static-cache-b"} {
		_, _ = s.Open(ctx, name)
	}
	tag, err := LatestTag(ctx, s)
	if err != nil || tag != "b" {
		t.Fatalf("expected b, got %q %v", tag, err)
	}
}

func TestClearAllRemovesEveryVersion(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	for _, name := range append(NewNamespace("v1").Current(), "page-cache-v2", "other") {
		_, _ = s.Open(ctx, name)
	}
	report, err := ClearAll(ctx, s, quietLogger())
	if err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if len(report.Deleted) != 4 {
		t.Fatalf("expected 4 deletions, got %v", report.Deleted)
	}
	names, _ := s.Names(ctx)
	if len(names) != 1 || names[0] != "other" {
		t.Fatalf("only unmanaged partition should remain, got %v", names)
	}
}

type failingDeleteStorage struct {
	Storage
	fail string
}

func (s *failingDeleteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if name == s.fail {
		return false, errors.New("quota: delete refused")
	}
	return s.Storage.Delete(ctx, name)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
