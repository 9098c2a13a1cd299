package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/offline-hub/offline-hub/internal/config"
)

func TestClientTimeouts(t *testing.T) {
	cases := []struct {
		name    string
		cfg     *config.Config
		build   func(*config.Config) *http.Client
		timeout time.Duration
	}{
		{"upstream configured", &config.Config{Global: config.GlobalConfig{UpstreamTimeout: config.Duration(45 * time.Second)}}, NewUpstreamClient, 45 * time.Second},
		{"upstream default", nil, NewUpstreamClient, 30 * time.Second},
		{"version follows network timeout", &config.Config{Global: config.GlobalConfig{NetworkTimeout: config.Duration(8 * time.Second)}}, NewVersionClient, 8 * time.Second},
		{"version default", &config.Config{}, NewVersionClient, 10 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := tc.build(tc.cfg)
			if client.Timeout != tc.timeout {
				t.Fatalf("expected timeout %s, got %s", tc.timeout, client.Timeout)
			}
		})
	}
}

func TestCopyHeadersDropsHopByHopAndKeepsCacheHeaders(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Transfer-Encoding", "chunked")
	src.Add("Proxy-Connection", "keep-alive")
	src.Add("Cache-Control", "no-cache")
	src.Add("Set-Cookie", "a=1")
	src.Add("set-cookie", "b=2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	for _, key := range []string{"Connection", "Transfer-Encoding", "Proxy-Connection"} {
		if _, exists := dst[key]; exists {
			t.Fatalf("%s should not be copied", key)
		}
	}
	if dst.Get("Cache-Control") != "no-cache" {
		t.Fatalf("cache-control should be kept, got %q", dst.Get("Cache-Control"))
	}
	if got := dst.Values("Set-Cookie"); len(got) != 2 {
		t.Fatalf("expected 2 cookies, got %v", got)
	}
	if !IsHopByHopHeader("te") || IsHopByHopHeader("Content-Type") {
		t.Fatalf("IsHopByHopHeader should be case-insensitive and exact")
	}
}
