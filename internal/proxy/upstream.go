package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/server"
	"github.com/offline-hub/offline-hub/internal/strategy"
)

// maxBodyBytes 限制单个上游响应读入内存的大小。
const maxBodyBytes = 64 << 20

// Fetcher 执行一次网络请求。返回 error 仅代表传输失败（离线、DNS、超时），
// 任何 HTTP 状态码都视为成功完成的网络请求。
type Fetcher interface {
	Fetch(ctx context.Context, req *strategy.Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *strategy.Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *strategy.Request) (*cache.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 把请求改写到配置的 Upstream 后发出，路径与查询串保持不变。
type HTTPFetcher struct {
	client   *http.Client
	upstream *url.URL
}

// NewHTTPFetcher 使用共享 http.Client 构造上游请求器。
func NewHTTPFetcher(client *http.Client, upstream *url.URL) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, upstream: upstream}
}

// Fetch 实现 Fetcher。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *strategy.Request) (*cache.Response, error) {
	target := f.resolve(req.URL)

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Host = target.Host
	if req.URL != nil {
		httpReq.Header.Set("X-Forwarded-Host", req.URL.Host)
		httpReq.Header.Set("X-Forwarded-Proto", req.URL.Scheme)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if len(payload) > maxBodyBytes {
		return nil, fmt.Errorf("upstream body exceeds %d bytes", maxBodyBytes)
	}

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &cache.Response{Status: resp.StatusCode, Header: header, Body: payload}, nil
}

func (f *HTTPFetcher) resolve(requestURL *url.URL) *url.URL {
	if requestURL == nil {
		return f.upstream
	}
	if f.upstream == nil {
		return requestURL
	}
	target := *requestURL
	target.Scheme = f.upstream.Scheme
	target.Host = f.upstream.Host
	target.User = f.upstream.User
	return &target
}
