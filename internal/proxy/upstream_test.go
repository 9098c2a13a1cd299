package proxy

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offline-hub/offline-hub/internal/strategy"
)

func TestHTTPFetcherRewritesToUpstream(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "http://127.0.0.1:3001/api/reports?draft=1",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "reports.example.com", req.Header.Get("X-Forwarded-Host"))
			assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
			assert.Empty(t, req.Header.Get("Connection"))
			resp := httpmock.NewStringResponse(http.StatusCreated, `{"id":1}`)
			resp.Header.Set("Content-Type", "application/json")
			resp.Header.Set("Transfer-Encoding", "chunked")
			return resp, nil
		})

	upstream, _ := url.Parse("http://127.0.0.1:3001")
	fetcher := NewHTTPFetcher(&http.Client{Transport: transport}, upstream)

	target, _ := url.Parse(testOrigin + "/api/reports?draft=1")
	header := http.Header{}
	header.Set("Authorization", "Bearer token")
	header.Set("Connection", "keep-alive")
	resp, err := fetcher.Fetch(context.Background(), &strategy.Request{
		Method: http.MethodPost,
		URL:    target,
		Header: header,
		Body:   []byte(`{"site":"A"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, `{"id":1}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Empty(t, resp.Header.Get("Transfer-Encoding"))
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestHTTPFetcherTransportError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.ConnectionFailure)

	upstream, _ := url.Parse("http://127.0.0.1:3001")
	fetcher := NewHTTPFetcher(&http.Client{Transport: transport}, upstream)
	target, _ := url.Parse(testOrigin + "/api/version")

	_, err := fetcher.Fetch(context.Background(), &strategy.Request{Method: http.MethodGet, URL: target})
	assert.Error(t, err)
}

func TestHTTPFetcherNonSuccessIsNotAnError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://127.0.0.1:3001/missing",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	upstream, _ := url.Parse("http://127.0.0.1:3001")
	fetcher := NewHTTPFetcher(&http.Client{Transport: transport}, upstream)
	target, _ := url.Parse(testOrigin + "/missing")

	resp, err := fetcher.Fetch(context.Background(), &strategy.Request{Method: http.MethodGet, URL: target})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}
