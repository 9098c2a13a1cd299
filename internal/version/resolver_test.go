package version

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

const testEndpoint = "http://backend.local/api/version"

func newMockResolver(t *testing.T, fallback string) (*Resolver, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewResolver(&http.Client{Transport: mock}, testEndpoint, fallback, logger), mock
}

func TestResolveReturnsVersionField(t *testing.T) {
	resolver, mock := newMockResolver(t, "")
	mock.RegisterResponder(http.MethodGet, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"version":"2024.11.3"}`))

	assert.Equal(t, Tag("2024.11.3"), resolver.Resolve(context.Background()))
	assert.Equal(t, 1, mock.GetTotalCallCount())

	tag, ok := resolver.Lookup(context.Background())
	assert.True(t, ok)
	assert.Equal(t, Tag("2024.11.3"), tag)
}

func TestResolveFallsBack(t *testing.T) {
	cases := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"network error", httpmock.NewErrorResponder(errors.New("dial tcp: connection refused"))},
		{"non-200", httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"version":"x"}`)},
		{"malformed json", httpmock.NewStringResponder(http.StatusOK, `{"version":`)},
		{"missing field", httpmock.NewStringResponder(http.StatusOK, `{"build":"x"}`)},
		{"empty field", httpmock.NewStringResponder(http.StatusOK, `{"version":"  "}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver, mock := newMockResolver(t, "")
			mock.RegisterResponder(http.MethodGet, testEndpoint, tc.responder)

			tag, ok := resolver.Lookup(context.Background())
			assert.False(t, ok, "fallback must be reported")
			assert.Equal(t, Tag(FallbackTag), tag)
			assert.Equal(t, 1, mock.GetTotalCallCount(), "resolver must not retry")
			assert.Equal(t, Tag(FallbackTag), resolver.Resolve(context.Background()))
		})
	}
}

func TestResolveUsesConfiguredFallback(t *testing.T) {
	resolver, _ := newMockResolver(t, "offline")
	assert.Equal(t, Tag("offline"), resolver.Resolve(context.Background()))
	assert.Equal(t, Tag("offline"), resolver.Fallback())
}

func TestFullIncludesBinaryName(t *testing.T) {
	assert.Contains(t, Full(), "offline-hub")
}
