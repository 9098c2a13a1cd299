package proxy

import (
	"net/http"

	"github.com/offline-hub/offline-hub/internal/cache"
)

const (
	offlineAPIBody  = `{"success":false,"error":"Offline - no cached data available","offline":true}`
	offlinePageBody = "Offline - please visit the app online first"
)

// offlineAPIResponse 在 API 请求既无网络也无缓存时返回，offline=true 供前端区分。
func offlineAPIResponse() *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &cache.Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte(offlineAPIBody),
	}
}

func offlinePageResponse() *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/html")
	return &cache.Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte(offlinePageBody),
	}
}

// emptyNotFound 是静态资源彻底不可用时的终态。
func emptyNotFound() *cache.Response {
	return &cache.Response{Status: http.StatusNotFound, Header: http.Header{}}
}
