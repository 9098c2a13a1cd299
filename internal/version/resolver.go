package version

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// FallbackTag 是版本查询失败时使用的占位版本。
const FallbackTag = "dev"

// maxVersionBody 限制版本接口响应体大小，避免异常上游拖垮安装流程。
const maxVersionBody = 64 * 1024

// Tag 标识一次部署的构建版本，用于拼接缓存分区名。
type Tag string

// String returns the raw tag value.
func (t Tag) String() string {
	return string(t)
}

// Resolver 通过后端的版本接口获取当前部署版本。
type Resolver struct {
	client   *http.Client
	endpoint string
	fallback Tag
	logger   *logrus.Logger
}

// NewResolver 构造版本解析器；fallback 为空时使用 FallbackTag。
func NewResolver(client *http.Client, endpoint string, fallback string, logger *logrus.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	fb := Tag(strings.TrimSpace(fallback))
	if fb == "" {
		fb = FallbackTag
	}
	return &Resolver{
		client:   client,
		endpoint: endpoint,
		fallback: fb,
		logger:   logger,
	}
}

// Fallback 返回解析失败时使用的版本。
func (r *Resolver) Fallback() Tag {
	return r.fallback
}

// Resolve 对版本接口发起一次 GET；任何失败都返回 fallback，不会向调用方抛错。
func (r *Resolver) Resolve(ctx context.Context) Tag {
	tag, _ := r.Lookup(ctx)
	return tag
}

// Lookup 与 Resolve 相同，但额外报告版本是否真正来自后端。ok 为 false 时 tag 是 fallback，
// 调用方据此区分"后端部署了新版本"与"后端不可达"。
func (r *Resolver) Lookup(ctx context.Context) (Tag, bool) {
	tag, err := r.fetch(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"action":   "version_resolve",
				"endpoint": r.endpoint,
				"fallback": string(r.fallback),
			}).Debug(err.Error())
		}
		return r.fallback, false
	}
	return tag, true
}

func (r *Resolver) fetch(ctx context.Context) (Tag, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{status: resp.StatusCode}
	}

	var payload struct {
		Version *string `json:"version"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxVersionBody)).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Version == nil || strings.TrimSpace(*payload.Version) == "" {
		return "", errMissingVersion
	}
	return Tag(strings.TrimSpace(*payload.Version)), nil
}
