package strategy

import (
	"net/http"
	"strings"
)

// 默认路径约定。
const (
	DefaultAPIPrefix     = "/api"
	DefaultStaticSegment = "/_next/static/"
	DefaultDataSegment   = "/_next/data/"
)

// Classifier 按固定顺序把请求映射到策略，首个命中的规则生效。
type Classifier struct {
	APIPrefix     string
	StaticSegment string
	DataSegment   string
}

// NewClassifier 使用给定路径约定构造分类器，空值回落到默认值。
func NewClassifier(apiPrefix, staticSegment, dataSegment string) Classifier {
	c := Classifier{APIPrefix: apiPrefix, StaticSegment: staticSegment, DataSegment: dataSegment}
	if c.APIPrefix == "" {
		c.APIPrefix = DefaultAPIPrefix
	}
	if c.StaticSegment == "" {
		c.StaticSegment = DefaultStaticSegment
	}
	if c.DataSegment == "" {
		c.DataSegment = DefaultDataSegment
	}
	return c
}

// Classify 是纯函数。
func (c Classifier) Classify(req *Request) Kind {
	path := req.Path()
	api := c.underAPIPrefix(path)

	switch {
	case req.CrossOrigin && !api:
		return KindIgnore
	case api && req.Method != http.MethodGet:
		return KindPassthrough
	case api:
		return KindNetworkFirstAPI
	case req.IsNavigation():
		return KindNetworkFirstNavigation
	case c.StaticSegment != "" && strings.Contains(path, c.StaticSegment):
		return KindCacheFirstStatic
	case c.DataSegment != "" && strings.Contains(path, c.DataSegment):
		return KindNetworkFirstData
	default:
		return KindCacheFirstGeneric
	}
}

// underAPIPrefix 要求前缀落在路径段边界上："/api" 匹配 "/api" 与 "/api/x"，不匹配 "/apiary"。
func (c Classifier) underAPIPrefix(path string) bool {
	prefix := strings.TrimSuffix(c.APIPrefix, "/")
	if prefix == "" {
		return false
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}
