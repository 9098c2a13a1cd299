package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/offline-hub/offline-hub/internal/config"
)

// OriginRoute 记录一次请求所属的站点：同源请求指向公开 Origin，
// 未登记的 Host 视为跨源请求。
type OriginRoute struct {
	// Origin 是缓存键使用的公开站点地址。
	Origin *url.URL
	// Upstream 是实际回源地址。
	Upstream *url.URL
	// Host 是请求中携带的原始 Host（已规范化）。
	Host        string
	ListenPort  int
	Alias       bool
	CrossOrigin bool
}

// RequestURL 组装请求的绝对 URL。同源请求统一使用 Origin，保证别名共享缓存条目。
func (r *OriginRoute) RequestURL(cleanPath, rawQuery, scheme string) *url.URL {
	target := &url.URL{Path: cleanPath, RawQuery: rawQuery}
	if r.CrossOrigin || r.Origin == nil {
		if scheme == "" {
			scheme = "http"
		}
		target.Scheme = scheme
		target.Host = r.Host
		return target
	}
	target.Scheme = r.Origin.Scheme
	target.Host = r.Origin.Host
	return target
}

// OriginRegistry 提供 Host/Host:port 到 OriginRoute 的查询能力。
type OriginRegistry struct {
	routes     map[string]*OriginRoute
	origin     *url.URL
	upstream   *url.URL
	listenPort int
}

// NewOriginRegistry 根据配置登记 Origin 及其别名。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	origin, err := url.Parse(cfg.Worker.Origin)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", cfg.Worker.Origin)
	}
	upstream, err := url.Parse(cfg.Worker.Upstream)
	if err != nil || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", cfg.Worker.Upstream)
	}

	registry := &OriginRegistry{
		routes:     make(map[string]*OriginRoute, 1+len(cfg.Worker.OriginAliases)),
		origin:     origin,
		upstream:   upstream,
		listenPort: cfg.Global.ListenPort,
	}

	if err := registry.add(origin.Host, false); err != nil {
		return nil, err
	}
	for _, alias := range cfg.Worker.OriginAliases {
		if err := registry.add(alias, true); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *OriginRegistry) add(host string, alias bool) error {
	normalized := normalizeDomain(host)
	if normalized == "" {
		return fmt.Errorf("invalid origin host %q", host)
	}
	if _, exists := r.routes[normalized]; exists {
		return fmt.Errorf("duplicate origin mapping detected for %s", normalized)
	}
	r.routes[normalized] = &OriginRoute{
		Origin:     r.origin,
		Upstream:   r.upstream,
		Host:       normalized,
		ListenPort: r.listenPort,
		Alias:      alias,
	}
	return nil
}

// Lookup 根据 Host 或 Host:port 查找同源路由。
func (r *OriginRegistry) Lookup(host string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}
	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}
	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Resolve 总是返回一个路由：未登记的 Host 得到跨源路由。
func (r *OriginRegistry) Resolve(host string) *OriginRoute {
	if route, ok := r.Lookup(host); ok {
		return route
	}
	trimmed := strings.ToLower(strings.TrimSpace(host))
	return &OriginRoute{
		Upstream:    r.upstream,
		Host:        trimmed,
		ListenPort:  r.listenPort,
		CrossOrigin: true,
	}
}

// Hosts 返回登记的全部 Host，供诊断输出。
func (r *OriginRegistry) Hosts() []string {
	if r == nil {
		return nil
	}
	hosts := make([]string, 0, len(r.routes))
	for host := range r.routes {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
