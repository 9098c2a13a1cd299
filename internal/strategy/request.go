package strategy

import (
	"net/http"
	"net/url"
	"strings"
)

// 请求模式，对应 Sec-Fetch-Mode。
const (
	ModeNavigate   = "navigate"
	ModeCORS       = "cors"
	ModeNoCORS     = "no-cors"
	ModeSameOrigin = "same-origin"
)

// Request 是被拦截请求的最小模型。
type Request struct {
	Method string
	// URL 为绝对地址；同源请求已规范化到公开 Origin。
	URL         *url.URL
	Mode        string
	Destination string
	// CrossOrigin 表示请求目标不属于本网关服务的 Origin。
	CrossOrigin bool
	Header      http.Header
	Body        []byte
}

// Path 返回 URL 的路径部分，空值视为 "/"。
func (r *Request) Path() string {
	if r == nil || r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// IsNavigation 判断请求是否为文档导航。
func (r *Request) IsNavigation() bool {
	return r != nil && r.Mode == ModeNavigate
}

// InferMode 根据 Sec-Fetch-Mode 推断请求模式；缺失时，GET 且 Accept 首选 text/html 视为导航。
func InferMode(method string, header http.Header) string {
	if mode := strings.ToLower(strings.TrimSpace(header.Get("Sec-Fetch-Mode"))); mode != "" {
		return mode
	}
	if method != http.MethodGet {
		return ModeCORS
	}
	if acceptsHTML(header.Get("Accept")) {
		return ModeNavigate
	}
	return ModeNoCORS
}

// InferDestination 读取 Sec-Fetch-Dest；缺失时按扩展名粗略推断。
func InferDestination(header http.Header, path string) string {
	if dest := strings.ToLower(strings.TrimSpace(header.Get("Sec-Fetch-Dest"))); dest != "" {
		return dest
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".css"):
		return "style"
	case strings.HasSuffix(lower, ".js"), strings.HasSuffix(lower, ".mjs"):
		return "script"
	case hasAnySuffix(lower, ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".avif"):
		return "image"
	case hasAnySuffix(lower, ".woff", ".woff2", ".ttf", ".otf", ".eot"):
		return "font"
	}
	return ""
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	first := strings.TrimSpace(strings.Split(accept, ",")[0])
	if idx := strings.Index(first, ";"); idx >= 0 {
		first = first[:idx]
	}
	return strings.EqualFold(strings.TrimSpace(first), "text/html")
}

func hasAnySuffix(value string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(value, suffix) {
			return true
		}
	}
	return false
}
