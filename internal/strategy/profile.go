package strategy

import "github.com/offline-hub/offline-hub/internal/cache"

// Kind 标识一种缓存策略。
type Kind string

const (
	KindIgnore                 Kind = "ignore"
	KindPassthrough            Kind = "passthrough"
	KindNetworkFirstAPI        Kind = "network-first-api"
	KindNetworkFirstNavigation Kind = "network-first-navigation"
	KindCacheFirstStatic       Kind = "cache-first-static"
	KindNetworkFirstData       Kind = "network-first-data"
	KindCacheFirstGeneric      Kind = "cache-first-generic"
)

// Order 描述网络与缓存两个来源的尝试顺序。
type Order string

const (
	OrderNetworkOnly  Order = "network-only"
	OrderNetworkFirst Order = "network-first"
	OrderCacheFirst   Order = "cache-first"
	OrderNone         Order = "none"
)

// Scope 描述缓存查找范围：仅当前版本，或所有历史版本。
type Scope string

const (
	ScopeNone        Scope = "none"
	ScopeCurrent     Scope = "current"
	ScopeAllVersions Scope = "all-versions"
)

// Profile 记录一种策略的静态信息。
type Profile struct {
	Kind        Kind
	Description string
	Order       Order
	// ReadKinds 是回退时查找的分区类别，按顺序尝试。
	ReadKinds []cache.Kind
	ReadScope Scope
	// WriteKind 为空表示该策略从不写缓存。
	WriteKind cache.Kind
	// StoreDestinations 非空时，只有这些 destination 的响应会被写入。
	StoreDestinations []string
}

// Stores 返回该策略是否会写缓存。
func (p Profile) Stores() bool {
	return p.WriteKind != ""
}

// StoresDestination 判断某个 destination 的响应是否允许写入。
func (p Profile) StoresDestination(dest string) bool {
	if !p.Stores() {
		return false
	}
	if len(p.StoreDestinations) == 0 {
		return true
	}
	for _, d := range p.StoreDestinations {
		if d == dest {
			return true
		}
	}
	return false
}
