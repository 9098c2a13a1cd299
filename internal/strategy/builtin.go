package strategy

import "github.com/offline-hub/offline-hub/internal/cache"

// 可以写入 static 分区的资源类型（cache-first-generic）。
var cacheableDestinations = []string{"style", "script", "image", "font"}

func init() {
	MustRegister(Profile{
		Kind:        KindIgnore,
		Description: "Cross-origin request outside the API prefix; not intercepted",
		Order:       OrderNone,
	})
	MustRegister(Profile{
		Kind:        KindPassthrough,
		Description: "Mutating API call; always network, never cached",
		Order:       OrderNetworkOnly,
	})
	MustRegister(Profile{
		Kind:        KindNetworkFirstAPI,
		Description: "API GET; network first, runtime cache fallback, JSON offline placeholder",
		Order:       OrderNetworkFirst,
		ReadKinds:   []cache.Kind{cache.KindRuntime},
		ReadScope:   ScopeCurrent,
		WriteKind:   cache.KindRuntime,
	})
	MustRegister(Profile{
		Kind:        KindNetworkFirstNavigation,
		Description: "Document navigation; network first, page cache of any version, root page, HTML offline page",
		Order:       OrderNetworkFirst,
		ReadKinds:   []cache.Kind{cache.KindPage},
		ReadScope:   ScopeAllVersions,
		WriteKind:   cache.KindPage,
	})
	MustRegister(Profile{
		Kind:        KindCacheFirstStatic,
		Description: "Versioned build asset; static cache of any version, then network",
		Order:       OrderCacheFirst,
		ReadKinds:   []cache.Kind{cache.KindStatic},
		ReadScope:   ScopeAllVersions,
		WriteKind:   cache.KindStatic,
	})
	MustRegister(Profile{
		Kind:        KindNetworkFirstData,
		Description: "Framework data fetch; network first, runtime cache fallback",
		Order:       OrderNetworkFirst,
		ReadKinds:   []cache.Kind{cache.KindRuntime},
		ReadScope:   ScopeCurrent,
		WriteKind:   cache.KindRuntime,
	})
	MustRegister(Profile{
		Kind:              KindCacheFirstGeneric,
		Description:       "Other asset; current caches first, then network, stores styles/scripts/images/fonts",
		Order:             OrderCacheFirst,
		ReadKinds:         []cache.Kind{cache.KindPage, cache.KindRuntime, cache.KindStatic},
		ReadScope:         ScopeCurrent,
		WriteKind:         cache.KindStatic,
		StoreDestinations: cacheableDestinations,
	})
}
