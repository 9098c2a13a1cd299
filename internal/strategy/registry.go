package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu       sync.RWMutex
	profiles map[Kind]Profile
}

func newRegistry() *registry {
	return &registry{profiles: make(map[Kind]Profile)}
}

// Register 将策略元数据加入全局注册表，重复键会返回错误。
func Register(profile Profile) error {
	return globalRegistry.register(profile)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(profile Profile) {
	if err := Register(profile); err != nil {
		panic(err)
	}
}

// Resolve 返回指定策略的元数据。
func Resolve(kind Kind) (Profile, bool) {
	return globalRegistry.resolve(kind)
}

// List 返回按键排序的策略元数据列表。
func List() []Profile {
	return globalRegistry.list()
}

func normalizeKind(kind Kind) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(kind))))
}

func (r *registry) register(profile Profile) error {
	kind := normalizeKind(profile.Kind)
	if kind == "" {
		return fmt.Errorf("strategy kind is required")
	}
	profile.Kind = kind
	if profile.Order == "" {
		profile.Order = OrderNone
	}
	if profile.ReadScope == "" {
		profile.ReadScope = ScopeNone
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[kind]; exists {
		return fmt.Errorf("strategy %s already registered", kind)
	}
	r.profiles[kind] = profile
	return nil
}

func (r *registry) resolve(kind Kind) (Profile, bool) {
	normalized := normalizeKind(kind)
	if normalized == "" {
		return Profile{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[normalized]
	return profile, ok
}

func (r *registry) list() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.profiles) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.profiles))
	for key := range r.profiles {
		keys = append(keys, string(key))
	}
	sort.Strings(keys)
	result := make([]Profile, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.profiles[Kind(key)])
	}
	return result
}
