package cache

import (
	"context"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// NewMemoryStorage 构建进程内分区存储；每个分区是一个永不过期的 go-cache 实例。
func NewMemoryStorage() Storage {
	return &memoryStorage{partitions: make(map[string]*memoryPartition)}
}

type memoryStorage struct {
	mu         sync.RWMutex
	seq        uint64
	partitions map[string]*memoryPartition
}

type memoryPartition struct {
	storage *memoryStorage
	name    string
	seq     uint64
	items   *gocache.Cache
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := validatePartitionName(name); err != nil {
		return nil, err
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return s.ensure(name), nil
}

func (s *memoryStorage) ensure(name string) *memoryPartition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[name]; ok {
		return p
	}
	s.seq++
	p := &memoryPartition{
		storage: s,
		name:    name,
		seq:     s.seq,
		items:   gocache.New(gocache.NoExpiration, 0),
	}
	s.partitions[name] = p
	return p
}

func (s *memoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.partitions[name]
	return ok, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[name]
	if !ok {
		return false, nil
	}
	p.items.Flush()
	delete(s.partitions, name)
	return true, nil
}

func (s *memoryStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	items := make([]*memoryPartition, 0, len(s.partitions))
	for _, p := range s.partitions {
		items = append(items, p)
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		return items[i].seq < items[j].seq
	})
	names := make([]string, len(items))
	for i, p := range items {
		names[i] = p.name
	}
	return names, nil
}

func (s *memoryStorage) Close() error {
	return nil
}

func (p *memoryPartition) Name() string {
	return p.name
}

func (p *memoryPartition) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	value, ok := p.items.Get(key.String())
	if !ok {
		return nil, ErrNotFound
	}
	entry, ok := value.(storedEntry)
	if !ok {
		return nil, ErrNotFound
	}
	return entry.response(), nil
}

func (p *memoryPartition) Put(ctx context.Context, key Key, resp *Response) error {
	if err := checkPut(key, resp); err != nil {
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}
	// 已删除分区的旧句柄写入时重新登记，保持“写入即存在”。
	target := p.storage.ensure(p.name)
	target.items.Set(key.String(), newStoredEntry(key, resp), gocache.NoExpiration)
	return nil
}

func (p *memoryPartition) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	if _, ok := p.items.Get(key.String()); !ok {
		return false, nil
	}
	p.items.Delete(key.String())
	return true, nil
}

func (p *memoryPartition) Keys(ctx context.Context) ([]Key, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	items := p.items.Items()
	keys := make([]Key, 0, len(items))
	for _, item := range items {
		if entry, ok := item.Object.(storedEntry); ok {
			keys = append(keys, entry.key())
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}
