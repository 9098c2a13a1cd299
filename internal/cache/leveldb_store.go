package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 键布局：
//
//	p:<partition>               -> 创建序号（uint64 big-endian）
//	e:<partition>\x00<METHOD URL> -> gob(storedEntry)
const (
	levelPartitionPrefix = "p:"
	levelEntryPrefix     = "e:"
)

// NewLevelDBStorage 在 path 下打开（或创建）LevelDB 数据库作为分区存储。
func NewLevelDBStorage(path string) (Storage, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return newLevelStorage(db)
}

// NewLevelDBMemStorage 基于 LevelDB 内存存储构建分区存储，主要用于测试。
func NewLevelDBMemStorage() (Storage, error) {
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newLevelStorage(db)
}

type levelStorage struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64
}

func newLevelStorage(db *leveldb.DB) (*levelStorage, error) {
	s := &levelStorage{db: db}
	it := db.NewIterator(util.BytesPrefix([]byte(levelPartitionPrefix)), nil)
	defer it.Release()
	for it.Next() {
		if seq := decodeSeq(it.Value()); seq > s.seq {
			s.seq = seq
		}
	}
	if err := it.Error(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *levelStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := validatePartitionName(name); err != nil {
		return nil, err
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	marker := []byte(levelPartitionPrefix + name)
	exists, err := s.db.Has(marker, nil)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.seq++
		if err := s.db.Put(marker, encodeSeq(s.seq), nil); err != nil {
			return nil, err
		}
	}
	return &levelPartition{storage: s, name: name}, nil
}

func (s *levelStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := validatePartitionName(name); err != nil {
		return false, nil
	}
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	return s.db.Has([]byte(levelPartitionPrefix+name), nil)
}

func (s *levelStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validatePartitionName(name); err != nil {
		return false, nil
	}
	if err := ctxErr(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	marker := []byte(levelPartitionPrefix + name)
	exists, err := s.db.Has(marker, nil)
	if err != nil || !exists {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(marker)
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *levelStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	type named struct {
		name string
		seq  uint64
	}
	var items []named
	it := s.db.NewIterator(util.BytesPrefix([]byte(levelPartitionPrefix)), nil)
	for it.Next() {
		items = append(items, named{
			name: string(bytes.TrimPrefix(it.Key(), []byte(levelPartitionPrefix))),
			seq:  decodeSeq(it.Value()),
		})
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].seq < items[j].seq
	})
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.name
	}
	return names, nil
}

func (s *levelStorage) Close() error {
	return s.db.Close()
}

type levelPartition struct {
	storage *levelStorage
	name    string
}

func (p *levelPartition) Name() string {
	return p.name
}

func (p *levelPartition) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	raw, err := p.storage.db.Get(p.entryKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var entry storedEntry
	if err := decodeGob(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry.response(), nil
}

func (p *levelPartition) Put(ctx context.Context, key Key, resp *Response) error {
	if err := checkPut(key, resp); err != nil {
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}
	raw, err := encodeGob(newStoredEntry(key, resp))
	if err != nil {
		return err
	}

	// 分区可能已被并发删除，写入时一并恢复标记，保持“写入即存在”。
	p.storage.mu.Lock()
	defer p.storage.mu.Unlock()
	batch := new(leveldb.Batch)
	marker := []byte(levelPartitionPrefix + p.name)
	if exists, err := p.storage.db.Has(marker, nil); err != nil {
		return err
	} else if !exists {
		p.storage.seq++
		batch.Put(marker, encodeSeq(p.storage.seq))
	}
	batch.Put(p.entryKey(key), raw)
	return p.storage.db.Write(batch, nil)
}

func (p *levelPartition) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	entryKey := p.entryKey(key)
	exists, err := p.storage.db.Has(entryKey, nil)
	if err != nil || !exists {
		return false, err
	}
	if err := p.storage.db.Delete(entryKey, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (p *levelPartition) Keys(ctx context.Context) ([]Key, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	prefix := entryPrefix(p.name)
	var keys []Key
	it := p.storage.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		var entry storedEntry
		if err := decodeGob(it.Value(), &entry); err != nil {
			continue
		}
		keys = append(keys, entry.key())
	}
	return keys, it.Error()
}

func (p *levelPartition) entryKey(key Key) []byte {
	return append(entryPrefix(p.name), key.String()...)
}

func entryPrefix(name string) []byte {
	return []byte(levelEntryPrefix + name + "\x00")
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func decodeSeq(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
