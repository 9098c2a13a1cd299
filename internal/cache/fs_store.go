package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	partitionMarker = ".partition"
	entrySuffix     = ".entry"
)

// NewFileStorage 以 basePath 为根目录构建磁盘分区存储，整站复用一份实例。
// 目录布局：
//
//	<StoragePath>/<partition>/.partition        # 创建时间（unix 纳秒）
//	<StoragePath>/<partition>/<sha1(key)>.entry  # gob(storedEntry)
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，分区级操作共享 partitionMu。
type fileStorage struct {
	basePath string

	partitionMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := validatePartitionName(name); err != nil {
		return nil, err
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := s.ensurePartition(name); err != nil {
		return nil, err
	}
	return &filePartition{storage: s, name: name}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := validatePartitionName(name); err != nil {
		return false, nil
	}
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.basePath, name, partitionMarker))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	s.partitionMu.Lock()
	defer s.partitionMu.Unlock()
	if err := os.RemoveAll(filepath.Join(s.basePath, name)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	type named struct {
		name    string
		created int64
	}
	items := make([]named, 0, len(dirs))
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, dir.Name(), partitionMarker))
		if err != nil {
			continue
		}
		created, _ := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		items = append(items, named{name: dir.Name(), created: created})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].created < items[j].created
	})
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.name
	}
	return names, nil
}

func (s *fileStorage) Close() error {
	return nil
}

func (s *fileStorage) ensurePartition(name string) error {
	s.partitionMu.Lock()
	defer s.partitionMu.Unlock()

	dir := filepath.Join(s.basePath, name)
	marker := filepath.Join(dir, partitionMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	created := strconv.FormatInt(time.Now().UnixNano(), 10)
	return os.WriteFile(marker, []byte(created), 0o644)
}

func (s *fileStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

type filePartition struct {
	storage *fileStorage
	name    string
}

func (p *filePartition) Name() string {
	return p.name
}

func (p *filePartition) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	entry, err := readEntryFile(p.entryPath(key))
	if err != nil {
		return nil, err
	}
	return entry.response(), nil
}

func (p *filePartition) Put(ctx context.Context, key Key, resp *Response) error {
	if err := checkPut(key, resp); err != nil {
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := p.storage.ensurePartition(p.name); err != nil {
		return err
	}

	unlock := p.storage.lockEntry(p.name + "::" + key.String())
	defer unlock()

	raw, err := encodeGob(newStoredEntry(key, resp))
	if err != nil {
		return err
	}

	filePath := p.entryPath(key)
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(raw)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (p *filePartition) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	unlock := p.storage.lockEntry(p.name + "::" + key.String())
	defer unlock()

	if err := os.Remove(p.entryPath(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *filePartition) Keys(ctx context.Context) ([]Key, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	dir := filepath.Join(p.storage.basePath, p.name)
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []Key
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), entrySuffix) {
			continue
		}
		entry, err := readEntryFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, entry.key())
	}
	return keys, nil
}

func (p *filePartition) entryPath(key Key) string {
	sum := sha1.Sum([]byte(key.String()))
	return filepath.Join(p.storage.basePath, p.name, hex.EncodeToString(sum[:])+entrySuffix)
}

func readEntryFile(path string) (storedEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storedEntry{}, ErrNotFound
		}
		return storedEntry{}, err
	}
	if info.IsDir() {
		return storedEntry{}, ErrNotFound
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storedEntry{}, ErrNotFound
		}
		return storedEntry{}, err
	}
	var entry storedEntry
	if err := decodeGob(raw, &entry); err != nil {
		return storedEntry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, nil
}
