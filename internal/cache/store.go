package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Storage 对应浏览器的 Cache Storage：按名称管理多个分区。
type Storage interface {
	// Open 返回指定名称的分区，不存在时立即创建。
	Open(ctx context.Context, name string) (Partition, error)

	// Has 判断分区是否存在，不会产生创建副作用。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个分区及其全部条目，返回分区此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 按创建顺序返回所有分区名称。
	Names(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Partition 是一个命名的 request → response 映射，条目写入后不可变，仅支持整体覆盖。
type Partition interface {
	Name() string

	// Match 返回 key 对应的响应副本；不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 写入响应快照，同名 key 以最后一次写入为准。仅接受 GET 请求。
	Put(ctx context.Context, key Key, resp *Response) error

	// Delete 删除单个条目，返回条目此前是否存在。
	Delete(ctx context.Context, key Key) (bool, error)

	// Keys 返回分区内全部条目的 key。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 唯一定位分区内的条目（方法 + 绝对 URL）。
type Key struct {
	Method string
	URL    string
}

// NewKey 规范化方法名并构造 Key。
func NewKey(method, rawURL string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: rawURL}
}

// String 返回 "METHOD URL" 形式的条目标识。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Response 是缓存中保存的响应快照。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// OK 表示响应是否为可缓存的 200。
func (r *Response) OK() bool {
	return r != nil && r.Status == http.StatusOK
}

// Clone 深拷贝响应，调用方可以安全地修改副本或把它交给后台写入。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		StoredAt: r.StoredAt,
	}
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}
	return clone
}

var (
	// ErrNotFound 表示缓存条目或分区不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrUnsupportedMethod 表示试图缓存非 GET 请求。
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")

	// ErrInvalidName 表示分区名称不合法。
	ErrInvalidName = errors.New("invalid partition name")
)

func validatePartitionName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidName
	}
	return nil
}

func checkPut(key Key, resp *Response) error {
	if key.Method != http.MethodGet {
		return ErrUnsupportedMethod
	}
	if resp == nil {
		return errors.New("response required")
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
