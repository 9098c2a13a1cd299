package cache

import (
	"bytes"
	"encoding/gob"
	"net/http"
	"time"
)

// storedEntry 是持久化格式，同时保留 key 以便枚举分区内容。
type storedEntry struct {
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix nanoseconds
}

func newStoredEntry(key Key, resp *Response) storedEntry {
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	return storedEntry{
		Method:   key.Method,
		URL:      key.URL,
		Status:   resp.Status,
		Header:   resp.Header.Clone(),
		Body:     append([]byte(nil), resp.Body...),
		StoredAt: storedAt.UnixNano(),
	}
}

func (e storedEntry) key() Key {
	return Key{Method: e.Method, URL: e.URL}
}

func (e storedEntry) response() *Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:   e.Status,
		Header:   header,
		Body:     append([]byte(nil), e.Body...),
		StoredAt: time.Unix(0, e.StoredAt).UTC(),
	}
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
