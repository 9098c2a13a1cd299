package cache

import (
	"context"
	"errors"
	"strings"
)

// Hit 描述一次跨分区查找的命中结果。
type Hit struct {
	Partition string
	Response  *Response
}

// Search 依次在 candidates 中查找 key，返回第一个命中。不存在的分区会被跳过
// 且不会被创建；读取失败的分区视为未命中。全部未命中时返回 ErrNotFound。
func Search(ctx context.Context, storage Storage, candidates []string, key Key) (Hit, error) {
	for _, name := range candidates {
		if err := ctxErr(ctx); err != nil {
			return Hit{}, err
		}
		exists, err := storage.Has(ctx, name)
		if err != nil || !exists {
			continue
		}
		partition, err := storage.Open(ctx, name)
		if err != nil {
			continue
		}
		resp, err := partition.Match(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				recordSearchError(KindOf(name))
			}
			continue
		}
		return Hit{Partition: name, Response: resp}, nil
	}
	return Hit{}, ErrNotFound
}

// PartitionsOf 按创建顺序返回某一类别在所有版本下的分区名。
func PartitionsOf(ctx context.Context, storage Storage, kind Kind) ([]string, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	prefix := kind.Prefix()
	var result []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			result = append(result, name)
		}
	}
	return result, nil
}

// SearchKind 在某一类别的所有版本分区中查找 key（跨版本回退链）。
func SearchKind(ctx context.Context, storage Storage, kind Kind, key Key) (Hit, error) {
	candidates, err := PartitionsOf(ctx, storage, kind)
	if err != nil {
		return Hit{}, err
	}
	return Search(ctx, storage, candidates, key)
}
