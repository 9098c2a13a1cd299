package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind 是分区的逻辑类别，分区名总是 <kind>-<tag>。
type Kind string

const (
	KindPage    Kind = "page-cache"
	KindRuntime Kind = "runtime-cache"
	KindStatic  Kind = "static-cache"
)

// Kinds 返回全部分区类别，顺序固定。
func Kinds() []Kind {
	return []Kind{KindPage, KindRuntime, KindStatic}
}

// Prefix 返回该类别分区名的前缀，例如 "page-cache-"。
func (k Kind) Prefix() string {
	return string(k) + "-"
}

// Namespace 由版本号派生出三个当前分区名。
type Namespace struct {
	tag string
}

// NewNamespace 根据版本号构造命名空间；同一 tag 总是得到同一组名称。
func NewNamespace(tag string) Namespace {
	return Namespace{tag: tag}
}

// Tag 返回命名空间对应的版本号。
func (n Namespace) Tag() string {
	return n.tag
}

// Name 返回指定类别在当前版本下的分区名。
func (n Namespace) Name(kind Kind) string {
	return kind.Prefix() + n.tag
}

func (n Namespace) Page() string    { return n.Name(KindPage) }
func (n Namespace) Runtime() string { return n.Name(KindRuntime) }
func (n Namespace) Static() string  { return n.Name(KindStatic) }

// Current 返回需要保留的三个分区名（page、runtime、static）。
func (n Namespace) Current() []string {
	return []string{n.Page(), n.Runtime(), n.Static()}
}

// Owns 判断分区名是否由本组件管理（以任一类别前缀开头）。
func Owns(name string) bool {
	return KindOf(name) != ""
}

// KindOf 返回分区名对应的类别；非受管分区返回空字符串。
func KindOf(name string) Kind {
	for _, kind := range Kinds() {
		if strings.HasPrefix(name, kind.Prefix()) {
			return kind
		}
	}
	return ""
}

// PruneReport 汇总一次清理的结果。
type PruneReport struct {
	Deleted []string
	Failed  map[string]error
}

// PruneStale 删除所有不属于 current 的受管分区。各分区并行删除，
// 单个失败只记录日志，不影响其它分区。
func PruneStale(ctx context.Context, storage Storage, current Namespace, logger *logrus.Logger) (PruneReport, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return PruneReport{}, err
	}
	keep := make(map[string]struct{}, 3)
	for _, name := range current.Current() {
		keep[name] = struct{}{}
	}

	var stale []string
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		if Owns(name) {
			stale = append(stale, name)
		}
	}
	return deleteAll(ctx, storage, stale, "cache_prune", logger), nil
}

// LatestTag 在已持久化的受管分区中找出最近写入过条目的版本标签，供版本无法解析时
// 接管旧缓存。写入时间相同（含全部为空分区）时取字典序最大的标签；没有受管分区时返回空串。
func LatestTag(ctx context.Context, storage Storage) (string, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return "", err
	}
	newest := make(map[string]time.Time)
	for _, name := range names {
		kind := KindOf(name)
		if kind == "" {
			continue
		}
		tag := strings.TrimPrefix(name, kind.Prefix())
		stamp, err := latestEntry(ctx, storage, name)
		if err != nil {
			return "", err
		}
		if current, ok := newest[tag]; !ok || stamp.After(current) {
			newest[tag] = stamp
		}
	}
	if len(newest) == 0 {
		return "", nil
	}

	tags := make([]string, 0, len(newest))
	for tag := range newest {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		ti, tj := newest[tags[i]], newest[tags[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return tags[i] > tags[j]
	})
	return tags[0], nil
}

func latestEntry(ctx context.Context, storage Storage, name string) (time.Time, error) {
	partition, err := storage.Open(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	keys, err := partition.Keys(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, key := range keys {
		resp, err := partition.Match(ctx, key)
		if err != nil {
			continue
		}
		if resp.StoredAt.After(latest) {
			latest = resp.StoredAt
		}
	}
	return latest, nil
}

// ClearAll 删除全部受管分区（所有版本），用于手动清空缓存。
func ClearAll(ctx context.Context, storage Storage, logger *logrus.Logger) (PruneReport, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return PruneReport{}, err
	}
	var owned []string
	for _, name := range names {
		if Owns(name) {
			owned = append(owned, name)
		}
	}
	return deleteAll(ctx, storage, owned, "cache_clear", logger), nil
}

func deleteAll(ctx context.Context, storage Storage, names []string, action string, logger *logrus.Logger) PruneReport {
	report := PruneReport{Failed: map[string]error{}}
	if len(names) == 0 {
		return report
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := storage.Delete(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[name] = err
				return
			}
			report.Deleted = append(report.Deleted, name)
		}(name)
	}
	wg.Wait()

	for name, err := range report.Failed {
		if logger != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":    action,
				"partition": name,
			}).Warn("partition_delete_failed")
		}
		recordPartitionDelete(KindOf(name), false)
	}
	for _, name := range report.Deleted {
		recordPartitionDelete(KindOf(name), true)
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"action":  action,
			"deleted": len(report.Deleted),
			"failed":  len(report.Failed),
		}).Info("partitions_deleted")
	}
	return report
}
