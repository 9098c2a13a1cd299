// Package metrics 定义缓存层暴露的 Prometheus 指标，统一注册在 Registry 上，
// 由 /-/metrics 诊断接口输出。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "offline_hub"

// Registry 是本进程专用的指标注册表，避免与默认注册表冲突。
var Registry = prometheus.NewRegistry()

var (
	// FetchOutcomes 按策略与来源（network/cache/offline/error）统计请求。
	FetchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_outcomes_total",
		Help:      "Intercepted requests by strategy and response source.",
	}, []string{"strategy", "source"})

	// FetchDuration 记录各策略的处理耗时。
	FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent producing a response per strategy.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"strategy"})

	// CacheWrites 统计后台写入结果。
	CacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_writes_total",
		Help:      "Best-effort cache writes by partition kind and result.",
	}, []string{"kind", "result"})

	// CacheReadErrors 统计读取分区时的非 miss 错误。
	CacheReadErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_read_errors_total",
		Help:      "Partition read failures other than a miss.",
	}, []string{"kind"})

	// PartitionDeletes 统计分区删除（清理过期版本或手动清空）。
	PartitionDeletes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "partition_deletes_total",
		Help:      "Partition deletions by kind and result.",
	}, []string{"kind", "result"})

	// PrecacheEntries 统计安装阶段预缓存条目结果。
	PrecacheEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "precache_entries_total",
		Help:      "Precache manifest entries by result.",
	}, []string{"result"})

	// Generations 记录各生命周期状态下的 worker 代数。
	Generations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "generations",
		Help:      "Worker generations by lifecycle state.",
	}, []string{"state"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		FetchOutcomes,
		FetchDuration,
		CacheWrites,
		CacheReadErrors,
		PartitionDeletes,
		PrecacheEntries,
		Generations,
	)
}

// Result 将布尔结果映射为指标标签值。
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
