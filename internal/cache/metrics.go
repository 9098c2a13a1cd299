package cache

import "github.com/offline-hub/offline-hub/internal/metrics"

func recordWrite(kind Kind, ok bool) {
	metrics.CacheWrites.WithLabelValues(string(kind), metrics.Result(ok)).Inc()
}

func recordPartitionDelete(kind Kind, ok bool) {
	metrics.PartitionDeletes.WithLabelValues(string(kind), metrics.Result(ok)).Inc()
}

func recordSearchError(kind Kind) {
	metrics.CacheReadErrors.WithLabelValues(string(kind)).Inc()
}
