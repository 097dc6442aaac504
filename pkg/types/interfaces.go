package types

import "time"

// Tier names shared by caches and metrics.
const (
	TierMemory  = "memory"
	TierDisk    = "disk"
	TierNetwork = "network"
)

// Delivery outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeStale   = "stale"
)

// StatsProvider is implemented by every cache tier.
type StatsProvider interface {
	Stats() CacheStats
}

// MetricsRecorder defines the metrics collection interface used by the loader.
type MetricsRecorder interface {
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordFetch(scheme string, bytes int64, duration time.Duration, err error)
	RecordDecode(duration time.Duration, err error)
	RecordDelivery(outcome string)
	UpdateCacheSize(tier string, size int64)
	UpdateDispatch(stats DispatchStats)
}
