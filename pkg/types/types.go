package types

import "time"

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// UpdateRatios recomputes HitRate and Utilization from the raw counters.
func (s *CacheStats) UpdateRatios() {
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	} else {
		s.HitRate = 0
	}
	if s.Capacity > 0 {
		s.Utilization = float64(s.Size) / float64(s.Capacity)
	} else {
		s.Utilization = 0
	}
}

// TierStats couples a cache tier name with its statistics. Size and Capacity
// are in the tier's own unit: kilobytes for memory, bytes for disk.
type TierStats struct {
	Name      string     `json:"name"`
	Unit      string     `json:"unit"`
	Available bool       `json:"available"`
	Stats     CacheStats `json:"stats"`
}

// DispatchStats represents worker pool statistics
type DispatchStats struct {
	Workers   int    `json:"workers"`
	Idle      int    `json:"idle"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
}

// LoaderStats aggregates every tier and the dispatcher.
type LoaderStats struct {
	Timestamp  time.Time     `json:"timestamp"`
	Tiers      []TierStats   `json:"tiers"`
	Dispatch   DispatchStats `json:"dispatch"`
	Delivered  uint64        `json:"delivered"`
	StaleDrops uint64        `json:"stale_drops"`
	Failures   uint64        `json:"failures"`
}

// Tier returns the named tier statistics, if present.
func (s LoaderStats) Tier(name string) (TierStats, bool) {
	for _, t := range s.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return TierStats{}, false
}
