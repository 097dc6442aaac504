package cache

import (
	"sync/atomic"

	"github.com/pictureloader/pictureloader/pkg/types"
)

// Tiers pairs the decoded in-memory tier with the raw on-disk tier. The disk
// tier is optional; without it every memory miss goes to the network.
type Tiers[V any] struct {
	memory *MemoryCache[V]
	disk   atomic.Pointer[DiskCache]
}

// NewTiers builds the hierarchy. disk may be nil.
func NewTiers[V any](memory *MemoryCache[V], disk *DiskCache) *Tiers[V] {
	t := &Tiers[V]{memory: memory}
	if disk != nil {
		t.disk.Store(disk)
	}
	return t
}

// Memory returns the first level.
func (t *Tiers[V]) Memory() *MemoryCache[V] {
	return t.memory
}

// Disk returns the second level, or nil when it is unavailable.
func (t *Tiers[V]) Disk() *DiskCache {
	return t.disk.Load()
}

// DiskAvailable reports whether a persistent tier is attached.
func (t *Tiers[V]) DiskAvailable() bool {
	return t.disk.Load() != nil
}

// Stats returns per-level statistics, memory first.
func (t *Tiers[V]) Stats() []types.TierStats {
	levels := []types.TierStats{{
		Name:      types.TierMemory,
		Unit:      "KB",
		Available: true,
		Stats:     t.memory.Stats(),
	}}

	disk := types.TierStats{Name: types.TierDisk, Unit: "B"}
	if d := t.disk.Load(); d != nil {
		disk.Available = true
		disk.Stats = d.Stats()
	}
	return append(levels, disk)
}

// Purge empties both levels. The disk tier stays attached.
func (t *Tiers[V]) Purge() error {
	t.memory.Clear()
	d := t.disk.Load()
	if d == nil {
		return nil
	}
	return d.Clear()
}

// Close flushes and closes the disk tier.
func (t *Tiers[V]) Close() error {
	d := t.disk.Load()
	if d == nil {
		return nil
	}
	return d.Close()
}
