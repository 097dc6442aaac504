package cache

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pictureloader/pictureloader/pkg/types"
)

func TestTiers_Stats(t *testing.T) {
	mem := NewMemoryCache[weighted](100, weighKB)
	mem.Put("a", weighted{"a", 10})
	disk := openTestDisk(t, memfs.New(), 1024)
	put(t, disk, "a", "raw-bytes")

	tiers := NewTiers(mem, disk)
	defer tiers.Close()

	stats := tiers.Stats()
	require.Len(t, stats, 2)

	assert.Equal(t, types.TierMemory, stats[0].Name)
	assert.Equal(t, "KB", stats[0].Unit)
	assert.Equal(t, int64(10), stats[0].Stats.Size)

	assert.Equal(t, types.TierDisk, stats[1].Name)
	assert.True(t, stats[1].Available)
	assert.Equal(t, int64(len("raw-bytes")), stats[1].Stats.Size)
	assert.Equal(t, int64(1024), stats[1].Stats.Capacity)
}

func TestTiers_WithoutDisk(t *testing.T) {
	tiers := NewTiers(NewMemoryCache[weighted](100, weighKB), nil)

	assert.False(t, tiers.DiskAvailable())
	assert.Nil(t, tiers.Disk())
	stats := tiers.Stats()
	require.Len(t, stats, 2)
	assert.False(t, stats[1].Available)
	assert.NoError(t, tiers.Close())
	assert.NoError(t, tiers.Purge())
}

func TestTiers_Purge(t *testing.T) {
	fs := memfs.New()
	mem := NewMemoryCache[weighted](100, weighKB)
	mem.Put("a", weighted{"a", 10})
	disk := openTestDisk(t, fs, 1024)
	put(t, disk, "a", "raw")

	tiers := NewTiers(mem, disk)
	require.NoError(t, tiers.Purge())

	assert.Equal(t, 0, mem.Len())
	require.True(t, tiers.DiskAvailable())
	assert.Zero(t, disk.Len())
	assert.Zero(t, disk.Size())
	_, err := fs.Stat("a.0")
	assert.Error(t, err)

	put(t, disk, "b", "again")
	got, ok := disk.Get("b")
	require.True(t, ok)
	assert.Equal(t, "again", string(got))
}
