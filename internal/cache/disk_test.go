package cache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/pictureloader/pictureloader/pkg/errors"
)

func plentyOfSpace(string) (uint64, error) { return 1 << 40, nil }

func openTestDisk(t *testing.T, fs billy.Filesystem, maxSize int64, opts ...DiskOption) *DiskCache {
	t.Helper()
	opts = append([]DiskOption{WithSpaceProbe(plentyOfSpace)}, opts...)
	c, err := OpenDisk(fs, maxSize, opts...)
	require.NoError(t, err)
	return c
}

func put(t *testing.T, c *DiskCache, key, value string) {
	t.Helper()
	ed, err := c.Edit(key)
	require.NoError(t, err)
	_, err = ed.Write([]byte(value))
	require.NoError(t, err)
	require.NoError(t, ed.Commit())
}

func readJournalText(t *testing.T, fs billy.Filesystem) string {
	t.Helper()
	data, err := util.ReadFile(fs, journalFile)
	require.NoError(t, err)
	return string(data)
}

func TestOpenDisk_CreatesJournal(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024, WithAppVersion(3))
	defer c.Close()

	assert.Equal(t, "libcore.io.DiskLruCache\n1\n3\n1\n\n", readJournalText(t, fs))
	assert.Equal(t, int64(0), c.Size())
	assert.Equal(t, int64(1024), c.MaxSize())
}

func TestOpenDisk_Availability(t *testing.T) {
	tests := []struct {
		name    string
		probe   SpaceProbe
		maxSize int64
		code    lerrors.ErrorCode
	}{
		{
			name:    "free space equal to max is not enough",
			probe:   func(string) (uint64, error) { return 1024, nil },
			maxSize: 1024,
			code:    lerrors.ErrCodeDiskUnavailable,
		},
		{
			name:    "probe failure",
			probe:   func(string) (uint64, error) { return 0, errors.New("statfs failed") },
			maxSize: 1024,
			code:    lerrors.ErrCodeDiskUnavailable,
		},
		{
			name:    "zero max size",
			probe:   plentyOfSpace,
			maxSize: 0,
			code:    lerrors.ErrCodeInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenDisk(memfs.New(), tt.maxSize, WithSpaceProbe(tt.probe))
			require.Error(t, err)
			assert.True(t, lerrors.IsCode(err, tt.code), "got %v", err)
		})
	}

	t.Run("free space above max opens", func(t *testing.T) {
		c, err := OpenDisk(memfs.New(), 1024, WithSpaceProbe(func(string) (uint64, error) { return 1025, nil }))
		require.NoError(t, err)
		require.NoError(t, c.Close())
	})
}

func TestDiskCache_CommitAndGet(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024)
	defer c.Close()

	put(t, c, "k1", "hello")

	data, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), c.Size())
	assert.Equal(t, 1, c.Len())
	require.NoError(t, c.Flush())

	_, err := fs.Stat("k1.0")
	assert.NoError(t, err)
	_, err = fs.Stat("k1.0.tmp")
	assert.Error(t, err)

	journal := readJournalText(t, fs)
	assert.Contains(t, journal, "DIRTY k1\nCLEAN k1 5\n")
	assert.Contains(t, journal, "READ k1\n")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Entries)
}

func TestDiskCache_Miss(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)
	defer c.Close()

	_, ok := c.Get("absent")
	assert.False(t, ok)
	_, ok = c.Get("Not A Key")
	assert.False(t, ok)
	assert.Equal(t, uint64(2), c.Stats().Misses)
}

func TestDiskCache_UncommittedIsInvisible(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)
	defer c.Close()

	ed, err := c.Edit("k")
	require.NoError(t, err)
	_, err = ed.Write([]byte("partial"))
	require.NoError(t, err)

	_, ok := c.Get("k")
	assert.False(t, ok, "in-progress value must not be visible")
	assert.False(t, c.Contains("k"))

	require.NoError(t, ed.Commit())
	data, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "partial", string(data))
}

func TestDiskCache_Abort(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024)
	defer c.Close()

	ed, err := c.Edit("k")
	require.NoError(t, err)
	_, _ = ed.Write([]byte("discard me"))
	require.NoError(t, ed.Abort())

	_, ok := c.Get("k")
	assert.False(t, ok)
	_, err = fs.Stat("k.0.tmp")
	assert.Error(t, err, "temporary file must be removed")
	assert.Contains(t, readJournalText(t, fs), "DIRTY k\nREMOVE k\n")

	// Completion is idempotent.
	assert.NoError(t, ed.Commit())
	assert.NoError(t, ed.Abort())
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestDiskCache_AbortKeepsPreviousValue(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)
	defer c.Close()

	put(t, c, "k", "v1")
	ed, err := c.Edit("k")
	require.NoError(t, err)
	_, _ = ed.Write([]byte("v2-partial"))
	require.NoError(t, ed.Abort())

	data, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", string(data))
	assert.Equal(t, int64(2), c.Size())
}

func TestDiskCache_Replace(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)
	defer c.Close()

	put(t, c, "k", "short")
	put(t, c, "k", "much longer value")

	data, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "much longer value", string(data))
	assert.Equal(t, int64(len("much longer value")), c.Size())
}

func TestDiskCache_EditBusy(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)
	defer c.Close()

	first, err := c.Edit("k")
	require.NoError(t, err)

	_, err = c.Edit("k")
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeDiskWriteBusy))

	other, err := c.Edit("other")
	require.NoError(t, err, "different keys edit concurrently")
	require.NoError(t, other.Abort())

	_, _ = first.Write([]byte("x"))
	require.NoError(t, first.Commit())

	again, err := c.Edit("k")
	require.NoError(t, err, "lock released after commit")
	require.NoError(t, again.Abort())
}

func TestDiskCache_InvalidKey(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)
	defer c.Close()

	for _, key := range []string{"", "UPPER", "has space", "a/b", strings.Repeat("a", 121)} {
		_, err := c.Edit(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestDiskCache_EvictsLeastRecentlyUsed(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 10)
	defer c.Close()

	put(t, c, "a", "aaaa")
	put(t, c, "b", "bbbb")
	_, ok := c.Get("a")
	require.True(t, ok)
	put(t, c, "c", "cccc")

	assert.False(t, c.Contains("b"), "b is least recently used")
	assert.True(t, c.Contains("a"))
	assert.True(t, c.Contains("c"))
	assert.Equal(t, int64(8), c.Size())
	assert.Equal(t, []string{"c", "a"}, c.Keys())
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	_, err := fs.Stat("b.0")
	assert.Error(t, err, "evicted data file removed")
	assert.Contains(t, readJournalText(t, fs), "REMOVE b\n")
}

func TestDiskCache_OversizedValueEvicted(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 4)
	defer c.Close()

	put(t, c, "big", "0123456789")
	assert.False(t, c.Contains("big"))
	assert.LessOrEqual(t, c.Size(), c.MaxSize())
}

func TestDiskCache_Remove(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)
	defer c.Close()

	put(t, c, "k", "value")
	assert.True(t, c.Remove("k"))
	assert.False(t, c.Remove("k"))
	assert.Equal(t, int64(0), c.Size())

	ed, err := c.Edit("locked")
	require.NoError(t, err)
	assert.False(t, c.Remove("locked"), "keys under edit are not removable")
	require.NoError(t, ed.Abort())
}

func TestDiskCache_Reopen(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024)
	put(t, c, "a", "alpha")
	put(t, c, "b", "beta")
	put(t, c, "gone", "x")
	require.True(t, c.Remove("gone"))
	_, _ = c.Get("a")
	require.NoError(t, c.Close())

	reopened := openTestDisk(t, fs, 1024)
	defer reopened.Close()

	data, ok := reopened.Get("b")
	require.True(t, ok)
	assert.Equal(t, "beta", string(data))
	assert.False(t, reopened.Contains("gone"))
	assert.Equal(t, int64(len("alpha")+len("beta")), reopened.Size())
	assert.Equal(t, []string{"b", "a"}, reopened.Keys())
}

func TestDiskCache_ReopenDropsIncompleteEdit(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024)
	put(t, c, "kept", "ok")
	require.NoError(t, c.Close())

	// Simulate a crash while "lost" was being written.
	j, err := fs.OpenFile(journalFile, os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	_, err = j.Write([]byte("DIRTY lost\n"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, util.WriteFile(fs, "lost.0.tmp", []byte("half"), 0600))

	reopened := openTestDisk(t, fs, 1024)
	defer reopened.Close()

	assert.False(t, reopened.Contains("lost"))
	assert.True(t, reopened.Contains("kept"))
	_, err = fs.Stat("lost.0.tmp")
	assert.Error(t, err, "dirty file cleaned on open")
}

func TestDiskCache_ReopenTruncatedJournal(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024)
	put(t, c, "a", "alpha")
	require.NoError(t, c.Close())

	j, err := fs.OpenFile(journalFile, os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	_, err = j.Write([]byte("CLEAN b 4")) // no newline: died mid-append
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened := openTestDisk(t, fs, 1024)
	defer reopened.Close()

	assert.True(t, reopened.Contains("a"))
	assert.False(t, reopened.Contains("b"))
	assert.True(t, strings.HasSuffix(readJournalText(t, fs), "CLEAN a 5\n"), "journal rewritten")
}

func TestDiskCache_HeaderMismatchWipes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, fs billy.Filesystem)
		opts   []DiskOption
	}{
		{
			name:   "app version change",
			mutate: func(*testing.T, billy.Filesystem) {},
			opts:   []DiskOption{WithAppVersion(2)},
		},
		{
			name: "wrong format version",
			mutate: func(t *testing.T, fs billy.Filesystem) {
				require.NoError(t, util.WriteFile(fs, journalFile, []byte("libcore.io.DiskLruCache\n2\n1\n1\n\nCLEAN a 5\n"), 0600))
			},
		},
		{
			name: "garbage record",
			mutate: func(t *testing.T, fs billy.Filesystem) {
				require.NoError(t, util.WriteFile(fs, journalFile, []byte("libcore.io.DiskLruCache\n1\n1\n1\n\nBOGUS a\n"), 0600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memfs.New()
			c := openTestDisk(t, fs, 1024)
			put(t, c, "a", "alpha")
			require.NoError(t, c.Close())

			tt.mutate(t, fs)

			reopened := openTestDisk(t, fs, 1024, tt.opts...)
			defer reopened.Close()

			assert.False(t, reopened.Contains("a"))
			assert.Equal(t, int64(0), reopened.Size())
			_, err := fs.Stat("a.0")
			assert.Error(t, err, "stale data file wiped")
		})
	}
}

func TestDiskCache_RestoresBackupJournal(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024)
	put(t, c, "a", "alpha")
	require.NoError(t, c.Close())

	require.NoError(t, fs.Rename(journalFile, journalBackup))

	reopened := openTestDisk(t, fs, 1024)
	defer reopened.Close()

	assert.True(t, reopened.Contains("a"))
	_, err := fs.Stat(journalBackup)
	assert.Error(t, err)
}

func TestDiskCache_CompactsJournal(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024, WithCompactionThreshold(5))

	put(t, c, "a", "alpha")
	for i := 0; i < 20; i++ {
		_, ok := c.Get("a")
		require.True(t, ok)
	}
	require.NoError(t, c.Flush())

	lines := strings.Count(readJournalText(t, fs), "\n")
	assert.Less(t, lines, 5+1+5+1, "journal should have been rewritten, got %d lines", lines)
	require.NoError(t, c.Close())

	reopened := openTestDisk(t, fs, 1024)
	defer reopened.Close()
	data, ok := reopened.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", string(data))
}

func TestDiskCache_WriteFailureDiscards(t *testing.T) {
	fs := &failingFS{Filesystem: memfs.New()}
	c := openTestDisk(t, fs, 1024)
	defer c.Close()

	fs.failWrites = true
	ed, err := c.Edit("k")
	require.NoError(t, err)
	_, err = ed.Write([]byte("data"))
	require.Error(t, err)

	err = ed.Commit()
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeDiskIO))
	assert.False(t, c.Contains("k"))

	fs.failWrites = false
	put(t, c, "k", "retry")
	assert.True(t, c.Contains("k"))
}

func TestDiskCache_Closed(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)

	ed, err := c.Edit("open")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Edit("k")
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeDiskClosed))

	err = ed.Commit()
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeDiskClosed))
	_, ok := c.Get("open")
	assert.False(t, ok)
}

func TestDiskCache_Clear(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024)
	put(t, c, "a", "alpha")
	put(t, c, "b", "bravo")

	ed, err := c.Edit("b")
	require.NoError(t, err)
	_, err = ed.Write([]byte("b2"))
	require.NoError(t, err)

	require.NoError(t, c.Clear())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, err = fs.Stat("a.0")
	assert.Error(t, err)

	require.NoError(t, ed.Commit())
	got, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b2", string(got))
	assert.Equal(t, int64(2), c.Size())

	put(t, c, "c", "charlie")
	require.NoError(t, c.Close())

	reopened := openTestDisk(t, fs, 1024)
	defer reopened.Close()
	assert.ElementsMatch(t, []string{"b", "c"}, reopened.Keys())
	_, ok = reopened.Get("a")
	assert.False(t, ok)
}

func TestDiskCache_ClearAfterClose(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1024)
	require.NoError(t, c.Close())
	assert.True(t, lerrors.IsCode(c.Clear(), lerrors.ErrCodeDiskClosed))
}

func TestDiskCache_Delete(t *testing.T) {
	fs := memfs.New()
	c := openTestDisk(t, fs, 1024)
	put(t, c, "a", "alpha")

	require.NoError(t, c.Delete())

	infos, err := fs.ReadDir(".")
	if err == nil {
		assert.Empty(t, infos)
	}
}

func TestDiskCache_Concurrent(t *testing.T) {
	c := openTestDisk(t, memfs.New(), 1<<20)
	defer c.Close()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		busy      int
		committed int
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("k%d", i%10)
				ed, err := c.Edit(key)
				if err != nil {
					if lerrors.IsCode(err, lerrors.ErrCodeDiskWriteBusy) {
						mu.Lock()
						busy++
						mu.Unlock()
						continue
					}
					t.Errorf("Edit(%s): %v", key, err)
					return
				}
				value := bytes.Repeat([]byte{byte('a' + g)}, 16)
				if _, err := ed.Write(value); err != nil {
					t.Errorf("Write: %v", err)
				}
				if err := ed.Commit(); err != nil {
					t.Errorf("Commit: %v", err)
				}
				mu.Lock()
				committed++
				mu.Unlock()

				if data, ok := c.Get(key); ok && len(data) != 16 {
					t.Errorf("partial value observed for %s: %q", key, data)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 8*50, busy+committed)
	assert.Equal(t, int64(10*16), c.Size())
}

func TestDiskCache_OSFilesystem(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenDisk(osfs.New(dir), 4096)
	if lerrors.IsCode(err, lerrors.ErrCodeDiskUnavailable) {
		t.Skipf("temp dir has too little space: %v", err)
	}
	require.NoError(t, err)

	put(t, c, "k", "on disk")
	require.NoError(t, c.Close())

	reopened, err := OpenDisk(osfs.New(dir), 4096)
	require.NoError(t, err)
	defer reopened.Close()

	data, ok := reopened.Get("k")
	require.True(t, ok)
	assert.Equal(t, "on disk", string(data))
}

// failingFS hands out files whose writes fail while failWrites is set.
type failingFS struct {
	billy.Filesystem
	failWrites bool
}

func (f *failingFS) Create(name string) (billy.File, error) {
	file, err := f.Filesystem.Create(name)
	if err != nil || !f.failWrites {
		return file, err
	}
	return &failingFile{File: file}, nil
}

type failingFile struct {
	billy.File
}

func (f *failingFile) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}
