package cache

import (
	"bufio"
	"container/list"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/types"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

const (
	// defaultCompactionThreshold is the number of redundant journal records
	// tolerated before the journal is rewritten.
	defaultCompactionThreshold = 2000

	cleanSuffix = ".0"
	dirtySuffix = ".0.tmp"
)

var validKey = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)

// SpaceProbe reports the free bytes available under a directory.
type SpaceProbe func(dir string) (uint64, error)

// DiskCache is a bounded, journal-backed LRU store of raw bytes with one
// value per key. Each committed key owns one data file; in-progress writes
// go to a temporary file that is renamed into place on commit, so a reader
// only ever sees absent or fully committed values.
type DiskCache struct {
	mu sync.Mutex

	fs         billy.Filesystem
	maxSize    int64
	size       int64
	appVersion int
	threshold  int
	probe      SpaceProbe
	logger     *slog.Logger

	entries map[string]*diskEntry
	lru     *list.List

	journal       billy.File
	journalWriter *bufio.Writer
	redundantOps  int
	closed        bool

	stats types.CacheStats
}

type diskEntry struct {
	key      string
	length   int64
	readable bool
	editor   *Editor
	element  *list.Element
}

// DiskOption configures a DiskCache.
type DiskOption func(*DiskCache)

// WithAppVersion stamps the journal header. Reopening with a different
// version discards the stored entries.
func WithAppVersion(v int) DiskOption {
	return func(c *DiskCache) { c.appVersion = v }
}

// WithSpaceProbe replaces the free space check.
func WithSpaceProbe(p SpaceProbe) DiskOption {
	return func(c *DiskCache) { c.probe = p }
}

// WithDiskLogger sets the logger.
func WithDiskLogger(l *slog.Logger) DiskOption {
	return func(c *DiskCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCompactionThreshold sets how many redundant journal records trigger a rewrite.
func WithCompactionThreshold(n int) DiskOption {
	return func(c *DiskCache) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// OpenDisk opens the cache stored in fs, creating it if needed. The cache is
// only opened when the free space under fs exceeds maxSize; otherwise an
// ErrCodeDiskUnavailable error is returned.
func OpenDisk(fs billy.Filesystem, maxSize int64, opts ...DiskOption) (*DiskCache, error) {
	if maxSize <= 0 {
		return nil, diskError(errors.ErrCodeInvalidConfig, "open", "max size must be positive", nil)
	}

	c := &DiskCache{
		fs:         fs,
		maxSize:    maxSize,
		appVersion: 1,
		threshold:  defaultCompactionThreshold,
		probe:      FreeSpace,
		logger:     utils.DiscardLogger(),
		entries:    make(map[string]*diskEntry),
		lru:        list.New(),
		stats: types.CacheStats{
			Capacity: maxSize,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	free, err := c.probe(fs.Root())
	if err != nil {
		return nil, diskError(errors.ErrCodeDiskUnavailable, "open", "cannot determine free space", err).
			WithContext("dir", fs.Root())
	}
	if free <= uint64(maxSize) {
		return nil, diskError(errors.ErrCodeDiskUnavailable, "open", "insufficient free space", nil).
			WithContext("dir", fs.Root()).
			WithDetail("free", free).
			WithDetail("required", maxSize)
	}

	c.restoreBackup()

	if _, err := fs.Stat(journalFile); err == nil {
		err := c.replayJournal()
		if err == nil {
			c.logger.Debug("disk cache opened", "entries", len(c.entries), "size", c.size)
			return c, nil
		}
		c.logger.Warn("disk cache journal is corrupt, removing", "dir", fs.Root(), "error", err)
		if err := c.wipe(); err != nil {
			return nil, diskError(errors.ErrCodeDiskIO, "open", "failed to wipe corrupt cache", err)
		}
	}

	c.entries = make(map[string]*diskEntry)
	c.lru.Init()
	c.size = 0
	if err := c.rebuildJournal(); err != nil {
		return nil, diskError(errors.ErrCodeDiskIO, "open", "failed to create journal", err)
	}
	c.logger.Debug("disk cache created", "dir", fs.Root(), "max_size", maxSize)
	return c, nil
}

// restoreBackup promotes journal.bkp when a rebuild was interrupted.
func (c *DiskCache) restoreBackup() {
	if _, err := c.fs.Stat(journalBackup); err != nil {
		return
	}
	if _, err := c.fs.Stat(journalFile); err == nil {
		_ = c.fs.Remove(journalBackup)
		return
	}
	_ = c.fs.Rename(journalBackup, journalFile)
}

// replayJournal rebuilds the in-memory index from the journal and opens it for appends.
func (c *DiskCache) replayJournal() error {
	f, err := c.fs.Open(journalFile)
	if err != nil {
		return err
	}
	scan, err := readJournal(f, c.appVersion)
	_ = f.Close()
	if err != nil {
		return err
	}

	pending := make(map[string]bool)
	for _, rec := range scan.records {
		if !validKey.MatchString(rec.key) {
			return errors.NewError(errors.ErrCodeDiskIO, "invalid key in journal").WithContext("key", rec.key)
		}
		e := c.entries[rec.key]
		switch rec.op {
		case opRemove:
			c.unlink(e)
			delete(pending, rec.key)
			continue
		case opRead:
			if e != nil {
				c.lru.MoveToFront(e.element)
			}
			continue
		case opDirty:
			pending[rec.key] = true
		case opClean:
			delete(pending, rec.key)
		}

		if e == nil {
			e = &diskEntry{key: rec.key}
			e.element = c.lru.PushFront(e)
			c.entries[rec.key] = e
		} else {
			c.lru.MoveToFront(e.element)
		}
		if rec.op == opClean {
			e.readable = true
			e.length = rec.length
		}
	}

	// An edit that never completed leaves no usable value.
	for key := range pending {
		_ = c.fs.Remove(key + cleanSuffix)
		_ = c.fs.Remove(key + dirtySuffix)
		c.unlink(c.entries[key])
	}

	c.size = 0
	for _, e := range c.entries {
		c.size += e.length
	}
	c.redundantOps = len(scan.records) - len(c.entries)
	c.removeOrphans()

	if scan.truncated {
		return c.rebuildJournal()
	}

	jf, err := c.fs.OpenFile(journalFile, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	if _, err := jf.Seek(0, io.SeekEnd); err != nil {
		_ = jf.Close()
		return err
	}
	c.journal = jf
	c.journalWriter = bufio.NewWriter(jf)
	return nil
}

// removeOrphans deletes temporary files left behind by interrupted edits.
func (c *DiskCache) removeOrphans() {
	infos, err := c.fs.ReadDir(".")
	if err != nil {
		return
	}
	for _, info := range infos {
		name := info.Name()
		if strings.HasSuffix(name, dirtySuffix) {
			_ = c.fs.Remove(name)
		}
	}
}

// rebuildJournal writes a compact journal to journal.tmp and swaps it in.
// Callers hold mu or have exclusive access.
func (c *DiskCache) rebuildJournal() error {
	if c.journal != nil {
		_ = c.journalWriter.Flush()
		_ = c.journal.Close()
		c.journal = nil
	}

	tmp, err := c.fs.Create(journalTmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	if err := writeJournalHeader(w, c.appVersion); err != nil {
		_ = tmp.Close()
		return err
	}
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		entry := e.Value.(*diskEntry)
		rec := journalRecord{op: opClean, key: entry.key, length: entry.length}
		if entry.editor != nil {
			rec = journalRecord{op: opDirty, key: entry.key}
		}
		if _, err := w.WriteString(rec.String() + "\n"); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if _, err := c.fs.Stat(journalFile); err == nil {
		if err := c.fs.Rename(journalFile, journalBackup); err != nil {
			return err
		}
	}
	if err := c.fs.Rename(journalTmp, journalFile); err != nil {
		return err
	}
	_ = c.fs.Remove(journalBackup)

	jf, err := c.fs.OpenFile(journalFile, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	if _, err := jf.Seek(0, io.SeekEnd); err != nil {
		_ = jf.Close()
		return err
	}
	c.journal = jf
	c.journalWriter = bufio.NewWriter(jf)
	c.redundantOps = 0
	return nil
}

// Get returns the committed bytes for key.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	if c.closed || !validKey.MatchString(key) {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	e, ok := c.entries[key]
	if !ok || !e.readable {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	f, err := c.fs.Open(key + cleanSuffix)
	if err != nil {
		// The data file vanished underneath us.
		c.logger.Warn("disk cache entry missing data file", "key", key, "error", err)
		if e.editor == nil {
			c.removeLocked(e)
		} else {
			c.size -= e.length
			e.length = 0
			e.readable = false
		}
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	c.lru.MoveToFront(e.element)
	c.redundantOps++
	c.appendRecord(journalRecord{op: opRead, key: key})
	c.stats.Hits++
	c.compactIfNeeded()
	c.mu.Unlock()

	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.logger.Warn("disk cache read failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

// Contains reports whether a committed value exists for key.
func (c *DiskCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.readable
}

// Edit starts a write for key. It fails with ErrCodeDiskWriteBusy when
// another editor already holds the key.
func (c *DiskCache) Edit(key string) (*Editor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, diskError(errors.ErrCodeDiskClosed, "edit", "cache is closed", nil)
	}
	if !validKey.MatchString(key) {
		return nil, diskError(errors.ErrCodeDiskIO, "edit", "invalid key", nil).WithContext("key", key)
	}

	e, ok := c.entries[key]
	if ok && e.editor != nil {
		return nil, diskError(errors.ErrCodeDiskWriteBusy, "edit", "another edit is in progress", nil).
			WithContext("key", key)
	}

	f, err := c.fs.Create(key + dirtySuffix)
	if err != nil {
		return nil, diskError(errors.ErrCodeDiskIO, "edit", "failed to create temporary file", err).
			WithContext("key", key)
	}

	if !ok {
		e = &diskEntry{key: key}
		e.element = c.lru.PushFront(e)
		c.entries[key] = e
	}
	ed := &Editor{cache: c, entry: e, file: f}
	e.editor = ed

	c.appendRecord(journalRecord{op: opDirty, key: key})
	c.flushJournal()
	return ed, nil
}

// Remove drops the committed value for key. Keys under edit are left alone.
func (c *DiskCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if c.closed || !ok || e.editor != nil {
		return false
	}
	c.removeLocked(e)
	c.compactIfNeeded()
	c.flushJournal()
	return true
}

func (c *DiskCache) removeLocked(e *diskEntry) {
	if err := c.fs.Remove(e.key + cleanSuffix); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to delete cache file", "key", e.key, "error", err)
	}
	c.size -= e.length
	c.unlink(e)
	c.redundantOps++
	c.appendRecord(journalRecord{op: opRemove, key: e.key})
}

func (c *DiskCache) unlink(e *diskEntry) {
	if e == nil {
		return
	}
	c.lru.Remove(e.element)
	delete(c.entries, e.key)
}

// completeEdit publishes or discards the editor's temporary file.
func (c *DiskCache) completeEdit(ed *Editor, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := ed.entry
	dirty := e.key + dirtySuffix
	if e.editor == ed {
		e.editor = nil
	}

	if c.closed {
		_ = c.fs.Remove(dirty)
		return diskError(errors.ErrCodeDiskClosed, "commit", "cache closed during edit", nil).WithContext("key", e.key)
	}

	var commitErr error
	if success {
		if err := c.fs.Rename(dirty, e.key+cleanSuffix); err != nil {
			commitErr = diskError(errors.ErrCodeDiskIO, "commit", "failed to publish entry", err).WithContext("key", e.key)
			success = false
		} else {
			c.size += ed.written - e.length
			e.length = ed.written
			e.readable = true
			c.lru.MoveToFront(e.element)
		}
	}
	if !success {
		_ = c.fs.Remove(dirty)
	}

	c.redundantOps++
	if e.readable {
		c.appendRecord(journalRecord{op: opClean, key: e.key, length: e.length})
	} else {
		c.unlink(e)
		c.appendRecord(journalRecord{op: opRemove, key: e.key})
	}

	c.trimToSize()
	c.compactIfNeeded()
	c.flushJournal()
	return commitErr
}

// trimToSize evicts least recently used committed entries until the total
// fits. Entries under edit are skipped.
func (c *DiskCache) trimToSize() {
	el := c.lru.Back()
	for c.size > c.maxSize && el != nil {
		prev := el.Prev()
		e := el.Value.(*diskEntry)
		if e.editor == nil && e.readable {
			c.removeLocked(e)
			c.stats.Evictions++
		}
		el = prev
	}
}

func (c *DiskCache) compactIfNeeded() {
	if c.redundantOps < c.threshold || c.redundantOps < len(c.entries) {
		return
	}
	if err := c.rebuildJournal(); err != nil {
		c.logger.Error("failed to rebuild disk cache journal", "error", err)
	}
}

func (c *DiskCache) appendRecord(rec journalRecord) {
	if c.journalWriter == nil {
		return
	}
	if _, err := c.journalWriter.WriteString(rec.String() + "\n"); err != nil {
		c.logger.Error("failed to append journal record", "record", rec.String(), "error", err)
	}
}

func (c *DiskCache) flushJournal() {
	if c.journalWriter == nil {
		return
	}
	if err := c.journalWriter.Flush(); err != nil {
		c.logger.Error("failed to flush journal", "error", err)
	}
}

// Flush writes buffered journal records and enforces the size bound.
func (c *DiskCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return diskError(errors.ErrCodeDiskClosed, "flush", "cache is closed", nil)
	}
	c.trimToSize()
	if err := c.journalWriter.Flush(); err != nil {
		return diskError(errors.ErrCodeDiskIO, "flush", "failed to flush journal", err)
	}
	return nil
}

// Clear removes every committed value and rewrites the journal. The cache
// stays open; keys under edit lose their previous value but may still commit.
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return diskError(errors.ErrCodeDiskClosed, "clear", "cache is closed", nil)
	}

	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*diskEntry)
		if e.readable {
			if err := c.fs.Remove(e.key + cleanSuffix); err != nil && !os.IsNotExist(err) {
				c.logger.Warn("failed to delete cache file", "key", e.key, "error", err)
			}
		}
		c.size -= e.length
		if e.editor == nil {
			c.unlink(e)
		} else {
			e.readable = false
			e.length = 0
		}
		el = next
	}

	if err := c.rebuildJournal(); err != nil {
		return diskError(errors.ErrCodeDiskIO, "clear", "failed to rewrite journal", err)
	}
	return nil
}

// Size returns the committed bytes.
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxSize returns the byte bound.
func (c *DiskCache) MaxSize() int64 {
	return c.maxSize
}

// Len returns the number of committed entries.
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.readable {
			n++
		}
	}
	return n
}

// Keys returns committed keys from most to least recently used.
func (c *DiskCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for el := c.lru.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*diskEntry); e.readable {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Stats returns cache statistics
func (c *DiskCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	for _, e := range c.entries {
		if e.readable {
			stats.Entries++
		}
	}
	stats.UpdateRatios()
	return stats
}

// Close flushes the journal and releases it. Open editors fail on commit.
func (c *DiskCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.trimToSize()
	for _, e := range c.entries {
		if e.editor == nil {
			continue
		}
		if e.readable {
			c.appendRecord(journalRecord{op: opClean, key: e.key, length: e.length})
		} else {
			c.appendRecord(journalRecord{op: opRemove, key: e.key})
		}
	}
	c.closed = true

	var err error
	if c.journalWriter != nil {
		err = c.journalWriter.Flush()
	}
	if c.journal != nil {
		if cerr := c.journal.Close(); err == nil {
			err = cerr
		}
		c.journal = nil
	}
	if err != nil {
		return diskError(errors.ErrCodeDiskIO, "close", "failed to close journal", err)
	}
	return nil
}

// Delete closes the cache and removes every file it stored.
func (c *DiskCache) Delete() error {
	if err := c.Close(); err != nil {
		c.logger.Warn("closing disk cache before delete", "error", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*diskEntry)
	c.lru.Init()
	c.size = 0
	return c.wipe()
}

func (c *DiskCache) wipe() error {
	if c.journal != nil {
		_ = c.journal.Close()
		c.journal = nil
		c.journalWriter = nil
	}
	infos, err := c.fs.ReadDir(".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, info := range infos {
		if err := util.RemoveAll(c.fs, info.Name()); err != nil {
			return err
		}
	}
	return nil
}

// Editor writes one value. Exactly one of Commit or Abort takes effect;
// later calls are no-ops.
type Editor struct {
	cache     *DiskCache
	entry     *diskEntry
	file      billy.File
	written   int64
	hasErrors bool
	done      bool
}

// Key returns the key under edit.
func (ed *Editor) Key() string {
	return ed.entry.key
}

// Write appends p to the pending value. A failed write turns the eventual
// Commit into an abort.
func (ed *Editor) Write(p []byte) (int, error) {
	if ed.done {
		return 0, diskError(errors.ErrCodeDiskIO, "write", "editor already completed", nil)
	}
	n, err := ed.file.Write(p)
	ed.written += int64(n)
	if err != nil {
		ed.hasErrors = true
		return n, diskError(errors.ErrCodeDiskIO, "write", "failed to write cache file", err).
			WithContext("key", ed.entry.key)
	}
	return n, nil
}

// Commit publishes the written bytes atomically.
func (ed *Editor) Commit() error {
	if ed.done {
		return nil
	}
	ed.done = true

	if err := ed.file.Close(); err != nil {
		ed.hasErrors = true
	}
	if ed.hasErrors {
		_ = ed.cache.completeEdit(ed, false)
		return diskError(errors.ErrCodeDiskIO, "commit", "write failed, entry discarded", nil).
			WithContext("key", ed.entry.key)
	}
	return ed.cache.completeEdit(ed, true)
}

// Abort discards the written bytes.
func (ed *Editor) Abort() error {
	if ed.done {
		return nil
	}
	ed.done = true
	_ = ed.file.Close()
	err := ed.cache.completeEdit(ed, false)
	if errors.IsCode(err, errors.ErrCodeDiskClosed) {
		return nil
	}
	return err
}

func diskError(code errors.ErrorCode, op, msg string, cause error) *errors.LoaderError {
	e := errors.NewError(code, msg).
		WithComponent("disk-cache").
		WithOperation(op)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}
