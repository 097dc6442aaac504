// Package loader resolves picture locators through the memory, disk and
// network tiers and delivers decoded pictures to display targets.
package loader

import (
	"context"
	"crypto/md5"
	stderrors "errors"
	"io"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/pictureloader/pictureloader/internal/buffer"
	"github.com/pictureloader/pictureloader/internal/cache"
	"github.com/pictureloader/pictureloader/internal/config"
	"github.com/pictureloader/pictureloader/internal/dispatch"
	"github.com/pictureloader/pictureloader/internal/fetch"
	"github.com/pictureloader/pictureloader/internal/imaging"
	"github.com/pictureloader/pictureloader/internal/keys"
	"github.com/pictureloader/pictureloader/internal/metrics"
	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/types"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

// defaultHeapBudget stands in for the heap size when the runtime has no
// memory limit configured.
const defaultHeapBudget = 1 << 30

// Loader is the entry point. It is safe for concurrent use.
type Loader struct {
	cfg     *config.Configuration
	keys    *keys.Deriver
	tiers   *cache.Tiers[*imaging.Picture]
	fetcher fetch.Fetcher
	ioSize  int

	executor dispatch.Executor
	poster   dispatch.Poster
	pool     *dispatch.Pool
	looper   *dispatch.Looper

	metrics types.MetricsRecorder
	logger  *slog.Logger

	delivered  atomic.Uint64
	staleDrops atomic.Uint64
	failures   atomic.Uint64
	closed     atomic.Bool
}

// Build wires a loader from cfg. Only an unavailable digest is fatal; a disk
// cache that cannot be opened leaves the loader running without persistence.
func Build(cfg *config.Configuration, opts ...Option) (*Loader, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{hash: md5.New}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = utils.DiscardLogger()
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop{}
	}

	deriver, err := keys.NewDeriver(o.hash)
	if err != nil {
		o.logger.Error("Cache key digest unavailable", "error", err)
		return nil, err
	}

	l := &Loader{
		cfg:     cfg,
		keys:    deriver,
		ioSize:  cfg.IOBufferBytes(),
		metrics: o.metrics,
		logger:  o.logger.With("component", "loader"),
	}

	memory := cache.NewMemoryCache[*imaging.Picture](
		cfg.MemoryCapacityKB(heapLimit(o.heapLimit)),
		func(p *imaging.Picture) int64 { return p.WeightKB() },
	)
	l.tiers = cache.NewTiers(memory, l.openDisk(o))

	l.fetcher = o.fetcher
	if l.fetcher == nil {
		if l.fetcher, err = newRouter(cfg, o.logger); err != nil {
			return nil, err
		}
	}

	l.executor = o.executor
	if l.executor == nil {
		next := o.workerName
		if next == nil {
			next = dispatch.Sequence("pictureloader")
		}
		l.pool = dispatch.NewPool(dispatch.PoolConfig{
			CoreWorkers: cfg.Dispatcher.CoreWorkers,
			MaxWorkers:  cfg.Dispatcher.MaxWorkers,
			KeepAlive:   cfg.Dispatcher.KeepAlive,
			NameFunc:    next,
			Logger:      o.logger,
		})
		l.executor = l.pool
	}

	l.poster = o.poster
	if l.poster == nil {
		l.looper = dispatch.NewLooper(o.logger)
		if err := l.looper.Start(); err != nil {
			return nil, err
		}
		l.poster = l.looper
	}

	l.logger.Info("Picture loader ready",
		"memory_capacity_kb", memory.Capacity(),
		"disk_cache", l.tiers.DiskAvailable())
	return l, nil
}

func heapLimit(configured int64) int64 {
	if configured > 0 {
		return configured
	}
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		return limit
	}
	return defaultHeapBudget
}

func (l *Loader) openDisk(o *options) *cache.DiskCache {
	if !l.cfg.DiskCache.Enabled {
		return nil
	}

	fs := o.fs
	if fs == nil {
		dir, err := diskCacheDir(l.cfg.DiskCache.Directory)
		if err != nil {
			l.logger.Warn("Disk cache directory unavailable, continuing without persistence", "error", err)
			return nil
		}
		fs = osfs.New(dir)
	}

	diskOpts := []cache.DiskOption{
		cache.WithAppVersion(l.cfg.DiskCache.AppVersion),
		cache.WithCompactionThreshold(l.cfg.DiskCache.CompactionThreshold),
		cache.WithDiskLogger(o.logger),
	}
	if o.probe != nil {
		diskOpts = append(diskOpts, cache.WithSpaceProbe(o.probe))
	}

	disk, err := cache.OpenDisk(fs, l.cfg.DiskMaxBytes(), diskOpts...)
	if err != nil {
		l.logger.Warn("Disk cache not opened, continuing without persistence",
			"dir", fs.Root(), "code", errors.CodeOf(err), "error", err)
		return nil
	}
	l.metrics.UpdateCacheSize(types.TierDisk, disk.Size())
	return disk
}

// diskCacheDir resolves and creates the cache directory. The default lives
// under the user cache directory in pictureloader/bitmap.
func diskCacheDir(configured string) (string, error) {
	dir := configured
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "pictureloader", "bitmap")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}

func newRouter(cfg *config.Configuration, logger *slog.Logger) (fetch.Fetcher, error) {
	router := fetch.NewRouter().Handle(fetch.NewHTTPFetcher(fetch.HTTPConfig{
		ConnectTimeout: cfg.Network.Timeouts.Connect,
		ReadTimeout:    cfg.Network.Timeouts.Read,
		UserAgent:      cfg.Network.UserAgent,
		Logger:         logger,
	}), "http", "https")

	if cfg.S3.Enabled {
		s3f, err := fetch.NewS3Fetcher(context.Background(), fetch.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
			MaxRetries:      cfg.S3.MaxRetries,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		router.Handle(s3f, "s3")
	}
	return router, nil
}

// Load delivers the full-resolution picture for locator to target.
func (l *Loader) Load(locator string, target Target) {
	l.LoadSized(locator, target, 0, 0)
}

// LoadSized delivers the picture for locator to target, decoded at the
// smallest power-of-two reduction that still covers width x height. A memory
// hit is applied before LoadSized returns; anything else is resolved on a
// worker and delivered on the delivery goroutine unless target has been
// re-tagged in the meantime. Failures leave target unchanged.
func (l *Loader) LoadSized(locator string, target Target, width, height int) {
	if target == nil {
		return
	}
	target.SetTag(locator)

	key := l.keys.Derive(locator)
	if pic, ok := l.tiers.Memory().Get(key); ok {
		l.metrics.RecordCacheHit(types.TierMemory)
		l.apply(locator, target, pic)
		return
	}
	l.metrics.RecordCacheMiss(types.TierMemory)

	if l.closed.Load() {
		l.fail(locator, errors.NewError(errors.ErrCodeComponentStopped, "loader is closed"))
		return
	}

	req := request{locator: locator, key: key, width: width, height: height, target: target}
	if err := l.executor.Submit(func() { l.resolve(req) }); err != nil {
		l.fail(locator, err)
		return
	}
	l.publishDispatch()
}

type request struct {
	locator string
	key     string
	width   int
	height  int
	target  Target
}

// resolve runs on a worker: disk, then network, then memory insert and
// delivery.
func (l *Loader) resolve(req request) {
	defer l.publishDispatch()

	pic := l.fromDisk(req)
	if pic == nil {
		var err error
		pic, err = l.fromNetwork(req)
		if err != nil {
			l.fail(req.locator, err)
			return
		}
	}

	l.tiers.Memory().Put(req.key, pic)
	l.metrics.UpdateCacheSize(types.TierMemory, l.tiers.Memory().Size())
	l.deliver(req, pic)
}

func (l *Loader) fromDisk(req request) *imaging.Picture {
	disk := l.tiers.Disk()
	if disk == nil {
		return nil
	}

	data, ok := disk.Get(req.key)
	if !ok {
		l.metrics.RecordCacheMiss(types.TierDisk)
		return nil
	}
	l.metrics.RecordCacheHit(types.TierDisk)

	pic, err := l.decode(data, req)
	if err != nil {
		l.logger.Warn("Cached bytes failed to decode, refetching",
			"locator", req.locator, "key", req.key, "error", err)
		disk.Remove(req.key)
		return nil
	}
	return pic
}

// fromNetwork fetches the locator. With a disk tier the bytes are streamed
// into an editor, committed and re-read from disk; when the tier is absent or
// the key is being written by another worker they are decoded straight from
// memory.
func (l *Loader) fromNetwork(req request) (*imaging.Picture, error) {
	disk := l.tiers.Disk()
	if disk != nil {
		ed, err := disk.Edit(req.key)
		if err == nil {
			return l.fetchThroughDisk(req, disk, ed)
		}
		if errors.IsCode(err, errors.ErrCodeDiskWriteBusy) {
			l.logger.Debug("Disk entry busy, decoding without persisting", "locator", req.locator, "key", req.key)
		} else {
			l.logger.Warn("Disk edit failed, decoding without persisting", "locator", req.locator, "error", err)
		}
	}

	start := time.Now()
	data, err := fetch.ReadAll(context.Background(), l.fetcher, req.locator, l.ioSize)
	l.recordFetch(req.locator, int64(len(data)), start, err)
	if err != nil {
		return nil, err
	}
	return l.decode(data, req)
}

func (l *Loader) fetchThroughDisk(req request, disk *cache.DiskCache, ed *cache.Editor) (*imaging.Picture, error) {
	body := buffer.GetBody()
	defer buffer.PutBody(body)

	start := time.Now()
	n, err := fetch.CopyTo(context.Background(), l.fetcher, req.locator, io.MultiWriter(ed, body), l.ioSize)
	l.recordFetch(req.locator, n, start, err)
	if err != nil {
		if aerr := ed.Abort(); aerr != nil {
			l.logger.Warn("Disk edit abort failed", "key", req.key, "error", aerr)
		}
		return nil, err
	}

	if err := ed.Commit(); err != nil {
		l.logger.Warn("Disk commit failed, decoding fetched bytes", "key", req.key, "error", err)
		return l.decode(body.Bytes(), req)
	}
	l.metrics.UpdateCacheSize(types.TierDisk, disk.Size())

	data, ok := disk.Get(req.key)
	if !ok {
		// Evicted straight away when larger than the whole tier.
		data = body.Bytes()
	}
	return l.decode(data, req)
}

func (l *Loader) decode(data []byte, req request) (*imaging.Picture, error) {
	start := time.Now()
	pic, err := imaging.DecodeLimited(data, req.width, req.height, l.cfg.Decode.MaxPixels)
	l.metrics.RecordDecode(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return pic, nil
}

func (l *Loader) recordFetch(locator string, n int64, start time.Time, err error) {
	scheme := "unknown"
	if u, perr := url.Parse(locator); perr == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	l.metrics.RecordFetch(scheme, n, time.Since(start), err)
	if err != nil {
		l.metrics.RecordCacheMiss(types.TierNetwork)
	} else {
		l.metrics.RecordCacheHit(types.TierNetwork)
	}
}

// deliver hands pic to the delivery goroutine, which applies it only if the
// target still carries this request's locator at that moment.
func (l *Loader) deliver(req request, pic *imaging.Picture) {
	err := l.poster.Post(func() {
		l.apply(req.locator, req.target, pic)
	})
	if err != nil {
		l.fail(req.locator, err)
	}
}

// apply offers pic to target and counts the outcome. A target re-tagged by a
// later Load refuses it.
func (l *Loader) apply(locator string, target Target, pic *imaging.Picture) {
	if !target.Apply(locator, pic) {
		l.staleDrops.Add(1)
		l.metrics.RecordDelivery(types.OutcomeStale)
		l.logger.Debug("Dropped stale result", "locator", locator)
		return
	}
	l.delivered.Add(1)
	l.metrics.RecordDelivery(types.OutcomeApplied)
}

func (l *Loader) fail(locator string, err error) {
	l.failures.Add(1)
	l.logger.Warn("Picture load failed",
		"locator", locator,
		"code", errors.CodeOf(err),
		"error", err)
}

func (l *Loader) publishDispatch() {
	if l.pool != nil {
		l.metrics.UpdateDispatch(l.pool.Stats())
	}
}

// Cached reports which tiers currently hold locator.
func (l *Loader) Cached(locator string) (memory, disk bool) {
	key := l.keys.Derive(locator)
	memory = l.tiers.Memory().Contains(key)
	if d := l.tiers.Disk(); d != nil {
		disk = d.Contains(key)
	}
	return memory, disk
}

// Clear empties the memory tier and deletes the disk tier.
func (l *Loader) Clear() error {
	err := l.tiers.Purge()
	l.metrics.UpdateCacheSize(types.TierMemory, 0)
	l.metrics.UpdateCacheSize(types.TierDisk, 0)
	return err
}

// Stats returns a snapshot of every tier and the dispatcher.
func (l *Loader) Stats() types.LoaderStats {
	stats := types.LoaderStats{
		Timestamp:  time.Now(),
		Tiers:      l.tiers.Stats(),
		Delivered:  l.delivered.Load(),
		StaleDrops: l.staleDrops.Load(),
		Failures:   l.failures.Load(),
	}
	if l.pool != nil {
		stats.Dispatch = l.pool.Stats()
	}
	return stats
}

// Close waits for in-flight loads, delivers their results and closes the
// disk tier. Injected executors and posters are left running.
func (l *Loader) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if l.pool != nil {
		if err := l.pool.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if l.looper != nil {
		l.looper.Stop()
	}
	if err := l.tiers.Close(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}
