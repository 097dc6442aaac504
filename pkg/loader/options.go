package loader

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"

	"github.com/pictureloader/pictureloader/internal/cache"
	"github.com/pictureloader/pictureloader/internal/dispatch"
	"github.com/pictureloader/pictureloader/internal/fetch"
	"github.com/pictureloader/pictureloader/internal/keys"
	"github.com/pictureloader/pictureloader/pkg/types"
)

type options struct {
	executor   dispatch.Executor
	poster     dispatch.Poster
	fetcher    fetch.Fetcher
	fs         billy.Filesystem
	probe      cache.SpaceProbe
	logger     *slog.Logger
	metrics    types.MetricsRecorder
	hash       keys.HashFunc
	heapLimit  int64
	workerName func() string
}

// Option customizes Build.
type Option func(*options)

// WithExecutor runs misses on e instead of an owned worker pool.
func WithExecutor(e dispatch.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithPoster delivers results through p instead of an owned looper.
func WithPoster(p dispatch.Poster) Option {
	return func(o *options) { o.poster = p }
}

// WithFetcher replaces the scheme router.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithFilesystem stores the disk cache in fs instead of the configured directory.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(o *options) { o.fs = fs }
}

// WithSpaceProbe replaces the free-space check made before opening the disk cache.
func WithSpaceProbe(p cache.SpaceProbe) Option {
	return func(o *options) { o.probe = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m types.MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithHash replaces the MD5 digest used for cache keys.
func WithHash(h keys.HashFunc) Option {
	return func(o *options) { o.hash = h }
}

// WithHeapLimit sets the heap size the memory cache budget is derived from.
func WithHeapLimit(bytes int64) Option {
	return func(o *options) { o.heapLimit = bytes }
}

// WithWorkerNames names pool workers from next.
func WithWorkerNames(next func() string) Option {
	return func(o *options) { o.workerName = next }
}
