package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pictureloader/pictureloader/internal/config"
	"github.com/pictureloader/pictureloader/internal/imaging"
	"github.com/pictureloader/pictureloader/internal/keys"
	"github.com/pictureloader/pictureloader/internal/metrics"
	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/loader"
)

type getOptions struct {
	width       int
	height      int
	out         string
	timeout     time.Duration
	metricsAddr string
}

func newGetCmd() *cobra.Command {
	o := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get <locator>...",
		Short: "Load pictures and write them as PNG files",
		Long: `get resolves every locator through the memory, disk and network tiers and
writes each delivered picture to <out>/<md5(locator)>.png.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args)
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&o.width, "width", 0, "requested width in pixels, 0 keeps the full size")
	fs.IntVar(&o.height, "height", 0, "requested height in pixels, 0 keeps the full size")
	fs.StringVarP(&o.out, "out", "o", ".", "output directory")
	fs.DurationVar(&o.timeout, "timeout", 60*time.Second, "time allowed for all loads to finish")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while loading")
	return cmd
}

func (o *getOptions) run(cmd *cobra.Command, locators []string) error {
	if o.width < 0 || o.height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	opts := []loader.Option{loader.WithLogger(logger)}
	collector, err := o.startMetrics(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if collector != nil {
		opts = append(opts, loader.WithMetrics(collector))
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = collector.Stop(stopCtx)
		}()
	}

	l, err := loader.Build(cfg, opts...)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
	)
	views := make([]*loader.View, len(locators))
	for i, locator := range locators {
		views[i] = loader.NewView(nil)
		l.LoadSized(locator, views[i], o.width, o.height)
	}

	// Close drains every pending load and delivery.
	if err := l.Close(ctx); err != nil {
		return err
	}

	derive := keys.NewMD5()
	paths := make([]string, len(locators))
	g, _ := errgroup.WithContext(ctx)
	for i, locator := range locators {
		pic := views[i].Picture()
		if pic == nil {
			mu.Lock()
			failures[locator] = errors.NewError(errors.ErrCodeFetchFailed, "no picture delivered").
				WithContext("locator", locator)
			mu.Unlock()
			continue
		}
		path := filepath.Join(o.out, derive.Derive(locator)+".png")
		paths[i] = path
		i, locator := i, locator
		g.Go(func() error {
			if err := writePNG(path, pic); err != nil {
				mu.Lock()
				failures[locator] = err
				mu.Unlock()
				paths[i] = ""
			}
			return nil
		})
	}
	_ = g.Wait()

	w := cmd.OutOrStdout()
	for i, locator := range locators {
		if err, ok := failures[locator]; ok {
			logger.Error("Load failed", "locator", locator, "error", err)
			continue
		}
		pic := views[i].Picture()
		fmt.Fprintf(w, "%s -> %s (%dx%d)\n", locator, paths[i], pic.Width, pic.Height)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d pictures failed", len(failures), len(locators))
	}
	return nil
}

func (o *getOptions) startMetrics(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*metrics.Collector, error) {
	addr := o.metricsAddr
	if addr == "" {
		addr = cfg.Global.MetricsAddress
	}
	if addr == "" || !cfg.Monitoring.Metrics.Enabled {
		return nil, nil
	}

	mc := metrics.DefaultConfig()
	mc.Address = addr
	mc.Path = cfg.Monitoring.Metrics.Path
	mc.Namespace = cfg.Monitoring.Metrics.Namespace
	mc.Labels = cfg.Monitoring.Metrics.CustomLabels

	collector, err := metrics.NewCollector(mc, logger)
	if err != nil {
		return nil, err
	}
	if err := collector.Start(ctx); err != nil {
		return nil, err
	}
	return collector, nil
}

func writePNG(path string, pic *imaging.Picture) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return imaging.EncodePNG(f, pic)
}
