package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pictureloader/pictureloader/pkg/loader"
	"github.com/pictureloader/pictureloader/pkg/types"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the picture caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print cache tier statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLoader(cmd, func(l *loader.Loader) error {
				stats := l.Stats()
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}
				return printStats(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the memory and disk tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLoader(cmd, func(l *loader.Loader) error {
				if err := l.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
				return nil
			})
		},
	}
}

func withLoader(cmd *cobra.Command, fn func(*loader.Loader) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	l, err := loader.Build(cfg, loader.WithLogger(logger))
	if err != nil {
		return err
	}

	fnErr := fn(l)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := l.Close(ctx); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}

func printStats(w io.Writer, stats types.LoaderStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tAVAILABLE\tENTRIES\tSIZE\tCAPACITY\tHITS\tMISSES\tEVICTIONS")
	for _, t := range stats.Tiers {
		s := t.Stats
		scale := int64(1)
		if t.Unit == "KB" {
			scale = 1024
		}
		fmt.Fprintf(tw, "%s\t%t\t%d\t%s\t%s\t%d\t%d\t%d\n",
			t.Name, t.Available, s.Entries,
			utils.FormatBytes(s.Size*scale), utils.FormatBytes(s.Capacity*scale),
			s.Hits, s.Misses, s.Evictions)
	}
	return tw.Flush()
}
