// Package cli implements the pictureloader command line.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pictureloader/pictureloader/internal/config"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

const (
	configFlag    = "config"
	logLevelFlag  = "log-level"
	logFormatFlag = "log-format"
	cacheDirFlag  = "cache-dir"
)

// New builds the root command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pictureloader [sub-command]",
		Short: "Fetch, cache and downsample pictures",
		Long: `pictureloader resolves picture locators (http, https and optionally s3)
through a memory cache and a journaled disk cache, decoding each picture
at the smallest power-of-two reduction that still covers the requested size.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	registerGlobalFlags(cmd.PersistentFlags())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func registerGlobalFlags(fs *pflag.FlagSet) {
	fs.String(configFlag, "", "path to a YAML configuration file")
	fs.String(logLevelFlag, "", "log level (DEBUG, INFO, WARN, ERROR), overrides the configuration")
	fs.String(logFormatFlag, "", "log format (text or json), overrides the configuration")
	fs.String(cacheDirFlag, "", "disk cache directory, overrides the configuration")
}

// loadConfig applies defaults, the config file, the environment and finally
// the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	cfg := config.NewDefault()

	flags := cmd.Flags()
	if path, _ := flags.GetString(configFlag); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if v, _ := flags.GetString(logLevelFlag); v != "" {
		cfg.Global.LogLevel = v
	}
	if v, _ := flags.GetString(logFormatFlag); v != "" {
		cfg.Global.LogFormat = v
	}
	if v, _ := flags.GetString(cacheDirFlag); v != "" {
		cfg.DiskCache.Directory = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to the configured log file or to the command's stderr.
// The returned closer must be called once the command is done logging.
func newLogger(cmd *cobra.Command, cfg *config.Configuration) (*slog.Logger, io.Closer, error) {
	if cfg.Global.LogFile != "" {
		return utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
	}
	logger, err := utils.NewLogger(cfg.Global.LogLevel, cfg.Global.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return logger, io.NopCloser(nil), nil
}
