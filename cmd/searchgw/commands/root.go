// Package commands implements the searchgw CLI commands using cobra.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kasioon/searchgw/pkg/searchgw/config"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "searchgw",
		Short: "Kasioon natural-language search gateway",
		Long: `searchgw answers natural-language marketplace queries in Arabic and
English, over HTTP, Telegram and WhatsApp.

Examples:
  searchgw serve
  searchgw query "شقة للايجار في دمشق"
  searchgw health`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newQueryCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the config file named by --config, falling back to
// searchgw.yaml in the working directory. A missing file is fine; defaults
// and environment variables still apply.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = "searchgw.yaml"
	}
	return config.Load(path)
}

// buildLogger assembles the process logger from config plus the --verbose
// override.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
