package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuannm99/novaexec/internal"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "novaexec",
	Short:         "Run SQL through the novaexec engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file (NOVAEXEC_* env vars override it)")
	rootCmd.AddCommand(serveCmd, shellCmd, execCmd)
}

// setup loads the config and installs the default logger.
func setup() (*internal.Config, *slog.Logger, error) {
	cfg, err := internal.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).
		With("app", cfg.AppName)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
