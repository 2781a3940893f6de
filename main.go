package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bodul/xwindex/internal/config"
	"github.com/bodul/xwindex/internal/convert"
	"github.com/bodul/xwindex/internal/puzzle"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "xwindex",
	Short: "Index crossword answers by grid position",
	Long: `xwindex converts crossword puzzle JSON files into compact indices:
for every across and down answer, the offset of its first letter in the grid.

Output format: {"a": ["WORD", offset, ...], "d": [...], "s": columns}`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		lvl, err := config.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error")
}

// newConverter builds a converter from the loaded configuration. The hooks
// may be nil.
func newConverter(onIndexed func(context.Context, string, puzzle.Index), onRemoved func(context.Context, string)) (*convert.Converter, error) {
	b, err := cfg.Builder()
	if err != nil {
		return nil, err
	}
	return convert.New(convert.Options{
		InputDir:  cfg.InputDir,
		OutputDir: cfg.OutputDir,
		Workers:   cfg.Workers,
		Builder:   b,
		Strict:    cfg.Index.Strict,
		Normalize: cfg.Index.NormalizeUnicode,
		Logger:    logger,
		OnIndexed: onIndexed,
		OnRemoved: onRemoved,
	}), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
