package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	convertOpts struct {
		input, output string
		workers       int
		matcher       string
		squareDown    bool
		strict        bool
	}
	watchDebounce time.Duration
)

func init() {
	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Index every puzzle under the input directory",
		Long: `Walk the input directory recursively, index each .json puzzle and write
the index to the output directory. Nested paths are flattened with "-".

Examples:
  xwindex convert
  xwindex convert -i src/crosswords -o dist -w 8
  xwindex convert --matcher restart`,
		PreRunE: applyConvertFlags,
		RunE:    runConvert,
	}
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Convert, then reconvert puzzles as they change",
		Long: `Run a full conversion, then watch the input directory and reindex
puzzles when they are created or written. Deleting a puzzle deletes its index.`,
		PreRunE: applyConvertFlags,
		RunE:    runWatch,
	}

	for _, c := range []*cobra.Command{convertCmd, watchCmd} {
		addConvertFlags(c)
		rootCmd.AddCommand(c)
	}
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before a changed file is reindexed")
}

func addConvertFlags(c *cobra.Command) {
	c.Flags().StringVarP(&convertOpts.input, "input", "i", "", "input directory")
	c.Flags().StringVarP(&convertOpts.output, "output", "o", "", "output directory")
	c.Flags().IntVarP(&convertOpts.workers, "workers", "w", 0, "concurrent conversions")
	c.Flags().StringVar(&convertOpts.matcher, "matcher", "", "forward|restart")
	c.Flags().BoolVar(&convertOpts.squareDown, "square-down", false, "legacy down offsets (correct on square grids only)")
	c.Flags().BoolVar(&convertOpts.strict, "strict", false, "reject puzzles whose grid does not match their size")
}

// applyConvertFlags lets flags that were set override the configuration.
func applyConvertFlags(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	if f.Changed("input") {
		cfg.InputDir = convertOpts.input
	}
	if f.Changed("output") {
		cfg.OutputDir = convertOpts.output
	}
	if f.Changed("workers") {
		cfg.Workers = convertOpts.workers
	}
	if f.Changed("matcher") {
		cfg.Index.Matcher = convertOpts.matcher
	}
	if f.Changed("square-down") {
		cfg.Index.SquareDownCompat = convertOpts.squareDown
	}
	if f.Changed("strict") {
		cfg.Index.Strict = convertOpts.strict
	}
	if f.Lookup("debounce") != nil && f.Changed("debounce") {
		cfg.Watch.Debounce = watchDebounce
	}
	return cfg.Validate()
}

func runConvert(cmd *cobra.Command, _ []string) error {
	conv, err := newConverter(nil, nil)
	if err != nil {
		return err
	}

	sum, err := conv.Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d puzzle(s) into %s, %d failed\n", sum.Converted, cfg.OutputDir, len(sum.Failed))
	if sum.Converted == 0 && len(sum.Failed) > 0 {
		return errors.New("every puzzle failed to convert")
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	conv, err := newConverter(nil, nil)
	if err != nil {
		return err
	}
	return conv.Watch(cmd.Context(), cfg.Watch.Debounce)
}
