package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bodul/xwindex/internal/puzzle"
)

var (
	showJSON    bool
	locateCells bool
	locateWith  string
)

func init() {
	showCmd := &cobra.Command{
		Use:   "show <puzzle.json>",
		Short: "Index one puzzle and print the result",
		Long: `Index a single puzzle file with the configured matcher and print the
grid with the located answers. Answers that could not be located are listed
in red.

Examples:
  xwindex show src/crosswords/2020/01/05.json
  xwindex show --json puzzle.json`,
		Args: cobra.ExactArgs(1),
		RunE: runShow,
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the index JSON instead")

	locateCmd := &cobra.Command{
		Use:   "locate <word> <letters>",
		Short: "Print the offset of a word in a letter sequence",
		Long: `Run a matcher on a single haystack and print the offset of the first
letter of word, or -1.

Examples:
  xwindex locate ABA AABA                     # -1 with the forward matcher
  xwindex locate --matcher restart ABA AABA   # 1
  xwindex locate --cells STAR S,TAR,T`,
		Args: cobra.ExactArgs(2),
		RunE: runLocate,
	}
	locateCmd.Flags().StringVar(&locateWith, "matcher", "", "forward|restart (default from config)")
	locateCmd.Flags().BoolVar(&locateCells, "cells", false, "letters is a comma-separated list of cells")

	rootCmd.AddCommand(showCmd, locateCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var p puzzle.Puzzle
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	conv, err := newConverter(nil, nil)
	if err != nil {
		return err
	}
	if cfg.Index.NormalizeUnicode {
		p = *p.Normalized()
	}
	idx, err := conv.Index(&p)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if showJSON {
		return json.NewEncoder(out).Encode(idx)
	}
	fmt.Fprintln(out, renderIndex(&p, conv.Builder(), idx))
	return nil
}

func runLocate(cmd *cobra.Command, args []string) error {
	name := cfg.Index.Matcher
	if locateWith != "" {
		name = locateWith
	}
	loc, err := puzzle.LocatorByName(name)
	if err != nil {
		return err
	}

	var haystack []string
	if locateCells {
		haystack = strings.Split(args[1], ",")
	} else {
		haystack = strings.Split(args[1], "")
	}

	fmt.Fprintln(cmd.OutOrStdout(), loc.Locate(args[0], haystack).Offset)
	return nil
}
