// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jcodagnone/geocoding/geocoding"
	"github.com/jcodagnone/geocoding/geocoding/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var batchOpts = struct {
	Workers  int
	Provider string
	Language string
}{}

var batchCmd = &cobra.Command{
	Use:   "batch <file|->",
	Short: "Geocode one query per line, printing JSON lines",
	Long: `
batch reads queries, one per line, from a file or stdin and geocodes them
concurrently. Blank lines and lines starting with # are skipped. Each input
line produces one JSON object on stdout.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin

		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening input: %w", err)
			}
			defer f.Close()

			in = f
		}

		var reqs []geocoding.GeocodingRequest

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			reqs = append(reqs, geocoding.GeocodingRequest{
				Query:    line,
				Provider: batchOpts.Provider,
				Language: batchOpts.Language,
			})
		}

		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		a, err := newApp(cmd.Context(), geocoding.ServiceOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		items, summary := a.service.GeocodeBatch(cmd.Context(), reqs, batchOpts.Workers)

		if err := writeBatch(os.Stdout, items, logger); err != nil {
			return err
		}

		logger.Infof("Batch complete - %s queries, %s resolved, %s without results, %s failed.",
			utils.FormatInt(int64(summary.Requests)), utils.FormatInt(int64(summary.Resolved)),
			utils.FormatInt(int64(summary.Empty)), utils.FormatInt(int64(summary.Failed)))

		return nil
	},
}

// writeBatch prints one JSON line per item and logs the failed lookups.
func writeBatch(w io.Writer, items []geocoding.BatchItem, log logrus.FieldLogger) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := item.Err(); err != nil {
			log.WithError(err).WithField("query", item.Request.Query).Warn("lookup failed")
		}

		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("writing results: %w", err)
		}
	}

	return nil
}

func init() {
	batchCmd.Flags().IntVarP(&batchOpts.Workers, "workers", "w", 4, "concurrent lookups (0 means one per CPU)")
	batchCmd.Flags().StringVarP(&batchOpts.Provider, "provider", "p", "", "provider to use (default DEFAULT_GEOCODING_PROVIDER)")
	batchCmd.Flags().StringVarP(&batchOpts.Language, "language", "l", "", "response language (default ru)")
	rootCmd.AddCommand(batchCmd)
}
