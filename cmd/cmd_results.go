// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jcodagnone/geocoding/geocoding"
	"github.com/jcodagnone/geocoding/geocoding/utils"
	"github.com/spf13/cobra"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Browse and manage stored geocoding results",
}

var listOpts = struct {
	Query      string
	Provider   string
	Successful string
	Limit      int
	Offset     int
}{}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored results, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter := geocoding.ResultFilter{
			Query:    listOpts.Query,
			Provider: listOpts.Provider,
			Limit:    listOpts.Limit,
			Offset:   listOpts.Offset,
		}

		if listOpts.Successful != "" {
			b, err := strconv.ParseBool(listOpts.Successful)
			if err != nil {
				return fmt.Errorf("invalid --successful %q", listOpts.Successful)
			}

			filter.Successful = &b
		}

		a, err := newApp(cmd.Context(), geocoding.ServiceOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.service.ListResults(cmd.Context(), filter)
		if err != nil {
			return err
		}

		return printResults(results)
	},
}

var resultsPromoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Create an address from a successful result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}

		a, err := newApp(cmd.Context(), geocoding.ServiceOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		addr, err := a.service.PromoteToAddress(cmd.Context(), id)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(addr)
	},
}

var resultsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Dump every stored result to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), geocoding.ServiceOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("creating %s: %w", args[0], err)
		}
		defer f.Close()

		n, err := geocoding.ExportResults(cmd.Context(), a.repo, f, time.Now())
		if err != nil {
			return err
		}

		logger.Infof("Exported %s results to %s", utils.FormatInt(int64(n)), args[0])

		return nil
	},
}

var resultsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a JSON dump into an empty database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()

		a, err := newApp(cmd.Context(), geocoding.ServiceOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := geocoding.ImportResults(cmd.Context(), a.repo, f)
		if err != nil {
			return err
		}

		logger.Infof("Imported %s results from %s", utils.FormatInt(int64(n)), args[0])

		return nil
	},
}

func init() {
	flags := resultsListCmd.Flags()
	flags.StringVar(&listOpts.Query, "query", "", "exact query text")
	flags.StringVarP(&listOpts.Provider, "provider", "p", "", "only this provider")
	flags.StringVar(&listOpts.Successful, "successful", "", "true or false")
	flags.IntVar(&listOpts.Limit, "limit", 20, "page size")
	flags.IntVar(&listOpts.Offset, "offset", 0, "rows to skip")
	resultsListCmd.Flags().BoolVar(&lookupOpts.JSON, "json", false, "print results as JSON")

	resultsCmd.AddCommand(resultsListCmd, resultsPromoteCmd, resultsExportCmd, resultsImportCmd)
	rootCmd.AddCommand(resultsCmd)
}
