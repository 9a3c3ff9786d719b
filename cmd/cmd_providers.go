// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/jcodagnone/geocoding/config"
	"github.com/jcodagnone/geocoding/geocoding"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List providers and whether they are enabled",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		registry := geocoding.NewRegistry(cfg.Providers(), geocoding.ProviderOptions{Logger: logger})

		a, b, c, d := strings.Repeat("─", 10), strings.Repeat("─", 7), strings.Repeat("─", 7), strings.Repeat("─", 12)
		fmt.Printf("╭─%-10s─┬─%-7s─┬─%-7s─┬─%-12s╮\n", a, b, c, d)
		fmt.Printf("│ %-10s │ %-7s │ %-7s │ %-12s│\n", "Provider", "Enabled", "API key", "Rate limit")
		fmt.Printf("├─%-10s─┼─%-7s─┼─%-7s─┼─%-12s┤\n", a, b, c, d)

		for _, name := range config.ProviderNames {
			status, _ := registry.Status(name)
			fmt.Printf("│ %-10s │ %-7s │ %-7s │ %12d│\n", name, yesNo(status.Enabled), yesNo(status.HasAPIKey), status.RateLimit)
		}

		fmt.Printf("╰─%-10s─┴─%-7s─┴─%-7s─┴─%-12s╯\n", a, b, c, d)

		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
