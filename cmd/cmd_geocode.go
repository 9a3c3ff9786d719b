// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jcodagnone/geocoding/geocoding"
	"github.com/spf13/cobra"
)

type lookupOptions struct {
	Provider   string
	Language   string
	Region     string
	Bounds     string
	Components string
	ResultType string
	Limit      int
	JSON       bool
}

var lookupOpts = &lookupOptions{}

var geocodeCmd = &cobra.Command{
	Use:   "geocode <query>",
	Short: "Resolve an address to coordinates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), geocoding.ServiceOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.service.Geocode(cmd.Context(), lookupOpts.request(strings.Join(args, " ")))
		if err != nil {
			return err
		}

		return printResults(results)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Like geocode, keeping at most --limit candidates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), geocoding.ServiceOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.service.Search(cmd.Context(), geocoding.SearchRequest{
			GeocodingRequest: lookupOpts.request(strings.Join(args, " ")),
			Limit:            lookupOpts.Limit,
		})
		if err != nil {
			return err
		}

		return printResults(resp.Results)
	},
}

var reverseCmd = &cobra.Command{
	Use:   "reverse <lat> <lon>",
	Short: "Resolve coordinates to an address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude %q", args[0])
		}

		lon, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude %q", args[1])
		}

		a, err := newApp(cmd.Context(), geocoding.ServiceOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.service.ReverseGeocode(cmd.Context(), geocoding.ReverseGeocodingRequest{
			Latitude:   lat,
			Longitude:  lon,
			Provider:   lookupOpts.Provider,
			Language:   lookupOpts.Language,
			ResultType: lookupOpts.ResultType,
		})
		if err != nil {
			return err
		}

		return printResults(results)
	},
}

func (o *lookupOptions) request(query string) geocoding.GeocodingRequest {
	return geocoding.GeocodingRequest{
		Query:      query,
		Provider:   o.Provider,
		Language:   o.Language,
		Region:     o.Region,
		Bounds:     o.Bounds,
		Components: o.Components,
	}
}

func printResults(results []geocoding.Result) error {
	if lookupOpts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results.")

		return nil
	}

	a, b, c, d := strings.Repeat("─", 6), strings.Repeat("─", 22), strings.Repeat("─", 10), strings.Repeat("─", 60)
	fmt.Printf("╭─%6s─┬─%-22s─┬─%-10s─┬─%-60s╮\n", a, b, c, d)
	fmt.Printf("│ %6s │ %-22s │ %-10s │ %-60s│\n", "Id", "Coordinates", "Confidence", "Address")
	fmt.Printf("├─%6s─┼─%-22s─┼─%-10s─┼─%-60s┤\n", a, b, c, d)

	for _, r := range results {
		coords := "-"
		if r.Latitude != nil && r.Longitude != nil {
			coords = fmt.Sprintf("%.6f,%.6f", *r.Latitude, *r.Longitude)
		}

		address := "-"
		if r.FormattedAddress != nil {
			address = truncate(*r.FormattedAddress, 60)
		}

		fmt.Printf("│ %6d │ %-22s │ %10.2f │ %-60s│\n", r.ID, coords, r.Confidence, address)
	}

	fmt.Printf("╰─%6s─┴─%-22s─┴─%-10s─┴─%-60s╯\n", a, b, c, d)

	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n-1]) + "…"
}

func addLookupFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&lookupOpts.Provider, "provider", "p", "", "google, yandex, nominatim or mapbox (default DEFAULT_GEOCODING_PROVIDER)")
	flags.StringVarP(&lookupOpts.Language, "language", "l", "", "response language (default ru)")
	flags.BoolVar(&lookupOpts.JSON, "json", false, "print results as JSON")
}

func init() {
	for _, c := range []*cobra.Command{geocodeCmd, searchCmd, reverseCmd} {
		addLookupFlags(c)
		rootCmd.AddCommand(c)
	}

	for _, c := range []*cobra.Command{geocodeCmd, searchCmd} {
		c.Flags().StringVar(&lookupOpts.Region, "region", "", "region bias (ccTLD)")
		c.Flags().StringVar(&lookupOpts.Bounds, "bounds", "", "viewport bias")
		c.Flags().StringVar(&lookupOpts.Components, "components", "", "component filter (google)")
	}

	searchCmd.Flags().IntVar(&lookupOpts.Limit, "limit", 10, "maximum number of results (1-50)")
	reverseCmd.Flags().StringVar(&lookupOpts.ResultType, "result-type", "", "restrict the kind of results")
}
