// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/jcodagnone/geocoding/spatial"
)

const (
	dumpVersion     = 1
	importChunkSize = 500
)

// ErrNotEmpty is returned when importing into a table that already has rows.
var ErrNotEmpty = errors.New("results table is not empty")

// Dump is the JSON document written by ExportResults.
type Dump struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Results    []Result  `json:"results"`
}

// ExportResults writes the whole results history, oldest first.
func ExportResults(ctx context.Context, repo Repository, w io.Writer, now time.Time) (int, error) {
	var all []Result

	for offset := 0; ; offset += maxListLimit {
		page, err := repo.List(ctx, ResultFilter{Limit: maxListLimit, Offset: offset})
		if err != nil {
			return 0, err
		}

		all = append(all, page...)

		if len(page) < maxListLimit {
			break
		}
	}

	slices.SortFunc(all, func(a, b Result) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(Dump{Version: dumpVersion, ExportedAt: now.UTC(), Results: all}); err != nil {
		return 0, fmt.Errorf("encoding dump: %w", err)
	}

	return len(all), nil
}

// ImportResults loads a dump into an empty results table. Rows get new ids
// and lose their address links; H3 cells are recomputed.
func ImportResults(ctx context.Context, repo Repository, r io.Reader) (int, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		return 0, ErrNotEmpty
	}

	var dump Dump
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return 0, fmt.Errorf("decoding dump: %w", err)
	}

	if dump.Version != dumpVersion {
		return 0, fmt.Errorf("unsupported dump version %d", dump.Version)
	}

	rows := make([]*Result, 0, len(dump.Results))

	for i := range dump.Results {
		res := &dump.Results[i]
		res.ID = 0
		res.AddressID = nil
		res.H3Cell = nil

		if res.IsSuccessful && res.Latitude != nil && res.Longitude != nil {
			point := spatial.Point{Lat: *res.Latitude, Lng: *res.Longitude}
			if point.Validate() == nil {
				if cell, err := point.Cell(); err == nil {
					res.H3Cell = &cell
				}
			}
		}

		rows = append(rows, res)
	}

	for chunk := range slices.Chunk(rows, importChunkSize) {
		if err := repo.SaveResults(ctx, chunk); err != nil {
			return 0, err
		}
	}

	return len(rows), nil
}
