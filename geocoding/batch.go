// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// BatchItem is the outcome of one request of a batch.
type BatchItem struct {
	Request GeocodingRequest `json:"request"`
	Results []Result         `json:"results"`
	Error   string           `json:"error,omitempty"`

	err error
}

// Err returns the error the request failed with, if any.
func (b BatchItem) Err() error {
	return b.err
}

// BatchSummary counts the outcomes of a batch.
type BatchSummary struct {
	Requests int
	Resolved int // at least one result
	Empty    int
	Failed   int
}

// GeocodeBatch geocodes every request with at most workers concurrent
// lookups. Items keep the order of reqs. A progress bar is drawn when
// stderr is a terminal.
func (s *Service) GeocodeBatch(ctx context.Context, reqs []GeocodingRequest, workers int) ([]BatchItem, BatchSummary) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(len(reqs),
			progressbar.OptionSetDescription("Geocoding"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	items := make([]BatchItem, len(reqs))

	var wg sync.WaitGroup

	semaphore := make(chan struct{}, workers)

	for i, req := range reqs {
		wg.Add(1)

		go func() {
			defer wg.Done()
			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			item := BatchItem{Request: req}

			if err := ctx.Err(); err != nil {
				item.err = err
			} else {
				item.Results, item.err = s.Geocode(ctx, req)
			}

			if item.err != nil {
				item.Error = item.err.Error()
			}

			items[i] = item

			if bar == nil {
				s.opts.Logger.WithFields(logrus.Fields{
					"query":   req.Query,
					"results": len(item.Results),
				}).Debug("batch item done")
			} else if err := bar.Add(1); err != nil {
				s.opts.Logger.WithError(err).Debug("updating progress bar")
			}
		}()
	}

	wg.Wait()

	summary := BatchSummary{Requests: len(items)}

	for _, item := range items {
		switch {
		case item.err != nil:
			summary.Failed++
		case len(item.Results) == 0:
			summary.Empty++
		default:
			summary.Resolved++
		}
	}

	return items, summary
}
