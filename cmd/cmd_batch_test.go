// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jcodagnone/geocoding/geocoding"
	"github.com/jcodagnone/geocoding/observability"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBatchLogsFailures(t *testing.T) {
	service := geocoding.NewService(nil, geocoding.NewStaticRegistry(nil), geocoding.ServiceOptions{
		Logger: observability.NopLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, _ := service.GeocodeBatch(ctx, []geocoding.GeocodingRequest{{Query: "Arbat 1"}, {Query: "Tverskaya 7"}}, 1)

	log, hook := test.NewNullLogger()

	var out bytes.Buffer
	require.NoError(t, writeBatch(&out, items, log))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first geocoding.BatchItem
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "Arbat 1", first.Request.Query)
	assert.Equal(t, context.Canceled.Error(), first.Error)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, "Arbat 1", entries[0].Data["query"])
	assert.ErrorIs(t, entries[0].Data[logrus.ErrorKey].(error), context.Canceled)
}
