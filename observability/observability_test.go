// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.WithField("provider", "google").Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"provider":"google"`)
	assert.Contains(t, out, `"msg":"visible"`)
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "loud", "text")
	require.Error(t, err)

	_, err = NewLogger(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Requests.WithLabelValues("google", "forward", "success").Inc()
	m.CacheLiveRows.Set(3)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues("google", "forward", "success")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.CacheLiveRows), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
