// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGeocodingRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       GeocodingRequest
		wantField string
	}{
		{name: "minimal", req: GeocodingRequest{Query: "Moscow, Red Square"}},
		{name: "empty query", req: GeocodingRequest{Query: ""}, wantField: "query"},
		{name: "blank query", req: GeocodingRequest{Query: "   \t"}, wantField: "query"},
		{name: "long query", req: GeocodingRequest{Query: strings.Repeat("a", 1001)}, wantField: "query"},
		{name: "max query", req: GeocodingRequest{Query: strings.Repeat("я", 1000)}},
		{name: "unknown provider", req: GeocodingRequest{Query: "x", Provider: "bing"}, wantField: "provider"},
		{name: "long language", req: GeocodingRequest{Query: "x", Language: "ru-RU-x-private"}, wantField: "language"},
		{name: "bad language", req: GeocodingRequest{Query: "x", Language: "12"}, wantField: "language"},
		{name: "long region", req: GeocodingRequest{Query: "x", Region: strings.Repeat("r", 101)}, wantField: "region"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			err := normalizeGeocodingRequest(&req, "nominatim")

			if tc.wantField == "" {
				require.NoError(t, err)

				return
			}

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.wantField, vErr.Field)
		})
	}
}

func TestNormalizeGeocodingRequest_Defaults(t *testing.T) {
	req := GeocodingRequest{Query: "Tverskaya 1"}
	require.NoError(t, normalizeGeocodingRequest(&req, "yandex"))

	assert.Equal(t, "yandex", req.Provider)
	assert.Equal(t, "ru", req.Language)
	assert.Equal(t, "Tverskaya 1", req.Query, "query is used verbatim as cache key")
}

func TestNormalizeSearchRequest(t *testing.T) {
	req := SearchRequest{GeocodingRequest: GeocodingRequest{Query: "x"}}
	require.NoError(t, normalizeSearchRequest(&req, "google"))
	assert.Equal(t, 10, req.Limit)

	for _, limit := range []int{-1, 51} {
		req := SearchRequest{GeocodingRequest: GeocodingRequest{Query: "x"}, Limit: limit}

		var vErr *ValidationError
		require.ErrorAs(t, normalizeSearchRequest(&req, "google"), &vErr)
		assert.Equal(t, "limit", vErr.Field)
	}

	req = SearchRequest{GeocodingRequest: GeocodingRequest{Query: "x"}, Limit: 50}
	require.NoError(t, normalizeSearchRequest(&req, "google"))
}

func TestNormalizeReverseRequest(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		wantErr  bool
	}{
		{"red square", 55.7539, 37.6208, false},
		{"poles and antimeridian", -90, 180, false},
		{"latitude too high", 91, 0, true},
		{"latitude too low", -90.5, 0, true},
		{"longitude too high", 0, 180.1, true},
		{"longitude too low", 0, -181, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := ReverseGeocodingRequest{Latitude: tc.lat, Longitude: tc.lon}
			err := normalizeReverseRequest(&req, "google")

			if (err != nil) != tc.wantErr {
				t.Fatalf("normalizeReverseRequest() error = %v, wantErr %v", err, tc.wantErr)
			}

			if err == nil {
				assert.Equal(t, "google", req.Provider)
				assert.Equal(t, "ru", req.Language)
			}
		})
	}
}
