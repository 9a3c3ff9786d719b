// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"encoding/json"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/jcodagnone/geocoding/config"
)

// MapboxProvider uses the Mapbox Geocoding API (v5, mapbox.places).
type MapboxProvider struct {
	httpProvider
}

// NewMapboxProvider creates a Mapbox adapter.
func NewMapboxProvider(cfg config.ProviderConfig, opts ProviderOptions) *MapboxProvider {
	return &MapboxProvider{httpProvider: newHTTPProvider(cfg, opts)}
}

type mapboxResponse struct {
	Features []json.RawMessage `json:"features"`
}

type mapboxFeature struct {
	ID        string    `json:"id"`
	PlaceType []string  `json:"place_type"`
	Text      string    `json:"text"`
	PlaceName string    `json:"place_name"`
	Address   string    `json:"address"`
	Center    []float64 `json:"center"` // [lon, lat]
	Relevance float64   `json:"relevance"`
	Context   []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"context"`
}

func (m *MapboxProvider) Geocode(ctx context.Context, p GeocodeParams) ([]NormalizedResult, error) {
	limit := p.Limit
	if limit <= 0 || limit > defaultProviderLimit {
		limit = defaultProviderLimit
	}

	params := url.Values{
		"access_token": {m.cfg.APIKey},
		"limit":        {strconv.Itoa(limit)},
		"language":     {p.Language},
	}

	if p.Region != "" {
		params.Set("country", p.Region)
	}

	if p.Bounds != "" {
		params.Set("bbox", p.Bounds)
	}

	return m.fetch(ctx, url.PathEscape(p.Query), params)
}

func (m *MapboxProvider) ReverseGeocode(ctx context.Context, p ReverseParams) ([]NormalizedResult, error) {
	params := url.Values{
		"access_token": {m.cfg.APIKey},
		"language":     {p.Language},
	}

	if p.ResultType != "" {
		params.Set("types", p.ResultType)
	}

	// Mapbox uses lon,lat order.
	return m.fetch(ctx, formatCoordinate(p.Longitude)+","+formatCoordinate(p.Latitude), params)
}

func (m *MapboxProvider) fetch(ctx context.Context, search string, params url.Values) ([]NormalizedResult, error) {
	endpoint := strings.TrimRight(m.cfg.BaseURL, "/") + "/mapbox.places/" + search + ".json"

	body, ok, err := m.get(ctx, endpoint, params)
	if err != nil || !ok {
		return nil, err
	}

	results, err := m.ParseResponse(body)
	if err != nil {
		return nil, invalidResponse(m.Name(), err)
	}

	return results, nil
}

func (m *MapboxProvider) ParseResponse(raw []byte) ([]NormalizedResult, error) {
	var resp mapboxResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}

	results := make([]NormalizedResult, 0, len(resp.Features))

	for _, item := range resp.Features {
		var f mapboxFeature
		if err := json.Unmarshal(item, &f); err != nil {
			continue
		}

		n := NormalizedResult{
			FormattedAddress: optional(f.PlaceName),
			PlaceID:          optional(f.ID),
			PlaceType:        optional(strings.Join(f.PlaceType, ",")),
			ExternalID:       optional(f.ID),
			Confidence:       clampConfidence(f.Relevance),
			Accuracy:         AccuracyApproximate,
			RawResponse:      item,
		}

		if len(f.Center) == 2 {
			n.Longitude, n.Latitude = ptr(f.Center[0]), ptr(f.Center[1])
		}

		if slices.Contains(f.PlaceType, "address") {
			n.Accuracy = AccuracyRooftop
			n.Street = optional(f.Text)
			n.HouseNumber = optional(f.Address)
		}

		for _, c := range f.Context {
			kind, _, _ := strings.Cut(c.ID, ".")

			switch kind {
			case "country":
				n.Country = optional(c.Text)
			case "region":
				n.Region = optional(c.Text)
			case "place":
				n.City = optional(c.Text)
			case "postcode":
				n.PostalCode = optional(c.Text)
			}
		}

		results = append(results, n)
	}

	return results, nil
}
