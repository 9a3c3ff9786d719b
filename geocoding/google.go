// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"encoding/json"
	"net/url"
	"slices"
	"strings"

	"github.com/jcodagnone/geocoding/config"
)

// GoogleProvider uses the Google Maps Geocoding API.
type GoogleProvider struct {
	httpProvider
}

// NewGoogleProvider creates a Google Maps adapter.
func NewGoogleProvider(cfg config.ProviderConfig, opts ProviderOptions) *GoogleProvider {
	return &GoogleProvider{httpProvider: newHTTPProvider(cfg, opts)}
}

type googleResponse struct {
	Results      []json.RawMessage `json:"results"`
	Status       string            `json:"status"` // OK, ZERO_RESULTS, OVER_QUERY_LIMIT, ...
	ErrorMessage string            `json:"error_message"`
}

type googleResult struct {
	AddressComponents []struct {
		LongName string   `json:"long_name"`
		Types    []string `json:"types"`
	} `json:"address_components"`
	FormattedAddress string `json:"formatted_address"`
	Geometry         struct {
		Location struct {
			Lat *float64 `json:"lat"`
			Lng *float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"` // ROOFTOP, RANGE_INTERPOLATED, GEOMETRIC_CENTER, APPROXIMATE
	} `json:"geometry"`
	PlaceID string   `json:"place_id"`
	Types   []string `json:"types"`
}

func (g *GoogleProvider) Geocode(ctx context.Context, p GeocodeParams) ([]NormalizedResult, error) {
	params := url.Values{}
	params.Set("address", p.Query)
	params.Set("key", g.cfg.APIKey)
	params.Set("language", p.Language)

	if p.Region != "" {
		params.Set("region", p.Region)
	}

	if p.Bounds != "" {
		params.Set("bounds", p.Bounds)
	}

	if p.Components != "" {
		params.Set("components", p.Components)
	}

	return g.fetch(ctx, params)
}

func (g *GoogleProvider) ReverseGeocode(ctx context.Context, p ReverseParams) ([]NormalizedResult, error) {
	params := url.Values{}
	params.Set("latlng", formatCoordinate(p.Latitude)+","+formatCoordinate(p.Longitude))
	params.Set("key", g.cfg.APIKey)
	params.Set("language", p.Language)

	if p.ResultType != "" {
		params.Set("result_type", p.ResultType)
	}

	return g.fetch(ctx, params)
}

func (g *GoogleProvider) fetch(ctx context.Context, params url.Values) ([]NormalizedResult, error) {
	body, ok, err := g.get(ctx, g.cfg.BaseURL, params)
	if err != nil || !ok {
		return nil, err
	}

	results, status, err := parseGoogle(body)
	if err != nil {
		return nil, invalidResponse(g.Name(), err)
	}

	if status != "OK" && status != "ZERO_RESULTS" {
		g.log.WithField("status", status).Warn("google answered without results")
	}

	return results, nil
}

func (g *GoogleProvider) ParseResponse(raw []byte) ([]NormalizedResult, error) {
	results, _, err := parseGoogle(raw)

	return results, err
}

func parseGoogle(raw []byte) ([]NormalizedResult, string, error) {
	var resp googleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, "", err
	}

	if resp.Status != "OK" {
		return []NormalizedResult{}, resp.Status, nil
	}

	results := make([]NormalizedResult, 0, len(resp.Results))

	for _, item := range resp.Results {
		var r googleResult
		if err := json.Unmarshal(item, &r); err != nil {
			// an odd item doesn't spoil the rest of the page
			continue
		}

		n := NormalizedResult{
			Latitude:         r.Geometry.Location.Lat,
			Longitude:        r.Geometry.Location.Lng,
			FormattedAddress: optional(r.FormattedAddress),
			PlaceID:          optional(r.PlaceID),
			PlaceType:        optional(strings.Join(r.Types, ",")),
			ExternalID:       optional(r.PlaceID),
			Accuracy:         parseAccuracy(r.Geometry.LocationType),
			RawResponse:      item,
		}

		// later components overwrite earlier ones with the same role
		for _, c := range r.AddressComponents {
			switch {
			case slices.Contains(c.Types, "country"):
				n.Country = optional(c.LongName)
			case slices.Contains(c.Types, "administrative_area_level_1"):
				n.Region = optional(c.LongName)
			case slices.Contains(c.Types, "locality"), slices.Contains(c.Types, "administrative_area_level_2"):
				n.City = optional(c.LongName)
			case slices.Contains(c.Types, "route"):
				n.Street = optional(c.LongName)
			case slices.Contains(c.Types, "street_number"):
				n.HouseNumber = optional(c.LongName)
			case slices.Contains(c.Types, "postal_code"):
				n.PostalCode = optional(c.LongName)
			}
		}

		n.Confidence = 0.8
		if n.Accuracy == AccuracyRooftop {
			n.Confidence = 1.0
		}

		results = append(results, n)
	}

	return results, resp.Status, nil
}
