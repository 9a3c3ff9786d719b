// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/jcodagnone/geocoding/config"
	"github.com/tidwall/gjson"
)

// NominatimProvider uses the OpenStreetMap Nominatim API. It needs no key
// but its usage policy requires an identifying User-Agent.
type NominatimProvider struct {
	httpProvider
}

// NewNominatimProvider creates a Nominatim adapter.
func NewNominatimProvider(cfg config.ProviderConfig, opts ProviderOptions) *NominatimProvider {
	return &NominatimProvider{httpProvider: newHTTPProvider(cfg, opts)}
}

func (n *NominatimProvider) Geocode(ctx context.Context, p GeocodeParams) ([]NormalizedResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultProviderLimit
	}

	params := url.Values{}
	params.Set("q", p.Query)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("addressdetails", "1")
	params.Set("accept-language", p.Language)

	return n.fetch(ctx, "/search", params)
}

func (n *NominatimProvider) ReverseGeocode(ctx context.Context, p ReverseParams) ([]NormalizedResult, error) {
	params := url.Values{}
	params.Set("lat", formatCoordinate(p.Latitude))
	params.Set("lon", formatCoordinate(p.Longitude))
	params.Set("format", "json")
	params.Set("addressdetails", "1")
	params.Set("accept-language", p.Language)

	return n.fetch(ctx, "/reverse", params)
}

func (n *NominatimProvider) fetch(ctx context.Context, path string, params url.Values) ([]NormalizedResult, error) {
	body, ok, err := n.get(ctx, strings.TrimRight(n.cfg.BaseURL, "/")+path, params)
	if err != nil || !ok {
		return nil, err
	}

	results, err := n.ParseResponse(body)
	if err != nil {
		return nil, invalidResponse(n.Name(), err)
	}

	return results, nil
}

// ParseResponse accepts the list returned by /search as well as the single
// object returned by /reverse.
func (n *NominatimProvider) ParseResponse(raw []byte) ([]NormalizedResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errInvalidJSON
	}

	doc := gjson.ParseBytes(raw)

	var items []gjson.Result

	switch {
	case doc.IsArray():
		items = doc.Array()
	case doc.IsObject():
		if doc.Get("error").Exists() {
			return []NormalizedResult{}, nil
		}

		items = []gjson.Result{doc}
	}

	results := make([]NormalizedResult, 0, len(items))

	for _, item := range items {
		if !item.IsObject() {
			continue
		}

		results = append(results, parseNominatimItem(item))
	}

	return results, nil
}

func parseNominatimItem(item gjson.Result) NormalizedResult {
	address := item.Get("address")

	city := address.Get("city").String()
	if city == "" {
		city = address.Get("town").String()
	}

	if city == "" {
		city = address.Get("village").String()
	}

	placeID := item.Get("place_id").String()

	n := NormalizedResult{
		Latitude:         parseCoordinate(item.Get("lat").String()),
		Longitude:        parseCoordinate(item.Get("lon").String()),
		FormattedAddress: optional(item.Get("display_name").String()),
		Country:          optional(address.Get("country").String()),
		Region:           optional(address.Get("state").String()),
		City:             optional(city),
		Street:           optional(address.Get("road").String()),
		HouseNumber:      optional(address.Get("house_number").String()),
		PostalCode:       optional(address.Get("postcode").String()),
		PlaceID:          optional(placeID),
		PlaceType:        optional(item.Get("type").String()),
		ExternalID:       optional(placeID),
		RawResponse:      json.RawMessage(item.Raw),
	}

	if n.Latitude == nil || n.Longitude == nil {
		n.Latitude, n.Longitude = nil, nil
	}

	n.Accuracy, n.Confidence = AccuracyApproximate, 0.6
	if item.Get("class").String() == "building" {
		n.Accuracy, n.Confidence = AccuracyRooftop, 0.9
	}

	return n
}
