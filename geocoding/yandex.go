// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/jcodagnone/geocoding/config"
	"github.com/jcodagnone/geocoding/geocoding/utils"
	"github.com/tidwall/gjson"
)

const yandexDefaultLocale = "ru_RU"

var errInvalidJSON = errors.New("invalid JSON payload")

// YandexProvider uses the Yandex Geocoder HTTP API.
type YandexProvider struct {
	httpProvider
}

// NewYandexProvider creates a Yandex adapter.
func NewYandexProvider(cfg config.ProviderConfig, opts ProviderOptions) *YandexProvider {
	return &YandexProvider{httpProvider: newHTTPProvider(cfg, opts)}
}

func (y *YandexProvider) Geocode(ctx context.Context, p GeocodeParams) ([]NormalizedResult, error) {
	return y.fetch(ctx, p, "")
}

// ReverseGeocode asks the forward endpoint for a "lon,lat" query, which is
// how Yandex exposes reverse lookups.
func (y *YandexProvider) ReverseGeocode(ctx context.Context, p ReverseParams) ([]NormalizedResult, error) {
	return y.fetch(ctx, GeocodeParams{
		Query:    formatCoordinate(p.Longitude) + "," + formatCoordinate(p.Latitude),
		Language: p.Language,
	}, p.ResultType)
}

func (y *YandexProvider) fetch(ctx context.Context, p GeocodeParams, kind string) ([]NormalizedResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultProviderLimit
	}

	params := url.Values{}
	params.Set("geocode", p.Query)
	params.Set("apikey", y.cfg.APIKey)
	params.Set("format", "json")
	params.Set("results", strconv.Itoa(limit))
	params.Set("lang", utils.UnderscoreLocale(p.Language, yandexDefaultLocale))

	if kind != "" {
		params.Set("kind", kind)
	}

	body, ok, err := y.get(ctx, y.cfg.BaseURL, params)
	if err != nil || !ok {
		return nil, err
	}

	results, err := y.ParseResponse(body)
	if err != nil {
		return nil, invalidResponse(y.Name(), err)
	}

	return results, nil
}

func (y *YandexProvider) ParseResponse(raw []byte) ([]NormalizedResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errInvalidJSON
	}

	members := gjson.GetBytes(raw, "response.GeoObjectCollection.featureMember")
	results := make([]NormalizedResult, 0, len(members.Array()))

	members.ForEach(func(_, member gjson.Result) bool {
		geo := member.Get("GeoObject")
		if !geo.Exists() {
			return true
		}

		results = append(results, parseYandexGeoObject(geo))

		return true
	})

	return results, nil
}

func parseYandexGeoObject(geo gjson.Result) NormalizedResult {
	meta := geo.Get("metaDataProperty.GeocoderMetaData")
	address := meta.Get("Address")

	n := NormalizedResult{
		FormattedAddress: optional(meta.Get("text").String()),
		PostalCode:       optional(address.Get("postal_code").String()),
		PlaceType:        optional(meta.Get("kind").String()),
		RawResponse:      json.RawMessage(geo.Raw),
	}

	if n.FormattedAddress == nil {
		n.FormattedAddress = optional(geo.Get("name").String())
	}

	// Point.pos is "lon lat"
	if pos := strings.Fields(geo.Get("Point.pos").String()); len(pos) == 2 {
		lon, lat := parseCoordinate(pos[0]), parseCoordinate(pos[1])
		if lon != nil && lat != nil {
			n.Latitude, n.Longitude = lat, lon
		}
	}

	id := meta.Get("id").String()
	if id == "" {
		id = meta.Get("uri").String()
	}

	n.PlaceID = optional(id)
	n.ExternalID = optional(id)

	components := address.Get("Components")
	if components.Exists() && len(components.Array()) > 0 {
		components.ForEach(func(_, c gjson.Result) bool {
			name := optional(c.Get("name").String())

			switch c.Get("kind").String() {
			case "country":
				n.Country = name
			case "province":
				// federal district first, then the subject; keep the latter
				n.Region = name
			case "locality":
				if n.City == nil {
					n.City = name
				}
			case "street":
				n.Street = name
			case "house":
				n.HouseNumber = name
			}

			return true
		})
	} else {
		country := meta.Get("AddressDetails.Country")
		area := country.Get("AdministrativeArea")
		locality := area.Get("Locality")
		thoroughfare := locality.Get("Thoroughfare")

		n.Country = optional(country.Get("CountryName").String())
		n.Region = optional(area.Get("AdministrativeAreaName").String())
		n.City = optional(locality.Get("LocalityName").String())
		n.Street = optional(thoroughfare.Get("ThoroughfareName").String())
		n.HouseNumber = optional(thoroughfare.Get("Premise.PremiseNumber").String())

		if n.PostalCode == nil {
			n.PostalCode = optional(thoroughfare.Get("Premise.PostalCode.PostalCodeNumber").String())
		}
	}

	n.Accuracy, n.Confidence = AccuracyApproximate, 0.7
	if meta.Get("precision").String() == "exact" {
		n.Accuracy, n.Confidence = AccuracyRooftop, 1.0
	}

	return n
}
