// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/jcodagnone/geocoding/config"
	"github.com/jcodagnone/geocoding/spatial"
	"golang.org/x/text/language"
)

const (
	maxQueryLength    = 1000
	maxLanguageLength = 10
	maxRegionLength   = 100

	defaultLanguage    = "ru"
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// validateProvider and validateLanguage are shared by forward and reverse
// requests. Unknown names are a validation problem; known but unconfigured
// providers are reported later by the registry.
func validateProvider(provider string) error {
	if !slices.Contains(config.ProviderNames, provider) {
		return invalid("provider", "must be one of %s", strings.Join(config.ProviderNames, ", "))
	}

	return nil
}

func validateLanguage(lang string) error {
	if utf8.RuneCountInString(lang) > maxLanguageLength {
		return invalid("language", "must be at most %d characters", maxLanguageLength)
	}

	if _, err := language.Parse(lang); err != nil {
		return invalid("language", "%q is not a language tag", lang)
	}

	return nil
}

// normalizeGeocodingRequest fills defaults in place and validates.
func normalizeGeocodingRequest(req *GeocodingRequest, defaultProvider string) error {
	if strings.TrimSpace(req.Query) == "" {
		return invalid("query", "must not be empty")
	}

	if utf8.RuneCountInString(req.Query) > maxQueryLength {
		return invalid("query", "must be at most %d characters", maxQueryLength)
	}

	if req.Provider == "" {
		req.Provider = defaultProvider
	}

	if err := validateProvider(req.Provider); err != nil {
		return err
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	if err := validateLanguage(req.Language); err != nil {
		return err
	}

	if utf8.RuneCountInString(req.Region) > maxRegionLength {
		return invalid("region", "must be at most %d characters", maxRegionLength)
	}

	return nil
}

func normalizeSearchRequest(req *SearchRequest, defaultProvider string) error {
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}

	if req.Limit < 1 || req.Limit > maxSearchLimit {
		return invalid("limit", "must be between 1 and %d", maxSearchLimit)
	}

	return normalizeGeocodingRequest(&req.GeocodingRequest, defaultProvider)
}

func normalizeReverseRequest(req *ReverseGeocodingRequest, defaultProvider string) error {
	point := spatial.Point{Lat: req.Latitude, Lng: req.Longitude}
	if err := point.Validate(); err != nil {
		return &ValidationError{Field: "coordinates", Message: err.Error()}
	}

	if req.Provider == "" {
		req.Provider = defaultProvider
	}

	if err := validateProvider(req.Provider); err != nil {
		return err
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	return validateLanguage(req.Language)
}
