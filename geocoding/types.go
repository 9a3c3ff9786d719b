// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package geocoding resolves addresses to coordinates (and back) through
// external providers, caching every answer in a relational table.
package geocoding

import (
	"encoding/json"
	"time"
)

// Accuracy is the provider reported precision tier of a result.
type Accuracy string

const (
	AccuracyRooftop           Accuracy = "ROOFTOP"
	AccuracyRangeInterpolated Accuracy = "RANGE_INTERPOLATED"
	AccuracyGeometricCenter   Accuracy = "GEOMETRIC_CENTER"
	AccuracyApproximate       Accuracy = "APPROXIMATE"
)

func parseAccuracy(s string) Accuracy {
	switch a := Accuracy(s); a {
	case AccuracyRooftop, AccuracyRangeInterpolated, AccuracyGeometricCenter:
		return a
	default:
		return AccuracyApproximate
	}
}

// NormalizedResult is the provider independent shape produced by an adapter.
type NormalizedResult struct {
	Latitude         *float64
	Longitude        *float64
	FormattedAddress *string
	Country          *string
	Region           *string
	City             *string
	Street           *string
	HouseNumber      *string
	PostalCode       *string
	PlaceID          *string
	PlaceType        *string
	Accuracy         Accuracy
	Confidence       float64
	ExternalID       *string
	RawResponse      json.RawMessage
}

// Result is a persisted geocoding answer, successful or not.
type Result struct {
	ID               int64      `db:"id"                json:"id"`
	Query            string     `db:"query"             json:"query"`
	Latitude         *float64   `db:"latitude"          json:"latitude"`
	Longitude        *float64   `db:"longitude"         json:"longitude"`
	FormattedAddress *string    `db:"formatted_address" json:"formatted_address"`
	Country          *string    `db:"country"           json:"country"`
	Region           *string    `db:"region"            json:"region"`
	City             *string    `db:"city"              json:"city"`
	Street           *string    `db:"street"            json:"street"`
	HouseNumber      *string    `db:"house_number"      json:"house_number"`
	PostalCode       *string    `db:"postal_code"       json:"postal_code"`
	PlaceID          *string    `db:"place_id"          json:"place_id"`
	PlaceType        *string    `db:"place_type"        json:"place_type"`
	Accuracy         *string    `db:"accuracy"          json:"accuracy"`
	Confidence       float64    `db:"confidence"        json:"confidence"`
	Provider         string     `db:"provider"          json:"provider"`
	ExternalID       *string    `db:"external_id"       json:"external_id"`
	RawResponse      *string    `db:"raw_response"      json:"raw_response,omitempty"`
	IsSuccessful     bool       `db:"is_successful"     json:"is_successful"`
	ErrorMessage     *string    `db:"error_message"     json:"error_message"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	ExpiresAt        *time.Time `db:"expires_at"        json:"expires_at"`
	AddressID        *int64     `db:"address_id"        json:"address_id"`
	H3Cell           *int64     `db:"h3_cell"           json:"-"`
}

// Address is a location record created from a successful result.
type Address struct {
	ID               int64     `db:"id"                json:"id"`
	Country          *string   `db:"country"           json:"country"`
	Region           *string   `db:"region"            json:"region"`
	City             *string   `db:"city"              json:"city"`
	Street           *string   `db:"street"            json:"street"`
	HouseNumber      *string   `db:"house_number"      json:"house_number"`
	PostalCode       *string   `db:"postal_code"       json:"postal_code"`
	FormattedAddress *string   `db:"formatted_address" json:"formatted_address"`
	Latitude         *float64  `db:"latitude"          json:"latitude"`
	Longitude        *float64  `db:"longitude"         json:"longitude"`
	CreatedAt        time.Time `db:"created_at"        json:"created_at"`
}

// GeocodingRequest asks for the coordinates of a free text query.
type GeocodingRequest struct {
	Query      string `json:"query"`
	Provider   string `json:"provider"`
	Language   string `json:"language"`
	Region     string `json:"region,omitempty"`
	Bounds     string `json:"bounds,omitempty"`
	Components string `json:"components,omitempty"`
}

// SearchRequest is a GeocodingRequest with a cap on the returned results.
type SearchRequest struct {
	GeocodingRequest

	Limit int `json:"limit"`
}

// SearchResponse wraps the truncated results of a search.
type SearchResponse struct {
	Results  []Result `json:"results"`
	Total    int      `json:"total"`
	Query    string   `json:"query"`
	Provider string   `json:"provider"`
}

// ReverseGeocodingRequest asks for the address at a coordinate.
type ReverseGeocodingRequest struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Provider   string  `json:"provider"`
	Language   string  `json:"language"`
	ResultType string  `json:"result_type,omitempty"`
}

// ResultFilter narrows the results history listing.
type ResultFilter struct {
	Query      string
	Provider   string
	Successful *bool
	Limit      int
	Offset     int
}
