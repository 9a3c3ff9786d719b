// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jcodagnone/geocoding/config"
	"github.com/jcodagnone/geocoding/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverTest struct {
	router    *gin.Engine
	service   testService
	google    *fakeProvider
	nominatim *fakeProvider
}

// setupServerTest wires the real service and repository behind the router,
// with fake google and nominatim providers.
func setupServerTest(t *testing.T, opts ServerOptions) serverTest {
	t.Helper()
	gin.SetMode(gin.TestMode)

	google := &fakeProvider{name: config.ProviderGoogle, results: []NormalizedResult{normalized(55.7539, 37.6208, "Red Square")}}
	nominatim := &fakeProvider{name: config.ProviderNominatim, results: []NormalizedResult{normalized(55.7540, 37.6210, "Red Square")}}

	s := setupService(t, ServiceOptions{}, google, nominatim)

	if opts.CacheTTL == 0 {
		opts.CacheTTL = 24 * time.Hour
	}

	opts.Logger = observability.NopLogger()

	return serverTest{
		router:    NewServer(s.Service, opts).Router(),
		service:   s,
		google:    google,
		nominatim: nominatim,
	}
}

func (st serverTest) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	st.router.ServeHTTP(w, req)

	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())

	return v
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	return decode[map[string]string](t, w)["error"]
}

func TestGeocodeAPI(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})

	w := st.do(t, http.MethodPost, APIPrefix+"/geocode", GeocodingRequest{Query: "Red Square", Provider: "nominatim"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results := decode[[]Result](t, w)
	require.Len(t, results, 1)
	assert.Equal(t, "nominatim", results[0].Provider)
	assert.True(t, results[0].IsSuccessful)
	assert.Equal(t, 1, st.nominatim.Calls())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = st.do(t, http.MethodPost, APIPrefix+"/geocode", GeocodingRequest{Query: "Red Square", Provider: "nominatim"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, st.nominatim.Calls())
}

func TestGeocodeAPIErrors(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})

	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"empty query", GeocodingRequest{Query: ""}, http.StatusBadRequest, "query: must not be empty"},
		{"unconfigured provider", GeocodingRequest{Query: "Red Square", Provider: "mapbox"}, http.StatusBadRequest, "provider mapbox is not available"},
		{"unknown provider", GeocodingRequest{Query: "Red Square", Provider: "bing"}, http.StatusBadRequest, "provider: must be one of google, yandex, nominatim, mapbox"},
		{"malformed body", `{"query": `, http.StatusBadRequest, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := st.do(t, http.MethodPost, APIPrefix+"/geocode", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, errorOf(t, w), tt.message)
		})
	}

	assert.Equal(t, 0, countRows(t, st.service.repo))
}

func TestGeocodeAPIProviderFailure(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})
	st.google.err = &ProviderError{Type: ErrorTypeTimeout, Provider: "google", Message: "request failed"}

	w := st.do(t, http.MethodPost, APIPrefix+"/geocode", GeocodingRequest{Query: "Red Square"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, 1, countRows(t, st.service.repo))
}

func TestGeocodeAPIStorageFailure(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})
	st.service.Service.repo = failingSaves{Repository: st.service.repo}

	w := st.do(t, http.MethodPost, APIPrefix+"/geocode", GeocodingRequest{Query: "Red Square"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", errorOf(t, w))
}

func TestSearchAPI(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})
	st.google.results = []NormalizedResult{
		normalized(55.1, 37.1, "Lenina 1"),
		normalized(55.2, 37.2, "Lenina 2"),
		normalized(55.3, 37.3, "Lenina 3"),
	}

	w := st.do(t, http.MethodPost, APIPrefix+"/search", map[string]any{"query": "Lenina", "limit": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[SearchResponse](t, w)
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, "Lenina", resp.Query)
	assert.Equal(t, "google", resp.Provider)

	w = st.do(t, http.MethodPost, APIPrefix+"/search", map[string]any{"query": "Lenina", "limit": 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = st.do(t, http.MethodPost, APIPrefix+"/search", map[string]any{"query": "Lenina", "limit": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code, "an explicit zero limit is rejected")
	assert.Contains(t, errorOf(t, w), "limit")

	w = st.do(t, http.MethodPost, APIPrefix+"/search", map[string]any{"query": "Lenina"})
	require.Equal(t, http.StatusOK, w.Code, "an absent limit gets the default")
	assert.Equal(t, 3, decode[SearchResponse](t, w).Total)
}

func TestReverseAPI(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})

	w := st.do(t, http.MethodPost, APIPrefix+"/reverse", map[string]any{"latitude": 55.7539, "longitude": 37.6208})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results := decode[[]Result](t, w)
	require.Len(t, results, 1)
	assert.Equal(t, "55.7539,37.6208", results[0].Query)

	w = st.do(t, http.MethodPost, APIPrefix+"/reverse", map[string]any{"lat": 55.7539, "lon": 37.6208})
	require.Equal(t, http.StatusOK, w.Code, "short field names are accepted too")

	w = st.do(t, http.MethodPost, APIPrefix+"/reverse", map[string]any{"latitude": 91, "longitude": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorOf(t, w), "latitude")

	w = st.do(t, http.MethodPost, APIPrefix+"/reverse", map[string]any{"longitude": 37.6})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body: latitude and longitude are required", errorOf(t, w))

	w = st.do(t, http.MethodPost, APIPrefix+"/reverse", map[string]any{"latitude": 0, "longitude": 0})
	assert.Equal(t, http.StatusOK, w.Code, "the null island is a valid coordinate")

	assert.Equal(t, 3, st.google.Calls())
}

func TestReverseAPIMalformedBody(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})

	w := st.do(t, http.MethodPost, APIPrefix+"/reverse", `{"latitude": "north"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	msg := errorOf(t, w)
	assert.True(t, strings.HasPrefix(msg, "invalid request body: "), msg)
	assert.NotContains(t, msg, "are required", "the decoder error is reported as is")
	assert.Zero(t, st.google.Calls())
}

func TestProvidersAPI(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})

	w := st.do(t, http.MethodGet, APIPrefix+"/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["google", "nominatim"]`, w.Body.String())

	w = st.do(t, http.MethodGet, APIPrefix+"/providers/google/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	status := decode[ProviderStatus](t, w)
	assert.Equal(t, "google", status.Provider)
	assert.True(t, status.Enabled)

	w = st.do(t, http.MethodGet, APIPrefix+"/providers/yandex/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[ProviderStatus](t, w).Enabled)

	w = st.do(t, http.MethodGet, APIPrefix+"/providers/bing/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAPI(t *testing.T) {
	st := setupServerTest(t, ServerOptions{CacheTTL: time.Hour, RateLimit: 100, RatePeriod: time.Hour})

	w := st.do(t, http.MethodGet, APIPrefix+"/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	health := decode[healthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 3600, health.CacheTTL)
	assert.Equal(t, 100, health.RateLimitRequests)
	assert.Equal(t, 3600, health.RateLimitPeriod)
	assert.Equal(t, providerHealth{Enabled: true, Configured: false}, health.Providers["google"])
	assert.Equal(t, providerHealth{Enabled: true, Configured: true}, health.Providers["nominatim"])
	assert.Equal(t, providerHealth{}, health.Providers["mapbox"])

	w = st.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = st.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResultsAPI(t *testing.T) {
	st := setupServerTest(t, ServerOptions{})

	w := st.do(t, http.MethodPost, APIPrefix+"/geocode", GeocodingRequest{Query: "Red Square"})
	require.Equal(t, http.StatusOK, w.Code)

	id := decode[[]Result](t, w)[0].ID

	st.google.err = &ProviderError{Type: ErrorTypeNetworkError, Provider: "google", Message: "request failed"}
	w = st.do(t, http.MethodPost, APIPrefix+"/geocode", GeocodingRequest{Query: "Kremlin"})
	require.Equal(t, http.StatusOK, w.Code)

	w = st.do(t, http.MethodGet, APIPrefix+"/results?successful=false", nil)
	require.Equal(t, http.StatusOK, w.Code)

	failed := decode[[]Result](t, w)
	require.Len(t, failed, 1)
	assert.Equal(t, "Kremlin", failed[0].Query)

	w = st.do(t, http.MethodGet, APIPrefix+"/results?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = st.do(t, http.MethodGet, APIPrefix+"/results/"+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Red Square", decode[Result](t, w).Query)

	w = st.do(t, http.MethodGet, APIPrefix+"/results/424242", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = st.do(t, http.MethodGet, APIPrefix+"/results/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = st.do(t, http.MethodGet, APIPrefix+"/results/nearby?lat=55.754&lon=37.621", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	nearby := decode[[]NearbyResult](t, w)
	require.Len(t, nearby, 1)
	assert.Equal(t, id, nearby[0].ID)
	assert.Positive(t, nearby[0].DistanceMeters)

	w = st.do(t, http.MethodGet, APIPrefix+"/results/nearby?lat=north", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = st.do(t, http.MethodPost, APIPrefix+"/results/"+strconv.FormatInt(id, 10)+"/address", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Red Square", *decode[Address](t, w).FormattedAddress)

	w = st.do(t, http.MethodPost, APIPrefix+"/results/"+strconv.FormatInt(id, 10)+"/address", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorOf(t, w), "already promoted")

	w = st.do(t, http.MethodPost, APIPrefix+"/results/"+strconv.FormatInt(failed[0].ID, 10)+"/address", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitAPI(t *testing.T) {
	st := setupServerTest(t, ServerOptions{RateLimit: 2, RatePeriod: time.Hour})

	for range 2 {
		w := st.do(t, http.MethodGet, APIPrefix+"/providers", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := st.do(t, http.MethodGet, APIPrefix+"/providers", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limit exceeded", errorOf(t, w))

	w = st.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code, "service endpoints are not throttled")
}

func TestRequestIDAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	st := setupServerTest(t, ServerOptions{Metrics: observability.NewMetrics(reg), Gatherer: reg})

	req := httptest.NewRequest(http.MethodGet, APIPrefix+"/providers", nil)
	req.Header.Set(requestIDHeader, "abc-123")

	w := httptest.NewRecorder()
	st.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))

	w = st.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `geocoding_http_requests_total{method="GET",route="/api/v1/location/geocoding/providers",status="200"} 1`)
}
