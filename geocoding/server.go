// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jcodagnone/geocoding/config"
	"github.com/jcodagnone/geocoding/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// APIPrefix is where the geocoding routes are mounted.
const APIPrefix = "/api/v1/location/geocoding"

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	Addr       string
	CacheTTL   time.Duration
	RateLimit  int
	RatePeriod time.Duration
	Metrics    *observability.Metrics
	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
}

type Server struct {
	service *Service
	opts    ServerOptions
	limiter *ipRateLimiter
	log     logrus.FieldLogger
}

func NewServer(service *Service, opts ServerOptions) *Server {
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}

	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Server{
		service: service,
		opts:    opts,
		limiter: newIPRateLimiter(opts.RateLimit, opts.RatePeriod),
		log:     opts.Logger,
	}
}

// Router builds the gin engine with middleware and every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), tracing(), accessLog(s.log, s.opts.Metrics))

	r.GET("/health/live", s.live)
	r.GET("/health/ready", s.ready)

	if s.opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	s.RegisterRoutes(r.Group(APIPrefix, rateLimit(s.limiter)))

	return r
}

// RegisterRoutes mounts the geocoding API on g.
func (s *Server) RegisterRoutes(g gin.IRouter) {
	g.POST("/geocode", s.geocode)
	g.POST("/search", s.search)
	g.POST("/reverse", s.reverse)
	g.GET("/providers", s.listProviders)
	g.GET("/providers/:provider/status", s.providerStatus)
	g.GET("/health", s.health)
	g.GET("/results", s.listResults)
	g.GET("/results/nearby", s.nearbyResults)
	g.GET("/results/:id", s.getResult)
	g.POST("/results/:id/address", s.promoteResult)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.WithField("addr", s.opts.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) geocode(ctx *gin.Context) {
	var req GeocodingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})

		return
	}

	results, err := s.service.Geocode(ctx.Request.Context(), req)
	if err != nil {
		s.writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, results)
}

// searchBody tells an absent limit apart from an explicit zero.
type searchBody struct {
	GeocodingRequest

	Limit *int `json:"limit"`
}

func (s *Server) search(ctx *gin.Context) {
	var body searchBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})

		return
	}

	req := SearchRequest{GeocodingRequest: body.GeocodingRequest}
	if body.Limit != nil {
		if *body.Limit < 1 {
			s.writeError(ctx, invalid("limit", "must be between 1 and %d", maxSearchLimit))

			return
		}

		req.Limit = *body.Limit
	}

	resp, err := s.service.Search(ctx.Request.Context(), req)
	if err != nil {
		s.writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, resp)
}

// reverseBody keeps the coordinates mandatory, 0 being a valid value.
// lat and lon are accepted as short forms of latitude and longitude.
type reverseBody struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	Provider   string   `json:"provider"`
	Language   string   `json:"language"`
	ResultType string   `json:"result_type"`
}

func (b *reverseBody) coordinates() (lat, lon float64, ok bool) {
	latitude, longitude := cmp.Or(b.Latitude, b.Lat), cmp.Or(b.Longitude, b.Lon)
	if latitude == nil || longitude == nil {
		return 0, 0, false
	}

	return *latitude, *longitude, true
}

func (s *Server) reverse(ctx *gin.Context) {
	var body reverseBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})

		return
	}

	lat, lon, ok := body.coordinates()
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: latitude and longitude are required"})

		return
	}

	results, err := s.service.ReverseGeocode(ctx.Request.Context(), ReverseGeocodingRequest{
		Latitude:   lat,
		Longitude:  lon,
		Provider:   body.Provider,
		Language:   body.Language,
		ResultType: body.ResultType,
	})
	if err != nil {
		s.writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, results)
}

func (s *Server) listProviders(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.service.Registry().Enabled())
}

func (s *Server) providerStatus(ctx *gin.Context) {
	status, ok := s.service.Registry().Status(ctx.Param("provider"))
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})

		return
	}

	ctx.JSON(http.StatusOK, status)
}

type providerHealth struct {
	Enabled    bool `json:"enabled"`
	Configured bool `json:"configured"`
}

type healthResponse struct {
	Status            string                    `json:"status"`
	Providers         map[string]providerHealth `json:"providers"`
	CacheTTL          int                       `json:"cache_ttl"`
	RateLimitRequests int                       `json:"rate_limit_requests"`
	RateLimitPeriod   int                       `json:"rate_limit_period"`
}

func (s *Server) health(ctx *gin.Context) {
	registry := s.service.Registry()
	enabled := registry.Enabled()

	providers := make(map[string]providerHealth, len(config.ProviderNames))
	for _, name := range config.ProviderNames {
		cfg, _ := registry.Config(name)
		providers[name] = providerHealth{
			Enabled: slices.Contains(enabled, name),
			// nominatim works without a key
			Configured: cfg.APIKey != "" || name == config.ProviderNominatim,
		}
	}

	ctx.JSON(http.StatusOK, healthResponse{
		Status:            "healthy",
		Providers:         providers,
		CacheTTL:          int(s.opts.CacheTTL / time.Second),
		RateLimitRequests: s.opts.RateLimit,
		RateLimitPeriod:   int(s.opts.RatePeriod / time.Second),
	})
}

func (s *Server) live(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ready(ctx *gin.Context) {
	if err := s.service.Ping(ctx.Request.Context()); err != nil {
		s.requestLog(ctx).WithError(err).Warn("readiness check failed")
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listResults(ctx *gin.Context) {
	filter := ResultFilter{
		Query:    ctx.Query("query"),
		Provider: ctx.Query("provider"),
	}

	if v := ctx.Query("successful"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid successful parameter"})

			return
		}

		filter.Successful = &b
	}

	var err error
	if filter.Limit, err = intQuery(ctx, "limit"); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})

		return
	}

	if filter.Offset, err = intQuery(ctx, "offset"); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset parameter"})

		return
	}

	results, err := s.service.ListResults(ctx.Request.Context(), filter)
	if err != nil {
		s.writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, results)
}

func (s *Server) getResult(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})

		return
	}

	result, err := s.service.GetResult(ctx.Request.Context(), id)
	if err != nil {
		s.writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, result)
}

func (s *Server) nearbyResults(ctx *gin.Context) {
	lat, errLat := strconv.ParseFloat(ctx.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(ctx.Query("lon"), 64)

	if errLat != nil || errLon != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon query parameters are required"})

		return
	}

	limit, err := intQuery(ctx, "limit")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})

		return
	}

	results, err := s.service.NearbyResults(ctx.Request.Context(), lat, lon, limit)
	if err != nil {
		s.writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, results)
}

func (s *Server) promoteResult(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})

		return
	}

	addr, err := s.service.PromoteToAddress(ctx.Request.Context(), id)
	if err != nil {
		s.writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusCreated, addr)
}

func intQuery(ctx *gin.Context, name string) (int, error) {
	v := ctx.Query(name)
	if v == "" {
		return 0, nil
	}

	return strconv.Atoi(v)
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and hidden behind a generic message.
func (s *Server) writeError(ctx *gin.Context, err error) {
	var (
		vErr *ValidationError
		uErr *UnavailableProviderError
	)

	switch {
	case errors.As(err, &vErr), errors.As(err, &uErr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.requestLog(ctx).WithError(err).Error("request failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
