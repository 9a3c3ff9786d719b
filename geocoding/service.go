// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jcodagnone/geocoding/config"
	"github.com/jcodagnone/geocoding/observability"
	"github.com/jcodagnone/geocoding/spatial"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	methodForward = "forward"
	methodReverse = "reverse"

	defaultNearbyLimit = 10
	maxNearbyLimit     = 50
)

// Publisher receives every row the service persists.
type Publisher interface {
	Publish(ctx context.Context, results []Result) error
}

// ServiceOptions configures a Service. Zero values get sensible defaults.
type ServiceOptions struct {
	DefaultProvider string
	CacheTTL        time.Duration
	// ReverseCache lets reverse lookups read the cache. Off by default:
	// reverse answers are stored but every request reaches the provider.
	ReverseCache bool
	Clock        clockwork.Clock
	Publisher    Publisher
	Metrics      *observability.Metrics
	Logger       logrus.FieldLogger
}

// Service orchestrates cache lookups, provider calls and persistence.
type Service struct {
	repo     Repository
	registry *Registry
	opts     ServiceOptions
	tracer   trace.Tracer
}

// NewService creates the geocoding orchestrator.
func NewService(repo Repository, registry *Registry, opts ServiceOptions) *Service {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = config.ProviderGoogle
	}

	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}

	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Service{
		repo:     repo,
		registry: registry,
		opts:     opts,
		tracer:   otel.Tracer(observability.TracerName),
	}
}

// Registry exposes the provider registry the service dispatches to.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Geocode resolves a free text query. Provider failures are recorded and
// reported as an empty list; only validation, provider availability and
// storage problems are returned as errors.
func (s *Service) Geocode(ctx context.Context, req GeocodingRequest) ([]Result, error) {
	if err := normalizeGeocodingRequest(&req, s.opts.DefaultProvider); err != nil {
		return nil, err
	}

	return s.lookupOrFetch(ctx, lookup{
		key:       req.Query,
		provider:  req.Provider,
		method:    methodForward,
		readCache: true,
	}, func(ctx context.Context, p Provider) ([]NormalizedResult, error) {
		return p.Geocode(ctx, GeocodeParams{
			Query:      req.Query,
			Language:   req.Language,
			Region:     req.Region,
			Bounds:     req.Bounds,
			Components: req.Components,
			Limit:      defaultProviderLimit,
		})
	})
}

// Search geocodes and keeps at most req.Limit results.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := normalizeSearchRequest(&req, s.opts.DefaultProvider); err != nil {
		return nil, err
	}

	results, err := s.Geocode(ctx, req.GeocodingRequest)
	if err != nil {
		return nil, err
	}

	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return &SearchResponse{
		Results:  results,
		Total:    len(results),
		Query:    req.Query,
		Provider: req.Provider,
	}, nil
}

// ReverseGeocode resolves a coordinate. Coordinates are validated before
// any provider is contacted.
func (s *Service) ReverseGeocode(ctx context.Context, req ReverseGeocodingRequest) ([]Result, error) {
	if err := normalizeReverseRequest(&req, s.opts.DefaultProvider); err != nil {
		return nil, err
	}

	return s.lookupOrFetch(ctx, lookup{
		key:       ReverseQueryKey(req.Latitude, req.Longitude),
		provider:  req.Provider,
		method:    methodReverse,
		readCache: s.opts.ReverseCache,
	}, func(ctx context.Context, p Provider) ([]NormalizedResult, error) {
		return p.ReverseGeocode(ctx, ReverseParams{
			Latitude:   req.Latitude,
			Longitude:  req.Longitude,
			Language:   req.Language,
			ResultType: req.ResultType,
		})
	})
}

// ReverseQueryKey is the query text reverse results are stored under.
func ReverseQueryKey(lat, lon float64) string {
	return formatCoordinate(lat) + "," + formatCoordinate(lon)
}

type lookup struct {
	key       string
	provider  string
	method    string
	readCache bool
}

type fetchFunc func(ctx context.Context, p Provider) ([]NormalizedResult, error)

// lookupOrFetch is the cache-aside flow shared by every lookup. Two
// concurrent misses for the same key both reach the provider and both
// persist their rows.
func (s *Service) lookupOrFetch(ctx context.Context, l lookup, fetch fetchFunc) ([]Result, error) {
	ctx, span := s.tracer.Start(ctx, "geocoding."+l.method, trace.WithAttributes(
		attribute.String("geocoding.provider", l.provider),
		attribute.Bool("geocoding.read_cache", l.readCache),
	))
	defer span.End()

	m := s.opts.Metrics
	log := s.opts.Logger.WithFields(logrus.Fields{
		"provider": l.provider,
		"method":   l.method,
		"query":    l.key,
	})

	if l.readCache {
		cached, err := s.repo.FindCached(ctx, l.key, l.provider, s.opts.Clock.Now())
		if err != nil {
			span.SetStatus(codes.Error, err.Error())

			return nil, err
		}

		if len(cached) > 0 {
			m.Cache.WithLabelValues(l.provider, l.method, "hit").Inc()
			m.Requests.WithLabelValues(l.provider, l.method, "cached").Inc()
			span.SetAttributes(attribute.Bool("geocoding.cache_hit", true))
			log.WithField("results", len(cached)).Debug("served from cache")

			return cached, nil
		}

		m.Cache.WithLabelValues(l.provider, l.method, "miss").Inc()
	}

	provider, err := s.registry.Get(l.provider)
	if err != nil {
		m.Requests.WithLabelValues(l.provider, l.method, "unavailable").Inc()

		return nil, err
	}

	start := time.Now()
	normalized, fetchErr := fetch(ctx, provider)
	m.ProviderDuration.WithLabelValues(l.provider, l.method).Observe(time.Since(start).Seconds())

	now := s.opts.Clock.Now()

	if fetchErr != nil {
		log.WithError(fetchErr).Warn("provider call failed")
		span.RecordError(fetchErr)
		m.Requests.WithLabelValues(l.provider, l.method, outcome(fetchErr)).Inc()

		failure := &Result{
			Query:        l.key,
			Provider:     l.provider,
			IsSuccessful: false,
			ErrorMessage: ptr(fetchErr.Error()),
			CreatedAt:    now,
		}
		if err := s.persist(ctx, []*Result{failure}); err != nil {
			span.SetStatus(codes.Error, err.Error())

			return nil, err
		}

		return []Result{}, nil
	}

	expires := now.Add(s.opts.CacheTTL)

	rows := make([]*Result, 0, len(normalized))
	for _, n := range normalized {
		rows = append(rows, newResult(l.key, l.provider, n, now, expires, log))
	}

	if err := s.persist(ctx, rows); err != nil {
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	label := "success"
	if len(rows) == 0 {
		label = "empty"
	}

	m.Requests.WithLabelValues(l.provider, l.method, label).Inc()
	span.SetAttributes(attribute.Int("geocoding.results", len(rows)))

	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		results = append(results, *r)
	}

	return results, nil
}

func newResult(query, provider string, n NormalizedResult, now, expires time.Time, log logrus.FieldLogger) *Result {
	r := &Result{
		Query:            query,
		Latitude:         n.Latitude,
		Longitude:        n.Longitude,
		FormattedAddress: n.FormattedAddress,
		Country:          n.Country,
		Region:           n.Region,
		City:             n.City,
		Street:           n.Street,
		HouseNumber:      n.HouseNumber,
		PostalCode:       n.PostalCode,
		PlaceID:          n.PlaceID,
		PlaceType:        n.PlaceType,
		Accuracy:         ptr(string(parseAccuracy(string(n.Accuracy)))),
		Confidence:       clampConfidence(n.Confidence),
		Provider:         provider,
		ExternalID:       n.ExternalID,
		IsSuccessful:     true,
		CreatedAt:        now,
		ExpiresAt:        ptr(expires),
	}

	if len(n.RawResponse) > 0 {
		r.RawResponse = ptr(string(n.RawResponse))
	}

	if r.Latitude != nil && r.Longitude != nil {
		point := spatial.Point{Lat: *r.Latitude, Lng: *r.Longitude}
		if point.Validate() == nil {
			if cell, err := point.Cell(); err == nil {
				r.H3Cell = &cell
			} else {
				log.WithError(err).Debug("skipping h3 cell")
			}
		}
	}

	return r
}

// persist stores rows and forwards them to the publisher. Publishing is
// best effort: failures are logged and counted.
func (s *Service) persist(ctx context.Context, rows []*Result) error {
	if len(rows) == 0 {
		return nil
	}

	if err := s.repo.SaveResults(ctx, rows); err != nil {
		return fmt.Errorf("saving results: %w", err)
	}

	for _, r := range rows {
		s.opts.Metrics.ResultsPersisted.WithLabelValues(r.Provider, strconv.FormatBool(r.IsSuccessful)).Inc()
	}

	if s.opts.Publisher == nil {
		return nil
	}

	events := make([]Result, 0, len(rows))
	for _, r := range rows {
		events = append(events, *r)
	}

	if err := s.opts.Publisher.Publish(ctx, events); err != nil {
		s.opts.Metrics.EventsPublished.WithLabelValues("error").Inc()
		s.opts.Logger.WithError(err).Warn("publishing results")

		return nil
	}

	s.opts.Metrics.EventsPublished.WithLabelValues("ok").Inc()

	return nil
}

// GetResult returns a stored result by id.
func (s *Service) GetResult(ctx context.Context, id int64) (*Result, error) {
	return s.repo.Get(ctx, id)
}

// ListResults browses the stored history, expired rows included.
func (s *Service) ListResults(ctx context.Context, filter ResultFilter) ([]Result, error) {
	return s.repo.List(ctx, filter)
}

// NearbyResult is a stored result with its distance to the reference point.
type NearbyResult struct {
	Result

	DistanceMeters float64 `json:"distance_m"`
}

// NearbyResults returns successful results around a point, closest first.
// The search covers the point's H3 cell and its immediate neighbors.
func (s *Service) NearbyResults(ctx context.Context, lat, lon float64, limit int) ([]NearbyResult, error) {
	origin := spatial.Point{Lat: lat, Lng: lon}
	if err := origin.Validate(); err != nil {
		return nil, &ValidationError{Field: "coordinates", Message: err.Error()}
	}

	if limit == 0 {
		limit = defaultNearbyLimit
	}

	if limit < 1 || limit > maxNearbyLimit {
		return nil, invalid("limit", "must be between 1 and %d", maxNearbyLimit)
	}

	cells, err := origin.Neighborhood(1)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.InCells(ctx, cells)
	if err != nil {
		return nil, err
	}

	nearby := make([]NearbyResult, 0, len(rows))

	for _, r := range rows {
		if r.Latitude == nil || r.Longitude == nil {
			continue
		}

		p := &spatial.Point{Lat: *r.Latitude, Lng: *r.Longitude}
		nearby = append(nearby, NearbyResult{Result: r, DistanceMeters: origin.HaversineDistance(p)})
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		return nearby[i].DistanceMeters < nearby[j].DistanceMeters
	})

	if len(nearby) > limit {
		nearby = nearby[:limit]
	}

	return nearby, nil
}

// PromoteToAddress creates an address record from a successful result.
func (s *Service) PromoteToAddress(ctx context.Context, resultID int64) (*Address, error) {
	return s.repo.PromoteToAddress(ctx, resultID, s.opts.Clock.Now())
}

// CacheStats counts the live cache rows and refreshes the gauge.
func (s *Service) CacheStats(ctx context.Context) (int, error) {
	n, err := s.repo.CountLive(ctx, s.opts.Clock.Now())
	if err != nil {
		return 0, err
	}

	s.opts.Metrics.CacheLiveRows.Set(float64(n))

	return n, nil
}

// Ping checks the storage is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
