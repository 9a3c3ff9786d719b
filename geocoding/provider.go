// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jcodagnone/geocoding/config"
	"github.com/jcodagnone/geocoding/utils/httputils"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Provider adapts one external geocoding service.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, params GeocodeParams) ([]NormalizedResult, error)
	ReverseGeocode(ctx context.Context, params ReverseParams) ([]NormalizedResult, error)
	// ParseResponse maps a raw forward or reverse payload. It does no I/O.
	ParseResponse(raw []byte) ([]NormalizedResult, error)
}

// GeocodeParams are the forward lookup inputs handed to a provider.
type GeocodeParams struct {
	Query      string
	Language   string
	Region     string
	Bounds     string
	Components string
	Limit      int
}

// ReverseParams are the reverse lookup inputs handed to a provider.
type ReverseParams struct {
	Latitude   float64
	Longitude  float64
	Language   string
	ResultType string
}

// ProviderOptions tune the HTTP plumbing shared by every adapter.
type ProviderOptions struct {
	// Enables light tracing of HTTP requests and responses
	EnableHTTPTrace bool

	// Enables full HTTP body tracing
	EnableHTTPBodyTrace bool

	// Transport overrides the default transport, mostly for tests
	Transport http.RoundTripper

	Logger logrus.FieldLogger
}

const (
	// providers are asked for this many candidates; search truncates locally
	defaultProviderLimit = 10
	maxResponseBytes     = 8 << 20
)

// credentialParams are the query parameters the adapters put API keys in.
var credentialParams = []string{"key", "apikey", "access_token"}

// httpProvider holds the plumbing every adapter shares.
type httpProvider struct {
	cfg     config.ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func newHTTPProvider(cfg config.ProviderConfig, opts ProviderOptions) httpProvider {
	var httpLogWriter io.Writer
	if opts.EnableHTTPTrace {
		httpLogWriter = os.Stderr
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       30 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
		}
	}

	headers := map[string]string{"Accept": "application/json"}
	if cfg.UserAgent != "" {
		headers["User-Agent"] = cfg.UserAgent
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 && cfg.RatePeriod > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RatePeriod/time.Duration(cfg.RateLimit)), cfg.RateLimit)
	}

	return httpProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &httputils.AppendRequestHeadersRoundTripper{
				Headers: headers,
				Transport: &httputils.LoggingRoundTripper{
					Writer:            httpLogWriter,
					DumpBody:          opts.EnableHTTPBodyTrace,
					RedactQueryParams: credentialParams,
					Transport:         transport,
				},
			},
		},
		limiter: limiter,
		log:     log.WithField("provider", cfg.Name),
	}
}

func (p *httpProvider) Name() string {
	return p.cfg.Name
}

// get performs one GET. A non 200 answer is logged and reported as ok=false
// with a nil error: callers treat it as "no results". Transport failures are
// returned as *ProviderError.
func (p *httpProvider) get(ctx context.Context, endpoint string, params url.Values) ([]byte, bool, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, false, &ProviderError{
				Type:     ErrorTypeRateLimit,
				Provider: p.cfg.Name,
				Message:  "waiting for local rate limiter",
				Err:      err,
			}
		}
	}

	reqURL := endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, &ProviderError{
			Type:     ErrorTypeInvalidRequest,
			Provider: p.cfg.Name,
			Message:  "building request",
			Err:      err,
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, false, p.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		classified := ClassifyHTTPError(p.cfg.Name, resp.StatusCode)
		p.log.WithField("status", resp.StatusCode).Warnf("upstream answered with an error: %v", classified)

		return nil, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, false, p.transportError(err)
	}

	return body, true, nil
}

func (p *httpProvider) transportError(err error) *ProviderError {
	errType := ErrorTypeNetworkError

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		errType = ErrorTypeTimeout
	}

	return &ProviderError{
		Type:     errType,
		Provider: p.cfg.Name,
		Message:  "request failed",
		Err:      err,
	}
}

func invalidResponse(provider string, err error) *ProviderError {
	return &ProviderError{
		Type:     ErrorTypeInvalidResponse,
		Provider: provider,
		Message:  "decoding response",
		Err:      err,
	}
}

// Registry maps provider names to configured adapters.
type Registry struct {
	configs   map[string]config.ProviderConfig
	providers map[string]Provider
}

// NewRegistry builds one adapter per enabled provider.
func NewRegistry(configs map[string]config.ProviderConfig, opts ProviderOptions) *Registry {
	r := &Registry{
		configs:   configs,
		providers: make(map[string]Provider),
	}

	for _, name := range config.ProviderNames {
		cfg, ok := configs[name]
		if !ok || !cfg.Enabled {
			continue
		}

		switch name {
		case config.ProviderGoogle:
			r.providers[name] = NewGoogleProvider(cfg, opts)
		case config.ProviderYandex:
			r.providers[name] = NewYandexProvider(cfg, opts)
		case config.ProviderNominatim:
			r.providers[name] = NewNominatimProvider(cfg, opts)
		case config.ProviderMapbox:
			r.providers[name] = NewMapboxProvider(cfg, opts)
		}
	}

	return r
}

// NewStaticRegistry registers the given adapters as they are. configs may
// describe providers missing from the list, which then report as disabled.
func NewStaticRegistry(configs map[string]config.ProviderConfig, providers ...Provider) *Registry {
	r := &Registry{
		configs:   make(map[string]config.ProviderConfig),
		providers: make(map[string]Provider),
	}

	for name, cfg := range configs {
		cfg.Enabled = false
		r.configs[name] = cfg
	}

	for _, p := range providers {
		cfg := r.configs[p.Name()]
		cfg.Name = p.Name()
		cfg.Enabled = true
		r.configs[p.Name()] = cfg
		r.providers[p.Name()] = p
	}

	return r
}

// Get returns the adapter for name or an *UnavailableProviderError.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &UnavailableProviderError{Provider: name}
	}

	return p, nil
}

// Enabled lists the available providers in the canonical order.
func (r *Registry) Enabled() []string {
	names := make([]string, 0, len(r.providers))

	for _, name := range config.ProviderNames {
		if _, ok := r.providers[name]; ok {
			names = append(names, name)
		}
	}

	return names
}

// Config returns the settings of a known provider, enabled or not.
func (r *Registry) Config(name string) (config.ProviderConfig, bool) {
	cfg, ok := r.configs[name]

	return cfg, ok
}

// ProviderStatus is the public description of a provider.
type ProviderStatus struct {
	Provider  string `json:"provider"`
	Enabled   bool   `json:"enabled"`
	RateLimit int    `json:"rate_limit"`
	Timeout   int    `json:"timeout"`
	HasAPIKey bool   `json:"has_api_key"`
}

// Status describes a provider, or returns false when the name is unknown.
func (r *Registry) Status(name string) (ProviderStatus, bool) {
	cfg, ok := r.configs[name]
	if !ok {
		return ProviderStatus{}, false
	}

	_, enabled := r.providers[name]

	return ProviderStatus{
		Provider:  name,
		Enabled:   enabled,
		RateLimit: cfg.RateLimit,
		Timeout:   int(cfg.Timeout / time.Second),
		HasAPIKey: cfg.APIKey != "",
	}, true
}

func (r *Registry) String() string {
	return fmt.Sprintf("providers%v", r.Enabled())
}
