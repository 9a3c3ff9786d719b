// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jcodagnone/geocoding/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	// beyond this many tracked clients idle entries are swept
	maxTrackedClients = 10000
)

// requestID reuses the caller's X-Request-ID or assigns a fresh uuid.
func requestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		ctx.Set(requestIDKey, id)
		ctx.Header(requestIDHeader, id)
		ctx.Next()
	}
}

func (s *Server) requestLog(ctx *gin.Context) logrus.FieldLogger {
	return s.log.WithField(requestIDKey, ctx.GetString(requestIDKey))
}

func routeOf(ctx *gin.Context) string {
	if route := ctx.FullPath(); route != "" {
		return route
	}

	return "unmatched"
}

func accessLog(log logrus.FieldLogger, m *observability.Metrics) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		ctx.Next()

		elapsed := time.Since(start)
		route := routeOf(ctx)
		status := ctx.Writer.Status()

		m.HTTPRequests.WithLabelValues(ctx.Request.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(ctx.Request.Method, route).Observe(elapsed.Seconds())

		entry := log.WithFields(logrus.Fields{
			requestIDKey: ctx.GetString(requestIDKey),
			"method":     ctx.Request.Method,
			"path":       ctx.Request.URL.Path,
			"status":     status,
			"latency":    elapsed.String(),
			"client_ip":  ctx.ClientIP(),
		})

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// tracing opens a server span per request, continuing any incoming trace.
func tracing() gin.HandlerFunc {
	tracer := otel.Tracer(observability.TracerName)

	return func(ctx *gin.Context) {
		reqCtx := otel.GetTextMapPropagator().Extract(ctx.Request.Context(), propagation.HeaderCarrier(ctx.Request.Header))

		reqCtx, span := tracer.Start(reqCtx, ctx.Request.Method+" "+routeOf(ctx),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", ctx.Request.Method),
				attribute.String("http.route", routeOf(ctx)),
				attribute.String(requestIDKey, ctx.GetString(requestIDKey)),
			),
		)
		defer span.End()

		ctx.Request = ctx.Request.WithContext(reqCtx)
		ctx.Next()

		status := ctx.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))

		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// ipRateLimiter keeps one token bucket per client IP.
type ipRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPRateLimiter allows requests per period for each client. It returns
// nil, meaning unlimited, when requests or period is not positive.
func newIPRateLimiter(requests int, period time.Duration) *ipRateLimiter {
	if requests <= 0 || period <= 0 {
		return nil
	}

	return &ipRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Every(period / time.Duration(requests)),
		burst:   requests,
		idle:    period,
	}
}

func (l *ipRateLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) >= maxTrackedClients {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.idle {
				delete(l.clients, k)
			}
		}
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}

	c.lastSeen = now

	return c.limiter.AllowN(now, 1)
}

func rateLimit(l *ipRateLimiter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if l != nil && !l.allow(ctx.ClientIP(), time.Now()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})

			return
		}

		ctx.Next()
	}
}
