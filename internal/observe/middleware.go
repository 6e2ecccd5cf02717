package observe

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the trace ID of every API response.
const CorrelationHeader = "X-Correlation-ID"

// Middleware traces and measures every echo request.
//
// Spans and metrics are named after the matched route template
// ("/api/campaigns/:id") rather than the raw path, so campaign IDs never
// become metric labels. An incoming W3C traceparent header continues the
// caller's trace. Probe and scrape routes (/healthz, /readyz, /metrics) are
// measured but not logged.
func Middleware(m *Metrics) echo.MiddlewareFunc {
	prop := propagation.TraceContext{}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			ctx := prop.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := StartSpan(ctx, req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(req.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(req.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				c.Response().Header().Set(CorrelationHeader, cid)
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				// Let echo's error handler write the response now so the
				// recorded status is the one the client sees.
				c.Error(err)
				span.RecordError(err)
			}

			status := c.Response().Status
			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(status))
			if status >= 500 {
				span.SetStatus(codes.Error, "server error")
			}
			if m != nil {
				m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
					metric.WithAttributes(
						attribute.String("method", req.Method),
						attribute.String("route", route),
						attribute.Int("status", status),
					),
				)
			}

			if quietRoutes[route] {
				return nil
			}
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelWarn
			}
			Logger(ctx).LogAttrs(ctx, level, "api: request completed",
				slog.String("method", req.Method),
				slog.String("route", route),
				slog.Int("status", status),
				slog.Duration("duration", elapsed),
			)
			return nil
		}
	}
}

var quietRoutes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}
