package middleware

import (
	"fmt"
	"strings"

	"zalupaspb/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// apiArea names the feature area of an /api route: auth, invites, keys,
// discord, admin or ws.
func apiArea(route string) string {
	rest, ok := strings.CutPrefix(route, "/api/")
	if !ok {
		return "other"
	}
	area, _, _ := strings.Cut(rest, "/")
	if area == "" {
		return "other"
	}
	return area
}

// TracingMiddleware opens a server span per request. Health checks and
// metric scrapes are not traced.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if quietPath(c.Path()) {
			return c.Next()
		}

		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))

		ctx, span := observability.Tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.path", c.Path()),
				attribute.String("http.ip", c.IP()),
			),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		c.Locals("traceID", traceID)
		if requestID, ok := c.Locals("requestid").(string); ok {
			span.SetAttributes(attribute.String("request.id", requestID))
		}
		c.Set("X-Trace-ID", traceID)

		c.SetUserContext(ctx)

		err := c.Next()

		// The matched route is known once the handler chain has run.
		route := c.Route().Path
		span.SetName(c.Method() + " " + route)
		status := c.Response().StatusCode()
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.String("zalupaspb.area", apiArea(route)),
			attribute.Int("http.status_code", status),
		)
		if err != nil {
			span.RecordError(err)
		}
		if err != nil || status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}

		uctx := c.UserContext()
		if userID, ok := uctx.Value(UserIDKey).(uint); ok {
			span.SetAttributes(attribute.Int64("user.id", int64(userID)))
		}
		if role, ok := uctx.Value(RoleKey).(string); ok {
			span.SetAttributes(attribute.String("user.role", role))
		}
		if caller, ok := uctx.Value(CallerKey).(string); ok {
			span.SetAttributes(attribute.String("caller", caller))
		}

		return err
	}
}
