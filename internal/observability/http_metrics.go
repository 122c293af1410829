package observability

import (
	"errors"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofiber/fiber/v2"
)

const unmatchedRoute = "unmatched"

// Probe and scrape routes are not counted.
var unmeteredRoutes = mapset.NewThreadUnsafeSet("/metrics", "/livez", "/readyz")

// HTTPMiddleware counts requests and their latency by method, route template and status.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		route := routeTemplate(c)
		if unmeteredRoutes.Contains(route) {
			return err
		}

		method := c.Method()
		m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(responseStatus(c, err))).Inc()
		m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}

// routeTemplate returns the registered path, so ids in URLs do not explode label cardinality.
func routeTemplate(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && route.Path != "" {
		return route.Path
	}
	return unmatchedRoute
}

// responseStatus is the status the error handler will write for err.
func responseStatus(c *fiber.Ctx, err error) int {
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe.Code
		}
		return fiber.StatusInternalServerError
	}
	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}
