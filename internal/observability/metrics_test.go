package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDeliveryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.ObserveDelivery("FCM.googleapis.com", OutcomeSent, 120*time.Millisecond)
	metrics.ObserveDelivery("fcm.googleapis.com", OutcomeGone, 80*time.Millisecond)
	metrics.IncPendingEnqueued("no_subscription")
	metrics.IncPendingDrained()
	metrics.IncSubscriptionRegistered()
	metrics.AddSubscriptionsRemoved("gone", 2)
	metrics.AddSubscriptionsRemoved("gone", 0)
	metrics.IncDispatchInFlight()
	metrics.DecDispatchInFlight()
	metrics.IncDispatchJob("")

	if got := testutil.ToFloat64(metrics.deliveriesTotal.WithLabelValues("fcm.googleapis.com", "sent")); got != 1 {
		t.Fatalf("push_deliveries_total{sent} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveriesTotal.WithLabelValues("fcm.googleapis.com", "gone")); got != 1 {
		t.Fatalf("push_deliveries_total{gone} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.pendingEnqueuedTotal.WithLabelValues("no_subscription")); got != 1 {
		t.Fatalf("pending_enqueued_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.pendingDrainedTotal); got != 1 {
		t.Fatalf("pending_drained_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.subscriptionsRemoved.WithLabelValues("gone")); got != 2 {
		t.Fatalf("subscriptions_removed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchInflight); got != 0 {
		t.Fatalf("dispatch_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchJobsTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("dispatch_jobs_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.ObserveDelivery("host", OutcomeFailed, time.Second)
	metrics.IncPendingEnqueued("x")
	metrics.AddSubscriptionsRemoved("x", 1)
	metrics.IncDispatchJob("ok")
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/push/vapid-key", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "nope")
	})
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	if _, err := app.Test(httptest.NewRequest("GET", "/push/vapid-key", nil)); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	for _, path := range []string{"/boom", "/missing", "/livez"} {
		if _, err := app.Test(httptest.NewRequest("GET", path, nil)); err != nil {
			t.Fatalf("app.Test(%s) error = %v", path, err)
		}
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/push/vapid-key", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total{500} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/missing", "404")); got != 1 {
		t.Fatalf("http_requests_total{404} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.httpRequestsTotal); got != 3 {
		t.Fatalf("http_requests_total series = %d, want 3 without probes", got)
	}
}
