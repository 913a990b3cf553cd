package netro

import (
	"net/http"
	"strconv"

	"github.com/clambin/go-common/http/metrics"
	"github.com/clambin/go-common/http/roundtripper"
	"github.com/prometheus/client_golang/prometheus"
)

// NewInstrumentedClient returns a Client whose calls are measured by m.
func NewInstrumentedClient(baseURL string, m metrics.RequestMetrics) *Client {
	return New(baseURL, &http.Client{
		Transport: roundtripper.New(
			roundtripper.WithRequestMetrics(m),
			roundtripper.WithRoundTripper(http.DefaultTransport),
		),
	})
}

// NewCallMetrics returns request metrics for NPA calls, labeled by endpoint
// so the per-endpoint share of the daily call budget is visible.
func NewCallMetrics(namespace, subsystem string, labels prometheus.Labels) metrics.RequestMetrics {
	return metrics.NewRequestMetrics(metrics.Options{
		Namespace:   namespace,
		Subsystem:   subsystem,
		ConstLabels: labels,
		LabelValues: func(request *http.Request, statusCode int) (string, string, string) {
			return request.Method, request.URL.Path, strconv.Itoa(statusCode)
		},
	})
}
