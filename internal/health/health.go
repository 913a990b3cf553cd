// Package health implements the readiness endpoint: unavailable until every
// configured device has produced at least one snapshot.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/clambin/netro-monitor/internal/cache"
)

// A StateLister reports snapshot freshness per configured device.
// *cache.Cache implements this.
type StateLister interface {
	Devices() []cache.DeviceStatus
}

// A Refresher triggers an immediate poll of one device.
type Refresher interface {
	Refresh()
}

// Handler serves the health endpoint.
type Handler struct {
	cache      StateLister
	refreshers map[string]Refresher
	logger     *slog.Logger
}

// New returns a Handler. refreshers is optional: when set, an unhealthy
// check nudges the devices that have not reported yet.
func New(c StateLister, refreshers map[string]Refresher, logger *slog.Logger) *Handler {
	return &Handler{cache: c, refreshers: refreshers, logger: logger}
}

// ServeHTTP reports 503 until every configured device has a snapshot, then
// the device statuses as JSON.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	statuses := h.cache.Devices()
	var missing []string
	for _, status := range statuses {
		if status.FetchedAt.IsZero() {
			missing = append(missing, status.Serial)
		}
	}
	if len(missing) > 0 {
		h.logger.Warn("not all devices have reported", "missing", missing)
		for _, serial := range missing {
			if refresher, ok := h.refreshers[serial]; ok {
				refresher.Refresh()
			}
		}
		http.Error(w, "waiting for first snapshot", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(statuses); err != nil {
		h.logger.Error("failed to write health response", "err", err)
	}
}
