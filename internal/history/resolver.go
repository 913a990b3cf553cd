package history

import (
	"context"
	"time"

	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/poller"
)

// A SnapshotGetter returns the last cached update for a device.
type SnapshotGetter interface {
	Get(serial string) (poller.Update, bool)
}

// Resolver answers "current value" queries for a sensor metric. It prefers
// the live snapshot; when the last fetch came back empty it falls back to the
// recorded history, bounded by the look-back window.
type Resolver struct {
	store *Store
	cache SnapshotGetter
	days  int
	now   func() time.Time
}

// NewResolver returns a Resolver with the given look-back window in days.
func NewResolver(store *Store, cache SnapshotGetter, days int) *Resolver {
	if days < 1 {
		days = 1
	}
	return &Resolver{
		store: store,
		cache: cache,
		days:  days,
		now:   time.Now,
	}
}

// Resolve returns the most recent reading for the sensor's metric. It returns
// ErrNoDataInWindow when neither the snapshot nor the history holds a reading
// within the look-back window.
func (r *Resolver) Resolve(ctx context.Context, serial, metric string) (Reading, error) {
	if update, ok := r.cache.Get(serial); ok && update.Sensor != nil {
		if latest := update.Sensor.Latest(); latest != nil {
			if value, ok := metricValue(*latest, metric); ok {
				return Reading{Metric: metric, Value: value, ObservedAt: latest.Time.Time}, nil
			}
		}
	}
	return r.store.LatestWithin(ctx, serial, metric, r.now(), r.days)
}

func metricValue(sample netro.SensorData, metric string) (float64, bool) {
	switch metric {
	case MetricMoisture:
		return sample.Moisture, true
	case MetricTemperature:
		return sample.Celsius, true
	case MetricSunlight:
		return sample.Sunlight, true
	case MetricBattery:
		return sample.BatteryLevel, true
	default:
		return 0, false
	}
}
