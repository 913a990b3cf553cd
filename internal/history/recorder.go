package history

import (
	"context"
	"log/slog"

	"github.com/clambin/netro-monitor/internal/poller"
	"golang.org/x/sync/errgroup"
)

// A Source emits device updates. *poller.Poller implements this.
type Source interface {
	Device() poller.Device
	Subscribe() chan poller.Update
	Unsubscribe(chan poller.Update)
}

// Recorder subscribes to sensor pollers and writes every sample they report
// to the Store.
type Recorder struct {
	store   *Store
	sources []Source
	logger  *slog.Logger
}

// NewRecorder returns a Recorder writing updates from sources to store.
func NewRecorder(store *Store, logger *slog.Logger, sources ...Source) *Recorder {
	return &Recorder{
		store:   store,
		sources: sources,
		logger:  logger,
	}
}

// Run records updates until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, source := range r.sources {
		g.Go(func() error {
			ch := source.Subscribe()
			defer source.Unsubscribe(ch)
			for {
				select {
				case update := <-ch:
					r.record(ctx, update)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (r *Recorder) record(ctx context.Context, update poller.Update) {
	if update.Sensor == nil {
		return
	}
	readings := readingsFrom(update)
	if len(readings) == 0 {
		return
	}
	if err := r.store.Record(ctx, update.Device.Serial, readings...); err != nil {
		r.logger.Error("failed to record sensor readings", "device", update.Device, "err", err)
		return
	}
	r.logger.Debug("recorded sensor readings", "device", update.Device, "count", len(readings))
}

func readingsFrom(update poller.Update) []Reading {
	readings := make([]Reading, 0, 4*len(update.Sensor.Readings))
	for _, sample := range update.Sensor.Readings {
		observedAt := sample.Time.Time
		readings = append(readings,
			Reading{Metric: MetricMoisture, Value: sample.Moisture, ObservedAt: observedAt},
			Reading{Metric: MetricTemperature, Value: sample.Celsius, ObservedAt: observedAt},
			Reading{Metric: MetricSunlight, Value: sample.Sunlight, ObservedAt: observedAt},
			Reading{Metric: MetricBattery, Value: sample.BatteryLevel, ObservedAt: observedAt},
		)
	}
	return readings
}
