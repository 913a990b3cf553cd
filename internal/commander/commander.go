// Package commander executes control actions against the Netro Public API.
// After a command is acknowledged, the device's cached state is stale until
// the remote side-effect has propagated, so the commander defers a
// confirmatory refresh by a settle delay. A newer command for the same device
// reschedules the pending refresh rather than stacking a second one.
package commander

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/poller"
	"github.com/clambin/netro-monitor/pkg/scheduler"
	"github.com/google/uuid"
)

// DefaultDelayBeforeRefresh is the default settle delay. MinDelayBeforeRefresh
// is the floor: the NPA needs a few seconds to propagate a command's
// side-effect, and refreshing earlier reads the old state.
const (
	DefaultDelayBeforeRefresh = 5 * time.Second
	MinDelayBeforeRefresh     = 4 * time.Second
)

// ErrUnknownDevice indicates the serial does not match a configured device.
var ErrUnknownDevice = errors.New("unknown device")

// ErrInvalidRequest indicates the request failed local validation and was not
// sent to the NPA.
var ErrInvalidRequest = errors.New("invalid request")

// Client issues commands to the NPA. *netro.Client implements this.
type Client interface {
	Water(ctx context.Context, serial string, duration int, zones []int, delay int, startTime time.Time) (netro.Meta, error)
	StopWater(ctx context.Context, serial string) (netro.Meta, error)
	NoWater(ctx context.Context, serial string, days int) (netro.Meta, error)
	SetStatus(ctx context.Context, serial string, enabled bool) (netro.Meta, error)
	SetMoisture(ctx context.Context, serial string, moisture int, zones []int) (netro.Meta, error)
	ReportWeather(ctx context.Context, serial string, w netro.Weather) (netro.Meta, error)
}

// A SnapshotGetter returns the last cached update for a device. Used to
// validate zone ids before sending a command.
type SnapshotGetter interface {
	Get(serial string) (poller.Update, bool)
}

// A Refresher triggers an immediate poll of one device. *poller.Poller
// implements this.
type Refresher interface {
	Refresh()
}

// Configuration options for the Commander.
type Configuration struct {
	// DelayBeforeRefresh is the settle delay between a command's
	// acknowledgement and the confirmatory refresh.
	DelayBeforeRefresh time.Duration
	// DefaultWateringDelay is a hold before a start watering command is sent
	// when the request does not carry a delay or start time of its own.
	DefaultWateringDelay time.Duration
	// DefaultWateringDuration applies when a start watering request does not
	// specify a duration.
	DefaultWateringDuration time.Duration
}

// Ack records an acknowledged command.
type Ack struct {
	ID        string    `json:"id"`
	Serial    string    `json:"serial"`
	Action    string    `json:"action"`
	IssuedAt  time.Time `json:"issuedAt"`
	RefreshAt time.Time `json:"refreshAt"`
}

// Commander issues commands and schedules the deferred settle refreshes.
type Commander struct {
	client     Client
	snapshots  SnapshotGetter
	refreshers map[string]Refresher
	scheduler  *scheduler.Scheduler
	cfg        Configuration
	logger     *slog.Logger
	now        func() time.Time
}

// New returns a Commander. refreshers maps each configured device's serial to
// its poller; a command for a serial not in the map fails with
// ErrUnknownDevice.
func New(client Client, snapshots SnapshotGetter, refreshers map[string]Refresher, cfg Configuration, logger *slog.Logger) *Commander {
	if cfg.DelayBeforeRefresh == 0 {
		cfg.DelayBeforeRefresh = DefaultDelayBeforeRefresh
	}
	if cfg.DelayBeforeRefresh < MinDelayBeforeRefresh {
		cfg.DelayBeforeRefresh = MinDelayBeforeRefresh
	}
	return &Commander{
		client:     client,
		snapshots:  snapshots,
		refreshers: refreshers,
		scheduler:  scheduler.New(),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// StartWateringRequest are the parameters for StartWatering. All fields are
// optional: an empty request waters all zones for the default duration.
type StartWateringRequest struct {
	// Duration of the watering run. Defaults to the configured duration.
	Duration time.Duration `json:"duration"`
	// Delay before the NPA starts the run, in whole minutes.
	Delay time.Duration `json:"delay"`
	// StartTime schedules the run at an absolute time instead of a delay.
	StartTime time.Time `json:"startTime"`
	// Zones to water. Empty means all zones.
	Zones []int `json:"zones"`
}

// StartWatering starts watering on a controller. When the request carries
// neither a delay nor a start time, the configured default watering delay is
// honored locally before the command is sent.
func (c *Commander) StartWatering(ctx context.Context, serial string, req StartWateringRequest) (Ack, error) {
	if _, ok := c.refreshers[serial]; !ok {
		return Ack{}, ErrUnknownDevice
	}
	if err := c.validZones(serial, req.Zones); err != nil {
		return Ack{}, err
	}
	duration := req.Duration
	if duration == 0 {
		duration = c.cfg.DefaultWateringDuration
	}
	if duration < time.Minute {
		return Ack{}, fmt.Errorf("%w: watering duration %s is shorter than a minute", ErrInvalidRequest, duration)
	}
	if req.Delay < 0 {
		return Ack{}, fmt.Errorf("%w: negative delay", ErrInvalidRequest)
	}
	if req.Delay == 0 && req.StartTime.IsZero() && c.cfg.DefaultWateringDelay > 0 {
		if err := c.hold(ctx, c.cfg.DefaultWateringDelay); err != nil {
			return Ack{}, err
		}
	}
	return c.issue(ctx, serial, "water", func(ctx context.Context) (netro.Meta, error) {
		return c.client.Water(ctx, serial, int(duration.Minutes()), req.Zones, int(req.Delay.Minutes()), req.StartTime)
	})
}

// StopWatering stops all active watering on a controller.
func (c *Commander) StopWatering(ctx context.Context, serial string) (Ack, error) {
	if _, ok := c.refreshers[serial]; !ok {
		return Ack{}, ErrUnknownDevice
	}
	return c.issue(ctx, serial, "stop_water", func(ctx context.Context) (netro.Meta, error) {
		return c.client.StopWater(ctx, serial)
	})
}

// Enable takes a controller out of standby.
func (c *Commander) Enable(ctx context.Context, serial string) (Ack, error) {
	return c.setStatus(ctx, serial, true)
}

// Disable puts a controller in standby. Disabling a disabled controller is
// acknowledged like any other command.
func (c *Commander) Disable(ctx context.Context, serial string) (Ack, error) {
	return c.setStatus(ctx, serial, false)
}

func (c *Commander) setStatus(ctx context.Context, serial string, enabled bool) (Ack, error) {
	if _, ok := c.refreshers[serial]; !ok {
		return Ack{}, ErrUnknownDevice
	}
	action := "disable"
	if enabled {
		action = "enable"
	}
	return c.issue(ctx, serial, action, func(ctx context.Context) (netro.Meta, error) {
		return c.client.SetStatus(ctx, serial, enabled)
	})
}

// SuspendWatering suspends all smart watering on a controller for the given
// number of days (1 to 30).
func (c *Commander) SuspendWatering(ctx context.Context, serial string, days int) (Ack, error) {
	if _, ok := c.refreshers[serial]; !ok {
		return Ack{}, ErrUnknownDevice
	}
	if days < 1 || days > 30 {
		return Ack{}, fmt.Errorf("%w: days must be between 1 and 30, got %d", ErrInvalidRequest, days)
	}
	return c.issue(ctx, serial, "no_water", func(ctx context.Context) (netro.Meta, error) {
		return c.client.NoWater(ctx, serial, days)
	})
}

// SetMoisture overrides the reported moisture (0 to 100 percent) for a zone.
func (c *Commander) SetMoisture(ctx context.Context, serial string, zone, moisture int) (Ack, error) {
	if _, ok := c.refreshers[serial]; !ok {
		return Ack{}, ErrUnknownDevice
	}
	if moisture < 0 || moisture > 100 {
		return Ack{}, fmt.Errorf("%w: moisture must be between 0 and 100, got %d", ErrInvalidRequest, moisture)
	}
	if err := c.validZones(serial, []int{zone}); err != nil {
		return Ack{}, err
	}
	return c.issue(ctx, serial, "set_moisture", func(ctx context.Context) (netro.Meta, error) {
		return c.client.SetMoisture(ctx, serial, moisture, []int{zone})
	})
}

// ReportWeather pushes observed weather to the NPA.
func (c *Commander) ReportWeather(ctx context.Context, serial string, weather netro.Weather) (Ack, error) {
	if _, ok := c.refreshers[serial]; !ok {
		return Ack{}, ErrUnknownDevice
	}
	if err := validWeather(weather, c.now()); err != nil {
		return Ack{}, err
	}
	return c.issue(ctx, serial, "report_weather", func(ctx context.Context) (netro.Meta, error) {
		return c.client.ReportWeather(ctx, serial, weather)
	})
}

// issue sends the command and, on acknowledgement, schedules the settle
// refresh. Rejections are returned verbatim and leave any pending refresh in
// place.
func (c *Commander) issue(ctx context.Context, serial, action string, send func(ctx context.Context) (netro.Meta, error)) (Ack, error) {
	logger := c.logger.With("serial", serial, "action", action)
	meta, err := send(ctx)
	if err != nil {
		logger.Warn("command not acknowledged", "err", err)
		return Ack{}, err
	}
	ack := Ack{
		ID:        uuid.NewString(),
		Serial:    serial,
		Action:    action,
		IssuedAt:  c.now(),
		RefreshAt: c.now().Add(c.cfg.DelayBeforeRefresh),
	}
	// the refresh must outlive the command's context: commands arrive on
	// request-scoped contexts, canceled as soon as the response is written
	c.scheduler.Schedule(context.WithoutCancel(ctx), serial, scheduler.TaskFunc(func(_ context.Context) error {
		c.refreshers[serial].Refresh()
		return nil
	}), c.cfg.DelayBeforeRefresh)
	logger.Info("command acknowledged", "id", ack.ID, "tokenRemaining", meta.TokenRemaining)
	return ack, nil
}

// validZones checks the requested zone ids against the cached controller
// snapshot. With no snapshot yet, validation is skipped and the NPA has the
// final say.
func (c *Commander) validZones(serial string, zones []int) error {
	if len(zones) == 0 {
		return nil
	}
	update, ok := c.snapshots.Get(serial)
	if !ok || update.Controller == nil {
		return nil
	}
	known := set.New[int]()
	enabled := set.New[int]()
	for _, zone := range update.Controller.Info.Zones {
		known.Add(zone.Ith)
		if zone.Enabled {
			enabled.Add(zone.Ith)
		}
	}
	for _, zone := range zones {
		if !known.Contains(zone) {
			return fmt.Errorf("%w: controller has no zone %d", ErrInvalidRequest, zone)
		}
		if !enabled.Contains(zone) {
			return fmt.Errorf("%w: zone %d is disabled", ErrInvalidRequest, zone)
		}
	}
	return nil
}

func (c *Commander) hold(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
