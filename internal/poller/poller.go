// Package poller fetches device state from the NPA on an adaptive schedule.
//
// Every device gets its own Poller, so fetches for one device are strictly
// sequential while devices proceed independently, bounded by a shared
// concurrency limiter. The NPA has no push mechanism and a daily per-device
// call quota, so the poll interval is the only budget control: a controller's
// interval is stretched by the configured slowdown windows, re-evaluated on
// every tick so a window boundary takes effect within one tick.
package poller

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/slowdown"
	"github.com/clambin/netro-monitor/pkg/pubsub"
	"golang.org/x/sync/semaphore"
)

// DefaultTick is how often due-ness is re-evaluated. It must be materially
// smaller than the smallest configured interval.
const DefaultTick = 30 * time.Second

// Reader is the NPA read surface the poller needs.
type Reader interface {
	GetInfo(ctx context.Context, serial string) (netro.Info, netro.Meta, error)
	GetMoistures(ctx context.Context, serial string) ([]netro.Moisture, netro.Meta, error)
	GetSchedules(ctx context.Context, serial string, start, end time.Time) ([]netro.Schedule, netro.Meta, error)
	GetSensorData(ctx context.Context, serial string, start, end time.Time) ([]netro.SensorData, netro.Meta, error)
}

// Options configures a Poller.
type Options struct {
	Device   Device
	Interval time.Duration
	// Tick is the due-ness evaluation granularity. Defaults to DefaultTick.
	Tick time.Duration
	// Factors slow down controller polling during their windows. Ignored for
	// sensors.
	Factors slowdown.Factors
	// MonthsBefore/MonthsAfter bound the schedules fetch around today.
	MonthsBefore int
	MonthsAfter  int
	// LookBackDays bounds the sensor data fetch. Minimum 1.
	LookBackDays int
	// Limiter, when set, bounds fetch concurrency across all pollers sharing
	// it.
	Limiter *semaphore.Weighted
}

// Poller owns the poll schedule for one device.
type Poller struct {
	*pubsub.Publisher[Update]
	client  Reader
	device  Device
	tick    time.Duration
	limiter *semaphore.Weighted
	refresh chan struct{}
	logger  *slog.Logger
	now     func() time.Time

	lock         sync.RWMutex
	interval     time.Duration
	factors      slowdown.Factors
	monthsBefore int
	monthsAfter  int
	lookBackDays int
	lastAttempt  time.Time // completion of the last fetch, success or not
	lastSuccess  time.Time
}

// New returns a Poller for the device described by o.
func New(client Reader, o Options, logger *slog.Logger) *Poller {
	if o.Tick == 0 {
		o.Tick = DefaultTick
	}
	if o.LookBackDays < 1 {
		o.LookBackDays = 1
	}
	return &Poller{
		Publisher:    pubsub.New[Update](logger.With(slog.String("component", "publisher"))),
		client:       client,
		device:       o.Device,
		tick:         o.Tick,
		limiter:      o.Limiter,
		refresh:      make(chan struct{}, 1),
		logger:       logger,
		now:          time.Now,
		interval:     o.Interval,
		factors:      o.Factors,
		monthsBefore: o.MonthsBefore,
		monthsAfter:  o.MonthsAfter,
		lookBackDays: o.LookBackDays,
	}
}

// Device returns the polled device.
func (p *Poller) Device() Device {
	return p.device
}

// Run polls the device until ctx is canceled. The first poll happens
// immediately; subsequent polls happen when the effective interval has
// passed since the last completed attempt, or on Refresh.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Debug("started", slog.Duration("interval", p.EffectiveInterval(p.now())))
	defer p.logger.Debug("stopped")

	p.poll(ctx)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.due(p.now()) {
				p.poll(ctx)
			}
		case <-p.refresh:
			p.poll(ctx)
		}
	}
}

// Refresh requests an immediate poll, bypassing the schedule. It never
// blocks: while a refresh is already pending, further requests coalesce
// into it.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// SetInterval changes the base interval. It applies to the next scheduling
// decision; it does not trigger a poll.
func (p *Poller) SetInterval(interval time.Duration) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.interval = interval
}

// SetFactors replaces the slowdown windows. Same semantics as SetInterval.
func (p *Poller) SetFactors(factors slowdown.Factors) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.factors = factors
}

// EffectiveInterval returns the interval in force at t: the base interval,
// multiplied by the applicable slowdown factor for controllers. Sensors are
// never slowed down.
func (p *Poller) EffectiveInterval(t time.Time) time.Duration {
	p.lock.RLock()
	defer p.lock.RUnlock()
	interval := p.interval
	if p.device.Kind == Controller {
		interval *= time.Duration(p.factors.Multiplier(t))
	}
	return interval
}

// LastSuccess returns when the device last polled successfully.
func (p *Poller) LastSuccess() time.Time {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.lastSuccess
}

func (p *Poller) due(t time.Time) bool {
	interval := p.EffectiveInterval(t)
	p.lock.RLock()
	defer p.lock.RUnlock()
	return t.Sub(p.lastAttempt) >= interval
}

func (p *Poller) poll(ctx context.Context) {
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.limiter.Release(1)
	}

	start := p.now()
	update, err := p.fetch(ctx)
	finished := p.now()

	p.lock.Lock()
	p.lastAttempt = finished
	if err == nil {
		p.lastSuccess = finished
	}
	p.lock.Unlock()

	if err != nil {
		// transient by design: the next attempt happens at the nominal
		// interval, state stays at the last known snapshot
		p.logger.Error("poll failed", slog.Any("device", p.device), slog.Any("err", err))
		return
	}
	p.Publish(update)
	p.logger.Debug("poll completed",
		slog.Any("device", p.device),
		slog.Duration("duration", finished.Sub(start)),
		slog.Int("token_remaining", update.Meta.TokenRemaining),
	)
}

func (p *Poller) fetch(ctx context.Context) (Update, error) {
	if p.device.Kind == Controller {
		return p.fetchController(ctx)
	}
	return p.fetchSensor(ctx)
}

func (p *Poller) fetchController(ctx context.Context) (Update, error) {
	p.lock.RLock()
	monthsBefore, monthsAfter := p.monthsBefore, p.monthsAfter
	p.lock.RUnlock()

	info, meta, err := p.client.GetInfo(ctx, p.device.Serial)
	var moistures []netro.Moisture
	if err == nil {
		moistures, meta, err = p.client.GetMoistures(ctx, p.device.Serial)
	}
	var schedules []netro.Schedule
	if err == nil {
		now := p.now()
		schedules, meta, err = p.client.GetSchedules(ctx, p.device.Serial,
			now.AddDate(0, -monthsBefore, 0), now.AddDate(0, monthsAfter, 0))
	}
	if err != nil {
		return Update{}, err
	}
	fetchedAt := p.now()
	return Update{
		Device:     p.device,
		Controller: newControllerState(info, schedules, moistures, fetchedAt),
		Meta:       meta,
		FetchedAt:  fetchedAt,
	}, nil
}

func (p *Poller) fetchSensor(ctx context.Context) (Update, error) {
	p.lock.RLock()
	lookBackDays := p.lookBackDays
	p.lock.RUnlock()

	now := p.now()
	readings, meta, err := p.client.GetSensorData(ctx, p.device.Serial,
		now.AddDate(0, 0, -lookBackDays), now)
	if err != nil {
		return Update{}, err
	}
	// most recent first
	slices.SortFunc(readings, func(a, b netro.SensorData) int {
		return b.Time.Compare(a.Time.Time)
	})
	fetchedAt := p.now()
	return Update{
		Device:    p.device,
		Sensor:    &SensorState{Readings: readings},
		Meta:      meta,
		FetchedAt: fetchedAt,
	}, nil
}
