package poller_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/poller"
	"github.com/clambin/netro-monitor/internal/slowdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

type fakeReader struct {
	lock      sync.Mutex
	inFlight  atomic.Int32
	overlap   atomic.Bool
	err       error
	info      netro.Info
	schedules []netro.Schedule
	moistures []netro.Moisture
	readings  []netro.SensorData
	meta      netro.Meta
	calls     int
}

func (f *fakeReader) enter() {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	f.inFlight.Add(-1)
	f.lock.Lock()
	f.calls++
	f.lock.Unlock()
}

func (f *fakeReader) callCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

func (f *fakeReader) GetInfo(_ context.Context, _ string) (netro.Info, netro.Meta, error) {
	f.enter()
	return f.info, f.meta, f.err
}

func (f *fakeReader) GetMoistures(_ context.Context, _ string) ([]netro.Moisture, netro.Meta, error) {
	f.enter()
	return f.moistures, f.meta, f.err
}

func (f *fakeReader) GetSchedules(_ context.Context, _ string, _, _ time.Time) ([]netro.Schedule, netro.Meta, error) {
	f.enter()
	return f.schedules, f.meta, f.err
}

func (f *fakeReader) GetSensorData(_ context.Context, _ string, _, _ time.Time) ([]netro.SensorData, netro.Meta, error) {
	f.enter()
	return f.readings, f.meta, f.err
}

func netroTime(t time.Time) netro.Time {
	return netro.Time{Time: t}
}

func TestPoller_Run_Controller(t *testing.T) {
	now := time.Now().UTC()
	client := fakeReader{
		info: netro.Info{
			Serial: "CTRL1", Name: "garden", Status: netro.StatusWatering, ZoneNum: 8,
			Zones: []netro.Zone{
				{Ith: 1, Name: "lawn", Enabled: true, Smart: "SMART"},
				{Ith: 2, Name: "beds", Enabled: false},
			},
		},
		schedules: []netro.Schedule{
			{ID: 1, Zone: 1, Status: netro.ScheduleExecuting, Source: netro.ScheduleSourceManual, StartTime: netroTime(now.Add(-5 * time.Minute)), EndTime: netroTime(now.Add(5 * time.Minute))},
			{ID: 2, Zone: 1, Status: netro.ScheduleValid, Source: netro.ScheduleSourceSmart, StartTime: netroTime(now.Add(4 * time.Hour)), EndTime: netroTime(now.Add(5 * time.Hour))},
			{ID: 3, Zone: 1, Status: netro.ScheduleExecuted, Source: netro.ScheduleSourceFix, StartTime: netroTime(now.Add(-24 * time.Hour)), EndTime: netroTime(now.Add(-23 * time.Hour))},
		},
		moistures: []netro.Moisture{{Zone: 1, Moisture: 37.5}},
		meta:      netro.Meta{TokenLimit: 2000, TokenRemaining: 1900},
	}

	p := poller.New(&client, poller.Options{
		Device:   poller.Device{Serial: "CTRL1", Name: "garden", Kind: poller.Controller},
		Interval: time.Hour,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe()
	go func() { _ = p.Run(ctx) }()

	update := <-ch
	require.NotNil(t, update.Controller)
	assert.Nil(t, update.Sensor)
	assert.True(t, update.Controller.Info.Enabled())
	assert.True(t, update.Controller.Info.Watering())
	assert.Equal(t, 1900, update.Meta.TokenRemaining)

	require.Contains(t, update.Controller.Zones, 1)
	assert.NotContains(t, update.Controller.Zones, 2)

	zone := update.Controller.Zones[1]
	assert.True(t, zone.Watering())
	require.NotNil(t, zone.LastRun())
	assert.Equal(t, 1, zone.LastRun().ID)
	require.NotNil(t, zone.NextRun())
	assert.Equal(t, 2, zone.NextRun().ID)
	require.NotNil(t, zone.Moisture())
	assert.Equal(t, 37.5, zone.Moisture().Moisture)

	assert.False(t, p.LastSuccess().IsZero())
}

func TestPoller_Run_Sensor(t *testing.T) {
	now := time.Now().UTC()
	client := fakeReader{
		readings: []netro.SensorData{
			{ID: 1, Moisture: 30, Celsius: 18, Time: netroTime(now.Add(-2 * time.Hour))},
			{ID: 2, Moisture: 32, Celsius: 19, Time: netroTime(now.Add(-1 * time.Hour))},
		},
	}

	p := poller.New(&client, poller.Options{
		Device:   poller.Device{Serial: "SENS1", Name: "bed", Kind: poller.SoilSensor},
		Interval: time.Hour,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe()
	go func() { _ = p.Run(ctx) }()

	update := <-ch
	require.NotNil(t, update.Sensor)
	require.NotNil(t, update.Sensor.Latest())
	// readings come back most recent first, whatever order the NPA used
	assert.Equal(t, 2, update.Sensor.Latest().ID)
}

func TestPoller_Refresh_BypassesSchedule(t *testing.T) {
	client := fakeReader{}
	p := poller.New(&client, poller.Options{
		Device:   poller.Device{Serial: "SENS1", Kind: poller.SoilSensor},
		Interval: time.Hour,
		Tick:     10 * time.Millisecond,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe()
	go func() { _ = p.Run(ctx) }()

	<-ch
	first := client.callCount()
	p.Refresh()
	<-ch
	assert.Greater(t, client.callCount(), first)
}

func TestPoller_Run_FailureKeepsLastSuccess(t *testing.T) {
	client := fakeReader{err: &netro.Error{Code: netro.ErrCodeExceedLimit, Message: "Exceed query limit"}}
	p := poller.New(&client, poller.Options{
		Device:   poller.Device{Serial: "SENS1", Kind: poller.SoilSensor},
		Interval: time.Hour,
		Tick:     10 * time.Millisecond,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	assert.Eventually(t, func() bool { return client.callCount() > 0 }, time.Second, 10*time.Millisecond)
	assert.True(t, p.LastSuccess().IsZero())

	// a failed poll is not retried before the nominal interval
	calls := client.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, client.callCount())
}

func TestPoller_EffectiveInterval(t *testing.T) {
	factors, err := slowdown.Load([]slowdown.WindowConfig{{From: "10:30", To: "17:00", SDF: 5}})
	require.NoError(t, err)

	controller := poller.New(&fakeReader{}, poller.Options{
		Device:   poller.Device{Serial: "CTRL1", Kind: poller.Controller},
		Interval: 2 * time.Minute,
		Factors:  factors,
	}, slog.Default())
	sensor := poller.New(&fakeReader{}, poller.Options{
		Device:   poller.Device{Serial: "SENS1", Kind: poller.SoilSensor},
		Interval: 2 * time.Minute,
		Factors:  factors,
	}, slog.Default())

	noon := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	evening := time.Date(2024, time.June, 15, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, 10*time.Minute, controller.EffectiveInterval(noon))
	assert.Equal(t, 2*time.Minute, controller.EffectiveInterval(evening))
	// sensors never slow down
	assert.Equal(t, 2*time.Minute, sensor.EffectiveInterval(noon))
}

func TestPoller_OptionChangesApplyToNextDecision(t *testing.T) {
	p := poller.New(&fakeReader{}, poller.Options{
		Device:   poller.Device{Serial: "CTRL1", Kind: poller.Controller},
		Interval: 2 * time.Minute,
	}, slog.Default())

	noon := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 2*time.Minute, p.EffectiveInterval(noon))

	p.SetInterval(5 * time.Minute)
	factors, err := slowdown.Load([]slowdown.WindowConfig{{From: "11:00", To: "13:00", SDF: 3}})
	require.NoError(t, err)
	p.SetFactors(factors)

	assert.Equal(t, 15*time.Minute, p.EffectiveInterval(noon))
}

func TestPoller_NoOverlappingFetches(t *testing.T) {
	client := fakeReader{}
	p := poller.New(&client, poller.Options{
		Device:   poller.Device{Serial: "SENS1", Kind: poller.SoilSensor},
		Interval: time.Millisecond,
		Tick:     time.Millisecond,
		Limiter:  semaphore.NewWeighted(4),
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	// hammer Refresh while the schedule fires as fast as it can
	for range 50 {
		p.Refresh()
		time.Sleep(time.Millisecond)
	}
	assert.Eventually(t, func() bool { return client.callCount() > 5 }, time.Second, 10*time.Millisecond)
	assert.False(t, client.overlap.Load(), "overlapping fetches for the same device")
}

func TestPoller_TransientErrorClassification(t *testing.T) {
	assert.True(t, netro.IsTransient(&netro.Error{Code: netro.ErrCodeExceedLimit}))
	assert.True(t, netro.IsTransient(&netro.Error{Code: netro.ErrCodeInternalError}))
	assert.True(t, netro.IsTransient(errors.New("connection refused")))
	assert.False(t, netro.IsTransient(&netro.Error{Code: netro.ErrCodeInvalidDevice}))
	assert.False(t, netro.IsTransient(&netro.Error{Code: netro.ErrCodeParameterError}))
}
