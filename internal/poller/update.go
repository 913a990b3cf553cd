package poller

import (
	"log/slog"
	"slices"
	"time"

	"github.com/clambin/netro-monitor/internal/netro"
)

// Kind discriminates the two NPA device families.
type Kind string

const (
	Controller Kind = "controller"
	SoilSensor Kind = "sensor"
)

// Device identifies one polled NPA device.
type Device struct {
	Serial string
	Name   string
	Kind   Kind
}

func (d Device) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("serial", d.Serial),
		slog.String("name", d.Name),
		slog.String("kind", string(d.Kind)),
	)
}

// Update is one completed fetch for a device. Exactly one of Controller and
// Sensor is set, per the device kind.
type Update struct {
	Device     Device
	Controller *ControllerState
	Sensor     *SensorState
	Meta       netro.Meta
	FetchedAt  time.Time
}

// Age returns how old the snapshot is at t.
func (u Update) Age(t time.Time) time.Duration {
	return t.Sub(u.FetchedAt)
}

// ControllerState is the assembled controller snapshot: the device report
// plus its schedules over the configured look-behind/look-ahead window and
// the per-zone moisture reports.
type ControllerState struct {
	Info      netro.Info
	Zones     map[int]ZoneState
	Schedules []netro.Schedule
	Moistures []netro.Moisture
}

// ZoneState is one enabled zone with its share of the controller's schedules
// and moisture reports.
type ZoneState struct {
	netro.Zone
	// PastRuns holds executed/executing schedules, most recent first.
	PastRuns []netro.Schedule
	// ComingRuns holds valid schedules starting after the fetch, soonest first.
	ComingRuns []netro.Schedule
	// Moistures holds this zone's moisture reports, as returned by the NPA.
	Moistures []netro.Moisture
}

// Watering reports whether the zone is currently running.
func (z ZoneState) Watering() bool {
	if run := z.LastRun(); run != nil {
		return run.Status == netro.ScheduleExecuting
	}
	return false
}

// LastRun returns the most recent executed or executing schedule, if any.
func (z ZoneState) LastRun() *netro.Schedule {
	if len(z.PastRuns) == 0 {
		return nil
	}
	return &z.PastRuns[0]
}

// NextRun returns the next planned schedule, if any.
func (z ZoneState) NextRun() *netro.Schedule {
	if len(z.ComingRuns) == 0 {
		return nil
	}
	return &z.ComingRuns[0]
}

// Moisture returns the latest reported moisture for the zone.
func (z ZoneState) Moisture() *netro.Moisture {
	if len(z.Moistures) == 0 {
		return nil
	}
	return &z.Moistures[0]
}

// newControllerState distributes schedules and moistures over the enabled
// zones, the way consumers want to read them: last run, next run, moisture.
func newControllerState(info netro.Info, schedules []netro.Schedule, moistures []netro.Moisture, fetchedAt time.Time) *ControllerState {
	state := ControllerState{
		Info:      info,
		Zones:     make(map[int]ZoneState, len(info.Zones)),
		Schedules: sortedByStart(schedules, false),
		Moistures: moistures,
	}
	for _, zone := range info.Zones {
		if !zone.Enabled {
			continue
		}
		zs := ZoneState{Zone: zone}
		for _, schedule := range schedules {
			if schedule.Zone != zone.Ith {
				continue
			}
			switch {
			case schedule.Status == netro.ScheduleExecuted || schedule.Status == netro.ScheduleExecuting:
				zs.PastRuns = append(zs.PastRuns, schedule)
			case schedule.Status == netro.ScheduleValid && schedule.StartTime.After(fetchedAt):
				zs.ComingRuns = append(zs.ComingRuns, schedule)
			}
		}
		zs.PastRuns = sortedByStart(zs.PastRuns, true)
		zs.ComingRuns = sortedByStart(zs.ComingRuns, false)
		for _, moisture := range moistures {
			if moisture.Zone == zone.Ith {
				zs.Moistures = append(zs.Moistures, moisture)
			}
		}
		state.Zones[zone.Ith] = zs
	}
	return &state
}

func sortedByStart(schedules []netro.Schedule, descending bool) []netro.Schedule {
	sorted := slices.Clone(schedules)
	slices.SortFunc(sorted, func(a, b netro.Schedule) int {
		if descending {
			return b.StartTime.Compare(a.StartTime.Time)
		}
		return a.StartTime.Compare(b.StartTime.Time)
	})
	return sorted
}

// SensorState is the soil sensor snapshot: the samples returned for the
// look-back window, most recent first.
type SensorState struct {
	Readings []netro.SensorData
}

// Latest returns the most recent sample, if the fetch returned any.
func (s SensorState) Latest() *netro.SensorData {
	if len(s.Readings) == 0 {
		return nil
	}
	return &s.Readings[0]
}
