package netro

import (
	"strings"
	"time"
)

// Device status values reported by the NPA.
const (
	StatusStandby  = "STANDBY"
	StatusOnline   = "ONLINE"
	StatusSetup    = "SETUP"
	StatusWatering = "WATERING"
	StatusSleeping = "SLEEPING"
	StatusPowerOff = "POWEROFF"
)

// Schedule status & source values reported by the NPA.
const (
	ScheduleExecuted  = "EXECUTED"
	ScheduleExecuting = "EXECUTING"
	ScheduleValid     = "VALID"

	ScheduleSourceFix    = "FIX"
	ScheduleSourceSmart  = "SMART"
	ScheduleSourceManual = "MANUAL"
)

// Time is a timestamp as serialized by the NPA: "2006-01-02T15:04:05", always UTC.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + t.UTC().Format("2006-01-02T15:04:05") + `"`), nil
}

// Date is a calendar date as serialized by the NPA: "2006-01-02".
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return err
	}
	d.Time = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + d.Format("2006-01-02") + `"`), nil
}

// Meta accompanies every NPA response and carries the call budget for the
// device the call was made for. TokenRemaining/TokenLimit are the daily
// quota; TokenReset is when the quota is restored (midnight UTC).
type Meta struct {
	Time           Time   `json:"time"`
	TID            string `json:"tid"`
	Version        string `json:"version"`
	TokenLimit     int    `json:"token_limit"`
	TokenRemaining int    `json:"token_remaining"`
	TokenReset     Time   `json:"token_reset"`
	LastActive     Time   `json:"last_active"`
}

// Info is the device report returned by info.json.
type Info struct {
	Name         string  `json:"name"`
	Serial       string  `json:"serial"`
	Status       string  `json:"status"`
	Version      string  `json:"version"`
	SWVersion    string  `json:"sw_version"`
	ZoneNum      int     `json:"zone_num"`
	BatteryLevel float64 `json:"battery_level,omitempty"`
	Zones        []Zone  `json:"zones"`
}

// Enabled reports whether the controller currently accepts watering.
func (i Info) Enabled() bool {
	switch i.Status {
	case StatusOnline, StatusWatering, StatusSetup:
		return true
	}
	return false
}

// Watering reports whether any zone of the controller is currently running.
func (i Info) Watering() bool {
	return i.Status == StatusWatering
}

// Zone is a watering circuit of a controller.
type Zone struct {
	Ith     int    `json:"ith"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Smart   string `json:"smart"`
}

// Schedule is one past or planned watering run.
type Schedule struct {
	ID        int    `json:"id"`
	Zone      int    `json:"zone"`
	Status    string `json:"status"`
	Source    string `json:"source"`
	StartTime Time   `json:"start_time"`
	EndTime   Time   `json:"end_time"`
}

// Moisture is a per-zone moisture report.
type Moisture struct {
	Zone     int     `json:"zone"`
	Moisture float64 `json:"moisture"`
	Date     Date    `json:"date"`
}

// SensorData is one soil sensor sample.
type SensorData struct {
	ID           int     `json:"id"`
	Time         Time    `json:"time"`
	LocalDate    Date    `json:"local_date"`
	LocalTime    string  `json:"local_time"`
	Moisture     float64 `json:"moisture"`
	Sunlight     float64 `json:"sunlight"`
	Celsius      float64 `json:"celsius"`
	Fahrenheit   float64 `json:"fahrenheit"`
	BatteryLevel float64 `json:"battery_level"`
}

// Event is a device event (on/offline, schedule start/end).
type Event struct {
	ID      int    `json:"id"`
	Event   int    `json:"event"`
	Message string `json:"message"`
	Time    Time   `json:"time"`
}

// Weather is a weather report pushed to the NPA so it can refine its own
// planning. All fields except Date are optional.
type Weather struct {
	Date      time.Time
	Condition string
	Rain      *float64
	RainProb  *int
	Temp      *float64
	TempMin   *float64
	TempMax   *float64
	TempDew   *float64
	WindSpeed *float64
	Humidity  *int
	Pressure  *float64
}

// Weather conditions accepted by report_weather.json, in NPA encoding order.
var WeatherConditions = []string{"clear", "cloudy", "rain", "snow", "wind"}

// ConditionCode returns the NPA numeric encoding for a condition name, or -1.
func ConditionCode(condition string) int {
	for i, c := range WeatherConditions {
		if c == condition {
			return i
		}
	}
	return -1
}
