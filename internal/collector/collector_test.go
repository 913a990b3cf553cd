package collector

import (
	"strings"
	"testing"
	"time"

	"github.com/clambin/netro-monitor/internal/cache"
	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/poller"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	statuses []cache.DeviceStatus
	entries  map[string]poller.Update
}

func (f *fakeState) Devices() []cache.DeviceStatus { return f.statuses }

func (f *fakeState) Get(serial string) (poller.Update, bool) {
	update, ok := f.entries[serial]
	return update, ok
}

func TestCollector(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

	controller := poller.Device{Serial: "ctrl-1", Name: "garden", Kind: poller.Controller}
	sensor := poller.Device{Serial: "sensor-1", Name: "front lawn", Kind: poller.SoilSensor}

	state := fakeState{
		statuses: []cache.DeviceStatus{
			{Serial: "ctrl-1", Name: "garden", Kind: poller.Controller},
			{Serial: "sensor-1", Name: "front lawn", Kind: poller.SoilSensor},
			{Serial: "sensor-2", Name: "back lawn", Kind: poller.SoilSensor},
		},
		entries: map[string]poller.Update{
			"ctrl-1": {
				Device: controller,
				Controller: &poller.ControllerState{
					Info: netro.Info{Name: "garden", Serial: "ctrl-1", Status: netro.StatusWatering, BatteryLevel: 90},
					Zones: map[int]poller.ZoneState{
						1: {
							Zone:      netro.Zone{Ith: 1, Name: "roses", Enabled: true},
							PastRuns:  []netro.Schedule{{Zone: 1, Status: netro.ScheduleExecuting, StartTime: netro.Time{Time: now.Add(-5 * time.Minute)}}},
							Moistures: []netro.Moisture{{Zone: 1, Moisture: 55}},
						},
					},
				},
				Meta:      netro.Meta{TokenLimit: 2000, TokenRemaining: 1500},
				FetchedAt: now.Add(-time.Minute),
			},
			"sensor-1": {
				Device: sensor,
				Sensor: &poller.SensorState{Readings: []netro.SensorData{
					{Time: netro.Time{Time: now.Add(-time.Hour)}, Moisture: 38, Sunlight: 1200, Celsius: 19.5, BatteryLevel: 87},
				}},
				Meta:      netro.Meta{TokenLimit: 2000, TokenRemaining: 1900},
				FetchedAt: now.Add(-2 * time.Minute),
			},
		},
	}

	c := New(&state)
	c.now = func() time.Time { return now }

	expected := `
# HELP netro_controller_enabled 1 if the controller is enabled (online, watering or in setup)
# TYPE netro_controller_enabled gauge
netro_controller_enabled{name="garden",serial="ctrl-1"} 1
# HELP netro_controller_status Controller status. Always 1. See label "controller_status"
# TYPE netro_controller_status gauge
netro_controller_status{controller_status="WATERING",name="garden",serial="ctrl-1"} 1
# HELP netro_controller_watering 1 if any zone is currently watering
# TYPE netro_controller_watering gauge
netro_controller_watering{name="garden",serial="ctrl-1"} 1
# HELP netro_controller_zones Number of enabled zones on this controller
# TYPE netro_controller_zones gauge
netro_controller_zones{name="garden",serial="ctrl-1"} 1
# HELP netro_device_battery_level Battery level of this device (0-100)
# TYPE netro_device_battery_level gauge
netro_device_battery_level{kind="controller",name="garden",serial="ctrl-1"} 90
netro_device_battery_level{kind="sensor",name="front lawn",serial="sensor-1"} 87
# HELP netro_sensor_moisture_percentage Last sampled soil moisture (0-100)
# TYPE netro_sensor_moisture_percentage gauge
netro_sensor_moisture_percentage{name="front lawn",serial="sensor-1"} 38
# HELP netro_sensor_sunlight Last sampled sunlight level
# TYPE netro_sensor_sunlight gauge
netro_sensor_sunlight{name="front lawn",serial="sensor-1"} 1200
# HELP netro_sensor_temperature_celsius Last sampled soil temperature in degrees celsius
# TYPE netro_sensor_temperature_celsius gauge
netro_sensor_temperature_celsius{name="front lawn",serial="sensor-1"} 19.5
# HELP netro_snapshot_age_seconds Age of the cached snapshot for this device
# TYPE netro_snapshot_age_seconds gauge
netro_snapshot_age_seconds{kind="controller",name="garden",serial="ctrl-1"} 60
netro_snapshot_age_seconds{kind="sensor",name="front lawn",serial="sensor-1"} 120
# HELP netro_token_limit Daily NPA call budget for this device
# TYPE netro_token_limit gauge
netro_token_limit{serial="ctrl-1"} 2000
netro_token_limit{serial="sensor-1"} 2000
# HELP netro_token_remaining Remaining NPA calls for this device's daily budget
# TYPE netro_token_remaining gauge
netro_token_remaining{serial="ctrl-1"} 1500
netro_token_remaining{serial="sensor-1"} 1900
# HELP netro_zone_moisture_percentage Last reported moisture of this zone (0-100)
# TYPE netro_zone_moisture_percentage gauge
netro_zone_moisture_percentage{name="garden",serial="ctrl-1",zone="1",zone_name="roses"} 55
# HELP netro_zone_watering 1 if this zone is currently watering
# TYPE netro_zone_watering gauge
netro_zone_watering{name="garden",serial="ctrl-1",zone="1",zone_name="roses"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
	assert.Equal(t, 17, testutil.CollectAndCount(c))
}
