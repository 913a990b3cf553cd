// Package collector exports the cached device state as Prometheus metrics.
// It reads the cache at scrape time, so scraping never triggers an NPA call.
package collector

import (
	"strconv"
	"time"

	"github.com/clambin/netro-monitor/internal/cache"
	"github.com/clambin/netro-monitor/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
)

// A StateGetter provides the cached snapshots. *cache.Cache implements this.
type StateGetter interface {
	Devices() []cache.DeviceStatus
	Get(serial string) (poller.Update, bool)
}

var _ prometheus.Collector = &Collector{}

// Collector implements prometheus.Collector for all cached devices.
type Collector struct {
	cache StateGetter
	now   func() time.Time

	controllerStatus   *prometheus.Desc
	controllerEnabled  *prometheus.Desc
	controllerWatering *prometheus.Desc
	controllerZones    *prometheus.Desc
	zoneMoisture       *prometheus.Desc
	zoneWatering       *prometheus.Desc
	sensorMoisture     *prometheus.Desc
	sensorTemperature  *prometheus.Desc
	sensorSunlight     *prometheus.Desc
	batteryLevel       *prometheus.Desc
	tokenRemaining     *prometheus.Desc
	tokenLimit         *prometheus.Desc
	snapshotAge        *prometheus.Desc
}

// New returns a Collector reading from c.
func New(c StateGetter) *Collector {
	return &Collector{
		cache: c,
		now:   time.Now,
		controllerStatus: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "controller", "status"),
			`Controller status. Always 1. See label "controller_status"`,
			[]string{"serial", "name", "controller_status"},
			nil,
		),
		controllerEnabled: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "controller", "enabled"),
			"1 if the controller is enabled (online, watering or in setup)",
			[]string{"serial", "name"},
			nil,
		),
		controllerWatering: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "controller", "watering"),
			"1 if any zone is currently watering",
			[]string{"serial", "name"},
			nil,
		),
		controllerZones: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "controller", "zones"),
			"Number of enabled zones on this controller",
			[]string{"serial", "name"},
			nil,
		),
		zoneMoisture: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "zone", "moisture_percentage"),
			"Last reported moisture of this zone (0-100)",
			[]string{"serial", "name", "zone", "zone_name"},
			nil,
		),
		zoneWatering: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "zone", "watering"),
			"1 if this zone is currently watering",
			[]string{"serial", "name", "zone", "zone_name"},
			nil,
		),
		sensorMoisture: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "sensor", "moisture_percentage"),
			"Last sampled soil moisture (0-100)",
			[]string{"serial", "name"},
			nil,
		),
		sensorTemperature: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "sensor", "temperature_celsius"),
			"Last sampled soil temperature in degrees celsius",
			[]string{"serial", "name"},
			nil,
		),
		sensorSunlight: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "sensor", "sunlight"),
			"Last sampled sunlight level",
			[]string{"serial", "name"},
			nil,
		),
		batteryLevel: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "device", "battery_level"),
			"Battery level of this device (0-100)",
			[]string{"serial", "name", "kind"},
			nil,
		),
		tokenRemaining: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "token", "remaining"),
			"Remaining NPA calls for this device's daily budget",
			[]string{"serial"},
			nil,
		),
		tokenLimit: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "token", "limit"),
			"Daily NPA call budget for this device",
			[]string{"serial"},
			nil,
		),
		snapshotAge: prometheus.NewDesc(
			prometheus.BuildFQName("netro", "snapshot", "age_seconds"),
			"Age of the cached snapshot for this device",
			[]string{"serial", "name", "kind"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.controllerStatus
	ch <- c.controllerEnabled
	ch <- c.controllerWatering
	ch <- c.controllerZones
	ch <- c.zoneMoisture
	ch <- c.zoneWatering
	ch <- c.sensorMoisture
	ch <- c.sensorTemperature
	ch <- c.sensorSunlight
	ch <- c.batteryLevel
	ch <- c.tokenRemaining
	ch <- c.tokenLimit
	ch <- c.snapshotAge
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	now := c.now()
	for _, status := range c.cache.Devices() {
		update, ok := c.cache.Get(status.Serial)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.snapshotAge, prometheus.GaugeValue, update.Age(now).Seconds(),
			status.Serial, status.Name, string(status.Kind))
		ch <- prometheus.MustNewConstMetric(c.tokenRemaining, prometheus.GaugeValue, float64(update.Meta.TokenRemaining), status.Serial)
		ch <- prometheus.MustNewConstMetric(c.tokenLimit, prometheus.GaugeValue, float64(update.Meta.TokenLimit), status.Serial)

		switch {
		case update.Controller != nil:
			c.collectController(ch, status, update.Controller)
		case update.Sensor != nil:
			c.collectSensor(ch, status, update.Sensor)
		}
	}
}

func (c *Collector) collectController(ch chan<- prometheus.Metric, status cache.DeviceStatus, state *poller.ControllerState) {
	ch <- prometheus.MustNewConstMetric(c.controllerStatus, prometheus.GaugeValue, 1,
		status.Serial, status.Name, state.Info.Status)
	ch <- prometheus.MustNewConstMetric(c.controllerEnabled, prometheus.GaugeValue, boolValue(state.Info.Enabled()),
		status.Serial, status.Name)
	ch <- prometheus.MustNewConstMetric(c.controllerWatering, prometheus.GaugeValue, boolValue(state.Info.Watering()),
		status.Serial, status.Name)
	ch <- prometheus.MustNewConstMetric(c.controllerZones, prometheus.GaugeValue, float64(len(state.Zones)),
		status.Serial, status.Name)
	ch <- prometheus.MustNewConstMetric(c.batteryLevel, prometheus.GaugeValue, state.Info.BatteryLevel,
		status.Serial, status.Name, string(status.Kind))

	for id, zone := range state.Zones {
		zoneID := strconv.Itoa(id)
		ch <- prometheus.MustNewConstMetric(c.zoneWatering, prometheus.GaugeValue, boolValue(zone.Watering()),
			status.Serial, status.Name, zoneID, zone.Name)
		if moisture := zone.Moisture(); moisture != nil {
			ch <- prometheus.MustNewConstMetric(c.zoneMoisture, prometheus.GaugeValue, moisture.Moisture,
				status.Serial, status.Name, zoneID, zone.Name)
		}
	}
}

func (c *Collector) collectSensor(ch chan<- prometheus.Metric, status cache.DeviceStatus, state *poller.SensorState) {
	latest := state.Latest()
	if latest == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.sensorMoisture, prometheus.GaugeValue, latest.Moisture, status.Serial, status.Name)
	ch <- prometheus.MustNewConstMetric(c.sensorTemperature, prometheus.GaugeValue, latest.Celsius, status.Serial, status.Name)
	ch <- prometheus.MustNewConstMetric(c.sensorSunlight, prometheus.GaugeValue, latest.Sunlight, status.Serial, status.Name)
	ch <- prometheus.MustNewConstMetric(c.batteryLevel, prometheus.GaugeValue, latest.BatteryLevel, status.Serial, status.Name, string(status.Kind))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
