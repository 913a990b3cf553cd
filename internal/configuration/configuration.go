// Package configuration loads and validates the service configuration. The
// poll scheduler trusts its options, so every numeric range is enforced here:
// an out-of-range value never reaches a scheduling decision.
package configuration

import (
	"errors"
	"fmt"
	"time"

	"github.com/clambin/netro-monitor/internal/commander"
	"github.com/clambin/netro-monitor/internal/slowdown"
	"github.com/spf13/viper"
)

// ErrInvalid indicates the configuration was rejected at load.
var ErrInvalid = errors.New("invalid configuration")

// Device is one configured NPA device. Its serial doubles as the API key.
type Device struct {
	Serial   string        `mapstructure:"serial" yaml:"serial"`
	Name     string        `mapstructure:"name" yaml:"name"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval,omitempty"`
}

// Configuration is the validated service configuration.
type Configuration struct {
	Debug              bool
	NetroURL           string
	Tick               time.Duration
	MaxConcurrent      int64
	ControllerInterval time.Duration
	SensorInterval     time.Duration
	SensorDays         int
	MonthsBefore       int
	MonthsAfter        int
	HistoryPath        string
	Commands           commander.Configuration
	Slowdown           slowdown.Factors
	Controllers        []Device
	Sensors            []Device
	ServerAddr         string
	ExporterAddr       string
	HealthAddr         string
}

const (
	minInterval = time.Minute
	maxInterval = 2 * time.Hour
)

// Load builds a Configuration from v.
func Load(v *viper.Viper) (Configuration, error) {
	cfg := Configuration{
		Debug:              v.GetBool("debug"),
		NetroURL:           v.GetString("netro.url"),
		Tick:               v.GetDuration("poller.tick"),
		MaxConcurrent:      v.GetInt64("poller.maxConcurrent"),
		ControllerInterval: v.GetDuration("controller.interval"),
		SensorInterval:     v.GetDuration("sensor.interval"),
		SensorDays:         v.GetInt("sensor.daysBeforeToday"),
		MonthsBefore:       v.GetInt("schedules.monthsBefore"),
		MonthsAfter:        v.GetInt("schedules.monthsAfter"),
		HistoryPath:        v.GetString("history.path"),
		Commands: commander.Configuration{
			DelayBeforeRefresh:      v.GetDuration("commands.delayBeforeRefresh"),
			DefaultWateringDelay:    v.GetDuration("commands.defaultWateringDelay"),
			DefaultWateringDuration: v.GetDuration("commands.defaultWateringDuration"),
		},
		ServerAddr:   v.GetString("server.addr"),
		ExporterAddr: v.GetString("exporter.addr"),
		HealthAddr:   v.GetString("health.addr"),
	}

	var windows []slowdown.WindowConfig
	if err := v.UnmarshalKey("slowdown", &windows); err != nil {
		return Configuration{}, fmt.Errorf("%w: slowdown: %w", ErrInvalid, err)
	}
	factors, err := slowdown.Load(windows)
	if err != nil {
		return Configuration{}, fmt.Errorf("%w: slowdown: %w", ErrInvalid, err)
	}
	cfg.Slowdown = factors

	if err = v.UnmarshalKey("controllers", &cfg.Controllers); err != nil {
		return Configuration{}, fmt.Errorf("%w: controllers: %w", ErrInvalid, err)
	}
	if err = v.UnmarshalKey("sensors", &cfg.Sensors); err != nil {
		return Configuration{}, fmt.Errorf("%w: sensors: %w", ErrInvalid, err)
	}

	if err = cfg.validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

func (c Configuration) validate() error {
	if c.Tick < time.Second || c.Tick > 5*time.Minute {
		return fmt.Errorf("%w: poller.tick %s outside [1s, 5m]", ErrInvalid, c.Tick)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("%w: poller.maxConcurrent must be at least 1", ErrInvalid)
	}
	if err := validInterval("controller.interval", c.ControllerInterval); err != nil {
		return err
	}
	if err := validInterval("sensor.interval", c.SensorInterval); err != nil {
		return err
	}
	if c.SensorDays < 1 || c.SensorDays > 10 {
		return fmt.Errorf("%w: sensor.daysBeforeToday %d outside [1, 10]", ErrInvalid, c.SensorDays)
	}
	if c.MonthsBefore < 0 || c.MonthsBefore > 12 {
		return fmt.Errorf("%w: schedules.monthsBefore %d outside [0, 12]", ErrInvalid, c.MonthsBefore)
	}
	if c.MonthsAfter < 0 || c.MonthsAfter > 12 {
		return fmt.Errorf("%w: schedules.monthsAfter %d outside [0, 12]", ErrInvalid, c.MonthsAfter)
	}
	if c.Commands.DelayBeforeRefresh != 0 && c.Commands.DelayBeforeRefresh < commander.MinDelayBeforeRefresh {
		return fmt.Errorf("%w: commands.delayBeforeRefresh %s is below the minimum %s", ErrInvalid, c.Commands.DelayBeforeRefresh, commander.MinDelayBeforeRefresh)
	}
	if c.Commands.DefaultWateringDelay < 0 {
		return fmt.Errorf("%w: commands.defaultWateringDelay is negative", ErrInvalid)
	}
	if c.Commands.DefaultWateringDuration < time.Minute {
		return fmt.Errorf("%w: commands.defaultWateringDuration %s is shorter than a minute", ErrInvalid, c.Commands.DefaultWateringDuration)
	}
	if len(c.Controllers)+len(c.Sensors) == 0 {
		return fmt.Errorf("%w: no devices configured", ErrInvalid)
	}
	serials := make(map[string]struct{})
	for _, device := range append(append([]Device{}, c.Controllers...), c.Sensors...) {
		if device.Serial == "" {
			return fmt.Errorf("%w: device %q has no serial", ErrInvalid, device.Name)
		}
		if _, ok := serials[device.Serial]; ok {
			return fmt.Errorf("%w: duplicate device serial %q", ErrInvalid, device.Serial)
		}
		serials[device.Serial] = struct{}{}
		if device.Interval != 0 {
			if err := validInterval("interval for "+device.Serial, device.Interval); err != nil {
				return err
			}
		}
	}
	return nil
}

func validInterval(name string, interval time.Duration) error {
	if interval < minInterval || interval > maxInterval {
		return fmt.Errorf("%w: %s %s outside [%s, %s]", ErrInvalid, name, interval, minInterval, maxInterval)
	}
	return nil
}
