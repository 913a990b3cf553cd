// Package devices implements the devices command: query each configured
// device once and print a summary.
package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clambin/netro-monitor/internal/configuration"
	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/poller"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var Cmd = cobra.Command{
	Use:   "devices",
	Short: "Show the configured devices and their current state",
	RunE:  showDevices,
}

func init() {
	Cmd.Flags().Bool("json", false, "Output JSON instead of YAML")
}

type Encoder interface {
	Encode(any) error
}

// An InfoGetter returns the device report for a serial.
type InfoGetter interface {
	GetInfo(ctx context.Context, serial string) (netro.Info, netro.Meta, error)
}

type zoneEntry struct {
	ID      int    `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type entry struct {
	Serial         string      `json:"serial" yaml:"serial"`
	Name           string      `json:"name,omitempty" yaml:"name,omitempty"`
	Kind           poller.Kind `json:"kind" yaml:"kind"`
	Status         string      `json:"status" yaml:"status"`
	BatteryLevel   float64     `json:"batteryLevel,omitempty" yaml:"batteryLevel,omitempty"`
	TokenRemaining int         `json:"tokenRemaining" yaml:"tokenRemaining"`
	Zones          []zoneEntry `json:"zones,omitempty" yaml:"zones,omitempty"`
}

func showDevices(cmd *cobra.Command, _ []string) error {
	cfg, err := configuration.Load(viper.GetViper())
	if err != nil {
		return err
	}
	client := netro.New(cfg.NetroURL, nil)

	var encoder Encoder
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "  ")
		encoder = e
	} else {
		encoder = yaml.NewEncoder(os.Stdout)
	}
	return ShowDevices(cmd.Context(), client, cfg, encoder)
}

// ShowDevices queries each configured device and writes the report to e.
func ShowDevices(ctx context.Context, client InfoGetter, cfg configuration.Configuration, e Encoder) error {
	entries := make([]entry, 0, len(cfg.Controllers)+len(cfg.Sensors))
	for _, device := range cfg.Controllers {
		item, err := describe(ctx, client, device, poller.Controller)
		if err != nil {
			return err
		}
		entries = append(entries, item)
	}
	for _, device := range cfg.Sensors {
		item, err := describe(ctx, client, device, poller.SoilSensor)
		if err != nil {
			return err
		}
		entries = append(entries, item)
	}
	return e.Encode(entries)
}

func describe(ctx context.Context, client InfoGetter, device configuration.Device, kind poller.Kind) (entry, error) {
	info, meta, err := client.GetInfo(ctx, device.Serial)
	if err != nil {
		return entry{}, fmt.Errorf("%s: %w", device.Serial, err)
	}
	item := entry{
		Serial:         device.Serial,
		Name:           device.Name,
		Kind:           kind,
		Status:         info.Status,
		BatteryLevel:   info.BatteryLevel,
		TokenRemaining: meta.TokenRemaining,
	}
	for _, zone := range info.Zones {
		item.Zones = append(item.Zones, zoneEntry{ID: zone.Ith, Name: zone.Name, Enabled: zone.Enabled})
	}
	return item, nil
}
