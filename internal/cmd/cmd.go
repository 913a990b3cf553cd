// Package cmd implements the netro-monitor command line interface.
package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/clambin/netro-monitor/internal/cmd/devices"
	"github.com/clambin/netro-monitor/internal/cmd/monitor"
	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "netro-monitor",
		Short: "Monitor and control Netro irrigation devices",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			charmer.SetJSONLogger(cmd, viper.GetBool("debug"))
		},
	}
)

var arguments = charmer.Arguments{
	"debug":                            charmer.Argument{Default: false, Help: "Log debug messages"},
	"netro.url":                        charmer.Argument{Default: netro.DefaultURL, Help: "Netro Public API URL"},
	"poller.tick":                      charmer.Argument{Default: 30 * time.Second, Help: "Poll due-ness evaluation interval"},
	"poller.maxConcurrent":             charmer.Argument{Default: 4, Help: "Maximum concurrent NPA fetches"},
	"controller.interval":              charmer.Argument{Default: 2 * time.Minute, Help: "Controller poll interval"},
	"sensor.interval":                  charmer.Argument{Default: 30 * time.Minute, Help: "Soil sensor poll interval"},
	"sensor.daysBeforeToday":           charmer.Argument{Default: 1, Help: "Sensor reading look-back (days)"},
	"schedules.monthsBefore":           charmer.Argument{Default: 1, Help: "Schedule look-behind (months)"},
	"schedules.monthsAfter":            charmer.Argument{Default: 2, Help: "Schedule look-ahead (months)"},
	"commands.delayBeforeRefresh":      charmer.Argument{Default: 5 * time.Second, Help: "Settle delay before the post-command refresh"},
	"commands.defaultWateringDelay":    charmer.Argument{Default: time.Duration(0), Help: "Hold before sending a start watering command"},
	"commands.defaultWateringDuration": charmer.Argument{Default: 30 * time.Minute, Help: "Watering duration when the request does not specify one"},
	"history.path":                     charmer.Argument{Default: "netro-monitor.db", Help: "Path of the sensor reading history database"},
	"server.addr":                      charmer.Argument{Default: ":8081", Help: "Address of the device API server"},
	"exporter.addr":                    charmer.Argument{Default: ":9090", Help: "Address of the Prometheus exporter"},
	"health.addr":                      charmer.Argument{Default: ":8080", Help: "Address of the /health endpoint"},
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	RootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))

	RootCmd.AddCommand(&monitor.Cmd, &devices.Cmd)
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/netro-monitor/")
		viper.AddConfigPath("$HOME/.netro-monitor")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), arguments); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("NETRO_MONITOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", "err", err)
		os.Exit(1)
	}
}
