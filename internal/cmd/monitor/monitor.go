// Package monitor implements the monitor command: poll all configured
// devices, cache their state and serve it to the host platform.
package monitor

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/clambin/go-common/taskmanager"
	"github.com/clambin/go-common/taskmanager/httpserver"
	promserver "github.com/clambin/go-common/taskmanager/prometheus"
	"github.com/clambin/netro-monitor/internal/cache"
	"github.com/clambin/netro-monitor/internal/collector"
	"github.com/clambin/netro-monitor/internal/commander"
	"github.com/clambin/netro-monitor/internal/configuration"
	"github.com/clambin/netro-monitor/internal/health"
	"github.com/clambin/netro-monitor/internal/history"
	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/poller"
	"github.com/clambin/netro-monitor/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/semaphore"
)

var Cmd = cobra.Command{
	Use:   "monitor",
	Short: "Poll Netro devices and serve their state",
	RunE:  run,
}

func run(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := configuration.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger.Info("netro-monitor starting", "version", cmd.Root().Version)

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tasks := makeTasks(cfg, store, prometheus.DefaultRegisterer, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer logger.Info("netro-monitor stopped")
	return taskmanager.New(tasks...).Run(ctx)
}

func makeTasks(cfg configuration.Configuration, store *history.Store, registerer prometheus.Registerer, logger *slog.Logger) []taskmanager.Task {
	callMetrics := netro.NewCallMetrics("netro", "monitor", nil)
	registerer.MustRegister(callMetrics)
	client := netro.NewInstrumentedClient(cfg.NetroURL, callMetrics)

	var tasks []taskmanager.Task

	// one poller per device, sharing one concurrency limit
	limiter := semaphore.NewWeighted(cfg.MaxConcurrent)
	pollers := makePollers(client, cfg, limiter, logger)
	sources := make([]cache.UpdateSource, 0, len(pollers))
	recorded := make([]history.Source, 0, len(pollers))
	for _, p := range pollers {
		tasks = append(tasks, p)
		sources = append(sources, p)
		if p.Device().Kind == poller.SoilSensor {
			recorded = append(recorded, p)
		}
	}

	c := cache.New(logger.With("component", "cache"), sources...)
	tasks = append(tasks, c)
	tasks = append(tasks, history.NewRecorder(store, logger.With("component", "recorder"), recorded...))

	// Prometheus exporter
	registerer.MustRegister(collector.New(c))
	tasks = append(tasks, promserver.New(promserver.WithAddr(cfg.ExporterAddr)))

	// host platform API
	resolver := history.NewResolver(store, c, cfg.SensorDays)
	cmdRefreshers := make(map[string]commander.Refresher, len(pollers))
	srvRefreshers := make(map[string]server.Refresher, len(pollers))
	healthRefreshers := make(map[string]health.Refresher, len(pollers))
	for _, p := range pollers {
		serial := p.Device().Serial
		cmdRefreshers[serial] = p
		srvRefreshers[serial] = p
		healthRefreshers[serial] = p
	}
	cmds := commander.New(client, c, cmdRefreshers, cfg.Commands, logger.With("component", "commander"))
	s := server.New(c, cmds, resolver, srvRefreshers, logger.With("component", "server"))
	tasks = append(tasks, httpserver.New(cfg.ServerAddr, s))

	// health endpoint
	h := health.New(c, healthRefreshers, logger.With("component", "health"))
	m := http.NewServeMux()
	m.Handle("/health", h)
	tasks = append(tasks, httpserver.New(cfg.HealthAddr, m))

	return tasks
}

func makePollers(client *netro.Client, cfg configuration.Configuration, limiter *semaphore.Weighted, logger *slog.Logger) []*poller.Poller {
	pollers := make([]*poller.Poller, 0, len(cfg.Controllers)+len(cfg.Sensors))
	for _, device := range cfg.Controllers {
		interval := device.Interval
		if interval == 0 {
			interval = cfg.ControllerInterval
		}
		pollers = append(pollers, poller.New(client, poller.Options{
			Device:       poller.Device{Serial: device.Serial, Name: device.Name, Kind: poller.Controller},
			Interval:     interval,
			Tick:         cfg.Tick,
			Factors:      cfg.Slowdown,
			MonthsBefore: cfg.MonthsBefore,
			MonthsAfter:  cfg.MonthsAfter,
			Limiter:      limiter,
		}, logger.With("component", "poller", "serial", device.Serial)))
	}
	for _, device := range cfg.Sensors {
		interval := device.Interval
		if interval == 0 {
			interval = cfg.SensorInterval
		}
		pollers = append(pollers, poller.New(client, poller.Options{
			Device:       poller.Device{Serial: device.Serial, Name: device.Name, Kind: poller.SoilSensor},
			Interval:     interval,
			Tick:         cfg.Tick,
			LookBackDays: cfg.SensorDays,
			Limiter:      limiter,
		}, logger.With("component", "poller", "serial", device.Serial)))
	}
	return pollers
}
