// Package server implements the host platform API: read cached device state,
// trigger refreshes and issue commands over plain HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/clambin/netro-monitor/internal/cache"
	"github.com/clambin/netro-monitor/internal/commander"
	"github.com/clambin/netro-monitor/internal/history"
	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/poller"
)

// A StateGetter provides the cached snapshots. *cache.Cache implements this.
type StateGetter interface {
	Devices() []cache.DeviceStatus
	Get(serial string) (poller.Update, bool)
}

// A Commander issues device commands. *commander.Commander implements this.
type Commander interface {
	StartWatering(ctx context.Context, serial string, req commander.StartWateringRequest) (commander.Ack, error)
	StopWatering(ctx context.Context, serial string) (commander.Ack, error)
	Enable(ctx context.Context, serial string) (commander.Ack, error)
	Disable(ctx context.Context, serial string) (commander.Ack, error)
	SuspendWatering(ctx context.Context, serial string, days int) (commander.Ack, error)
	SetMoisture(ctx context.Context, serial string, zone, moisture int) (commander.Ack, error)
	ReportWeather(ctx context.Context, serial string, weather netro.Weather) (commander.Ack, error)
}

// A ReadingResolver answers current-value queries for sensor metrics.
// *history.Resolver implements this.
type ReadingResolver interface {
	Resolve(ctx context.Context, serial, metric string) (history.Reading, error)
}

// A Refresher triggers an immediate poll of one device.
type Refresher interface {
	Refresh()
}

// Server routes the host platform API.
type Server struct {
	http.Handler
	cache      StateGetter
	commander  Commander
	resolver   ReadingResolver
	refreshers map[string]Refresher
	logger     *slog.Logger
}

// New returns a Server.
func New(c StateGetter, cmd Commander, resolver ReadingResolver, refreshers map[string]Refresher, logger *slog.Logger) *Server {
	s := Server{
		cache:      c,
		commander:  cmd,
		resolver:   resolver,
		refreshers: refreshers,
		logger:     logger,
	}
	m := http.NewServeMux()
	m.HandleFunc("GET /api/devices", s.devices)
	m.HandleFunc("GET /api/devices/{serial}", s.device)
	m.HandleFunc("GET /api/devices/{serial}/readings/{metric}", s.reading)
	m.HandleFunc("POST /api/devices/{serial}/refresh", s.refresh)
	m.HandleFunc("POST /api/devices/{serial}/water", s.water)
	m.HandleFunc("POST /api/devices/{serial}/stop", s.stop)
	m.HandleFunc("POST /api/devices/{serial}/enable", s.enable)
	m.HandleFunc("POST /api/devices/{serial}/disable", s.disable)
	m.HandleFunc("POST /api/devices/{serial}/nowater", s.noWater)
	m.HandleFunc("POST /api/devices/{serial}/moisture", s.moisture)
	m.HandleFunc("POST /api/devices/{serial}/weather", s.weather)
	s.Handler = m
	return &s
}

func (s *Server) devices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Devices())
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) {
	update, ok := s.cache.Get(r.PathValue("serial"))
	if !ok {
		http.Error(w, "no snapshot for device", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, update)
}

func (s *Server) reading(w http.ResponseWriter, r *http.Request) {
	reading, err := s.resolver.Resolve(r.Context(), r.PathValue("serial"), r.PathValue("metric"))
	if errors.Is(err, history.ErrNoDataInWindow) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Metric     string    `json:"metric"`
		Value      float64   `json:"value"`
		ObservedAt time.Time `json:"observedAt"`
	}{reading.Metric, reading.Value, reading.ObservedAt})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	refresher, ok := s.refreshers[r.PathValue("serial")]
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	refresher.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) water(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Duration int    `json:"duration"`
		Delay    int    `json:"delay"`
		Start    string `json:"startTime"`
		Zones    []int  `json:"zones"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	watering := commander.StartWateringRequest{
		Duration: time.Duration(req.Duration) * time.Minute,
		Delay:    time.Duration(req.Delay) * time.Minute,
		Zones:    req.Zones,
	}
	if req.Start != "" {
		startTime, err := time.Parse("2006-01-02 15:04", req.Start)
		if err != nil {
			http.Error(w, "invalid start time: "+err.Error(), http.StatusBadRequest)
			return
		}
		watering.StartTime = startTime
	}
	s.command(w, r, func() (commander.Ack, error) {
		return s.commander.StartWatering(r.Context(), r.PathValue("serial"), watering)
	})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func() (commander.Ack, error) {
		return s.commander.StopWatering(r.Context(), r.PathValue("serial"))
	})
}

func (s *Server) enable(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func() (commander.Ack, error) {
		return s.commander.Enable(r.Context(), r.PathValue("serial"))
	})
}

func (s *Server) disable(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func() (commander.Ack, error) {
		return s.commander.Disable(r.Context(), r.PathValue("serial"))
	})
}

func (s *Server) noWater(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	s.command(w, r, func() (commander.Ack, error) {
		return s.commander.SuspendWatering(r.Context(), r.PathValue("serial"), req.Days)
	})
}

func (s *Server) moisture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Zone     int `json:"zone"`
		Moisture int `json:"moisture"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	s.command(w, r, func() (commander.Ack, error) {
		return s.commander.SetMoisture(r.Context(), r.PathValue("serial"), req.Zone, req.Moisture)
	})
}

func (s *Server) weather(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date      string   `json:"date"`
		Condition string   `json:"condition"`
		Rain      *float64 `json:"rain"`
		RainProb  *int     `json:"rainProb"`
		Temp      *float64 `json:"temp"`
		TempMin   *float64 `json:"tempMin"`
		TempMax   *float64 `json:"tempMax"`
		TempDew   *float64 `json:"tempDew"`
		WindSpeed *float64 `json:"windSpeed"`
		Humidity  *int     `json:"humidity"`
		Pressure  *float64 `json:"pressure"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	weather := netro.Weather{
		Condition: req.Condition,
		Rain:      req.Rain,
		RainProb:  req.RainProb,
		Temp:      req.Temp,
		TempMin:   req.TempMin,
		TempMax:   req.TempMax,
		TempDew:   req.TempDew,
		WindSpeed: req.WindSpeed,
		Humidity:  req.Humidity,
		Pressure:  req.Pressure,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			http.Error(w, "invalid date: "+err.Error(), http.StatusBadRequest)
			return
		}
		weather.Date = date
	}
	s.command(w, r, func() (commander.Ack, error) {
		return s.commander.ReportWeather(r.Context(), r.PathValue("serial"), weather)
	})
}

// command runs the action and maps its outcome: local validation errors and
// remote rejections are the caller's fault (4xx), anything else is an
// upstream problem (502).
func (s *Server) command(w http.ResponseWriter, r *http.Request, issue func() (commander.Ack, error)) {
	ack, err := issue()
	if err != nil {
		s.logger.Warn("command failed", "path", r.URL.Path, "err", err)
		http.Error(w, err.Error(), commandStatusCode(err))
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

func commandStatusCode(err error) int {
	switch {
	case errors.Is(err, commander.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, commander.ErrInvalidRequest), netro.IsRejection(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write response", "err", err)
	}
}
