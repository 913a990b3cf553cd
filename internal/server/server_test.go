package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clambin/netro-monitor/internal/cache"
	"github.com/clambin/netro-monitor/internal/commander"
	"github.com/clambin/netro-monitor/internal/history"
	"github.com/clambin/netro-monitor/internal/netro"
	"github.com/clambin/netro-monitor/internal/poller"
	"github.com/stretchr/testify/assert"
)

type fakeState map[string]poller.Update

func (f fakeState) Devices() []cache.DeviceStatus {
	statuses := make([]cache.DeviceStatus, 0, len(f))
	for _, update := range f {
		statuses = append(statuses, cache.DeviceStatus{Serial: update.Device.Serial, Kind: update.Device.Kind})
	}
	return statuses
}

func (f fakeState) Get(serial string) (poller.Update, bool) {
	update, ok := f[serial]
	return update, ok
}

type fakeCommander struct {
	err  error
	last string
}

func (f *fakeCommander) ack(action string) (commander.Ack, error) {
	if f.err != nil {
		return commander.Ack{}, f.err
	}
	f.last = action
	return commander.Ack{ID: "cmd-1", Action: action}, nil
}

func (f *fakeCommander) StartWatering(_ context.Context, _ string, _ commander.StartWateringRequest) (commander.Ack, error) {
	return f.ack("water")
}

func (f *fakeCommander) StopWatering(_ context.Context, _ string) (commander.Ack, error) {
	return f.ack("stop_water")
}

func (f *fakeCommander) Enable(_ context.Context, _ string) (commander.Ack, error) {
	return f.ack("enable")
}

func (f *fakeCommander) Disable(_ context.Context, _ string) (commander.Ack, error) {
	return f.ack("disable")
}

func (f *fakeCommander) SuspendWatering(_ context.Context, _ string, _ int) (commander.Ack, error) {
	return f.ack("no_water")
}

func (f *fakeCommander) SetMoisture(_ context.Context, _ string, _, _ int) (commander.Ack, error) {
	return f.ack("set_moisture")
}

func (f *fakeCommander) ReportWeather(_ context.Context, _ string, _ netro.Weather) (commander.Ack, error) {
	return f.ack("report_weather")
}

type fakeResolver map[string]history.Reading

func (f fakeResolver) Resolve(_ context.Context, serial, metric string) (history.Reading, error) {
	reading, ok := f[serial+"/"+metric]
	if !ok {
		return history.Reading{}, history.ErrNoDataInWindow
	}
	return reading, nil
}

type fakeRefresher struct {
	refreshed atomic.Int32
}

func (f *fakeRefresher) Refresh() { f.refreshed.Add(1) }

func testServer(cmd Commander) (*Server, *fakeRefresher) {
	state := fakeState{
		"ctrl-1": {Device: poller.Device{Serial: "ctrl-1", Kind: poller.Controller}, Controller: &poller.ControllerState{
			Info: netro.Info{Serial: "ctrl-1", Status: netro.StatusOnline},
		}},
	}
	resolver := fakeResolver{
		"sensor-1/moisture": {Metric: "moisture", Value: 38, ObservedAt: time.Date(2026, time.June, 15, 8, 0, 0, 0, time.UTC)},
	}
	refresher := &fakeRefresher{}
	return New(state, cmd, resolver, map[string]Refresher{"ctrl-1": refresher}, slog.Default()), refresher
}

func TestServer_State(t *testing.T) {
	s, refresher := testServer(&fakeCommander{})

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"device list", http.MethodGet, "/api/devices", http.StatusOK, `"serial":"ctrl-1"`},
		{"device snapshot", http.MethodGet, "/api/devices/ctrl-1", http.StatusOK, `"status":"ONLINE"`},
		{"unknown device", http.MethodGet, "/api/devices/ctrl-9", http.StatusNotFound, ""},
		{"sensor reading", http.MethodGet, "/api/devices/sensor-1/readings/moisture", http.StatusOK, `"value":38`},
		{"reading out of window", http.MethodGet, "/api/devices/sensor-1/readings/sunlight", http.StatusNotFound, ""},
		{"refresh", http.MethodPost, "/api/devices/ctrl-1/refresh", http.StatusAccepted, ""},
		{"refresh unknown device", http.MethodPost, "/api/devices/ctrl-9/refresh", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			s.ServeHTTP(resp, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantBody != "" {
				assert.Contains(t, resp.Body.String(), tt.wantBody)
			}
		})
	}
	assert.Equal(t, int32(1), refresher.refreshed.Load())
}

func TestServer_Commands(t *testing.T) {
	cmd := fakeCommander{}
	s, _ := testServer(&cmd)

	tests := []struct {
		name       string
		path       string
		body       string
		wantCode   int
		wantAction string
	}{
		{"water", "/api/devices/ctrl-1/water", `{"duration": 5, "zones": [1]}`, http.StatusOK, "water"},
		{"water with start time", "/api/devices/ctrl-1/water", `{"startTime": "2026-06-16 06:00"}`, http.StatusOK, "water"},
		{"water with bad start time", "/api/devices/ctrl-1/water", `{"startTime": "6 am"}`, http.StatusBadRequest, ""},
		{"water with bad body", "/api/devices/ctrl-1/water", `not json`, http.StatusBadRequest, ""},
		{"stop", "/api/devices/ctrl-1/stop", ``, http.StatusOK, "stop_water"},
		{"enable", "/api/devices/ctrl-1/enable", ``, http.StatusOK, "enable"},
		{"disable", "/api/devices/ctrl-1/disable", ``, http.StatusOK, "disable"},
		{"nowater", "/api/devices/ctrl-1/nowater", `{"days": 7}`, http.StatusOK, "no_water"},
		{"moisture", "/api/devices/ctrl-1/moisture", `{"zone": 1, "moisture": 80}`, http.StatusOK, "set_moisture"},
		{"weather", "/api/devices/ctrl-1/weather", `{"date": "2026-06-15", "condition": "rain", "humidity": 65}`, http.StatusOK, "report_weather"},
		{"weather with bad date", "/api/devices/ctrl-1/weather", `{"date": "yesterday"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd.last = ""
			resp := httptest.NewRecorder()
			s.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantAction, cmd.last)
			if tt.wantCode == http.StatusOK {
				assert.Contains(t, resp.Body.String(), `"id":"cmd-1"`)
			}
		})
	}
}

func TestServer_CommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"unknown device", commander.ErrUnknownDevice, http.StatusNotFound},
		{"invalid request", commander.ErrInvalidRequest, http.StatusUnprocessableEntity},
		{"remote rejection", &netro.Error{Code: netro.ErrCodeParameterError, Message: "invalid zone"}, http.StatusUnprocessableEntity},
		{"quota exhausted", &netro.Error{Code: netro.ErrCodeExceedLimit, Message: "exceed limit"}, http.StatusBadGateway},
		{"server error", &netro.HTTPError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := testServer(&fakeCommander{err: tt.err})
			resp := httptest.NewRecorder()
			s.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/devices/ctrl-1/stop", nil))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}
