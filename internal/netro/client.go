// Package netro implements a client for the Netro Public API (NPA).
//
// The NPA is a plain request/response JSON API, keyed by device serial
// number. There is no push mechanism: state is obtained by polling, and every
// call counts against a daily per-device quota that is reported back in the
// Meta section of each response and reset at midnight UTC.
//
// See https://www.netrohome.com/en/shop/articles/10 for the API description.
package netro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultURL is the production NPA endpoint.
const DefaultURL = "https://api.netrohome.com/npa/v1/"

// NPA endpoints.
const (
	endpointInfo          = "info.json"
	endpointSchedules     = "schedules.json"
	endpointMoistures     = "moistures.json"
	endpointSensorData    = "sensor_data.json"
	endpointEvents        = "events.json"
	endpointWater         = "water.json"
	endpointStopWater     = "stop_water.json"
	endpointNoWater       = "no_water.json"
	endpointSetStatus     = "set_status.json"
	endpointSetMoisture   = "set_moisture.json"
	endpointReportWeather = "report_weather.json"
)

// Client calls the NPA. One Client serves any number of devices: the device
// serial is passed per call as the NPA "key" parameter.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a Client for the given NPA url. If url is empty, the production
// endpoint is used.
func New(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, HTTPClient: httpClient}
}

// GetInfo returns the device report (controller status, zones, battery).
func (c *Client) GetInfo(ctx context.Context, serial string) (Info, Meta, error) {
	var data struct {
		Device Info `json:"device"`
	}
	meta, err := c.get(ctx, endpointInfo, url.Values{"key": {serial}}, &data)
	return data.Device, meta, err
}

// GetSchedules returns the controller's watering runs between start and end
// (inclusive calendar dates). Zero dates leave the corresponding bound open.
func (c *Client) GetSchedules(ctx context.Context, serial string, start, end time.Time) ([]Schedule, Meta, error) {
	params := url.Values{"key": {serial}}
	addDate(params, "start_date", start)
	addDate(params, "end_date", end)
	var data struct {
		Schedules []Schedule `json:"schedules"`
	}
	meta, err := c.get(ctx, endpointSchedules, params, &data)
	return data.Schedules, meta, err
}

// GetMoistures returns per-zone moisture reports for the controller.
func (c *Client) GetMoistures(ctx context.Context, serial string) ([]Moisture, Meta, error) {
	var data struct {
		Moistures []Moisture `json:"moistures"`
	}
	meta, err := c.get(ctx, endpointMoistures, url.Values{"key": {serial}}, &data)
	return data.Moistures, meta, err
}

// GetSensorData returns soil sensor samples between start and end, most
// recent first.
func (c *Client) GetSensorData(ctx context.Context, serial string, start, end time.Time) ([]SensorData, Meta, error) {
	params := url.Values{"key": {serial}}
	addDate(params, "start_date", start)
	addDate(params, "end_date", end)
	var data struct {
		SensorData []SensorData `json:"sensor_data"`
	}
	meta, err := c.get(ctx, endpointSensorData, params, &data)
	return data.SensorData, meta, err
}

// GetEvents returns device events between start and end.
func (c *Client) GetEvents(ctx context.Context, serial string, start, end time.Time) ([]Event, Meta, error) {
	params := url.Values{"key": {serial}}
	addDate(params, "start_date", start)
	addDate(params, "end_date", end)
	var data struct {
		Events []Event `json:"events"`
	}
	meta, err := c.get(ctx, endpointEvents, params, &data)
	return data.Events, meta, err
}

// Water starts watering for duration minutes. A nil zones slice waters all
// zones consecutively. delay postpones the start by whole minutes, startTime
// schedules it at a wall-clock time; the NPA treats them as alternatives.
func (c *Client) Water(ctx context.Context, serial string, duration int, zones []int, delay int, startTime time.Time) (Meta, error) {
	form := url.Values{
		"key":      {serial},
		"duration": {strconv.Itoa(duration)},
	}
	if len(zones) > 0 {
		form.Set("zones", zoneList(zones))
	}
	if delay > 0 {
		form.Set("delay", strconv.Itoa(delay))
	}
	if !startTime.IsZero() {
		form.Set("start_time", startTime.Format("2006-01-02 15:04"))
	}
	return c.post(ctx, endpointWater, form, nil)
}

// StopWater stops all currently watering zones of the controller.
func (c *Client) StopWater(ctx context.Context, serial string) (Meta, error) {
	return c.post(ctx, endpointStopWater, url.Values{"key": {serial}}, nil)
}

// NoWater suspends all watering for the given number of days.
func (c *Client) NoWater(ctx context.Context, serial string, days int) (Meta, error) {
	form := url.Values{
		"key":  {serial},
		"days": {strconv.Itoa(days)},
	}
	return c.post(ctx, endpointNoWater, form, nil)
}

// SetStatus enables (true) or disables (false) the controller.
func (c *Client) SetStatus(ctx context.Context, serial string, enabled bool) (Meta, error) {
	status := "0"
	if enabled {
		status = "1"
	}
	form := url.Values{
		"key":    {serial},
		"status": {status},
	}
	return c.post(ctx, endpointSetStatus, form, nil)
}

// SetMoisture overrides the reported moisture percentage for the given zones
// (all zones if nil).
func (c *Client) SetMoisture(ctx context.Context, serial string, moisture int, zones []int) (Meta, error) {
	form := url.Values{
		"key":      {serial},
		"moisture": {strconv.Itoa(moisture)},
	}
	if len(zones) > 0 {
		form.Set("zones", zoneList(zones))
	}
	return c.post(ctx, endpointSetMoisture, form, nil)
}

// ReportWeather pushes observed or forecast weather for a date.
func (c *Client) ReportWeather(ctx context.Context, serial string, w Weather) (Meta, error) {
	form := url.Values{
		"key":  {serial},
		"date": {w.Date.Format("2006-01-02")},
	}
	if w.Condition != "" {
		form.Set("condition", strconv.Itoa(ConditionCode(w.Condition)))
	}
	setFloat(form, "rain", w.Rain)
	setInt(form, "rain_prob", w.RainProb)
	setFloat(form, "temp", w.Temp)
	setFloat(form, "t_min", w.TempMin)
	setFloat(form, "t_max", w.TempMax)
	setFloat(form, "t_dew", w.TempDew)
	setFloat(form, "wind_speed", w.WindSpeed)
	setInt(form, "humidity", w.Humidity)
	setFloat(form, "pressure", w.Pressure)
	return c.post(ctx, endpointReportWeather, form, nil)
}

type envelope struct {
	Status string          `json:"status"`
	Meta   Meta            `json:"meta"`
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors"`
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, result any) (Meta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Meta{}, fmt.Errorf("netro: %s: %w", endpoint, err)
	}
	return c.do(req, endpoint, result)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, result any) (Meta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Meta{}, fmt.Errorf("netro: %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, endpoint, result)
}

func (c *Client) do(req *http.Request, endpoint string, result any) (Meta, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Meta{}, fmt.Errorf("netro: %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Meta{}, fmt.Errorf("netro: %s: %w", endpoint, err)
	}

	// the NPA reports application errors in the body, regardless of the HTTP
	// status code
	var env envelope
	if err = json.Unmarshal(body, &env); err == nil && env.Status == "ERROR" && len(env.Errors) > 0 {
		return env.Meta, &env.Errors[0]
	}
	if resp.StatusCode != http.StatusOK {
		return env.Meta, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if err != nil {
		return Meta{}, fmt.Errorf("netro: %s: %w", endpoint, err)
	}
	if result != nil {
		if err = json.Unmarshal(env.Data, result); err != nil {
			return env.Meta, fmt.Errorf("netro: %s: %w", endpoint, err)
		}
	}
	return env.Meta, nil
}

func addDate(params url.Values, name string, date time.Time) {
	if !date.IsZero() {
		params.Set(name, date.Format("2006-01-02"))
	}
}

func zoneList(zones []int) string {
	ids := make([]string, len(zones))
	for i, zone := range zones {
		ids[i] = strconv.Itoa(zone)
	}
	return "[" + strings.Join(ids, ",") + "]"
}

func setFloat(form url.Values, name string, value *float64) {
	if value != nil {
		form.Set(name, strconv.FormatFloat(*value, 'f', -1, 64))
	}
}

func setInt(form url.Values, name string, value *int) {
	if value != nil {
		form.Set(name, strconv.Itoa(*value))
	}
}
