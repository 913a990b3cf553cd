package commander

import (
	"fmt"
	"time"

	"github.com/clambin/netro-monitor/internal/netro"
)

// validWeather checks a weather report before it is sent. The NPA only
// accepts reports for yesterday onwards, and rejects out-of-range readings
// with an opaque parameter error, so range violations are caught here with a
// usable message.
func validWeather(w netro.Weather, now time.Time) error {
	if w.Date.IsZero() {
		return fmt.Errorf("%w: weather report needs a date", ErrInvalidRequest)
	}
	// report dates are UTC midnights, so the bound is computed in UTC too
	yesterday := startOfDay(now.UTC()).AddDate(0, 0, -1)
	if w.Date.Before(yesterday) {
		return fmt.Errorf("%w: weather date %s is before yesterday", ErrInvalidRequest, w.Date.Format("2006-01-02"))
	}
	if w.Condition != "" && netro.ConditionCode(w.Condition) < 0 {
		return fmt.Errorf("%w: unknown weather condition %q", ErrInvalidRequest, w.Condition)
	}
	if w.Rain != nil && *w.Rain < 0 {
		return fmt.Errorf("%w: rain %.1f is negative", ErrInvalidRequest, *w.Rain)
	}
	for _, check := range []struct {
		name     string
		value    *float64
		min, max float64
	}{
		{"temp", w.Temp, -60, 60},
		{"t_min", w.TempMin, -60, 60},
		{"t_max", w.TempMax, -60, 60},
		{"t_dew", w.TempDew, -60, 60},
		{"wind_speed", w.WindSpeed, 0, 111},
		{"pressure", w.Pressure, 850, 1100},
	} {
		if check.value != nil && (*check.value < check.min || *check.value > check.max) {
			return fmt.Errorf("%w: %s %.1f outside [%.0f, %.0f]", ErrInvalidRequest, check.name, *check.value, check.min, check.max)
		}
	}
	for _, check := range []struct {
		name  string
		value *int
	}{
		{"rain_prob", w.RainProb},
		{"humidity", w.Humidity},
	} {
		if check.value != nil && (*check.value < 0 || *check.value > 100) {
			return fmt.Errorf("%w: %s %d outside [0, 100]", ErrInvalidRequest, check.name, *check.value)
		}
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
