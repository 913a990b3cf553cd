// Package slowdown stretches a controller's poll interval during configured
// time-of-day windows. The NPA limits each device to a fixed number of calls
// per day, so polling every few minutes around the clock would burn the
// budget on hours where nothing happens; a slowdown window multiplies the
// base interval during those hours.
package slowdown

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidWindow = errors.New("invalid slowdown window")

// A Window multiplies the poll interval by Factor between From and To. A
// window with From after To spans midnight.
type Window struct {
	From   time.Duration
	To     time.Duration
	Factor int
}

// contains reports whether the time-of-day offset falls inside the window.
// The lower bound is inclusive, the upper bound exclusive.
func (w Window) contains(offset time.Duration) bool {
	if w.From > w.To {
		return offset >= w.From || offset < w.To
	}
	return w.From <= offset && offset < w.To
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s x%d", formatClock(w.From), formatClock(w.To), w.Factor)
}

// Factors is an ordered list of windows. Evaluation is first match wins.
type Factors []Window

// Multiplier returns the factor applicable at t, or 1 if t falls outside all
// windows. It must be called on every scheduling decision: the result is only
// valid for the instant it was computed for.
func (f Factors) Multiplier(t time.Time) int {
	offset := timeOfDay(t)
	for _, w := range f {
		if w.contains(offset) {
			return w.Factor
		}
	}
	return 1
}

// Validate rejects factors below 1 and overlapping windows. Overlap is a
// configuration error: which factor would apply depends on configuration
// order, which is too easy to get wrong silently.
func (f Factors) Validate() error {
	for i, w := range f {
		if w.Factor < 1 {
			return fmt.Errorf("%w: window %s: factor must be at least 1", ErrInvalidWindow, w)
		}
		if w.From == w.To {
			return fmt.Errorf("%w: window %s: empty range", ErrInvalidWindow, w)
		}
		for j := i + 1; j < len(f); j++ {
			if w.overlaps(f[j]) {
				return fmt.Errorf("%w: windows %s and %s overlap", ErrInvalidWindow, w, f[j])
			}
		}
	}
	return nil
}

func (w Window) overlaps(other Window) bool {
	for _, a := range w.segments() {
		for _, b := range other.segments() {
			if a.from < b.to && b.from < a.to {
				return true
			}
		}
	}
	return false
}

type segment struct{ from, to time.Duration }

// segments splits a midnight-crossing window in two so overlap checks can
// work on plain half-open intervals.
func (w Window) segments() []segment {
	if w.From > w.To {
		return []segment{{w.From, 24 * time.Hour}, {0, w.To}}
	}
	return []segment{{w.From, w.To}}
}

// ParseWindow builds a Window from "HH:MM" (or "HH:MM:SS") bounds.
func ParseWindow(from, to string, factor int) (Window, error) {
	f, err := parseClock(from)
	if err != nil {
		return Window{}, fmt.Errorf("%w: from %q: %w", ErrInvalidWindow, from, err)
	}
	t, err := parseClock(to)
	if err != nil {
		return Window{}, fmt.Errorf("%w: to %q: %w", ErrInvalidWindow, to, err)
	}
	return Window{From: f, To: t, Factor: factor}, nil
}

// WindowConfig is the configuration file form of a Window.
type WindowConfig struct {
	From string `mapstructure:"from" yaml:"from"`
	To   string `mapstructure:"to" yaml:"to"`
	SDF  int    `mapstructure:"sdf" yaml:"sdf"`
}

// Load parses and validates a configured list of windows.
func Load(cfgs []WindowConfig) (Factors, error) {
	factors := make(Factors, 0, len(cfgs))
	for _, cfg := range cfgs {
		w, err := ParseWindow(cfg.From, cfg.To, cfg.SDF)
		if err != nil {
			return nil, err
		}
		factors = append(factors, w)
	}
	if err := factors.Validate(); err != nil {
		return nil, err
	}
	return factors, nil
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func parseClock(s string) (time.Duration, error) {
	fields := strings.Split(s, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, errors.New("expected HH:MM or HH:MM:SS")
	}
	var parts [3]int
	for i, field := range fields {
		value, err := strconv.Atoi(field)
		if err != nil {
			return 0, err
		}
		parts[i] = value
	}
	offset := time.Duration(parts[0])*time.Hour +
		time.Duration(parts[1])*time.Minute +
		time.Duration(parts[2])*time.Second
	if parts[1] > 59 || parts[2] > 59 || offset < 0 || offset >= 24*time.Hour {
		return 0, errors.New("out of range")
	}
	return offset, nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
