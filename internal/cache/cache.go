// Package cache holds the last known snapshot per device. Snapshots never
// expire: with a polled, quota-limited upstream, stale data beats no data.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clambin/netro-monitor/internal/poller"
	"golang.org/x/sync/errgroup"
)

// An UpdateSource delivers device snapshots. Each poller is one.
type UpdateSource interface {
	Device() poller.Device
	Subscribe() chan poller.Update
	Unsubscribe(ch chan poller.Update)
}

// Cache collects updates from all pollers and serves the latest snapshot per
// device. Each device has a single writer (its poller's fan-in goroutine);
// readers are unrestricted.
type Cache struct {
	sources []UpdateSource
	logger  *slog.Logger

	lock    sync.RWMutex
	entries map[string]poller.Update
}

// New returns a Cache fed by the given sources.
func New(logger *slog.Logger, sources ...UpdateSource) *Cache {
	return &Cache{
		sources: sources,
		logger:  logger,
		entries: make(map[string]poller.Update),
	}
}

// Run consumes updates until ctx is canceled.
func (c *Cache) Run(ctx context.Context) error {
	c.logger.Debug("started")
	defer c.logger.Debug("stopped")

	var g errgroup.Group
	for _, source := range c.sources {
		g.Go(func() error {
			ch := source.Subscribe()
			defer source.Unsubscribe(ch)
			for {
				select {
				case <-ctx.Done():
					return nil
				case update := <-ch:
					c.Put(update)
				}
			}
		})
	}
	return g.Wait()
}

// Put stores the snapshot for its device.
func (c *Cache) Put(update poller.Update) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.entries[update.Device.Serial] = update
}

// Get returns the last known snapshot for the device, if there is one.
func (c *Cache) Get(serial string) (poller.Update, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	update, ok := c.entries[serial]
	return update, ok
}

// DeviceStatus summarizes a device's snapshot freshness.
type DeviceStatus struct {
	Serial    string        `json:"serial"`
	Name      string        `json:"name"`
	Kind      poller.Kind   `json:"kind"`
	FetchedAt time.Time     `json:"fetchedAt"`
	Age       time.Duration `json:"age"`
}

// Devices returns a status line per configured device, including devices
// that have not reported yet, ordered by serial.
func (c *Cache) Devices() []DeviceStatus {
	now := time.Now()
	c.lock.RLock()
	defer c.lock.RUnlock()

	statuses := make([]DeviceStatus, 0, len(c.sources))
	for _, source := range c.sources {
		device := source.Device()
		status := DeviceStatus{Serial: device.Serial, Name: device.Name, Kind: device.Kind}
		if update, ok := c.entries[device.Serial]; ok {
			status.FetchedAt = update.FetchedAt
			status.Age = update.Age(now)
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Serial < statuses[j].Serial })
	return statuses
}
