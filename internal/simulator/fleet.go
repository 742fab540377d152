package simulator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/logging"
)

// New creates a simulator of the given archetype.
func New(deviceType string, cfg Config) (Device, error) {
	switch deviceType {
	case "button":
		return NewButton(cfg), nil
	case "wearable":
		return NewWearable(cfg), nil
	case "repeater":
		return NewRepeater(cfg), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, deviceType)
}

// Fleet is a collection of independently owned devices. It never shares
// a scheduler between them: starting, stopping and failing are per
// device, and a fleet operation just fans out.
type Fleet struct {
	maxSize int
	logger  *logging.Logger

	mu      sync.Mutex
	devices map[string]Device
}

// NewFleet creates an empty fleet. maxSize <= 0 means unbounded.
func NewFleet(maxSize int, logger *logging.Logger) *Fleet {
	if logger == nil {
		logger = logging.Default()
	}
	return &Fleet{
		maxSize: maxSize,
		logger:  logger.With("component", "fleet"),
		devices: make(map[string]Device),
	}
}

// Add registers a device under its ID without starting it.
func (f *Fleet) Add(dev Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxSize > 0 && len(f.devices) >= f.maxSize {
		return fmt.Errorf("%w: %d devices", ErrFleetFull, f.maxSize)
	}
	id := dev.ID()
	if _, exists := f.devices[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, id)
	}
	f.devices[id] = dev
	return nil
}

// Get returns a device by ID.
func (f *Fleet) Get(id string) (Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return dev, nil
}

// Remove stops a device and drops it from the fleet.
func (f *Fleet) Remove(id string) error {
	f.mu.Lock()
	dev, ok := f.devices[id]
	if ok {
		delete(f.devices, id)
	}
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	dev.Stop()
	return nil
}

// Size returns the number of devices in the fleet.
func (f *Fleet) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

// Statuses returns a snapshot of every device, ordered by ID.
func (f *Fleet) Statuses() []Status {
	f.mu.Lock()
	devices := make([]Device, 0, len(f.devices))
	for _, dev := range f.devices {
		devices = append(devices, dev)
	}
	f.mu.Unlock()

	statuses := make([]Status, 0, len(devices))
	for _, dev := range devices {
		statuses = append(statuses, dev.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].DeviceID < statuses[j].DeviceID
	})
	return statuses
}

// StartAll starts every device concurrently and returns the first
// error, stopping the devices that did start if any failed. A claim
// rejection on one unprovisioned device therefore aborts the whole
// start, which is what a load-test harness wants.
func (f *Fleet) StartAll(ctx context.Context) error {
	f.mu.Lock()
	devices := make([]Device, 0, len(f.devices))
	for _, dev := range f.devices {
		devices = append(devices, dev)
	}
	f.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			if err := dev.Start(ctx); err != nil {
				return fmt.Errorf("starting %s: %w", dev.ID(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		f.StopAll()
		return err
	}
	f.logger.Info("fleet started", "devices", len(devices))
	return nil
}

// StopAll stops every device, waiting for each loop to wind down.
func (f *Fleet) StopAll() {
	f.mu.Lock()
	devices := make([]Device, 0, len(f.devices))
	for _, dev := range f.devices {
		devices = append(devices, dev)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, dev := range devices {
		dev := dev
		wg.Add(1)
		go func() {
			defer wg.Done()
			dev.Stop()
		}()
	}
	wg.Wait()
	f.logger.Info("fleet stopped", "devices", len(devices))
}
