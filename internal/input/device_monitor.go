package input

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/hookd/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// DeviceMonitor watches the device directory for event nodes appearing and
// disappearing. The registry uses it to poll early instead of waiting for
// the next tick; it never changes the registry by itself.
type DeviceMonitor struct {
	inputDir string
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// DeviceChange represents a device node change
type DeviceChange struct {
	Type DeviceChangeType
	Path string
}

// DeviceChangeType represents the type of device change
type DeviceChangeType int

const (
	DeviceAdded DeviceChangeType = iota
	DeviceRemoved
)

func (t DeviceChangeType) String() string {
	if t == DeviceAdded {
		return "added"
	}
	return "removed"
}

// NewDeviceMonitor creates a monitor for dir
func NewDeviceMonitor(dir string) *DeviceMonitor {
	return &DeviceMonitor{inputDir: dir}
}

// Start begins watching. The callback runs on the monitor goroutine.
func (dm *DeviceMonitor) Start(ctx context.Context, callback func(DeviceChange)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dm.inputDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dm.inputDir, err)
	}
	dm.watcher = watcher

	ctx, dm.cancel = context.WithCancel(ctx)
	dm.wg.Add(1)
	go dm.run(ctx, callback)

	logger.Debug("Device monitor started", "dir", dm.inputDir)
	return nil
}

func (dm *DeviceMonitor) run(ctx context.Context, callback func(DeviceChange)) {
	defer dm.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Device monitor panic: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-dm.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(event.Name), "event") {
				continue
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				callback(DeviceChange{Type: DeviceAdded, Path: event.Name})
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				callback(DeviceChange{Type: DeviceRemoved, Path: event.Name})
			}
		case err, ok := <-dm.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Device monitor error", "error", err)
		}
	}
}

// Stop stops the device monitor
func (dm *DeviceMonitor) Stop() {
	if dm.cancel != nil {
		dm.cancel()
	}
	if dm.watcher != nil {
		dm.watcher.Close()
	}
	dm.wg.Wait()
	logger.Debug("Device monitor stopped")
}
