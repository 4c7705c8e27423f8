package daemon

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bnema/hookd/internal/logger"
)

// DefaultReleaseFile is the file whose presence forces a release
const DefaultReleaseFile = "/tmp/hookd-release"

// releaseCooldown swallows repeated triggers, e.g. a signal and the file at once
const releaseCooldown = 2 * time.Second

// EmergencyRelease stops every hook when the user asks for it out of band:
// SIGUSR1, or touching the release file. Both work when the keyboard is
// grabbed and the control socket is unreachable.
type EmergencyRelease struct {
	release   func(reason string) error
	file      string
	interval  time.Duration
	signals   chan os.Signal
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	lastFired time.Time
	fired     int
}

// NewEmergencyRelease creates a handler that calls release. An empty file
// means DefaultReleaseFile.
func NewEmergencyRelease(release func(reason string) error, file string) *EmergencyRelease {
	if file == "" {
		file = DefaultReleaseFile
	}
	return &EmergencyRelease{
		release:  release,
		file:     file,
		interval: time.Second,
		signals:  make(chan os.Signal, 1),
		stopChan: make(chan struct{}),
	}
}

// Start begins watching for the signal and the release file
func (er *EmergencyRelease) Start() {
	signal.Notify(er.signals, syscall.SIGUSR1)

	er.wg.Add(2)
	go er.handleSignals()
	go er.monitorFile()

	logger.Info("Emergency release armed", "signal", "SIGUSR1", "file", er.file)
}

// Stop stops watching and waits for the watchers to exit
func (er *EmergencyRelease) Stop() {
	er.stopOnce.Do(func() {
		signal.Stop(er.signals)
		close(er.stopChan)
	})
	er.wg.Wait()
}

// Fired returns how many releases were performed
func (er *EmergencyRelease) Fired() int {
	er.mu.Lock()
	defer er.mu.Unlock()
	return er.fired
}

func (er *EmergencyRelease) handleSignals() {
	defer er.wg.Done()
	for {
		select {
		case <-er.signals:
			logger.Warn("SIGUSR1 received, releasing all devices")
			er.trigger("signal")
		case <-er.stopChan:
			return
		}
	}
}

func (er *EmergencyRelease) monitorFile() {
	defer er.wg.Done()
	ticker := time.NewTicker(er.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := os.Stat(er.file); err != nil {
				continue
			}
			logger.Warn("Release file found, releasing all devices", "file", er.file)
			if err := os.Remove(er.file); err != nil {
				logger.Warn("Failed to remove release file", "file", er.file, "error", err)
			}
			er.trigger("file")
		case <-er.stopChan:
			return
		}
	}
}

func (er *EmergencyRelease) trigger(reason string) {
	er.mu.Lock()
	if !er.lastFired.IsZero() && time.Since(er.lastFired) < releaseCooldown {
		er.mu.Unlock()
		logger.Debug("Emergency release in cooldown", "reason", reason)
		return
	}
	er.lastFired = time.Now()
	er.fired++
	er.mu.Unlock()

	if err := er.release("emergency " + reason); err != nil {
		logger.Error("Emergency release failed", "reason", reason, "error", err)
	}
}
