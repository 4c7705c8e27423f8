// Package input reads evdev devices, dispatches decoded events to hooks and
// reinjects the events hooks let through.
package input

import (
	"errors"
	"io"
	"os"
	"syscall"
)

var (
	// ErrGrabbedElsewhere is returned when another process holds the device grab
	ErrGrabbedElsewhere = errors.New("device is grabbed by another process")
	// ErrDeviceGone is returned when a device disappeared while being read
	ErrDeviceGone = errors.New("device is gone")
	// ErrNoDevices is returned when enumeration yields no usable device
	ErrNoDevices = errors.New("no input devices found")
	// ErrHookActive is returned when starting a hook that is already running
	ErrHookActive = errors.New("hook is already active")
	// ErrHookInactive is returned when stopping a hook that is not running
	ErrHookInactive = errors.New("hook is not active")
	// ErrReinjectorConflict is returned when a second reinjecting hook starts for one kind
	ErrReinjectorConflict = errors.New("another reinjecting hook is active for this kind")
	// ErrReinjectPanic is reported by Join when a reinject function panicked
	ErrReinjectPanic = errors.New("reinject function panicked")
	// ErrDeviceFault is reported by Join when the hook was torn down by a device failure
	ErrDeviceFault = errors.New("device processing failed")
	// ErrTargetUnavailable is returned when a required virtual output cannot be used
	ErrTargetUnavailable = errors.New("virtual output unavailable")
	// ErrUnknownBackend is returned for names missing from the dispatch tables
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrUnknownKey is returned for key names with no evdev code
	ErrUnknownKey = errors.New("unknown key name")
	// ErrAliasCycle is returned when alias resolution loops
	ErrAliasCycle = errors.New("alias cycle")
	// ErrPipelineClosed is returned when operating on a closed pipeline
	ErrPipelineClosed = errors.New("pipeline is closed")
)

// isGoneError reports read errors that mean the device node went away
func isGoneError(err error) bool {
	return errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, syscall.EBADF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}

func isWouldBlockError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
