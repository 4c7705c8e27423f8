package input

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/hookd/internal/logger"
	"golang.org/x/sys/unix"
)

// eventSink receives what the multiplexer reads. All calls for one device
// happen on one goroutine, in read order.
type eventSink interface {
	deliver(dev *Device, ev Event)
	deviceGone(dev *Device, err error)
	deviceFailed(dev *Device, recovered interface{})
}

// Multiplexer waits on a set of devices with epoll and reads whichever is
// ready. Its goroutine starts with the first Add and exits once the set is
// empty; the wait timeout bounds how long a removal takes to be noticed.
type Multiplexer struct {
	name    string
	timeout time.Duration
	sink    eventSink
	epfd    int

	mu      sync.Mutex
	devices map[int32]*Device
	running bool
	closed  bool
	done    chan struct{}
}

// NewMultiplexer creates an idle multiplexer
func NewMultiplexer(name string, timeout time.Duration, sink eventSink) (*Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	done := make(chan struct{})
	close(done)
	return &Multiplexer{
		name:    name,
		timeout: timeout,
		sink:    sink,
		epfd:    epfd,
		devices: make(map[int32]*Device),
		done:    done,
	}, nil
}

// Add starts watching dev, starting the read loop if it is not running
func (m *Multiplexer) Add(dev *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrPipelineClosed
	}
	fd := int32(dev.Fd())
	if cur, ok := m.devices[fd]; ok {
		if cur == dev {
			return nil
		}
		// the descriptor was reused after cur was closed
		m.removeLocked(cur)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: fd}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll add %s: %w", dev.Path(), err)
	}
	m.devices[fd] = dev

	if !m.running {
		m.running = true
		m.done = make(chan struct{})
		go m.loop()
		logger.Debug("Multiplexer started", "group", m.name)
	}
	return nil
}

// Remove stops watching dev. It is a no-op for unknown devices.
func (m *Multiplexer) Remove(dev *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(dev)
}

func (m *Multiplexer) removeLocked(dev *Device) {
	fd := int32(dev.Fd())
	if cur, ok := m.devices[fd]; !ok || cur != dev {
		return
	}
	delete(m.devices, fd)
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil &&
		!errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		logger.Debug("epoll del failed", "device", dev.Path(), "error", err)
	}
}

// Has reports whether dev is being watched
func (m *Multiplexer) Has(dev *Device) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.devices[int32(dev.Fd())]
	return ok && cur == dev
}

// Len returns the number of watched devices
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

// Running reports whether the read loop goroutine is alive
func (m *Multiplexer) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Done is closed when the current read loop exits
func (m *Multiplexer) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Multiplexer) loop() {
	events := make([]unix.EpollEvent, 32)
	timeoutMs := int(m.timeout / time.Millisecond)
	if timeoutMs < 1 {
		timeoutMs = 1
	}

	for {
		m.mu.Lock()
		if len(m.devices) == 0 {
			m.running = false
			close(m.done)
			m.mu.Unlock()
			logger.Debug("Multiplexer idle", "group", m.name)
			return
		}
		m.mu.Unlock()

		n, err := unix.EpollWait(m.epfd, events, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logger.Error("epoll wait failed", "group", m.name, "error", err)
			time.Sleep(m.timeout)
			continue
		}

		for i := 0; i < n; i++ {
			m.mu.Lock()
			dev := m.devices[events[i].Fd]
			m.mu.Unlock()
			if dev == nil {
				continue
			}
			m.service(dev)
		}
	}
}

func (m *Multiplexer) service(dev *Device) {
	defer func() {
		if r := recover(); r != nil {
			m.Remove(dev)
			m.sink.deviceFailed(dev, r)
		}
	}()

	events, err := dev.ReadAndDecode()
	if err != nil {
		if errors.Is(err, ErrDeviceGone) {
			m.Remove(dev)
			m.sink.deviceGone(dev, err)
			return
		}
		logger.Warn("Read failed", "device", dev.Path(), "error", err)
		return
	}
	for _, ev := range events {
		m.sink.deliver(dev, ev)
	}
}

// Close removes every device, waits for the loop and closes the epoll fd
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, dev := range m.devices {
		m.removeLocked(dev)
	}
	done := m.done
	m.mu.Unlock()

	<-done
	return unix.Close(m.epfd)
}
