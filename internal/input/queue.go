package input

import (
	"sync"

	"github.com/bnema/hookd/internal/logger"
)

type queueItem struct {
	dev *Device
	ev  Event
}

// QueueReader is the single consumer of decoded events. Every callback runs
// on its goroutine, so callbacks never race each other and see events in
// the order the multiplexers read them.
type QueueReader struct {
	ch       chan queueItem
	dispatch func(dev *Device, ev Event)

	mu      sync.Mutex
	running bool
	closing chan struct{}
	done    chan struct{}
}

// NewQueueReader creates a stopped reader with a buffer of size items
func NewQueueReader(size int, dispatch func(dev *Device, ev Event)) *QueueReader {
	if size <= 0 {
		size = 4096
	}
	return &QueueReader{
		ch:       make(chan queueItem, size),
		dispatch: dispatch,
		closing:  make(chan struct{}),
	}
}

// Start launches the reader goroutine if it is not running
func (q *QueueReader) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	select {
	case <-q.closing:
		return
	default:
	}
	q.running = true
	q.done = make(chan struct{})
	go q.loop(q.done)
}

// Running reports whether the reader goroutine is alive
func (q *QueueReader) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Push enqueues an event, blocking while the buffer is full. Events pushed
// after Close are dropped.
func (q *QueueReader) Push(dev *Device, ev Event) {
	select {
	case q.ch <- queueItem{dev: dev, ev: ev}:
	case <-q.closing:
	}
}

// Len returns the number of queued events
func (q *QueueReader) Len() int {
	return len(q.ch)
}

func (q *QueueReader) loop(done chan struct{}) {
	defer close(done)
	for {
		select {
		case item := <-q.ch:
			q.safeDispatch(item)
		case <-q.closing:
			q.drain()
			return
		}
	}
}

func (q *QueueReader) drain() {
	for {
		select {
		case item := <-q.ch:
			q.safeDispatch(item)
		default:
			return
		}
	}
}

func (q *QueueReader) safeDispatch(item queueItem) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event dispatch panicked", "device", item.dev.Path(), "event", item.ev, "panic", r)
		}
	}()
	q.dispatch(item.dev, item.ev)
}

// Close dispatches what is queued and stops the reader
func (q *QueueReader) Close() {
	q.mu.Lock()
	select {
	case <-q.closing:
		q.mu.Unlock()
		return
	default:
	}
	close(q.closing)
	running, done := q.running, q.done
	q.running = false
	q.mu.Unlock()

	if running {
		<-done
	}
}
