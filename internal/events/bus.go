package events

import (
	"log/slog"
	"sync"

	"github.com/netboot/pxebootd/internal/metrics"
)

// Bus is a non-blocking event bus that fans out events to subscribers.
// The event channel is buffered — if full, events are dropped with a
// warning, never blocking the packet handler that published them.
type Bus struct {
	ch          chan Event
	subscribers []chan Event
	mu          sync.RWMutex
	logger      *slog.Logger
	done        chan struct{}
	closeOnce   sync.Once

	dropsMu sync.Mutex
	drops   uint64
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Bus{
		ch:     make(chan Event, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Run dispatches events to subscribers until Stop is called. Call in a
// goroutine.
func (b *Bus) Run() {
	for {
		select {
		case evt, ok := <-b.ch:
			if !ok {
				return
			}
			b.dispatch(evt)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- evt:
		default:
			b.dropsMu.Lock()
			b.drops++
			b.dropsMu.Unlock()
			b.logger.Warn("subscriber event buffer full, dropping event", "level", string(evt.Level))
		}
	}
}

// Stop shuts down the event bus. Safe to call more than once.
func (b *Bus) Stop() {
	b.closeOnce.Do(func() {
		close(b.done)
		close(b.ch)
	})
}

// Publish sends an event to the bus. Non-blocking — drops if the buffer is
// full rather than stalling the DHCP/TFTP handler that raised it.
func (b *Bus) Publish(evt Event) {
	metrics.EventsPublished.WithLabelValues(string(evt.Level)).Inc()
	select {
	case b.ch <- evt:
	default:
		b.dropsMu.Lock()
		b.drops++
		total := b.drops
		b.dropsMu.Unlock()
		metrics.EventBufferDrops.Inc()
		b.logger.Warn("event bus buffer full, dropping event", "level", string(evt.Level), "total_drops", total)
	}
}

// Subscribe returns a new channel that receives every event published
// after this call. The caller must drain it to avoid drops.
func (b *Bus) Subscribe(bufferSize int) chan Event {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ch := make(chan Event, bufferSize)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Drops returns the total number of events dropped for lack of buffer room.
func (b *Bus) Drops() uint64 {
	b.dropsMu.Lock()
	defer b.dropsMu.Unlock()
	return b.drops
}
