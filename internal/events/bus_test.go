package events

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Run()
	defer bus.Stop()

	ch := bus.Subscribe(100)
	defer bus.Unsubscribe(ch)

	evt := Event{
		Level:     LevelWarning,
		Message:   "dropped packet from unexpected source",
		Fields:    map[string]any{"mac": "00:11:22:33:44:55"},
		Timestamp: time.Now(),
	}

	bus.Publish(evt)

	select {
	case received := <-ch:
		if received.Level != LevelWarning {
			t.Errorf("received event level = %q, want %q", received.Level, LevelWarning)
		}
		if received.Fields["mac"] != "00:11:22:33:44:55" {
			t.Error("fields not preserved")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Run()
	defer bus.Stop()

	ch1 := bus.Subscribe(100)
	ch2 := bus.Subscribe(100)
	defer bus.Unsubscribe(ch1)
	defer bus.Unsubscribe(ch2)

	bus.Publish(Event{Level: LevelError, Message: "bind failed", Timestamp: time.Now()})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Level != LevelError {
				t.Errorf("event level = %q, want %q", e.Level, LevelError)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event on subscriber")
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Run()
	defer bus.Stop()

	ch := bus.Subscribe(100)
	bus.Unsubscribe(ch)

	// Publish after unsubscribe — should not block or panic.
	bus.Publish(Event{Level: LevelVerbose, Message: "ignoring non PXE packet", Timestamp: time.Now()})

	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("should not receive events after unsubscribe")
		}
	default:
		// Expected — channel closed or empty
	}
}

func TestBusNonBlocking(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(1, logger) // tiny buffer
	go bus.Run()
	defer bus.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Level: LevelVerbose, Message: "packet", Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked — event bus should be non-blocking")
	}

	if bus.Drops() == 0 {
		t.Error("expected some drops with a tiny buffer and 100 rapid publishes")
	}
}
