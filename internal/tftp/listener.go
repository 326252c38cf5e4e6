package tftp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/netboot/pxebootd/internal/events"
)

// minRequestSize is the smallest legal RRQ datagram: 2-byte opcode plus
// two single-character NUL-terminated strings (spec.md §4.3 step 1).
const minRequestSize = 6

// Listener receives TFTP request datagrams on UDP/69, validates them, and
// spawns a Transfer per valid RRQ. Grounded on
// original_source/tftpserver.cpp's TFTPServer::OnPacketReceived.
type Listener struct {
	conn       *net.UDPConn
	logger     *slog.Logger
	bus        *events.Bus
	serverRoot string

	mu        sync.Mutex
	transfers map[string]*Transfer
	nextID    uint64
	wg        sync.WaitGroup
	done      chan struct{}
}

// NewListener creates a TFTP request listener serving files under
// serverRoot.
func NewListener(serverRoot string, logger *slog.Logger, bus *events.Bus) *Listener {
	return &Listener{
		logger:     logger,
		bus:        bus,
		serverRoot: serverRoot,
		transfers:  make(map[string]*Transfer),
		done:       make(chan struct{}),
	}
}

// Wait blocks until ctx is cancelled, then stops the listener and every
// in-flight transfer. Intended to be handed to an errgroup.Group after
// Start has already succeeded, so a sibling's fatal error cancels this
// listener too (SPEC_FULL.md §5).
func (l *Listener) Wait(ctx context.Context) error {
	<-ctx.Done()
	l.Stop()
	return nil
}

// Run binds UDP/69 and serves until ctx is cancelled, for standalone
// callers (e.g. tests) that don't need the Start/Wait split an
// errgroup-based caller uses.
func (l *Listener) Run(ctx context.Context, listen string) error {
	if err := l.Start(ctx, listen); err != nil {
		return err
	}
	return l.Wait(ctx)
}

// Start binds UDP/69 and begins serving.
func (l *Listener) Start(ctx context.Context, listen string) error {
	addr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return fmt.Errorf("resolving tftp listen address %s: %w", listen, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listen, err)
	}
	l.conn = conn
	l.logger.Info("tftp listener started", "listen", listen, "root", l.serverRoot)

	l.wg.Add(1)
	go l.serve(ctx)
	return nil
}

func (l *Listener) serve(ctx context.Context) {
	defer l.wg.Done()

	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		default:
		}

		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			l.logger.Error("reading tftp request", "error", err)
			continue
		}

		l.handleRequest(ctx, src, append([]byte(nil), buf[:n]...))
	}
}

// handleRequest implements spec.md §4.3: it never replies on UDP/69
// itself, only by spawning a Transfer bound to its own ephemeral socket.
func (l *Listener) handleRequest(ctx context.Context, src *net.UDPAddr, data []byte) {
	if len(data) < minRequestSize {
		l.publish(events.LevelWarning, "dropping undersized tftp request", map[string]any{
			"src": src.String(), "len": len(data),
		})
		return
	}

	opcode := Opcode(binary.BigEndian.Uint16(data[0:2]))
	strs := splitNulTerminated(data[2:])
	if len(strs) < 2 {
		l.publish(events.LevelVerbose, "malformed tftp request, missing filename or mode", map[string]any{
			"src": src.String(),
		})
		return
	}

	key := fmt.Sprintf("%s-%d", src.String(), l.nextTransferID())
	xfer, err := newTransfer(src, l.bus, func() { l.removeTransfer(key) })
	if err != nil {
		l.logger.Error("failed to start tftp transfer", "src", src.String(), "error", err)
		return
	}

	l.mu.Lock()
	l.transfers[key] = xfer
	l.mu.Unlock()

	if err := xfer.Start(ctx, l.serverRoot, opcode, strs); err != nil {
		l.logger.Error("tftp transfer start failed", "src", src.String(), "error", err)
		l.removeTransfer(key)
	}
}

func (l *Listener) nextTransferID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return l.nextID
}

func (l *Listener) removeTransfer(key string) {
	l.mu.Lock()
	delete(l.transfers, key)
	l.mu.Unlock()
}

// Stop shuts down the listener and every in-flight transfer.
func (l *Listener) Stop() {
	close(l.done)
	if l.conn != nil {
		l.conn.Close()
	}
	l.wg.Wait()

	l.mu.Lock()
	for _, xfer := range l.transfers {
		xfer.conn.Close()
	}
	l.transfers = make(map[string]*Transfer)
	l.mu.Unlock()

	l.logger.Info("tftp listener stopped")
}

// Addr returns the listener's bound local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// ActiveTransfers returns the number of in-flight transfers.
func (l *Listener) ActiveTransfers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transfers)
}

func (l *Listener) publish(level events.Level, msg string, fields map[string]any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.Event{Level: level, Message: msg, Fields: fields, Timestamp: time.Now()})
}
