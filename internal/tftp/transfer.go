package tftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/netboot/pxebootd/internal/events"
	"github.com/netboot/pxebootd/internal/metrics"
)

// retransmitTimeout and retransmitRetries bound the optional timer-driven
// retransmit spec.md §4.4 recommends adding on top of the purely
// ACK-driven reference implementation.
const (
	defaultRetransmitTimeout = 2 * time.Second
	defaultRetransmitRetries = 5
)

// Transfer is one in-flight read, owning an ephemeral UDP endpoint and the
// lock-step ACK/DATA state machine for a single client (spec.md §4.4).
// Grounded on original_source/tftptransfer.cpp's TFTPTransfer class.
type Transfer struct {
	peer *net.UDPAddr
	conn *net.UDPConn
	bus  *events.Bus

	file    *os.File
	size    int64
	blksize int
	block   uint16

	lastSent          []byte
	pendingFirstBlock []byte
	expectOACK        bool
	retransmitTimeout time.Duration
	retransmitRetries int

	onDone func()

	mu     sync.Mutex
	closed bool
}

// newTransfer constructs a Transfer bound to an ephemeral UDP port, ready
// to run Start. onDone is invoked exactly once when the transfer reaches a
// terminal state, so the owning Listener can drop it from its registry.
func newTransfer(peer *net.UDPAddr, bus *events.Bus, onDone func()) (*Transfer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("binding ephemeral transfer socket: %w", err)
	}
	return &Transfer{
		peer:              peer,
		conn:              conn,
		bus:               bus,
		blksize:           DefaultBlockSize,
		retransmitTimeout: defaultRetransmitTimeout,
		retransmitRetries: defaultRetransmitRetries,
		onDone:            onDone,
	}, nil
}

// Start validates the request, resolves the file, and performs the
// Start-protocol OACK-or-immediate-DATA1 branch from spec.md §4.4. It
// returns an error only when the transfer never got off the ground (the
// caller should log and discard); wire-level rejections (ILLEGALOPERATION,
// FILENOTFOUND, ACCESSVIOLATION) are handled internally by sending an
// ERROR packet and tearing down, and are not reported as Go errors.
func (t *Transfer) Start(ctx context.Context, serverRoot string, opcode Opcode, strs []string) error {
	if opcode != OpRRQ {
		t.sendErrorAndClose(ErrIllegalOp, "Unsupported operation")
		return nil
	}

	filename := strs[0]
	path, readable := resolveServedFile(serverRoot, filename)
	if path == "" {
		t.sendErrorAndClose(ErrFileNotFound, "File not found")
		return nil
	}
	if !readable {
		t.sendErrorAndClose(ErrAccessViolation, "Permission denied")
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		t.sendErrorAndClose(ErrFileNotFound, "File not found")
		return nil
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		t.sendErrorAndClose(ErrFileNotFound, "File not found")
		return nil
	}
	t.file = f
	t.size = info.Size()

	oackOpts := t.negotiateOptions(strs[2:])

	metrics.TransfersStarted.Inc()
	metrics.TransfersActive.Inc()
	t.publish(events.LevelVerbose, "starting transfer", map[string]any{
		"filename": filename, "peer": t.peer.String(), "size": t.size,
	})

	go t.run(ctx, oackOpts)
	return nil
}

// negotiateOptions matches requested option names case-insensitively
// against "tsize"/"blksize", applies the blksize clamp, and returns the
// name/value pairs to echo back in lowercase (spec.md §4.4 step 4). An
// empty, non-nil slice means "send an OACK with no options" never
// happens in practice: nil means "no OACK at all".
func (t *Transfer) negotiateOptions(rawOpts []string) []string {
	var echoed []string
	for i := 0; i+1 < len(rawOpts); i += 2 {
		name := strings.ToLower(rawOpts[i])
		value := rawOpts[i+1]

		switch name {
		case "tsize":
			echoed = append(echoed, "tsize", strconv.FormatInt(t.size, 10))
		case "blksize":
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			if n < MinBlockSize {
				n = MinBlockSize
			}
			if n > MaxBlockSize {
				n = MaxBlockSize
			}
			t.blksize = n
			echoed = append(echoed, "blksize", strconv.Itoa(n))
		}
	}
	return echoed
}

// run drives the Start protocol's send and the subsequent receive loop.
// Must run in its own goroutine: it blocks on UDP reads until the
// transfer completes or errors.
func (t *Transfer) run(ctx context.Context, oackOpts []string) {
	if len(oackOpts) > 0 {
		t.expectOACK = true
		t.block = 1
		// Block 1 is read and staged now but withheld until ACK(0),
		// per spec.md §4.4 step 5. lastSent stays the OACK bytes so a
		// retransmit while awaiting ACK(0) resends the OACK, not DATA1.
		t.pendingFirstBlock = t.readBlock(1)
		t.sendOACK(oackOpts)
	} else {
		t.expectOACK = false
		t.block = 1
		t.stageBlock(1)
		t.sendLast()
	}

	t.receiveLoop(ctx)
}

// readBlock reads up to blksize bytes of file data for block n and returns
// the encoded DATA packet, without touching lastSent.
func (t *Transfer) readBlock(block uint16) []byte {
	buf := make([]byte, blockHeaderSize+t.blksize)
	n, _ := io.ReadFull(t.file, buf[blockHeaderSize:])
	encodeBlockHeader(buf, OpDATA, block)
	return buf[:blockHeaderSize+n]
}

// stageBlock reads block n and stores it as lastSent, so a subsequent
// retransmit always resends identical bytes (spec.md §8 scenario 6).
func (t *Transfer) stageBlock(block uint16) {
	t.lastSent = t.readBlock(block)
}

func (t *Transfer) sendOACK(opts []string) {
	var buf []byte
	buf = append(buf, 0, byte(OpOACK))
	for _, s := range opts {
		buf = append(buf, []byte(s)...)
		buf = append(buf, 0)
	}
	t.lastSent = buf
	t.writeToPeer(buf)
}

func (t *Transfer) sendLast() {
	t.writeToPeer(t.lastSent)
	metrics.BlocksSent.Inc()
}

func (t *Transfer) writeToPeer(buf []byte) {
	if _, err := t.conn.WriteToUDP(buf, t.peer); err != nil {
		t.publish(events.LevelWarning, "transfer write failed", map[string]any{
			"peer": t.peer.String(), "error": err.Error(),
		})
	}
}

// receiveLoop implements spec.md §4.4's "Receive loop" and the optional
// retransmit timer from the same section.
func (t *Transfer) receiveLoop(ctx context.Context) {
	defer t.finish()

	retries := 0
	buf := make([]byte, 65535)

	for {
		t.conn.SetReadDeadline(time.Now().Add(t.retransmitTimeout))
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				retries++
				if retries > t.retransmitRetries {
					t.publish(events.LevelWarning, "transfer timed out, giving up", map[string]any{
						"peer": t.peer.String(),
					})
					t.sendError(ErrNotDefined, "Timed out")
					metrics.TransfersCompleted.WithLabelValues("timeout").Inc()
					return
				}
				metrics.BlocksRetransmitted.WithLabelValues("timeout").Inc()
				t.writeToPeer(t.lastSent)
				continue
			}
			return
		}

		if !addrEqual(src, t.peer) {
			continue
		}
		retries = 0

		if n < blockHeaderSize {
			continue
		}
		opcode, ackBlock := decodeBlockHeader(buf[:n])
		if opcode != OpACK {
			t.publish(events.LevelWarning, "unexpected opcode during transfer, terminating", map[string]any{
				"peer": t.peer.String(), "opcode": opcode,
			})
			metrics.TransfersCompleted.WithLabelValues("error").Inc()
			return
		}

		if t.expectOACK {
			if ackBlock != 0 {
				continue
			}
			t.expectOACK = false
			t.lastSent = t.pendingFirstBlock
			t.pendingFirstBlock = nil
			t.sendLast()
			continue
		}

		switch {
		case ackBlock == t.block-1:
			metrics.BlocksRetransmitted.WithLabelValues("duplicate_ack").Inc()
			t.writeToPeer(t.lastSent)
		case ackBlock != t.block:
			t.publish(events.LevelVerbose, "dropping stray ack", map[string]any{
				"peer": t.peer.String(), "got": ackBlock, "want": t.block,
			})
		default:
			if len(t.lastSent) < blockHeaderSize+t.blksize {
				metrics.TransfersCompleted.WithLabelValues("ok").Inc()
				t.publish(events.LevelVerbose, "transfer complete", map[string]any{
					"peer": t.peer.String(),
				})
				return
			}
			t.block++
			t.stageBlock(t.block)
			t.sendLast()
		}
	}
}

func (t *Transfer) finish() {
	metrics.TransfersActive.Dec()
	t.mu.Lock()
	closed := t.closed
	t.closed = true
	t.mu.Unlock()
	if closed {
		return
	}
	if t.file != nil {
		t.file.Close()
	}
	t.conn.Close()
	if t.onDone != nil {
		t.onDone()
	}
}

func (t *Transfer) sendError(code ErrorCode, message string) {
	t.writeToPeer(encodeErrorPacket(code, message))
	metrics.ErrorsSent.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

// sendErrorAndClose is used for Start-protocol rejections, before the
// receive loop (and therefore Active/Completed accounting) has begun.
func (t *Transfer) sendErrorAndClose(code ErrorCode, message string) {
	t.sendError(code, message)
	t.publish(events.LevelVerbose, "rejecting transfer", map[string]any{
		"peer": t.peer.String(), "code": code, "message": message,
	})
	metrics.TransfersCompleted.WithLabelValues("error").Inc()
	t.conn.Close()
	if t.file != nil {
		t.file.Close()
	}
	if t.onDone != nil {
		t.onDone()
	}
}

func (t *Transfer) publish(level events.Level, msg string, fields map[string]any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.Event{Level: level, Message: msg, Fields: fields, Timestamp: time.Now()})
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
