// Package events provides the in-process event bus that carries the
// Proxy DHCP responder's and TFTP server's {verbose, warning, error}
// notifications to the structured logger.
package events

import "time"

// Level classifies an Event the way the reference implementation's
// verbose/warning/error signal taxonomy does (spec.md §6, "Log sink").
type Level string

const (
	LevelVerbose Level = "verbose"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is the payload passed through the bus. Fields is a small, ad-hoc
// set of structured attributes (mac, xid, filename, block, iface, ...)
// attached by the emitting component — it is logged as slog key/value
// pairs, not interpreted by the bus itself.
type Event struct {
	Level     Level
	Message   string
	Fields    map[string]any
	Timestamp time.Time
}
