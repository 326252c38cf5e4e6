// Package dhcpwire decodes and encodes the DHCPv4/BOOTP wire format used by
// PXE Proxy DHCP exchanges: the fixed 236-byte header, the magic cookie, and
// the TLV option stream (RFC 2131, RFC 2132).
package dhcpwire

import (
	"github.com/netboot/pxebootd/pkg/dhcpv4"
)

// Option is a single decoded (code, value) option pair.
type Option struct {
	Code  dhcpv4.OptionCode
	Value []byte
}

// Options is an ordered sequence of options. Order is preserved on decode
// and honored on encode so that built replies produce a deterministic byte
// stream — the spec's conformance scenarios check exact option ordering.
// Lookups are O(n), which is fine: a DHCP packet carries at most a few
// dozen options.
type Options []Option

// DecodeOptions parses the options section of a DHCP packet (RFC 2132 §3).
// Duplicate option codes follow "last write wins": the existing entry's
// value is replaced in place rather than appending a second entry. A
// truncated length byte or payload stops the scan silently rather than
// failing the whole packet — callers that received a truncated option
// stream still get whatever was read before the cutoff.
func DecodeOptions(data []byte) Options {
	opts := make(Options, 0, 8)
	i := 0
	for i < len(data) {
		code := dhcpv4.OptionCode(data[i])
		i++

		if code == dhcpv4.OptionPad {
			continue
		}
		if code == dhcpv4.OptionEnd {
			break
		}

		if i >= len(data) {
			break // truncated: no length byte
		}
		length := int(data[i])
		i++

		if i+length > len(data) {
			break // truncated: payload runs past end of buffer
		}

		value := make([]byte, length)
		copy(value, data[i:i+length])
		i += length

		opts.set(code, value)
	}
	return opts
}

func (opts *Options) set(code dhcpv4.OptionCode, value []byte) {
	for i := range *opts {
		if (*opts)[i].Code == code {
			(*opts)[i].Value = value
			return
		}
	}
	*opts = append(*opts, Option{Code: code, Value: value})
}

// Set sets an option's value, preserving its first-seen position, or
// appending it at the end if not already present.
func (opts *Options) Set(code dhcpv4.OptionCode, value []byte) {
	opts.set(code, value)
}

// Get returns an option's raw value.
func (opts Options) Get(code dhcpv4.OptionCode) ([]byte, bool) {
	for _, o := range opts {
		if o.Code == code {
			return o.Value, true
		}
	}
	return nil, false
}

// Has reports whether an option is present.
func (opts Options) Has(code dhcpv4.OptionCode) bool {
	_, ok := opts.Get(code)
	return ok
}

// Encode serializes the options in order, terminated by the END option.
func (opts Options) Encode() []byte {
	size := 1 // END
	for _, o := range opts {
		size += 2 + len(o.Value)
	}
	buf := make([]byte, 0, size)
	for _, o := range opts {
		if o.Code == dhcpv4.OptionPad || o.Code == dhcpv4.OptionEnd {
			continue
		}
		if len(o.Value) > 255 {
			// Never true for values we construct ourselves; guards against
			// a caller handing us an oversized payload that would silently
			// truncate the length byte.
			continue
		}
		buf = append(buf, byte(o.Code), byte(len(o.Value)))
		buf = append(buf, o.Value...)
	}
	buf = append(buf, byte(dhcpv4.OptionEnd))
	return buf
}
