package dhcpwire

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/netboot/pxebootd/pkg/dhcpv4"
)

// Packet is a decoded view of a BOOTP/DHCP datagram (RFC 2131 §2). A Proxy
// DHCP responder never assigns addresses, so CIAddr/YIAddr carry no lease
// semantics here — they are just header fields to copy through or zero.
type Packet struct {
	Op     dhcpv4.OpCode
	HType  dhcpv4.HardwareType
	HLen   byte
	Hops   byte
	XID    uint32
	Secs   uint16
	Flags  uint16
	CIAddr net.IP
	YIAddr net.IP
	SIAddr net.IP
	GIAddr net.IP
	CHAddr net.HardwareAddr
	SName  [64]byte
	File   [128]byte

	Options Options

	// Source is the UDP endpoint the datagram arrived from. Not part of
	// the wire format.
	Source *net.UDPAddr
}

// bufPool reuses receive buffers across packets to keep the hot path
// allocation-free, the way a server handling broadcast floods must.
var bufPool = sync.Pool{
	New: func() any {
		return make([]byte, dhcpv4.MaxPacketSize)
	},
}

// GetBuffer returns a pooled receive buffer.
func GetBuffer() []byte { return bufPool.Get().([]byte) }

// PutBuffer zeroes and returns a buffer to the pool.
func PutBuffer(b []byte) {
	for i := range b {
		b[i] = 0
	}
	bufPool.Put(b)
}

// ErrInvalidMagic is returned by Parse when the magic cookie at byte offset
// 236 does not match {99,130,83,99}.
var ErrInvalidMagic = fmt.Errorf("invalid DHCP magic cookie")

// Parse decodes a raw DHCPv4 datagram (RFC 2131 §2, §3). Requires at least
// 240 bytes (the fixed header through the magic cookie); anything shorter,
// or with a bad cookie, is rejected. The option scan beyond that point is
// lenient per DecodeOptions.
func Parse(data []byte) (*Packet, error) {
	if len(data) < 240 {
		return nil, fmt.Errorf("packet too short: %d bytes (minimum 240)", len(data))
	}

	cookie := data[236:240]
	if cookie[0] != dhcpv4.MagicCookie[0] || cookie[1] != dhcpv4.MagicCookie[1] ||
		cookie[2] != dhcpv4.MagicCookie[2] || cookie[3] != dhcpv4.MagicCookie[3] {
		return nil, ErrInvalidMagic
	}

	secs, _ := dhcpv4.BytesToUint16(data[8:10])
	flags, _ := dhcpv4.BytesToUint16(data[10:12])

	p := &Packet{
		Op:     dhcpv4.OpCode(data[0]),
		HType:  dhcpv4.HardwareType(data[1]),
		HLen:   data[2],
		Hops:   data[3],
		XID:    binary.BigEndian.Uint32(data[4:8]),
		Secs:   secs,
		Flags:  flags,
		CIAddr: dhcpv4.BytesToIP(data[12:16]),
		YIAddr: dhcpv4.BytesToIP(data[16:20]),
		SIAddr: dhcpv4.BytesToIP(data[20:24]),
		GIAddr: dhcpv4.BytesToIP(data[24:28]),
	}

	chaddrLen := int(p.HLen)
	if chaddrLen > 16 || chaddrLen == 0 {
		chaddrLen = 6
	}
	p.CHAddr = net.HardwareAddr(append([]byte(nil), data[28:28+chaddrLen]...))

	copy(p.SName[:], data[44:108])
	copy(p.File[:], data[108:236])

	p.Options = DecodeOptions(data[240:])

	return p, nil
}

// Encode serializes the packet to its wire form: the 236-byte fixed header,
// the 4-byte magic cookie, then the option stream terminated by END.
// Padded to dhcpv4.MinPacketSize if the natural length is shorter, per
// RFC 2131's recommendation that DHCP messages be at least that large.
func (p *Packet) Encode() []byte {
	optBytes := p.Options.Encode()
	total := 240 + len(optBytes)
	if total < dhcpv4.MinPacketSize {
		total = dhcpv4.MinPacketSize
	}

	buf := make([]byte, total)
	buf[0] = byte(p.Op)
	buf[1] = byte(p.HType)
	buf[2] = p.HLen
	buf[3] = p.Hops
	copy(buf[4:8], dhcpv4.Uint32ToBytes(p.XID))
	copy(buf[8:10], dhcpv4.Uint16ToBytes(p.Secs))
	copy(buf[10:12], dhcpv4.Uint16ToBytes(p.Flags))

	copy(buf[12:16], dhcpv4.IPToBytes(p.CIAddr))
	copy(buf[16:20], dhcpv4.IPToBytes(p.YIAddr))
	copy(buf[20:24], dhcpv4.IPToBytes(p.SIAddr))
	copy(buf[24:28], dhcpv4.IPToBytes(p.GIAddr))
	if p.CHAddr != nil {
		copy(buf[28:44], p.CHAddr)
	}
	copy(buf[44:108], p.SName[:])
	copy(buf[108:236], p.File[:])
	copy(buf[236:240], dhcpv4.MagicCookie)
	copy(buf[240:], optBytes)

	return buf
}

// MessageType returns the option-53 DHCP message type, or 0 if absent or
// malformed.
func (p *Packet) MessageType() dhcpv4.MessageType {
	if v, ok := p.Options.Get(dhcpv4.OptionDHCPMessageType); ok && len(v) >= 1 {
		return dhcpv4.MessageType(v[0])
	}
	return 0
}

// VendorClassID returns the raw option-60 vendor class identifier.
func (p *Packet) VendorClassID() []byte {
	v, _ := p.Options.Get(dhcpv4.OptionVendorClassID)
	return v
}

// IsPXERequest reports whether option 60 begins with the ASCII string
// "PXEClient" (Intel PXE 2.1 specification §2.1).
func (p *Packet) IsPXERequest() bool {
	v := p.VendorClassID()
	if len(v) < len(dhcpv4.PXEClientVendorClass) {
		return false
	}
	return string(v[:len(dhcpv4.PXEClientVendorClass)]) == dhcpv4.PXEClientVendorClass
}

// SetSName writes an ASCII string into the fixed 64-byte SName field,
// NUL-padded. Truncates if s is too long to fit, leaving room for the
// trailing NUL.
func (p *Packet) SetSName(s string) {
	if len(s) > len(p.SName)-1 {
		s = s[:len(p.SName)-1]
	}
	setPaddedString(p.SName[:], s)
}

// SetFile writes an ASCII string into the fixed 128-byte File field,
// NUL-padded.
func (p *Packet) SetFile(s string) {
	setPaddedString(p.File[:], s)
}

func setPaddedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}
