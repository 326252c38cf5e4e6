package dhcpv4

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IPToBytes converts a net.IP to a 4-byte slice, or {0,0,0,0} if ip is not
// a valid IPv4 address.
func IPToBytes(ip net.IP) []byte {
	ip4 := ip.To4()
	if ip4 == nil {
		return []byte{0, 0, 0, 0}
	}
	return []byte(ip4)
}

// BytesToIP converts a 4-byte slice to net.IP.
func BytesToIP(b []byte) net.IP {
	if len(b) != 4 {
		return nil
	}
	return net.IPv4(b[0], b[1], b[2], b[3])
}

// Uint16ToBytes converts a uint16 to 2 bytes (big-endian).
func Uint16ToBytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// BytesToUint16 converts 2 bytes to uint16 (big-endian).
func BytesToUint16(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("invalid uint16 length %d: expected 2", len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint32ToBytes converts a uint32 to 4 bytes (big-endian).
func Uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
