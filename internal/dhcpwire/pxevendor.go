package dhcpwire

import "github.com/netboot/pxebootd/pkg/dhcpv4"

// PXEBootServer is one entry of a PXE_BOOT_SERVERS (sub-option 8) list:
// a boot-server type tag followed by one or more IPv4 addresses offering
// that type. Proxy DHCP only ever advertises itself, so callers build a
// single-entry, single-address list.
type PXEBootServer struct {
	Type uint16
	IPs  [][4]byte
}

// EncodePXEVendorOption builds the nested option-43 payload carrying
// PXE_DISCOVERY_CONTROL (sub-option 6) and, if servers is non-empty,
// PXE_BOOT_SERVERS (sub-option 8), terminated by its own 0xFF (Intel PXE
// 2.1 specification §4).
func EncodePXEVendorOption(discoveryControl byte, servers []PXEBootServer) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, dhcpv4.PXESubOptDiscoveryControl, 1, discoveryControl)

	for _, s := range servers {
		payload := make([]byte, 0, 3+4*len(s.IPs))
		payload = append(payload, byte(s.Type>>8), byte(s.Type))
		payload = append(payload, byte(len(s.IPs)))
		for _, ip := range s.IPs {
			payload = append(payload, ip[:]...)
		}
		buf = append(buf, dhcpv4.PXESubOptBootServers, byte(len(payload)))
		buf = append(buf, payload...)
	}

	buf = append(buf, dhcpv4.PXESubOptEnd)
	return buf
}

// DecodePXEVendorOption parses a nested option-43 payload into its
// sub-options, keyed by sub-option type. Uses the same lenient
// stop-on-truncation behavior as the top-level option scanner.
func DecodePXEVendorOption(data []byte) map[byte][]byte {
	subs := make(map[byte][]byte)
	i := 0
	for i < len(data) {
		t := data[i]
		i++
		if t == dhcpv4.PXESubOptEnd {
			break
		}
		if i >= len(data) {
			break
		}
		length := int(data[i])
		i++
		if i+length > len(data) {
			break
		}
		value := make([]byte, length)
		copy(value, data[i:i+length])
		subs[t] = value
		i += length
	}
	return subs
}
