package proxydhcp

import (
	"net"
	"testing"

	"github.com/netboot/pxebootd/internal/dhcpwire"
	"github.com/netboot/pxebootd/pkg/dhcpv4"
)

func buildDiscover(mac net.HardwareAddr, xid uint32, vendorClass string) []byte {
	pkt := make([]byte, 300)
	pkt[0] = byte(dhcpv4.OpCodeBootRequest)
	pkt[1] = byte(dhcpv4.HardwareTypeEthernet)
	pkt[2] = 6
	pkt[4] = byte(xid >> 24)
	pkt[5] = byte(xid >> 16)
	pkt[6] = byte(xid >> 8)
	pkt[7] = byte(xid)
	copy(pkt[28:34], mac)
	copy(pkt[236:240], dhcpv4.MagicCookie)

	i := 240
	pkt[i] = byte(dhcpv4.OptionDHCPMessageType)
	pkt[i+1] = 1
	pkt[i+2] = byte(dhcpv4.MessageTypeDiscover)
	i += 3
	if vendorClass != "" {
		pkt[i] = byte(dhcpv4.OptionVendorClassID)
		pkt[i+1] = byte(len(vendorClass))
		copy(pkt[i+2:], vendorClass)
		i += 2 + len(vendorClass)
	}
	pkt[i] = byte(dhcpv4.OptionEnd)
	return pkt[:i+1]
}

func buildRequest(mac net.HardwareAddr, xid uint32) []byte {
	data := buildDiscover(mac, xid, dhcpv4.PXEClientVendorClass)
	pkt, _ := dhcpwire.Parse(append(data, make([]byte, 300-len(data))...))
	pkt.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeRequest)})
	return pkt.Encode()
}

func TestResponderOfferOnDiscover(t *testing.T) {
	r := NewResponder("pxeboot.com", NewRateLimiter(false, 0, 0), nil)
	mac := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	data := buildDiscover(mac, 0x1234, dhcpv4.PXEClientVendorClass)

	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 68}
	serverIP := net.ParseIP("192.168.1.10")

	reply := r.Handle(data, src, serverIP, "eth0")
	if reply == nil {
		t.Fatal("expected a reply for PXE discover")
	}

	pkt, err := dhcpwire.Parse(reply)
	if err != nil {
		t.Fatalf("parsing reply: %v", err)
	}
	if pkt.MessageType() != dhcpv4.MessageTypeOffer {
		t.Errorf("MessageType = %v, want OFFER", pkt.MessageType())
	}
	if pkt.Op != dhcpv4.OpCodeBootReply {
		t.Errorf("Op = %v, want BOOTREPLY", pkt.Op)
	}
	if !pkt.CIAddr.Equal(dhcpv4.ZeroIP) {
		t.Errorf("CIAddr = %v, want zero (proxy never assigns addresses)", pkt.CIAddr)
	}
	bf, _ := pkt.Options.Get(dhcpv4.OptionBootfileName)
	if string(bf) != "pxeboot.com" {
		t.Errorf("bootfile = %q, want pxeboot.com", bf)
	}

	vendor, ok := pkt.Options.Get(dhcpv4.OptionVendorSpecific)
	if !ok {
		t.Fatal("expected vendor-specific option 43 in OFFER")
	}
	subs := dhcpwire.DecodePXEVendorOption(vendor)
	if _, ok := subs[dhcpv4.PXESubOptBootServers]; !ok {
		t.Error("expected PXE_BOOT_SERVERS sub-option in OFFER")
	}
}

func TestResponderAckOnRequest(t *testing.T) {
	r := NewResponder("pxeboot.com", NewRateLimiter(false, 0, 0), nil)
	mac := net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	data := buildRequest(mac, 0x5678)

	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 68}
	serverIP := net.ParseIP("192.168.1.10")

	reply := r.Handle(data, src, serverIP, "eth0")
	if reply == nil {
		t.Fatal("expected a reply for PXE request")
	}

	pkt, err := dhcpwire.Parse(reply)
	if err != nil {
		t.Fatalf("parsing reply: %v", err)
	}
	if pkt.MessageType() != dhcpv4.MessageTypeAck {
		t.Errorf("MessageType = %v, want ACK", pkt.MessageType())
	}

	vendor, ok := pkt.Options.Get(dhcpv4.OptionVendorSpecific)
	if !ok {
		t.Fatal("expected vendor-specific option 43 in ACK")
	}
	subs := dhcpwire.DecodePXEVendorOption(vendor)
	if _, ok := subs[dhcpv4.PXESubOptBootServers]; ok {
		t.Error("ACK must not carry PXE_BOOT_SERVERS — only sub-option 6")
	}
	if _, ok := subs[dhcpv4.PXESubOptDiscoveryControl]; !ok {
		t.Error("ACK must carry PXE_DISCOVERY_CONTROL")
	}

	if got := string(pkt.SName[:len(serverIP.String())]); got != serverIP.String() {
		t.Errorf("SName = %q, want %q", got, serverIP.String())
	}
}

func TestResponderIgnoresNonPXE(t *testing.T) {
	r := NewResponder("pxeboot.com", NewRateLimiter(false, 0, 0), nil)
	mac := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	data := buildDiscover(mac, 0x1234, "MSFT 5.0")

	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 68}
	if reply := r.Handle(data, src, net.ParseIP("192.168.1.10"), "eth0"); reply != nil {
		t.Error("expected no reply for non-PXE discover")
	}
}

func TestResponderRateLimitsDiscoverOnly(t *testing.T) {
	rl := NewRateLimiter(true, 1, 1)
	r := NewResponder("pxeboot.com", rl, nil)
	mac := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 68}
	serverIP := net.ParseIP("192.168.1.10")

	if reply := r.Handle(buildDiscover(mac, 1, dhcpv4.PXEClientVendorClass), src, serverIP, "eth0"); reply == nil {
		t.Fatal("first discover should be allowed")
	}
	if reply := r.Handle(buildDiscover(mac, 2, dhcpv4.PXEClientVendorClass), src, serverIP, "eth0"); reply != nil {
		t.Error("second discover should be rate-limited")
	}
	// Requests are never rate-limited.
	if reply := r.Handle(buildRequest(mac, 3), src, serverIP, "eth0"); reply == nil {
		t.Error("request must never be rate-limited")
	}
}

func TestReplyDestinationUnicastWhenSourceKnown(t *testing.T) {
	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 68}
	dst := ReplyDestination(src)
	if !dst.IP.Equal(src.IP) || dst.Port != dhcpv4.ClientPort {
		t.Errorf("ReplyDestination = %v, want unicast to %v:%d", dst, src.IP, dhcpv4.ClientPort)
	}
}

func TestReplyDestinationBroadcastWhenSourceUnspecified(t *testing.T) {
	src := &net.UDPAddr{IP: net.IPv4zero, Port: 68}
	dst := ReplyDestination(src)
	if !dst.IP.Equal(dhcpv4.BroadcastIP) {
		t.Errorf("ReplyDestination = %v, want broadcast", dst)
	}
}
