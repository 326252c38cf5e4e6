// Package proxydhcp implements the Proxy DHCP responder: classification of
// inbound DHCPDISCOVER/DHCPREQUEST packets from PXE clients and assembly of
// the DHCPOFFER/DHCPACK replies that hand off to the TFTP boot stage (RFC
// 2131, RFC 4578, Intel PXE 2.1 specification).
package proxydhcp

import (
	"net"
	"time"

	"github.com/netboot/pxebootd/internal/dhcpwire"
	"github.com/netboot/pxebootd/internal/events"
	"github.com/netboot/pxebootd/internal/metrics"
	"github.com/netboot/pxebootd/pkg/dhcpv4"
)

// pxeDiscoveryControl is sent in every reply's PXE_DISCOVERY_CONTROL
// sub-option: disable multicast discovery, use the bootfile directly
// without presenting a boot menu (Intel PXE 2.1 specification table 4-8).
const pxeDiscoveryControl = dhcpv4.PXEDiscoveryDisableMulticast | dhcpv4.PXEDiscoveryUseBootfile

// Responder classifies inbound PXE DHCP packets and assembles the
// DHCPOFFER/DHCPACK reply for each. It is stateless per packet — no
// per-client memory is kept across calls.
type Responder struct {
	bootFilename string
	rateLimiter  *RateLimiter
	bus          *events.Bus
}

// NewResponder creates a Responder that advertises bootFilename in every
// reply's option 67 / BOOTP file field.
func NewResponder(bootFilename string, rl *RateLimiter, bus *events.Bus) *Responder {
	return &Responder{
		bootFilename: bootFilename,
		rateLimiter:  rl,
		bus:          bus,
	}
}

// Handle classifies a single inbound datagram and returns the reply to send,
// or nil if no reply is warranted. serverIP is the address of the
// interface the datagram was received on — it becomes option 54, the PXE
// boot server entry, and (for ACK) the TFTP server name.
func (r *Responder) Handle(data []byte, src *net.UDPAddr, serverIP net.IP, iface string) []byte {
	pkt, err := dhcpwire.Parse(data)
	if err != nil {
		metrics.PacketErrors.WithLabelValues("decode").Inc()
		r.publish(events.LevelWarning, "dropping malformed packet", map[string]any{
			"error": err.Error(), "src": src.String(), "iface": iface,
		})
		return nil
	}

	if pkt.Op != dhcpv4.OpCodeBootRequest {
		return nil
	}

	if !pkt.IsPXERequest() {
		metrics.PacketsDropped.WithLabelValues("non_pxe").Inc()
		r.publish(events.LevelVerbose, "ignoring non-PXE packet", map[string]any{
			"xid": pkt.XID, "mac": pkt.CHAddr.String(), "iface": iface,
		})
		return nil
	}

	mt := pkt.MessageType()
	metrics.PacketsReceived.WithLabelValues(mt.String()).Inc()

	switch mt {
	case dhcpv4.MessageTypeDiscover:
		if r.rateLimiter != nil && !r.rateLimiter.Allow(pkt.CHAddr) {
			metrics.PacketsDropped.WithLabelValues("rate_limited").Inc()
			r.publish(events.LevelVerbose, "dropping rate-limited discover", map[string]any{
				"xid": pkt.XID, "mac": pkt.CHAddr.String(), "iface": iface,
			})
			return nil
		}
		reply := r.buildOffer(pkt, serverIP)
		metrics.PacketsSent.WithLabelValues(dhcpv4.MessageTypeOffer.String()).Inc()
		r.publish(events.LevelVerbose, "sending offer", map[string]any{
			"xid": pkt.XID, "mac": pkt.CHAddr.String(), "iface": iface,
		})
		return reply

	case dhcpv4.MessageTypeRequest:
		reply := r.buildAck(pkt, serverIP)
		metrics.PacketsSent.WithLabelValues(dhcpv4.MessageTypeAck.String()).Inc()
		r.publish(events.LevelVerbose, "sending ack", map[string]any{
			"xid": pkt.XID, "mac": pkt.CHAddr.String(), "iface": iface,
		})
		return reply

	default:
		r.publish(events.LevelVerbose, "unhandled message type", map[string]any{
			"xid": pkt.XID, "mac": pkt.CHAddr.String(), "msg_type": mt.String(),
		})
		return nil
	}
}

// replyHeader builds the fixed BOOTREPLY header common to OFFER and ACK
// (spec.md §4.2 "Reply assembly").
func replyHeader(req *dhcpwire.Packet, serverIP net.IP) *dhcpwire.Packet {
	return &dhcpwire.Packet{
		Op:     dhcpv4.OpCodeBootReply,
		HType:  dhcpv4.HardwareTypeEthernet,
		HLen:   6,
		Hops:   0,
		XID:    req.XID,
		CIAddr: dhcpv4.ZeroIP,
		SIAddr: serverIP,
		GIAddr: dhcpv4.ZeroIP,
		CHAddr: req.CHAddr,
	}
}

// buildOffer assembles a DHCPOFFER in reply to a DHCPDISCOVER.
func (r *Responder) buildOffer(req *dhcpwire.Packet, serverIP net.IP) []byte {
	reply := replyHeader(req, serverIP)

	reply.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeOffer)})
	reply.Options.Set(dhcpv4.OptionServerIdentifier, serverIP.To4())
	reply.Options.Set(dhcpv4.OptionVendorClassID, []byte(dhcpv4.PXEClientVendorClass))
	reply.Options.Set(dhcpv4.OptionBootfileName, []byte(r.bootFilename))

	var serverIPArr [4]byte
	copy(serverIPArr[:], serverIP.To4())
	vendor := dhcpwire.EncodePXEVendorOption(pxeDiscoveryControl, []dhcpwire.PXEBootServer{
		{Type: dhcpv4.PXEBootServerTypeThisServer, IPs: [][4]byte{serverIPArr}},
	})
	reply.Options.Set(dhcpv4.OptionVendorSpecific, vendor)

	return reply.Encode()
}

// buildAck assembles a DHCPACK in reply to a DHCPREQUEST.
func (r *Responder) buildAck(req *dhcpwire.Packet, serverIP net.IP) []byte {
	reply := replyHeader(req, serverIP)

	reply.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeAck)})
	reply.Options.Set(dhcpv4.OptionVendorClassID, []byte(dhcpv4.PXEClientVendorClass))
	reply.Options.Set(dhcpv4.OptionServerIdentifier, serverIP.To4())
	reply.Options.Set(dhcpv4.OptionTFTPServerName, []byte(serverIP.String()))
	reply.Options.Set(dhcpv4.OptionBootfileName, []byte(r.bootFilename))

	vendor := dhcpwire.EncodePXEVendorOption(pxeDiscoveryControl, nil)
	reply.Options.Set(dhcpv4.OptionVendorSpecific, vendor)

	reply.SetSName(serverIP.String())
	reply.SetFile(r.bootFilename)

	return reply.Encode()
}

// ReplyDestination determines where to send a reply datagram (spec.md
// §4.2): unicast to the request's source if non-zero, else broadcast.
func ReplyDestination(src *net.UDPAddr) *net.UDPAddr {
	if src != nil && src.IP != nil && !src.IP.IsUnspecified() {
		return &net.UDPAddr{IP: src.IP, Port: dhcpv4.ClientPort}
	}
	return &net.UDPAddr{IP: dhcpv4.BroadcastIP, Port: dhcpv4.ClientPort}
}

func (r *Responder) publish(level events.Level, msg string, fields map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Level:     level,
		Message:   msg,
		Fields:    fields,
		Timestamp: time.Now(),
	})
}
