package dhcpwire

import (
	"bytes"
	"testing"

	"github.com/netboot/pxebootd/pkg/dhcpv4"
)

func TestDecodeOptionsBasic(t *testing.T) {
	raw := []byte{
		byte(dhcpv4.OptionDHCPMessageType), 1, byte(dhcpv4.MessageTypeDiscover),
		byte(dhcpv4.OptionEnd),
	}
	opts := DecodeOptions(raw)
	v, ok := opts.Get(dhcpv4.OptionDHCPMessageType)
	if !ok || len(v) != 1 || v[0] != byte(dhcpv4.MessageTypeDiscover) {
		t.Fatalf("Get(53) = %v, %v; want [1], true", v, ok)
	}
}

func TestDecodeOptionsPadIsSkipped(t *testing.T) {
	raw := []byte{
		byte(dhcpv4.OptionPad), byte(dhcpv4.OptionPad),
		byte(dhcpv4.OptionDHCPMessageType), 1, 3,
		byte(dhcpv4.OptionEnd),
	}
	opts := DecodeOptions(raw)
	if len(opts) != 1 {
		t.Fatalf("len(opts) = %d, want 1 (PAD entries must not become options)", len(opts))
	}
}

func TestDecodeOptionsStopsAtEnd(t *testing.T) {
	raw := []byte{
		byte(dhcpv4.OptionEnd),
		byte(dhcpv4.OptionDHCPMessageType), 1, 3, // after END, ignored
	}
	opts := DecodeOptions(raw)
	if len(opts) != 0 {
		t.Fatalf("len(opts) = %d, want 0", len(opts))
	}
}

func TestDecodeOptionsDuplicateLastWriteWins(t *testing.T) {
	raw := []byte{
		byte(dhcpv4.OptionDHCPMessageType), 1, 1,
		byte(dhcpv4.OptionDHCPMessageType), 1, 3,
		byte(dhcpv4.OptionEnd),
	}
	opts := DecodeOptions(raw)
	if len(opts) != 1 {
		t.Fatalf("len(opts) = %d, want 1 entry for duplicate codes", len(opts))
	}
	v, _ := opts.Get(dhcpv4.OptionDHCPMessageType)
	if v[0] != 3 {
		t.Errorf("value = %d, want 3 (last write wins)", v[0])
	}
}

func TestDecodeOptionsTruncatedLengthByte(t *testing.T) {
	raw := []byte{byte(dhcpv4.OptionDHCPMessageType)} // no length byte
	opts := DecodeOptions(raw)
	if len(opts) != 0 {
		t.Fatalf("len(opts) = %d, want 0 on silent truncation", len(opts))
	}
}

func TestDecodeOptionsTruncatedPayload(t *testing.T) {
	raw := []byte{byte(dhcpv4.OptionDHCPMessageType), 4, 1, 2} // claims 4 bytes, has 2
	opts := DecodeOptions(raw)
	if len(opts) != 0 {
		t.Fatalf("len(opts) = %d, want 0 on truncated payload", len(opts))
	}
}

func TestOptionsEncodePreservesOrder(t *testing.T) {
	var opts Options
	opts.Set(53, []byte{2})
	opts.Set(54, []byte{192, 168, 1, 10})
	opts.Set(60, []byte("PXEClient"))

	encoded := opts.Encode()
	want := []byte{53, 1, 2, 54, 4, 192, 168, 1, 10, 60, 9}
	want = append(want, []byte("PXEClient")...)
	want = append(want, byte(dhcpv4.OptionEnd))

	if !bytes.Equal(encoded, want) {
		t.Errorf("Encode() = %v, want %v", encoded, want)
	}
}

func TestOptionsSetReplacesInPlace(t *testing.T) {
	var opts Options
	opts.Set(53, []byte{1})
	opts.Set(54, []byte{1, 2, 3, 4})
	opts.Set(53, []byte{2}) // update, should keep position 0

	if opts[0].Code != 53 || opts[0].Value[0] != 2 {
		t.Errorf("opts[0] = %+v, want code 53 value [2]", opts[0])
	}
	if len(opts) != 2 {
		t.Fatalf("len(opts) = %d, want 2", len(opts))
	}
}

func TestPXEVendorOptionRoundTrip(t *testing.T) {
	encoded := EncodePXEVendorOption(0b00001010, []PXEBootServer{
		{Type: dhcpv4.PXEBootServerTypeThisServer, IPs: [][4]byte{{192, 168, 1, 10}}},
	})

	want := []byte{
		dhcpv4.PXESubOptDiscoveryControl, 1, 0x0A,
		dhcpv4.PXESubOptBootServers, 7, 0x80, 0x00, 0x01, 192, 168, 1, 10,
		dhcpv4.PXESubOptEnd,
	}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("EncodePXEVendorOption() = %v, want %v", encoded, want)
	}

	subs := DecodePXEVendorOption(encoded)
	if subs[dhcpv4.PXESubOptDiscoveryControl][0] != 0x0A {
		t.Errorf("sub-option 6 = %v, want [0x0A]", subs[dhcpv4.PXESubOptDiscoveryControl])
	}
	if len(subs[dhcpv4.PXESubOptBootServers]) != 7 {
		t.Errorf("sub-option 8 length = %d, want 7", len(subs[dhcpv4.PXESubOptBootServers]))
	}
}

func TestPXEVendorOptionACKHasNoBootServers(t *testing.T) {
	// DHCPACK only carries sub-option 6 (original_source/pxeresponder.cpp,
	// confirmed by spec.md §4.2).
	encoded := EncodePXEVendorOption(0b00001010, nil)
	want := []byte{dhcpv4.PXESubOptDiscoveryControl, 1, 0x0A, dhcpv4.PXESubOptEnd}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("EncodePXEVendorOption(nil servers) = %v, want %v", encoded, want)
	}
}
