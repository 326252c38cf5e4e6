package tftp

import "testing"

func TestEncodeDecodeBlockHeader(t *testing.T) {
	buf := make([]byte, 8)
	encodeBlockHeader(buf, OpDATA, 0xABCD)
	opcode, block := decodeBlockHeader(buf)
	if opcode != OpDATA || block != 0xABCD {
		t.Errorf("decodeBlockHeader = (%v, %#x), want (DATA, 0xABCD)", opcode, block)
	}
}

func TestEncodeErrorPacket(t *testing.T) {
	pkt := encodeErrorPacket(ErrFileNotFound, "File not found")
	opcode, code := decodeBlockHeader(pkt)
	if opcode != OpERROR {
		t.Errorf("opcode = %v, want ERROR", opcode)
	}
	if ErrorCode(code) != ErrFileNotFound {
		t.Errorf("code = %d, want %d", code, ErrFileNotFound)
	}
	msg := string(pkt[4 : len(pkt)-1])
	if msg != "File not found" {
		t.Errorf("message = %q", msg)
	}
	if pkt[len(pkt)-1] != 0 {
		t.Error("error packet must be NUL-terminated")
	}
}

func TestSplitNulTerminated(t *testing.T) {
	data := []byte("pxeboot.com\x00octet\x00blksize\x001024\x00")
	got := splitNulTerminated(data)
	want := []string{"pxeboot.com", "octet", "blksize", "1024"}
	if len(got) != len(want) {
		t.Fatalf("splitNulTerminated returned %d strings, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("strs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitNulTerminatedTrailingGarbageDropped(t *testing.T) {
	// No trailing NUL on the last token: it's dropped, matching the
	// original implementation's NUL-split which only emits complete tokens.
	got := splitNulTerminated([]byte("pxeboot.com\x00octet"))
	if len(got) != 1 || got[0] != "pxeboot.com" {
		t.Errorf("splitNulTerminated = %v, want [pxeboot.com]", got)
	}
}
