package amc

import "testing"

func TestCharlistRoundTrip(t *testing.T) {
	var f Frame
	f.SetCharlist([]byte("short message"))
	if got := string(f.Charlist()); got != "short message" {
		t.Fatalf("got %q", got)
	}
}

func TestCharlistTruncatesOverlongPayload(t *testing.T) {
	var f Frame
	payload := make([]byte, charlistCap+10)
	for i := range payload {
		payload[i] = 'x'
	}
	f.SetCharlist(payload)
	if len(f.Charlist()) != charlistCap {
		t.Fatalf("expected truncation to %d bytes, got %d", charlistCap, len(f.Charlist()))
	}
}

func TestCommandRoundTrip(t *testing.T) {
	var f Frame
	f.SetCommand(CmdSystemProfileRequest, []byte("payload"))
	if f.Command() != CmdSystemProfileRequest {
		t.Fatalf("got command %d", f.Command())
	}
	if string(f.CommandPayload()[:7]) != "payload" {
		t.Fatalf("got payload %q", f.CommandPayload()[:7])
	}
}

func TestCommandPointerRoundTrip(t *testing.T) {
	var f Frame
	f.SetCommandPointer(CmdMapInitrd, 0xdeadbeefcafe, []byte("tail"))
	if f.Command() != CmdMapInitrd {
		t.Fatalf("got command %d", f.Command())
	}
	if f.Pointer() != 0xdeadbeefcafe {
		t.Fatalf("got pointer %x", f.Pointer())
	}
}

func TestU32Event(t *testing.T) {
	var f Frame
	f.SetCommand(42, nil)
	if f.U32Event() != 42 {
		t.Fatalf("got %d", f.U32Event())
	}
}

func TestFrameSizeInvariant(t *testing.T) {
	if headerSize+bodySize != FrameSize {
		t.Fatalf("header+body must equal FrameSize")
	}
}
