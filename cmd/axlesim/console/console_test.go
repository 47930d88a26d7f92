package console

import (
	"bytes"
	"os"
	"testing"
	"time"
)

// os.Pipe's read end is never a terminal, so New skips raw-mode setup
// entirely here; this exercises the keystroke-forwarding path only.
func TestConsoleForwardsKeystrokes(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	var out bytes.Buffer
	c, err := New(r, &out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Restore()

	if _, err := w.Write([]byte("a")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case b, ok := <-c.Keys():
		if !ok || b != 'a' {
			t.Fatalf("got %q ok=%v, want 'a'", b, ok)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for keystroke")
	}
}

func TestConsoleWritesToOut(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	var out bytes.Buffer
	c, err := New(r, &out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Restore()

	if _, err := c.Write([]byte("diagnostic")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.String() != "diagnostic" {
		t.Fatalf("got %q", out.String())
	}
}
