// Package console simulates axle's serial diagnostic port and PS/2
// keyboard by putting the host terminal into raw mode and feeding
// scancode-ish key events over a channel. It plays the role of the
// bare-metal UART/8042 drivers the kernel would otherwise talk to
// directly.
package console

import (
	"bufio"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Console owns the host terminal's raw-mode state and a background
// reader goroutine that turns keystrokes into scancodes on keyCh.
type Console struct {
	in    *os.File
	out   io.Writer
	fd    int
	state *term.State
	keyCh chan byte
}

// New puts the controlling terminal into raw mode, if it is one, and
// starts feeding keystrokes to a channel. Call Restore before exit.
func New(in *os.File, out io.Writer) (*Console, error) {
	c := &Console{in: in, out: out, fd: int(in.Fd()), keyCh: make(chan byte, 16)}

	if term.IsTerminal(c.fd) {
		state, err := term.MakeRaw(c.fd)
		if err != nil {
			return nil, err
		}
		c.state = state

		if err := c.setTerminalParams(); err != nil {
			_ = term.Restore(c.fd, c.state)
			return nil, err
		}
	}

	go c.readKeys()

	return c, nil
}

// setTerminalParams configures VMIN/VTIME so reads return as soon as a
// single byte is available, matching a keyboard interrupt's granularity.
func (c *Console) setTerminalParams() error {
	termios, err := unix.IoctlGetTermios(c.fd, termiosGetAttr)
	if err != nil {
		return err
	}

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(c.fd, termiosSetAttr, termios)
}

func (c *Console) readKeys() {
	r := bufio.NewReader(c.in)
	for {
		b, err := r.ReadByte()
		if err != nil {
			close(c.keyCh)
			return
		}
		c.keyCh <- b
	}
}

// Keys returns the channel keystrokes are delivered on. It is closed
// when the input stream ends.
func (c *Console) Keys() <-chan byte {
	return c.keyCh
}

// Write implements io.Writer so the console can serve as the kernel's
// serial diagnostic sink.
func (c *Console) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// Restore returns the terminal to its original (cooked) mode.
func (c *Console) Restore() error {
	if c.state == nil {
		return nil
	}
	return term.Restore(c.fd, c.state)
}
