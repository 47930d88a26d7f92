//go:build darwin

package console

import "golang.org/x/sys/unix"

const (
	termiosGetAttr = unix.TIOCGETA
	termiosSetAttr = unix.TIOCSETA
)
