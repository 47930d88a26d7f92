//go:build linux

package console

import "golang.org/x/sys/unix"

const (
	termiosGetAttr = unix.TCGETS
	termiosSetAttr = unix.TCSETS
)
