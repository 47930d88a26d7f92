package boot

import (
	"bytes"
	"encoding/binary"

	"axle/kernel"
)

// MaxInitrdFiles is the hard cap on initrd file headers, baked into the
// format's fixed-size header array (spec §6): "it cannot be raised without
// a format change".
const MaxInitrdFiles = 64

const (
	initrdMagic      = 0xBF
	initrdNameLen    = 64
	initrdHeaderSize = 1 + initrdNameLen + 4 + 4
)

var (
	errInitrdTooShort  = &kernel.Error{Module: "boot", Message: "initrd buffer too short"}
	errInitrdBadMagic  = &kernel.Error{Module: "boot", Message: "initrd file header has bad magic"}
	errInitrdTooManyFiles = &kernel.Error{Module: "boot", Message: "initrd nfiles exceeds the 64-entry cap"}
	errInitrdFileRange = &kernel.Error{Module: "boot", Message: "initrd file data out of range"}
)

// InitrdFile is one decoded initrd file header plus its data, the Go-native
// view of spec §6's flat on-disk format.
type InitrdFile struct {
	Name string
	Data []byte
}

// ParseInitrd decodes the flat initrd format: nfiles: u32, an array of
// max_files=64 fixed-size headers, then raw file data referenced by
// each header's offset/length (spec §6).
func ParseInitrd(buf []byte) ([]InitrdFile, *kernel.Error) {
	if len(buf) < 4 {
		return nil, errInitrdTooShort
	}
	nfiles := binary.LittleEndian.Uint32(buf[0:4])
	if nfiles > MaxInitrdFiles {
		return nil, errInitrdTooManyFiles
	}

	headersEnd := 4 + MaxInitrdFiles*initrdHeaderSize
	if len(buf) < headersEnd {
		return nil, errInitrdTooShort
	}

	files := make([]InitrdFile, 0, nfiles)
	for i := uint32(0); i < nfiles; i++ {
		start := 4 + int(i)*initrdHeaderSize
		hdr := buf[start : start+initrdHeaderSize]

		if hdr[0] != initrdMagic {
			return nil, errInitrdBadMagic
		}
		name := string(bytes.TrimRight(hdr[1:1+initrdNameLen], "\x00"))
		fileOffset := binary.LittleEndian.Uint32(hdr[1+initrdNameLen : 1+initrdNameLen+4])
		length := binary.LittleEndian.Uint32(hdr[1+initrdNameLen+4 : 1+initrdNameLen+8])

		dataStart := int(fileOffset)
		dataEnd := dataStart + int(length)
		if dataStart < 0 || dataEnd > len(buf) || dataEnd < dataStart {
			return nil, errInitrdFileRange
		}

		files = append(files, InitrdFile{Name: name, Data: buf[dataStart:dataEnd]})
	}

	return files, nil
}

// FindInitrdFile returns the named file from files, if present.
func FindInitrdFile(files []InitrdFile, name string) (InitrdFile, bool) {
	for _, f := range files {
		if f.Name == name {
			return f, true
		}
	}
	return InitrdFile{}, false
}
