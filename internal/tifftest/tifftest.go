// Package tifftest writes small multi-page TIFF fixtures for tests. The
// files are classic little-endian TIFFs with one uncompressed strip per
// page, which both backends accept.
package tifftest

import (
	"encoding/binary"
	"os"
)

const (
	entriesPerIFD = 10
	ifdSize       = 2 + entriesPerIFD*12 + 4
)

// WriteUint16Stack writes frames as unsigned 16-bit pages. Readers halve
// unsigned 16-bit samples during normalization, so a fixture value 2v reads
// back as v.
func WriteUint16Stack(path string, ly, lx int, frames [][]uint16) error {
	return writeStack(path, ly, lx, frames, 1)
}

// WriteInt16Stack writes frames as signed 16-bit pages, which normalize as
// the identity and read back exactly.
func WriteInt16Stack(path string, ly, lx int, frames [][]int16) error {
	conv := make([][]uint16, len(frames))
	for i, f := range frames {
		conv[i] = make([]uint16, len(f))
		for j, v := range f {
			conv[i][j] = uint16(v)
		}
	}
	return writeStack(path, ly, lx, conv, 2)
}

func writeStack(path string, ly, lx int, frames [][]uint16, sampleFormat uint16) error {
	le := binary.LittleEndian
	n := len(frames)
	dataSize := 2 * ly * lx
	buf := make([]byte, 8+n*(dataSize+ifdSize))

	buf[0], buf[1] = 'I', 'I'
	le.PutUint16(buf[2:], 42)
	le.PutUint32(buf[4:], uint32(8+dataSize))

	pos := 8
	for i, frame := range frames {
		dataOff := pos
		for j, v := range frame {
			le.PutUint16(buf[dataOff+2*j:], v)
		}
		pos += dataSize

		ifd := buf[pos:]
		le.PutUint16(ifd, entriesPerIFD)
		entry := func(idx int, tag, typ uint16, val uint32) {
			off := 2 + idx*12
			le.PutUint16(ifd[off:], tag)
			le.PutUint16(ifd[off+2:], typ)
			le.PutUint32(ifd[off+4:], 1)
			if typ == 3 {
				le.PutUint16(ifd[off+8:], uint16(val))
			} else {
				le.PutUint32(ifd[off+8:], val)
			}
		}
		entry(0, 256, 4, uint32(lx))           // ImageWidth
		entry(1, 257, 4, uint32(ly))           // ImageLength
		entry(2, 258, 3, 16)                   // BitsPerSample
		entry(3, 259, 3, 1)                    // Compression: none
		entry(4, 262, 3, 1)                    // Photometric: BlackIsZero
		entry(5, 273, 4, uint32(dataOff))      // StripOffsets
		entry(6, 277, 3, 1)                    // SamplesPerPixel
		entry(7, 278, 4, uint32(ly))           // RowsPerStrip
		entry(8, 279, 4, uint32(dataSize))     // StripByteCounts
		entry(9, 339, 3, uint32(sampleFormat)) // SampleFormat

		next := uint32(0)
		if i < n-1 {
			next = uint32(pos + ifdSize + dataSize)
		}
		le.PutUint32(ifd[2+entriesPerIFD*12:], next)
		pos += ifdSize
	}
	return os.WriteFile(path, buf, 0644)
}

// ConstFrame returns a ly*lx frame filled with v.
func ConstFrame(ly, lx int, v uint16) []uint16 {
	f := make([]uint16, ly*lx)
	for i := range f {
		f[i] = v
	}
	return f
}
