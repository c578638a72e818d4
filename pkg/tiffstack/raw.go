package tiffstack

import (
	"encoding/binary"
	"fmt"
	"os"

	"stack2bin/internal/models"
)

// rawReader is the fast native backend. It walks the IFD chain of a classic
// TIFF once at open, records strip locations per page, and serves batch
// reads with positioned reads of the raw strip bytes. It deliberately
// handles only the files acquisition software writes (single sample per
// pixel, uncompressed strips, 8/16/32-bit integer samples) and reports a
// descriptive error for anything else so that the probe can fall back to
// the generic decoder.
type rawReader struct {
	f     *os.File
	order binary.ByteOrder

	width, height int
	bits          int
	signed        bool

	pages []rawPage
}

type rawPage struct {
	stripOffsets []int64
	stripCounts  []int64
}

// TIFF tags understood by the raw backend.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339
)

const (
	typeByte  = 1
	typeShort = 3
	typeLong  = 4
)

// maxPages bounds the IFD walk against corrupt next-IFD cycles.
const maxPages = 1 << 22

func openRaw(path string) (*rawReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &rawReader{f: f}
	if err := r.parse(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *rawReader) parse() error {
	var hdr [8]byte
	if _, err := r.f.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("reading tiff header: %v", err)
	}
	switch {
	case hdr[0] == 'I' && hdr[1] == 'I':
		r.order = binary.LittleEndian
	case hdr[0] == 'M' && hdr[1] == 'M':
		r.order = binary.BigEndian
	default:
		return fmt.Errorf("not a tiff file")
	}
	if r.order.Uint16(hdr[2:4]) != 42 {
		return fmt.Errorf("unsupported tiff variant (magic %d)", r.order.Uint16(hdr[2:4]))
	}

	off := int64(r.order.Uint32(hdr[4:8]))
	first := true
	for off != 0 {
		if len(r.pages) >= maxPages {
			return fmt.Errorf("ifd chain too long (corrupt file?)")
		}
		next, err := r.parseIFD(off, first)
		if err != nil {
			return err
		}
		off = next
		first = false
	}
	if len(r.pages) == 0 {
		return fmt.Errorf("tiff has no pages")
	}
	return nil
}

// parseIFD reads one image file directory at off, appends its page, and
// returns the offset of the next IFD (0 at the end of the chain). The first
// page fixes the stack's shape and sample encoding; later pages must match.
func (r *rawReader) parseIFD(off int64, first bool) (int64, error) {
	var cntBuf [2]byte
	if _, err := r.f.ReadAt(cntBuf[:], off); err != nil {
		return 0, fmt.Errorf("reading ifd at %d: %v", off, err)
	}
	n := int(r.order.Uint16(cntBuf[:]))
	buf := make([]byte, 12*n+4)
	if _, err := r.f.ReadAt(buf, off+2); err != nil {
		return 0, fmt.Errorf("reading ifd entries at %d: %v", off, err)
	}

	width, height := 0, 0
	bits := 1
	compression := 1
	samplesPerPixel := 1
	sampleFormat := 1
	var stripOffsets, stripCounts []int64

	for i := 0; i < n; i++ {
		e := buf[12*i : 12*i+12]
		tag := r.order.Uint16(e[0:2])
		typ := r.order.Uint16(e[2:4])
		cnt := r.order.Uint32(e[4:8])
		switch tag {
		case tagImageWidth, tagImageLength, tagBitsPerSample, tagCompression,
			tagSamplesPerPixel, tagSampleFormat, tagStripOffsets, tagStripByteCounts:
			vals, err := r.entryValues(typ, cnt, e[8:12])
			if err != nil {
				return 0, fmt.Errorf("tag %d: %v", tag, err)
			}
			if len(vals) == 0 {
				continue
			}
			switch tag {
			case tagImageWidth:
				width = int(vals[0])
			case tagImageLength:
				height = int(vals[0])
			case tagBitsPerSample:
				bits = int(vals[0])
			case tagCompression:
				compression = int(vals[0])
			case tagSamplesPerPixel:
				samplesPerPixel = int(vals[0])
			case tagSampleFormat:
				sampleFormat = int(vals[0])
			case tagStripOffsets:
				stripOffsets = vals
			case tagStripByteCounts:
				stripCounts = vals
			}
		}
	}

	if compression != 1 {
		return 0, fmt.Errorf("compressed tiff (compression %d) not handled by native reader", compression)
	}
	if samplesPerPixel != 1 {
		return 0, fmt.Errorf("%d samples per pixel not handled by native reader", samplesPerPixel)
	}
	if bits != 8 && bits != 16 && bits != 32 {
		return 0, fmt.Errorf("%d-bit samples not handled by native reader", bits)
	}
	if sampleFormat != 1 && sampleFormat != 2 {
		return 0, fmt.Errorf("sample format %d not handled by native reader", sampleFormat)
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("page missing dimensions")
	}
	if len(stripOffsets) == 0 || len(stripCounts) != len(stripOffsets) {
		return 0, fmt.Errorf("page missing strip layout")
	}

	if first {
		r.width, r.height = width, height
		r.bits = bits
		r.signed = sampleFormat == 2
	} else if width != r.width || height != r.height || bits != r.bits {
		return 0, fmt.Errorf("page shape %dx%d (%d-bit) differs from first page %dx%d (%d-bit)",
			height, width, bits, r.height, r.width, r.bits)
	}

	r.pages = append(r.pages, rawPage{stripOffsets: stripOffsets, stripCounts: stripCounts})
	return int64(r.order.Uint32(buf[12*n : 12*n+4])), nil
}

// entryValues decodes an IFD entry's value array. Values small enough to fit
// the 4-byte field are stored inline, otherwise the field holds the offset
// of the array.
func (r *rawReader) entryValues(typ uint16, cnt uint32, field []byte) ([]int64, error) {
	var size uint32
	switch typ {
	case typeByte:
		size = 1
	case typeShort:
		size = 2
	case typeLong:
		size = 4
	default:
		return nil, fmt.Errorf("value type %d not handled", typ)
	}
	total := size * cnt
	raw := field
	if total > 4 {
		raw = make([]byte, total)
		if _, err := r.f.ReadAt(raw, int64(r.order.Uint32(field))); err != nil {
			return nil, fmt.Errorf("reading value array: %v", err)
		}
	}
	vals := make([]int64, cnt)
	for i := uint32(0); i < cnt; i++ {
		switch typ {
		case typeByte:
			vals[i] = int64(raw[i])
		case typeShort:
			vals[i] = int64(r.order.Uint16(raw[2*i:]))
		case typeLong:
			vals[i] = int64(r.order.Uint32(raw[4*i:]))
		}
	}
	return vals, nil
}

func (r *rawReader) Length() int { return len(r.pages) }

func (r *rawReader) ReadBatch(start, count int) (*models.FrameBatch, error) {
	if start >= len(r.pages) {
		return nil, ErrEndOfStack
	}
	end := start + count
	if end > len(r.pages) {
		end = len(r.pages)
	}
	n := end - start
	npix := r.height * r.width
	batch := &models.FrameBatch{
		Start: start,
		Ly:    r.height,
		Lx:    r.width,
		Data:  make([]int16, n*npix),
	}
	buf := make([]byte, npix*r.bits/8)
	for i := 0; i < n; i++ {
		if err := r.readPage(r.pages[start+i], buf); err != nil {
			return nil, fmt.Errorf("frame %d: %v", start+i, err)
		}
		r.convert(buf, batch.Data[i*npix:(i+1)*npix])
	}
	return batch, nil
}

// readPage gathers the page's strips into buf. A final strip padded past the
// image payload is truncated rather than rejected; some writers round strips
// up to a block size.
func (r *rawReader) readPage(p rawPage, buf []byte) error {
	pos := 0
	for i := range p.stripOffsets {
		cnt := int(p.stripCounts[i])
		if pos+cnt > len(buf) {
			cnt = len(buf) - pos
		}
		if cnt <= 0 {
			break
		}
		if _, err := r.f.ReadAt(buf[pos:pos+cnt], p.stripOffsets[i]); err != nil {
			return fmt.Errorf("reading strip %d: %v", i, err)
		}
		pos += cnt
	}
	if pos < len(buf) {
		return fmt.Errorf("truncated page: %d of %d bytes", pos, len(buf))
	}
	return nil
}

// convert normalizes one page of raw samples into canonical int16.
func (r *rawReader) convert(buf []byte, dst []int16) {
	switch {
	case r.bits == 8:
		NormalizeU8(buf, dst)
	case r.bits == 16 && r.signed:
		for i := range dst {
			dst[i] = int16(r.order.Uint16(buf[2*i:]))
		}
	case r.bits == 16:
		for i := range dst {
			dst[i] = int16(r.order.Uint16(buf[2*i:]) >> 1)
		}
	case r.bits == 32 && r.signed:
		tmp := make([]int32, len(dst))
		for i := range tmp {
			tmp[i] = int32(r.order.Uint32(buf[4*i:]))
		}
		NormalizeI32(tmp, dst)
	default: // 32-bit unsigned: plain cast, no scaling
		for i := range dst {
			dst[i] = int16(r.order.Uint32(buf[4*i:]))
		}
	}
}

func (r *rawReader) Close() error { return r.f.Close() }
