package tiffstack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"

	"golang.org/x/image/tiff"

	"stack2bin/internal/models"
)

// genericReader is the fallback backend. It decodes pages with the standard
// TIFF decoder, which handles the compressed and exotic files the native
// reader rejects. The decoder only ever reads the image its header points
// at, so multi-page stacks are served by locating each page's directory
// offset up front and re-pointing a patched header at the requested page.
// The whole file is held in memory for the duration; this is the slow path
// and acquisitions that matter for throughput go through the raw backend.
type genericReader struct {
	data     []byte
	order    binary.ByteOrder
	pageOffs []uint32

	// shape of the stack, fixed by the first decoded page
	ly, lx int
}

func openGeneric(path string) (*genericReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g := &genericReader{data: data}
	if err := g.indexPages(); err != nil {
		return nil, err
	}
	// Fix the shape early so Length/shape are known before the first batch.
	img, err := g.decodePage(0)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	g.ly, g.lx = b.Dy(), b.Dx()
	return g, nil
}

// indexPages records the directory offset of every page. Only the chain
// structure is interpreted; compression and pixel layout are left entirely
// to the decoder.
func (g *genericReader) indexPages() error {
	if len(g.data) < 8 {
		return fmt.Errorf("file too short for a tiff header")
	}
	switch {
	case g.data[0] == 'I' && g.data[1] == 'I':
		g.order = binary.LittleEndian
	case g.data[0] == 'M' && g.data[1] == 'M':
		g.order = binary.BigEndian
	default:
		return fmt.Errorf("not a tiff file")
	}
	if g.order.Uint16(g.data[2:4]) != 42 {
		return fmt.Errorf("unsupported tiff variant")
	}
	off := g.order.Uint32(g.data[4:8])
	for off != 0 {
		if len(g.pageOffs) >= maxPages {
			return fmt.Errorf("ifd chain too long (corrupt file?)")
		}
		if int(off)+2 > len(g.data) {
			return fmt.Errorf("ifd offset %d out of range", off)
		}
		g.pageOffs = append(g.pageOffs, off)
		n := g.order.Uint16(g.data[off : off+2])
		nextPos := int(off) + 2 + 12*int(n)
		if nextPos+4 > len(g.data) {
			return fmt.Errorf("ifd at %d out of range", off)
		}
		off = g.order.Uint32(g.data[nextPos : nextPos+4])
	}
	if len(g.pageOffs) == 0 {
		return fmt.Errorf("tiff has no pages")
	}
	return nil
}

// decodePage decodes page k by handing the decoder a view of the file whose
// header points at page k's directory. Directory and strip offsets are
// absolute, so the rest of the file is served unchanged.
func (g *genericReader) decodePage(k int) (image.Image, error) {
	var src io.Reader
	if k == 0 {
		src = bytes.NewReader(g.data)
	} else {
		hdr := make([]byte, 8)
		copy(hdr, g.data[:8])
		if g.order == binary.LittleEndian {
			binary.LittleEndian.PutUint32(hdr[4:8], g.pageOffs[k])
		} else {
			binary.BigEndian.PutUint32(hdr[4:8], g.pageOffs[k])
		}
		src = io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(g.data[8:]))
	}
	img, err := tiff.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decoding page %d: %v", k, err)
	}
	return img, nil
}

func (g *genericReader) Length() int { return len(g.pageOffs) }

func (g *genericReader) ReadBatch(start, count int) (*models.FrameBatch, error) {
	if start >= g.Length() {
		return nil, ErrEndOfStack
	}
	end := start + count
	if end > g.Length() {
		end = g.Length()
	}
	n := end - start
	npix := g.ly * g.lx
	batch := &models.FrameBatch{
		Start: start,
		Ly:    g.ly,
		Lx:    g.lx,
		Data:  make([]int16, n*npix),
	}
	for i := 0; i < n; i++ {
		img, err := g.decodePage(start + i)
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		if b.Dy() != g.ly || b.Dx() != g.lx {
			return nil, fmt.Errorf("page %d shape %dx%d differs from first page %dx%d",
				start+i, b.Dy(), b.Dx(), g.ly, g.lx)
		}
		g.convert(img, batch.Data[i*npix:(i+1)*npix])
	}
	return batch, nil
}

// convert normalizes a decoded page into canonical int16 samples.
func (g *genericReader) convert(img image.Image, dst []int16) {
	switch im := img.(type) {
	case *image.Gray:
		for y := 0; y < g.ly; y++ {
			row := im.Pix[y*im.Stride : y*im.Stride+g.lx]
			NormalizeU8(row, dst[y*g.lx:(y+1)*g.lx])
		}
	case *image.Gray16:
		tmp := make([]uint16, g.lx)
		for y := 0; y < g.ly; y++ {
			row := im.Pix[y*im.Stride : y*im.Stride+2*g.lx]
			for x := 0; x < g.lx; x++ {
				tmp[x] = binary.BigEndian.Uint16(row[2*x:])
			}
			NormalizeU16(tmp, dst[y*g.lx:(y+1)*g.lx])
		}
	default:
		// Color or paletted input: take the 16-bit red component, which for
		// grayscale-as-RGB scientific files carries the intensity.
		b := img.Bounds()
		tmp := make([]uint16, g.lx)
		for y := 0; y < g.ly; y++ {
			for x := 0; x < g.lx; x++ {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				tmp[x] = uint16(r)
			}
			NormalizeU16(tmp, dst[y*g.lx:(y+1)*g.lx])
		}
	}
}

func (g *genericReader) Close() error {
	g.data = nil
	return nil
}
