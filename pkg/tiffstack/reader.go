// Package tiffstack reads multi-page TIFF stacks in bounded batches through
// one of two backends: a fast native page walker for the uncompressed
// stripped files that acquisition software writes, and a generic decoder for
// everything else. A per-run probe picks the backend once; callers never
// branch on file flavor themselves.
package tiffstack

import (
	"errors"
	"fmt"

	"stack2bin/internal/models"
)

// ErrEndOfStack is the explicit no-more-data signal returned by ReadBatch
// when the requested start frame is at or past the end of the stack. It is
// not a failure; drivers loop until they see it.
var ErrEndOfStack = errors.New("tiffstack: end of stack")

// Backend selects which reading implementation Open uses.
type Backend int

const (
	// BackendAuto lets Probe decide
	BackendAuto Backend = iota

	// BackendRaw is the fast native page walker (uncompressed strips only)
	BackendRaw

	// BackendGeneric is the fallback decoder built on golang.org/x/image/tiff
	BackendGeneric
)

func (b Backend) String() string {
	switch b {
	case BackendRaw:
		return "raw"
	case BackendGeneric:
		return "generic"
	default:
		return "auto"
	}
}

// Reader is the uniform capability over both backends. A stack with a
// single 2-D page has Length 1. Callers must Close the reader when done
// with a file to bound memory and descriptor usage.
type Reader interface {
	// Length reports the logical length of the stack in frames.
	Length() int

	// ReadBatch returns min(count, Length()-start) frames starting at the
	// absolute frame index start, normalized to int16. A start at or past
	// the end returns ErrEndOfStack.
	ReadBatch(start, count int) (*models.FrameBatch, error)

	Close() error
}

// Probe opens path with the fast backend and reads a trial batch. Any
// failure yields BackendGeneric. The caller caches the choice for the whole
// run rather than re-probing per file.
func Probe(path string, batchHint int) Backend {
	r, err := openRaw(path)
	if err != nil {
		fmt.Printf("NOTE: native reader not usable for this tiff type, using generic decoder (%v)\n", err)
		return BackendGeneric
	}
	defer r.Close()
	n := batchHint
	if n > r.Length() {
		n = r.Length()
	}
	if n < 1 {
		n = 1
	}
	if _, err := r.ReadBatch(0, n); err != nil {
		fmt.Printf("NOTE: native reader not usable for this tiff type, using generic decoder (%v)\n", err)
		return BackendGeneric
	}
	return BackendRaw
}

// Open returns a reader for path using the given backend. BackendAuto is
// resolved with a fresh probe; drivers normally probe once themselves and
// pass an explicit choice here.
func Open(path string, backend Backend) (Reader, error) {
	switch backend {
	case BackendRaw:
		return openRaw(path)
	case BackendGeneric:
		return openGeneric(path)
	default:
		return Open(path, Probe(path, 1))
	}
}
