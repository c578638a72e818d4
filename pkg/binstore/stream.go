// Package binstore owns the per-plane output state of an ingestion run: the
// append-only binary sinks, the running per-pixel sums, and the frame
// tallies that become the plane's metadata record at finalize.
package binstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"gonum.org/v1/gonum/floats"

	"stack2bin/internal/models"
)

// Stream accumulates one (plane, channel) output: an append-only sink of
// little-endian int16 samples in row-major frame order, a float running sum
// for the mean image, and frame tallies indexed by source file and source
// folder. Created with zeroed state at run start, mutated only through
// Append, finalized exactly once.
type Stream struct {
	path string
	f    *os.File
	w    *bufio.Writer

	// Ly, Lx are fixed by the first appended batch
	Ly, Lx int

	// Sum is the running per-pixel sum across all appended frames
	Sum []float64

	// Frames counts appended frames (Append only; mean-only appends
	// deliberately do not count, matching the recording convention)
	Frames int

	PerFile   []int
	PerFolder []int

	buf       []byte
	finalized bool
}

// NewStream creates the sink file at path and zeroed tallies sized for the
// run's file and folder counts. The spatial buffers are allocated lazily
// from the first appended batch.
func NewStream(path string, nfiles, nfolders int) (*Stream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating binary store %s: %v", path, err)
	}
	return &Stream{
		path:      path,
		f:         f,
		w:         bufio.NewWriterSize(f, 1<<20),
		PerFile:   make([]int, nfiles),
		PerFolder: make([]int, nfolders),
	}, nil
}

// Path returns the sink's location.
func (s *Stream) Path() string { return s.path }

// Allocated reports whether the stream's spatial shape has been fixed.
func (s *Stream) Allocated() bool { return s.Sum != nil }

// Alloc fixes the stream's spatial shape and zeroes the sum image.
func (s *Stream) Alloc(ly, lx int) {
	s.Ly, s.Lx = ly, lx
	s.Sum = make([]float64, ly*lx)
}

// Append writes the batch to the sink, folds it into the running sum, and
// bumps the frame counter and the tallies for the given file and folder
// ordinals. Empty batches are a no-op.
func (s *Stream) Append(b *models.FrameBatch, fileIdx, folderIdx int) error {
	n, err := s.appendPayload(b)
	if err != nil || n == 0 {
		return err
	}
	s.Frames += n
	s.PerFile[fileIdx] += n
	s.PerFolder[folderIdx] += n
	return nil
}

// AppendMeanOnly writes the batch and folds it into the sum without
// touching the frame counter or tallies. Used for the secondary channel of
// metadata-indexed recordings, whose accounting rides on the functional
// stream.
func (s *Stream) AppendMeanOnly(b *models.FrameBatch) error {
	_, err := s.appendPayload(b)
	return err
}

func (s *Stream) appendPayload(b *models.FrameBatch) (int, error) {
	n := b.Frames()
	if n == 0 {
		return 0, nil
	}
	if s.finalized {
		return 0, fmt.Errorf("append to finalized stream %s", s.path)
	}
	if !s.Allocated() {
		s.Alloc(b.Ly, b.Lx)
	} else if b.Ly != s.Ly || b.Lx != s.Lx {
		return 0, fmt.Errorf("frame shape %dx%d does not match stream shape %dx%d",
			b.Ly, b.Lx, s.Ly, s.Lx)
	}

	if cap(s.buf) < 2*len(b.Data) {
		s.buf = make([]byte, 2*len(b.Data))
	}
	buf := s.buf[:2*len(b.Data)]
	for i, v := range b.Data {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	if _, err := s.w.Write(buf); err != nil {
		return 0, fmt.Errorf("writing to %s: %v", s.path, err)
	}

	for i := 0; i < n; i++ {
		for j, v := range b.Frame(i) {
			s.Sum[j] += float64(v)
		}
	}
	return n, nil
}

// Mean divides the accumulated sum by frames elementwise and returns the
// mean image. The divisor is passed in because a secondary stream's mean is
// taken over the functional stream's frame count.
func (s *Stream) Mean(frames int) []float64 {
	mean := make([]float64, len(s.Sum))
	copy(mean, s.Sum)
	if frames > 0 {
		floats.Scale(1/float64(frames), mean)
	}
	return mean
}

// CloseSink flushes and closes the sink. Called once from Finalize.
func (s *Stream) CloseSink() error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %v", s.path, err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("closing %s: %v", s.path, err)
	}
	return nil
}

// PlaneStreams groups the per-plane outputs: the functional stream and,
// for two-channel acquisitions, the secondary stream.
type PlaneStreams struct {
	Plane     int
	Primary   *Stream
	Secondary *Stream
}

// OpenPlane creates the plane's sinks. chan2Path is empty for
// single-channel acquisitions.
func OpenPlane(plane int, binPath, chan2Path string, nfiles, nfolders int) (*PlaneStreams, error) {
	primary, err := NewStream(binPath, nfiles, nfolders)
	if err != nil {
		return nil, err
	}
	ps := &PlaneStreams{Plane: plane, Primary: primary}
	if chan2Path != "" {
		secondary, err := NewStream(chan2Path, nfiles, nfolders)
		if err != nil {
			primary.CloseSink()
			return nil, err
		}
		ps.Secondary = secondary
	}
	return ps, nil
}

// Finalize divides the running sums by the functional frame count, closes
// both sinks, and returns the plane's metadata record. Must be called at
// most once, only after all source files are exhausted.
func (ps *PlaneStreams) Finalize() (*models.PlaneResult, error) {
	p := ps.Primary
	res := &models.PlaneResult{
		Plane:           ps.Plane,
		Ly:              p.Ly,
		Lx:              p.Lx,
		NFrames:         p.Frames,
		FramesPerFile:   p.PerFile,
		FramesPerFolder: p.PerFolder,
		MeanImg:         p.Mean(p.Frames),
		BinPath:         p.Path(),
	}
	if err := p.CloseSink(); err != nil {
		return nil, err
	}
	if ps.Secondary != nil {
		res.MeanImgChan2 = ps.Secondary.Mean(p.Frames)
		res.Chan2Path = ps.Secondary.Path()
		if err := ps.Secondary.CloseSink(); err != nil {
			return nil, err
		}
	}
	return res, nil
}
