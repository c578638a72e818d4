package models

// FrameBatch is a bounded run of consecutive frames read from one source
// stack in a single I/O call. Samples are stored contiguously in row-major
// frame order, already normalized to the canonical signed 16-bit format.
type FrameBatch struct {
	// Start is the absolute index of the first frame within its source file
	Start int

	// Ly and Lx are the frame height and width in pixels
	Ly, Lx int

	// Data holds Frames()*Ly*Lx samples; frame i occupies
	// Data[i*Ly*Lx : (i+1)*Ly*Lx]
	Data []int16
}

// Frames returns the number of frames in the batch.
func (b *FrameBatch) Frames() int {
	if b.Ly == 0 || b.Lx == 0 {
		return 0
	}
	return len(b.Data) / (b.Ly * b.Lx)
}

// Frame returns the samples of frame i as a view into the batch.
func (b *FrameBatch) Frame(i int) []int16 {
	n := b.Ly * b.Lx
	return b.Data[i*n : (i+1)*n]
}

// Subsample returns a new batch containing every stride-th frame starting at
// offset. The returned batch owns a copy of the selected samples, so the
// receiver can be released after routing. An offset past the end yields an
// empty batch, not an error.
func (b *FrameBatch) Subsample(offset, stride int) *FrameBatch {
	n := b.Frames()
	out := &FrameBatch{Start: b.Start + offset, Ly: b.Ly, Lx: b.Lx}
	if offset >= n {
		return out
	}
	count := (n - offset + stride - 1) / stride
	out.Data = make([]int16, 0, count*b.Ly*b.Lx)
	for i := offset; i < n; i += stride {
		out.Data = append(out.Data, b.Frame(i)...)
	}
	return out
}

// SliceRows returns a new batch holding rows [first, last] (inclusive) of
// every frame. Used by line-multiplexed acquisitions where each output plane
// occupies a contiguous band of scan lines within the physical frame.
func (b *FrameBatch) SliceRows(first, last int) *FrameBatch {
	ny := last - first + 1
	out := &FrameBatch{Start: b.Start, Ly: ny, Lx: b.Lx}
	out.Data = make([]int16, 0, b.Frames()*ny*b.Lx)
	for i := 0; i < b.Frames(); i++ {
		f := b.Frame(i)
		out.Data = append(out.Data, f[first*b.Lx:(last+1)*b.Lx]...)
	}
	return out
}

// SourceFile identifies one input stack within an ingestion run.
type SourceFile struct {
	// Path is the location of the stack on disk
	Path string

	// Index is the ordinal of this file within the run's file list
	Index int

	// StartsFolder is true for the first file of each source folder;
	// the driver advances its folder cursor when it sees the flag
	StartsFolder bool
}

// PlaneResult is the finalized per-plane output metadata produced at the end
// of an ingestion run.
type PlaneResult struct {
	// Plane is the output plane index
	Plane int

	// Ly and Lx are the spatial extents of the plane
	Ly, Lx int

	// NFrames is the total number of functional-channel frames written
	NFrames int

	// FramesPerFile counts frames indexed by source-file ordinal
	FramesPerFile []int

	// FramesPerFolder counts frames indexed by source-folder ordinal
	FramesPerFolder []int

	// MeanImg is the per-pixel mean of all functional-channel frames
	MeanImg []float64

	// MeanImgChan2 is the per-pixel mean for the secondary channel,
	// nil for single-channel acquisitions
	MeanImgChan2 []float64

	// BinPath and Chan2Path locate the written binary stores
	BinPath   string
	Chan2Path string
}
