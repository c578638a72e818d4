package routing

import "stack2bin/internal/models"

// FrameTable is the precomputed per-frame index parsed from the vendor's
// acquisition metadata: for every source file, which channel it was recorded
// on and which field of view (output plane) each of its frames belongs to.
type FrameTable struct {
	// Channels holds the 1-based channel id per file ordinal
	Channels []int

	// Planes holds the field-of-view id per frame entry, in file order;
	// file k's frames occupy Planes[planes*k : planes*k+planes]
	Planes []int
}

// MetadataDriven routes acquisitions whose plane and channel identities come
// from a per-frame metadata table rather than positional arithmetic.
type MetadataDriven struct {
	Planes         int
	FunctionalChan int
	Table          FrameTable
}

// RouteFile assigns the frames of one file's batch using the table. The
// whole file belongs to a single recorded channel; frames within the batch
// map to the table's plane entries for that file. Frames beyond the table's
// entries for the file are not assigned. The non-functional channel routes
// to the secondary stream, whose accumulation is mean-only; that asymmetry
// follows the recording convention and is deliberate.
func (m MetadataDriven) RouteFile(b *models.FrameBatch, fileIdx int) []Assignment {
	ch := ChanFunctional
	if len(m.Table.Channels) > fileIdx && m.Table.Channels[fileIdx] != m.FunctionalChan {
		ch = ChanSecondary
	}

	lo := m.Planes * fileIdx
	hi := lo + m.Planes
	if hi > len(m.Table.Planes) {
		hi = len(m.Table.Planes)
	}
	if lo >= hi {
		return nil
	}
	planeOrder := m.Table.Planes[lo:hi]

	if m.Planes == 1 {
		return []Assignment{{Plane: planeOrder[0], Channel: ch, Batch: b}}
	}
	out := make([]Assignment, 0, len(planeOrder))
	for i, plane := range planeOrder {
		if i >= b.Frames() {
			break
		}
		out = append(out, Assignment{
			Plane:   plane,
			Channel: ch,
			Batch:   b.Subsample(i, b.Frames()), // exactly frame i
		})
	}
	return out
}
