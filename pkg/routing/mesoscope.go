package routing

import "stack2bin/internal/models"

// MesoPlane describes one output plane of a line-multiplexed acquisition:
// which physical plane its frames come from and the contiguous scan-line
// band it occupies within those frames.
type MesoPlane struct {
	// Plane is the physical plane index used for frame selection
	Plane int

	// FirstLine and LastLine bound the output plane's rows, inclusive
	FirstLine, LastLine int
}

// Mesoscope routes line-multiplexed stacks. Frame selection follows the
// interleaved rule over the physical plane cycle; each output plane then
// keeps only its own scan-line band, so outputs may differ in height while
// sharing the full frame width.
type Mesoscope struct {
	// PhysPlanes is the number of physical planes in the frame cycle,
	// before line multiplexing expands them into outputs
	PhysPlanes     int
	Channels       int
	FunctionalChan int

	// Outputs lists the line-multiplexed output planes in output order
	Outputs []MesoPlane
}

// Route assigns line-sliced payloads to every output plane and advances the
// cursor over the physical plane cycle.
func (m Mesoscope) Route(b *models.FrameBatch, cur *Cursor) []Assignment {
	stride := m.PhysPlanes * m.Channels
	nfunc := 0
	if m.Channels > 1 {
		nfunc = m.FunctionalChan - 1
	}
	out := make([]Assignment, 0, len(m.Outputs)*m.Channels)
	for j, op := range m.Outputs {
		i0 := m.Channels * ((int(*cur) + op.Plane) % m.PhysPlanes)
		sel := b.Subsample(i0+nfunc, stride)
		out = append(out, Assignment{
			Plane:   j,
			Channel: ChanFunctional,
			Batch:   sel.SliceRows(op.FirstLine, op.LastLine),
		})
		if m.Channels > 1 {
			sel2 := b.Subsample(i0+1-nfunc, stride)
			out = append(out, Assignment{
				Plane:   j,
				Channel: ChanSecondary,
				Batch:   sel2.SliceRows(op.FirstLine, op.LastLine),
			})
		}
	}
	cur.advance(b.Frames(), m.Channels, m.PhysPlanes)
	return out
}
