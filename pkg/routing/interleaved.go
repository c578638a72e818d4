package routing

import "stack2bin/internal/models"

// Interleaved routes standard multi-plane, multi-channel stacks in which
// consecutive frames cycle through every (plane, channel) pair with a
// period of planes*channels.
type Interleaved struct {
	// Planes and Channels describe the acquisition cycle
	Planes   int
	Channels int

	// FunctionalChan is the 1-based functional channel as the instrument
	// reports it; it decides which of the two interleaved channel slots
	// feeds the functional stream
	FunctionalChan int
}

// funcOffset is the within-cycle offset of the functional channel.
func (p Interleaved) funcOffset() int {
	if p.Channels > 1 {
		return p.FunctionalChan - 1
	}
	return 0
}

// Route assigns every frame of the batch to its plane and channel and
// advances the cursor by the consumed frame count. The selection arithmetic
// is frame-relative, so batches whose length is not a multiple of the cycle
// still route correctly; frames past the last complete stride selection of
// the final file are simply never selected, which is the documented
// trailing-frame drop.
func (p Interleaved) Route(b *models.FrameBatch, cur *Cursor) []Assignment {
	stride := p.Planes * p.Channels
	nfunc := p.funcOffset()
	out := make([]Assignment, 0, p.Planes*p.Channels)
	for j := 0; j < p.Planes; j++ {
		i0 := p.Channels * ((int(*cur) + j) % p.Planes)
		out = append(out, Assignment{
			Plane:   j,
			Channel: ChanFunctional,
			Batch:   b.Subsample(i0+nfunc, stride),
		})
		if p.Channels > 1 {
			out = append(out, Assignment{
				Plane:   j,
				Channel: ChanSecondary,
				Batch:   b.Subsample(i0+1-nfunc, stride),
			})
		}
	}
	cur.advance(b.Frames(), p.Channels, p.Planes)
	return out
}
