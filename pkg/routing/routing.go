// Package routing maps raw frame batches to their output plane and channel
// under the four addressing schemes acquisition software produces: standard
// interleaved stacks, mesoscope line-multiplexed stacks, single-page
// file-cycle series, and metadata-indexed series. Each policy carries only
// the state it needs; the one piece of cross-file state, the plane cursor,
// is owned by the caller and threaded through explicitly so independent
// runs never share it.
package routing

import "stack2bin/internal/models"

// Cursor is the logical plane index as of the start of the next frame. It
// persists across batch and file boundaries within one run and is reset
// only at run start. After consuming N frames of an interleaved stream with
// P planes and C channels, the cursor moves to (cursor - N/C) mod P.
type Cursor int

// advance applies the backward-cycle cursor update shared by the
// interleaved and mesoscope policies.
func (c *Cursor) advance(frames, channels, planes int) {
	v := (int(*c) - frames/channels) % planes
	if v < 0 {
		v += planes
	}
	*c = Cursor(v)
}

// Channel distinguishes the two output sinks of a plane.
type Channel int

const (
	// ChanFunctional is the functional channel's stream, which carries
	// full frame accounting.
	ChanFunctional Channel = iota

	// ChanSecondary is the non-functional channel's stream.
	ChanSecondary
)

// Assignment is one routed payload: the frames of Batch belong to the given
// output plane and channel. Batches may be empty when a short read leaves a
// plane without frames in this cycle; accumulators treat that as a no-op.
type Assignment struct {
	Plane   int
	Channel Channel
	Batch   *models.FrameBatch
}
