// Package ingestion orchestrates a conversion run: it walks the ordered
// source-file list, reads each stack in bounded batches through the chosen
// backend, routes every frame to its output plane and channel, and streams
// the routed payloads into the per-plane binary stores. At the end it
// finalizes the mean images and persists one metadata record per plane.
//
// The run is a single logical thread of control. The only cross-file state
// lives here: the routing cursor, the folder cursor, and the accumulating
// streams. Any read or write failure aborts the run; partially written
// sinks are not well formed until finalize and callers must discard them
// after a failed run.
package ingestion

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"stack2bin/internal/models"
	"stack2bin/pkg/binstore"
	"stack2bin/pkg/brukerxml"
	"stack2bin/pkg/config"
	"stack2bin/pkg/routing"
	"stack2bin/pkg/tiffstack"
)

// Driver runs one ingestion pass over an acquisition.
type Driver struct {
	// FrameTable is the per-frame index for metadata-indexed recordings.
	// Left nil, Run derives it from the recording folder's index file;
	// tests and callers that already parsed the index can set it directly.
	FrameTable *routing.FrameTable

	cfg   *config.Config
	files []models.SourceFile

	backend  tiffstack.Backend
	streams  []*binstore.PlaneStreams
	layouts  []config.PlanePaths
	results  []*models.PlaneResult
	start    time.Time
	nbatches int
	ntotal   int
}

// NewDriver creates a driver for the given configuration and ordered
// source-file list.
func NewDriver(cfg *config.Config, files []models.SourceFile) *Driver {
	return &Driver{cfg: cfg, files: files}
}

// Results returns the finalized per-plane metadata. Valid after a
// successful Run.
func (d *Driver) Results() []*models.PlaneResult {
	return d.results
}

// Run executes the full ingestion: backend choice, file and batch loops,
// routing, accumulation, and finalize. Errors abort immediately; a run is
// re-executed wholesale from clean state after the source is fixed.
func (d *Driver) Run() error {
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	if len(d.files) == 0 {
		return fmt.Errorf("no source files to ingest")
	}
	d.start = time.Now()

	a := &d.cfg.Acquisition
	fmt.Printf("Running %d planes and %d channels (%s)\n", a.Planes, a.Channels, a.Format)

	// The backend is chosen once per run, never per file.
	if d.cfg.Input.ForceGeneric {
		d.backend = tiffstack.BackendGeneric
	} else {
		d.backend = tiffstack.Probe(d.files[0].Path, a.BatchSize)
	}

	var err error
	switch a.Format {
	case config.FormatInterleaved:
		err = d.runCycled(routing.Interleaved{
			Planes:         a.Planes,
			Channels:       a.Channels,
			FunctionalChan: a.FunctionalChan,
		})
	case config.FormatMesoscope:
		err = d.runCycled(d.mesoscopeRouter())
	case config.FormatOME:
		err = d.runFileCycle()
	case config.FormatBruker:
		err = d.runBruker()
	}
	if err != nil {
		return err
	}
	return d.finalize()
}

// batchRouter is satisfied by the policies that consume whole batches and
// carry the plane cursor (interleaved and mesoscope).
type batchRouter interface {
	Route(b *models.FrameBatch, cur *routing.Cursor) []routing.Assignment
}

// runCycled is the shared file/batch loop for cursor-carrying policies.
func (d *Driver) runCycled(router batchRouter) error {
	if err := d.openStreams(len(d.files), d.folderCount(), d.cfg.Acquisition.Channels > 1); err != nil {
		return err
	}
	batchSize := d.cfg.EffectiveBatchSize()
	whichFolder := -1
	cursor := routing.Cursor(0)

	for ik := range d.files {
		sf := d.files[ik]
		if sf.StartsFolder {
			whichFolder++
		}
		r, err := tiffstack.Open(sf.Path, d.backend)
		if err != nil {
			return fmt.Errorf("opening %s: %v", sf.Path, err)
		}
		ix := 0
		for {
			b, err := r.ReadBatch(ix, batchSize)
			if errors.Is(err, tiffstack.ErrEndOfStack) {
				break
			}
			if err != nil {
				r.Close()
				return fmt.Errorf("reading %s: %v", sf.Path, err)
			}
			for _, asn := range router.Route(b, &cursor) {
				if err := d.accumulate(asn, ik, whichFolder); err != nil {
					r.Close()
					return err
				}
			}
			ix += b.Frames()
			d.batchDone(b.Frames(), batchSize)
		}
		if err := r.Close(); err != nil {
			return fmt.Errorf("closing %s: %v", sf.Path, err)
		}
	}
	return nil
}

// mesoscopeRouter expands the configured per-ROI line table across planes:
// output j covers ROI j mod nrois of physical plane j div nrois.
func (d *Driver) mesoscopeRouter() routing.Mesoscope {
	a := &d.cfg.Acquisition
	nrois := len(d.cfg.Mesoscope.Lines)
	outputs := make([]routing.MesoPlane, 0, a.Planes*nrois)
	for j := 0; j < a.Planes*nrois; j++ {
		rows := d.cfg.Mesoscope.Lines[j%nrois]
		outputs = append(outputs, routing.MesoPlane{
			Plane:     j / nrois,
			FirstLine: rows[0],
			LastLine:  rows[len(rows)-1],
		})
	}
	return routing.Mesoscope{
		PhysPlanes:     a.Planes,
		Channels:       a.Channels,
		FunctionalChan: a.FunctionalChan,
		Outputs:        outputs,
	}
}

// runBruker routes each file's frames by the acquisition's metadata index.
func (d *Driver) runBruker() error {
	a := &d.cfg.Acquisition
	if d.FrameTable == nil {
		info, err := brukerxml.ParseFrameInfo(brukerxml.InferXMLPath(d.cfg.Input.DataPath))
		if err != nil {
			return err
		}
		d.FrameTable = &routing.FrameTable{Channels: info.Channels, Planes: info.FOVs}
	}
	if err := d.openStreams(len(d.files), d.folderCount(), a.Channels > 1); err != nil {
		return err
	}
	md := routing.MetadataDriven{
		Planes:         a.Planes,
		FunctionalChan: a.FunctionalChan,
		Table:          *d.FrameTable,
	}
	batchSize := d.cfg.EffectiveBatchSize()
	whichFolder := -1

	for ik := range d.files {
		sf := d.files[ik]
		if sf.StartsFolder {
			whichFolder++
		}
		r, err := tiffstack.Open(sf.Path, d.backend)
		if err != nil {
			return fmt.Errorf("opening %s: %v", sf.Path, err)
		}
		ix := 0
		for {
			b, err := r.ReadBatch(ix, batchSize)
			if errors.Is(err, tiffstack.ErrEndOfStack) {
				break
			}
			if err != nil {
				r.Close()
				return fmt.Errorf("reading %s: %v", sf.Path, err)
			}
			for _, asn := range md.RouteFile(b, ik) {
				if asn.Plane >= len(d.streams) {
					r.Close()
					return fmt.Errorf("index assigns plane %d but only %d planes are configured",
						asn.Plane, len(d.streams))
				}
				if err := d.accumulate(asn, ik, whichFolder); err != nil {
					r.Close()
					return err
				}
			}
			ix += b.Frames()
			d.batchDone(b.Frames(), batchSize)
		}
		if err := r.Close(); err != nil {
			return fmt.Errorf("closing %s: %v", sf.Path, err)
		}
	}
	return nil
}

// accumulate dispatches one routed payload to its stream. Functional
// payloads carry full accounting; secondary payloads accumulate payload and
// mean only.
func (d *Driver) accumulate(asn routing.Assignment, fileIdx, folderIdx int) error {
	ps := d.streams[asn.Plane]
	if asn.Channel == routing.ChanFunctional {
		return ps.Primary.Append(asn.Batch, fileIdx, folderIdx)
	}
	if ps.Secondary == nil {
		return fmt.Errorf("secondary-channel frame routed in a single-channel run")
	}
	return ps.Secondary.AppendMeanOnly(asn.Batch)
}

// openStreams creates the output layout and the per-plane sinks.
func (d *Driver) openStreams(nfiles, nfolders int, withChan2 bool) error {
	n := d.cfg.OutputPlanes()
	d.streams = make([]*binstore.PlaneStreams, n)
	d.layouts = make([]config.PlanePaths, n)
	for j := 0; j < n; j++ {
		layout, err := d.cfg.PlaneLayout(j)
		if err != nil {
			return err
		}
		chan2 := ""
		if withChan2 {
			chan2 = layout.Chan2Path
		}
		ps, err := binstore.OpenPlane(j, layout.BinPath, chan2, nfiles, nfolders)
		if err != nil {
			return err
		}
		d.streams[j] = ps
		d.layouts[j] = layout
	}
	return nil
}

// folderCount counts the folder boundaries in the run's file list.
func (d *Driver) folderCount() int {
	n := 0
	for _, f := range d.files {
		if f.StartsFolder {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

// batchDone updates progress accounting after one routed batch and applies
// the optional periodic memory-reclaim hint.
func (d *Driver) batchDone(frames, batchSize int) {
	d.ntotal += frames
	d.nbatches++
	if d.ntotal > 0 && d.ntotal%(batchSize*4) == 0 {
		fmt.Printf("%d frames of binary, time %.2f sec.\n",
			d.ntotal, time.Since(d.start).Seconds())
	}
	if d.cfg.Output.AggressiveReclaim && d.nbatches%8 == 0 {
		runtime.GC()
	}
}

// finalize closes every stream exactly once, computes the mean images, and
// persists the per-plane records.
func (d *Driver) finalize() error {
	d.results = make([]*models.PlaneResult, 0, len(d.streams))
	for j, ps := range d.streams {
		res, err := ps.Finalize()
		if err != nil {
			return fmt.Errorf("finalizing plane %d: %v", j, err)
		}
		if err := config.WriteRecord(res, d.layouts[j].OpsPath); err != nil {
			return err
		}
		d.results = append(d.results, res)
	}
	fmt.Printf("Wrote %d planes, %d frames total in %.2f sec.\n",
		len(d.results), d.ntotal, time.Since(d.start).Seconds())
	return nil
}
