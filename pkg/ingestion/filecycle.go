package ingestion

import (
	"errors"
	"fmt"

	"stack2bin/pkg/filesearch"
	"stack2bin/pkg/routing"
	"stack2bin/pkg/tiffstack"
)

// runFileCycle ingests single-page-per-file series in which channels were
// recorded as two separate file lists and the plane advances one step per
// file. The plane assignment comes from a precomputed cycle table; no
// arithmetic cursor is carried. The occasional short multi-page file is
// handled by the same batch loop, with all of its frames going to the
// file's plane.
func (d *Driver) runFileCycle() error {
	a := &d.cfg.Acquisition
	primary, secondary := filesearch.SplitByChannel(d.files, a.FunctionalChan)
	if len(primary) == 0 {
		return fmt.Errorf("no functional-channel files in series")
	}
	withChan2 := a.Channels > 1 && len(secondary) > 0
	if a.Channels > 1 && len(secondary) == 0 {
		fmt.Println("NOTE: no secondary-channel files found, treating series as single channel")
	}
	// The series lives in a single folder; per-file tallies are indexed by
	// the functional list's ordinals.
	if err := d.openStreams(len(primary), 1, withChan2); err != nil {
		return err
	}

	table := routing.PlaneTable(a.Planes, len(primary), a.Bidirectional)
	batchSize := d.cfg.EffectiveBatchSize()

	for k, sf := range primary {
		if err := d.ingestCycleFile(sf.Path, table[k], k, batchSize, true); err != nil {
			return err
		}
	}
	if withChan2 {
		for k, sf := range secondary {
			if k >= len(table) {
				break
			}
			if err := d.ingestCycleFile(sf.Path, table[k], k, batchSize, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// ingestCycleFile streams one file of a file-cycle series into plane ip.
func (d *Driver) ingestCycleFile(path string, ip, fileIdx, batchSize int, functional bool) error {
	r, err := tiffstack.Open(path, d.backend)
	if err != nil {
		return fmt.Errorf("opening %s: %v", path, err)
	}
	defer r.Close()

	ps := d.streams[ip]
	ix := 0
	for {
		b, err := r.ReadBatch(ix, batchSize)
		if errors.Is(err, tiffstack.ErrEndOfStack) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %v", path, err)
		}
		if functional {
			err = ps.Primary.Append(b, fileIdx, 0)
		} else {
			err = ps.Secondary.AppendMeanOnly(b)
		}
		if err != nil {
			return err
		}
		ix += b.Frames()
		d.batchDone(b.Frames(), batchSize)
	}
	return nil
}
