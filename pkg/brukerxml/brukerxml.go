// Package brukerxml parses the PrairieView acquisition index that Bruker
// systems write next to their single-frame TIFF series. The index is the
// only place the recording states which channel each file was captured on
// and which field of view each frame belongs to, so metadata-indexed
// ingestion cannot route without it.
package brukerxml

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

// FrameInfo is the flat per-frame table distilled from the index.
type FrameInfo struct {
	// Files holds the frame file names in acquisition order
	Files []string

	// Times holds each frame's relative acquisition time in seconds
	Times []float64

	// Channels holds the 1-based channel id per frame file
	Channels []int

	// FOVs holds the field-of-view id per frame, derived from the unique
	// stage positions in order of first appearance
	FOVs []int

	// Cycles holds the acquisition cycle index per frame file
	Cycles []int

	// NumFOV and NumChannels summarize the distinct ids seen
	NumFOV      int
	NumChannels int
}

// XML shapes for the slice of the PrairieView schema we consume.

type pvScan struct {
	Header    []pvStateValue `xml:"PVStateShard>PVStateValue"`
	Sequences []pvSequence   `xml:"Sequence"`
}

type pvSequence struct {
	Frames []pvFrame `xml:"Frame"`
}

type pvFrame struct {
	RelativeTime float64        `xml:"relativeTime,attr"`
	Files        []pvFile       `xml:"File"`
	State        []pvStateValue `xml:"PVStateShard>PVStateValue"`
}

type pvFile struct {
	Filename string `xml:"filename,attr"`
	Channel  int    `xml:"channel,attr"`
}

type pvStateValue struct {
	Key  string      `xml:"key,attr"`
	Subs []pvSubVals `xml:"SubindexedValues"`
}

type pvSubVals struct {
	Values []pvSubVal `xml:"SubindexedValue"`
}

type pvSubVal struct {
	Value float64 `xml:"value,attr"`
}

// position flattens a state shard's positionCurrent entry into the stage
// coordinates it carries, or nil when the shard has none.
func position(state []pvStateValue) []float64 {
	var pos []float64
	for _, sv := range state {
		if sv.Key != "positionCurrent" {
			continue
		}
		for _, sub := range sv.Subs {
			for _, v := range sub.Values {
				pos = append(pos, v.Value)
			}
		}
	}
	return pos
}

// ParseFrameInfo reads the index at path and returns the per-frame table.
// Recordings captured at a single stage position omit per-frame positions;
// those fall back to the header's starting position, yielding one FOV.
func ParseFrameInfo(path string) (*FrameInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading acquisition index: %v", err)
	}
	var scan pvScan
	if err := xml.Unmarshal(data, &scan); err != nil {
		return nil, fmt.Errorf("parsing acquisition index %s: %v", path, err)
	}

	startPos := position(scan.Header)

	info := &FrameInfo{}
	var positions [][]float64
	for cycle, seq := range scan.Sequences {
		for _, frame := range seq.Frames {
			info.Times = append(info.Times, frame.RelativeTime)
			for _, f := range frame.Files {
				info.Files = append(info.Files, f.Filename)
				info.Channels = append(info.Channels, f.Channel)
				info.Cycles = append(info.Cycles, cycle)
			}
			if pos := position(frame.State); pos != nil {
				positions = append(positions, pos)
			}
		}
	}
	if len(info.Files) == 0 {
		return nil, fmt.Errorf("acquisition index %s lists no frames", path)
	}
	if len(positions) == 0 {
		for range info.Times {
			positions = append(positions, startPos)
		}
	}

	// FOV ids are assigned by unique stage position, in order of first
	// appearance.
	var unique [][]float64
	for _, pos := range positions {
		id := -1
		for i, u := range unique {
			if samePosition(pos, u) {
				id = i
				break
			}
		}
		if id < 0 {
			id = len(unique)
			unique = append(unique, pos)
		}
		info.FOVs = append(info.FOVs, id)
	}
	info.NumFOV = len(unique)

	seen := map[int]bool{}
	for _, ch := range info.Channels {
		seen[ch] = true
	}
	info.NumChannels = len(seen)

	return info, nil
}

func samePosition(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// InferXMLPath returns the conventional index location for a recording
// folder: the index file carries the folder's own name.
func InferXMLPath(recDir string) string {
	recDir = filepath.Clean(recDir)
	return filepath.Join(recDir, filepath.Base(recDir)+".xml")
}
