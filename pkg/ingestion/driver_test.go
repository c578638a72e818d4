package ingestion

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"stack2bin/internal/tifftest"
	"stack2bin/pkg/config"
	"stack2bin/pkg/filesearch"
	"stack2bin/pkg/routing"
)

// writeStack writes a fixture whose frame g reads back as the constant
// value base+g after normalization.
func writeStack(t *testing.T, path string, ly, lx, nframes, base int) {
	t.Helper()
	frames := make([][]uint16, nframes)
	for g := range frames {
		frames[g] = tifftest.ConstFrame(ly, lx, uint16(2*(base+g)))
	}
	if err := tifftest.WriteUint16Stack(path, ly, lx, frames); err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
}

func readSink(t *testing.T, path string) []int16 {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading sink: %v", err)
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out
}

// sinkFrameValues reduces a constant-valued sink to one value per frame.
func sinkFrameValues(t *testing.T, path string, ly, lx int) []int {
	t.Helper()
	samples := readSink(t, path)
	npix := ly * lx
	if len(samples)%npix != 0 {
		t.Fatalf("sink holds %d samples, not a whole number of %dx%d frames", len(samples), ly, lx)
	}
	vals := make([]int, len(samples)/npix)
	for i := range vals {
		vals[i] = int(samples[i*npix])
		for j := 1; j < npix; j++ {
			if samples[i*npix+j] != samples[i*npix] {
				t.Fatalf("frame %d is not constant-valued", i)
			}
		}
	}
	return vals
}

func baseConfig(t *testing.T, format string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Acquisition.Format = format
	cfg.Input.DataPath = filepath.Join(t.TempDir(), "data")
	cfg.Output.SavePath = filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(cfg.Input.DataPath, 0755); err != nil {
		t.Fatal(err)
	}
	return cfg
}

// Two source files of 10 frames each, two planes, one channel, batch 4:
// plane 0 must receive the even global frames in order, plane 1 the odd
// ones, both with 10 frames and the exact elementwise mean.
func TestInterleavedTwoFilesTwoPlanes(t *testing.T) {
	cfg := baseConfig(t, config.FormatInterleaved)
	cfg.Acquisition.Planes = 2
	cfg.Acquisition.BatchSize = 4
	writeStack(t, filepath.Join(cfg.Input.DataPath, "file1.tif"), 3, 2, 10, 0)
	writeStack(t, filepath.Join(cfg.Input.DataPath, "file2.tif"), 3, 2, 10, 10)

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, false)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	d := NewDriver(cfg, files)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := d.Results()
	if len(results) != 2 {
		t.Fatalf("got %d plane results, want 2", len(results))
	}

	wantFrames := [][]int{
		{0, 2, 4, 6, 8, 10, 12, 14, 16, 18},
		{1, 3, 5, 7, 9, 11, 13, 15, 17, 19},
	}
	for j, res := range results {
		if res.NFrames != 10 {
			t.Errorf("plane %d NFrames = %d, want 10", j, res.NFrames)
		}
		got := sinkFrameValues(t, res.BinPath, 3, 2)
		want := wantFrames[j]
		if len(got) != len(want) {
			t.Fatalf("plane %d sink holds %d frames, want %d", j, len(got), len(want))
		}
		sum := 0.0
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("plane %d frame %d = %d, want %d", j, i, got[i], want[i])
			}
			sum += float64(want[i])
		}
		wantMean := sum / float64(len(want))
		for i, m := range res.MeanImg {
			if math.Abs(m-wantMean) > 1e-9 {
				t.Errorf("plane %d mean[%d] = %v, want %v", j, i, m, wantMean)
				break
			}
		}
		if res.FramesPerFile[0] != 5 || res.FramesPerFile[1] != 5 {
			t.Errorf("plane %d FramesPerFile = %v, want [5 5]", j, res.FramesPerFile)
		}
		if len(res.FramesPerFolder) != 1 || res.FramesPerFolder[0] != 10 {
			t.Errorf("plane %d FramesPerFolder = %v, want [10]", j, res.FramesPerFolder)
		}

		// The persisted record must agree with the in-memory result.
		rec, err := config.ReadRecord(filepath.Join(filepath.Dir(res.BinPath), "ops.yaml"))
		if err != nil {
			t.Fatalf("ReadRecord: %v", err)
		}
		if rec.NFrames != res.NFrames || rec.Ly != 3 || rec.Lx != 2 {
			t.Errorf("plane %d record = %d frames %dx%d, want %d frames 3x2",
				j, rec.NFrames, rec.Ly, rec.Lx, res.NFrames)
		}
	}

	// Frame conservation: every read frame lands in exactly one stream.
	total := results[0].NFrames + results[1].NFrames
	if total != 20 {
		t.Errorf("total frames = %d, want 20", total)
	}
}

func TestInterleavedFolderTallies(t *testing.T) {
	cfg := baseConfig(t, config.FormatInterleaved)
	cfg.Acquisition.BatchSize = 3
	cfg.Input.LookOneLevelDown = true
	sub := filepath.Join(cfg.Input.DataPath, "session2")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeStack(t, filepath.Join(cfg.Input.DataPath, "a1.tif"), 2, 2, 4, 0)
	writeStack(t, filepath.Join(sub, "b1.tif"), 2, 2, 6, 4)

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, true)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	d := NewDriver(cfg, files)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := d.Results()[0]
	if res.NFrames != 10 {
		t.Fatalf("NFrames = %d, want 10", res.NFrames)
	}
	if len(res.FramesPerFolder) != 2 || res.FramesPerFolder[0] != 4 || res.FramesPerFolder[1] != 6 {
		t.Errorf("FramesPerFolder = %v, want [4 6]", res.FramesPerFolder)
	}
}

func TestMesoscopeLineBands(t *testing.T) {
	cfg := baseConfig(t, config.FormatMesoscope)
	cfg.Acquisition.BatchSize = 4
	cfg.Mesoscope.Lines = [][]int{{0, 1}, {2, 3}}

	// One file of 4 frames; frame g holds value 10g+y on row y.
	frames := make([][]uint16, 4)
	for g := range frames {
		f := make([]uint16, 4*2)
		for y := 0; y < 4; y++ {
			for x := 0; x < 2; x++ {
				f[y*2+x] = uint16(2 * (10*g + y))
			}
		}
		frames[g] = f
	}
	path := filepath.Join(cfg.Input.DataPath, "meso1.tif")
	if err := tifftest.WriteUint16Stack(path, 4, 2, frames); err != nil {
		t.Fatal(err)
	}

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, false)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	d := NewDriver(cfg, files)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := d.Results()
	if len(results) != 2 {
		t.Fatalf("got %d output planes, want 2 (one per ROI)", len(results))
	}
	for j, res := range results {
		if res.NFrames != 4 {
			t.Errorf("output %d NFrames = %d, want 4", j, res.NFrames)
		}
		if res.Ly != 2 || res.Lx != 2 {
			t.Errorf("output %d shape = %dx%d, want 2x2", j, res.Ly, res.Lx)
		}
		samples := readSink(t, res.BinPath)
		if len(samples) != 4*2*2 {
			t.Fatalf("output %d sink holds %d samples, want 16", j, len(samples))
		}
		// Frame g of ROI j starts at row 2j: value 10g + 2j.
		for g := 0; g < 4; g++ {
			want := int16(10*g + 2*j)
			if samples[g*4] != want {
				t.Errorf("output %d frame %d first sample = %d, want %d", j, g, samples[g*4], want)
			}
		}
	}
}

func TestFileCyclePlaneAssignment(t *testing.T) {
	cfg := baseConfig(t, config.FormatOME)
	cfg.Acquisition.Planes = 2
	for k := 0; k < 5; k++ {
		writeStack(t, filepath.Join(cfg.Input.DataPath, fmt.Sprintf("rec_Ch1_%03d.tif", k)), 2, 2, 1, k)
	}

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, false)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	d := NewDriver(cfg, files)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := d.Results()
	// Plane table [0 1 0 1 0]: files 0,2,4 to plane 0, files 1,3 to plane 1.
	if got := sinkFrameValues(t, results[0].BinPath, 2, 2); !equalInts(got, []int{0, 2, 4}) {
		t.Errorf("plane 0 frames = %v, want [0 2 4]", got)
	}
	if got := sinkFrameValues(t, results[1].BinPath, 2, 2); !equalInts(got, []int{1, 3}) {
		t.Errorf("plane 1 frames = %v, want [1 3]", got)
	}
	if results[0].NFrames != 3 || results[1].NFrames != 2 {
		t.Errorf("NFrames = %d, %d, want 3, 2", results[0].NFrames, results[1].NFrames)
	}
	if !equalInts(results[0].FramesPerFile, []int{1, 0, 1, 0, 1}) {
		t.Errorf("plane 0 FramesPerFile = %v, want [1 0 1 0 1]", results[0].FramesPerFile)
	}
}

func TestFileCycleBidirectional(t *testing.T) {
	cfg := baseConfig(t, config.FormatOME)
	cfg.Acquisition.Planes = 2
	cfg.Acquisition.Bidirectional = true
	for k := 0; k < 5; k++ {
		writeStack(t, filepath.Join(cfg.Input.DataPath, fmt.Sprintf("rec_Ch1_%03d.tif", k)), 2, 2, 1, k)
	}

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, false)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	d := NewDriver(cfg, files)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Palindrome table [0 1 1 0 0].
	results := d.Results()
	if got := sinkFrameValues(t, results[0].BinPath, 2, 2); !equalInts(got, []int{0, 3, 4}) {
		t.Errorf("plane 0 frames = %v, want [0 3 4]", got)
	}
	if got := sinkFrameValues(t, results[1].BinPath, 2, 2); !equalInts(got, []int{1, 2}) {
		t.Errorf("plane 1 frames = %v, want [1 2]", got)
	}
}

func TestFileCycleTwoChannels(t *testing.T) {
	cfg := baseConfig(t, config.FormatOME)
	cfg.Acquisition.Planes = 1
	cfg.Acquisition.Channels = 2
	for k := 0; k < 3; k++ {
		writeStack(t, filepath.Join(cfg.Input.DataPath, fmt.Sprintf("rec_Ch1_%03d.tif", k)), 2, 2, 1, k)
		writeStack(t, filepath.Join(cfg.Input.DataPath, fmt.Sprintf("rec_Ch2_%03d.tif", k)), 2, 2, 1, 10+k)
	}

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, false)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	d := NewDriver(cfg, files)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := d.Results()[0]
	if res.NFrames != 3 {
		t.Errorf("NFrames = %d, want 3 (secondary files must not count)", res.NFrames)
	}
	if got := sinkFrameValues(t, res.BinPath, 2, 2); !equalInts(got, []int{0, 1, 2}) {
		t.Errorf("functional frames = %v, want [0 1 2]", got)
	}
	if got := sinkFrameValues(t, res.Chan2Path, 2, 2); !equalInts(got, []int{10, 11, 12}) {
		t.Errorf("secondary frames = %v, want [10 11 12]", got)
	}
	// Secondary mean divides by the functional frame count.
	if math.Abs(res.MeanImgChan2[0]-11) > 1e-9 {
		t.Errorf("MeanImgChan2[0] = %v, want 11", res.MeanImgChan2[0])
	}
}

func TestBrukerFrameTableRouting(t *testing.T) {
	cfg := baseConfig(t, config.FormatBruker)
	cfg.Acquisition.Planes = 2
	cfg.Acquisition.BatchSize = 4
	writeStack(t, filepath.Join(cfg.Input.DataPath, "cycle1.tif"), 2, 2, 2, 0)
	writeStack(t, filepath.Join(cfg.Input.DataPath, "cycle2.tif"), 2, 2, 2, 2)

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, false)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	d := NewDriver(cfg, files)
	d.FrameTable = &routing.FrameTable{
		Channels: []int{1, 1},
		Planes:   []int{0, 1, 0, 1},
	}
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := d.Results()
	if got := sinkFrameValues(t, results[0].BinPath, 2, 2); !equalInts(got, []int{0, 2}) {
		t.Errorf("plane 0 frames = %v, want [0 2]", got)
	}
	if got := sinkFrameValues(t, results[1].BinPath, 2, 2); !equalInts(got, []int{1, 3}) {
		t.Errorf("plane 1 frames = %v, want [1 3]", got)
	}
	for j, res := range results {
		if res.NFrames != 2 {
			t.Errorf("plane %d NFrames = %d, want 2", j, res.NFrames)
		}
		if !equalInts(res.FramesPerFile, []int{1, 1}) {
			t.Errorf("plane %d FramesPerFile = %v, want [1 1]", j, res.FramesPerFile)
		}
	}
}

func TestBrukerSecondaryChannelIsMeanOnly(t *testing.T) {
	cfg := baseConfig(t, config.FormatBruker)
	cfg.Acquisition.Planes = 1
	cfg.Acquisition.Channels = 2
	writeStack(t, filepath.Join(cfg.Input.DataPath, "cycle1.tif"), 2, 2, 1, 5)
	writeStack(t, filepath.Join(cfg.Input.DataPath, "cycle2.tif"), 2, 2, 1, 9)

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, false)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	d := NewDriver(cfg, files)
	d.FrameTable = &routing.FrameTable{
		Channels: []int{1, 2},
		Planes:   []int{0, 0},
	}
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := d.Results()[0]
	if res.NFrames != 1 {
		t.Errorf("NFrames = %d, want 1 (only the functional file counts)", res.NFrames)
	}
	if got := sinkFrameValues(t, res.BinPath, 2, 2); !equalInts(got, []int{5}) {
		t.Errorf("functional frames = %v, want [5]", got)
	}
	if got := sinkFrameValues(t, res.Chan2Path, 2, 2); !equalInts(got, []int{9}) {
		t.Errorf("secondary frames = %v, want [9]", got)
	}
}

func TestRunRejectsShapeChangeBetweenFiles(t *testing.T) {
	cfg := baseConfig(t, config.FormatInterleaved)
	writeStack(t, filepath.Join(cfg.Input.DataPath, "a1.tif"), 2, 2, 2, 0)
	writeStack(t, filepath.Join(cfg.Input.DataPath, "a2.tif"), 3, 2, 2, 0)

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, false)
	if err != nil {
		t.Fatalf("ListTIFFs: %v", err)
	}
	if err := NewDriver(cfg, files).Run(); err == nil {
		t.Fatal("expected a shape-mismatch error")
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	cfg := baseConfig(t, config.FormatInterleaved)
	cfg.Acquisition.Channels = 3
	if err := NewDriver(cfg, nil).Run(); err == nil {
		t.Fatal("expected a configuration error before any sink is opened")
	}
}

func equalInts(a, b []int) bool {
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
