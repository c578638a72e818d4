package brukerxml

import (
	"os"
	"path/filepath"
	"testing"
)

func writeIndex(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.xml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

const multiFOVIndex = `<?xml version="1.0"?>
<PVScan>
  <PVStateShard>
    <PVStateValue key="positionCurrent">
      <SubindexedValues index="XAxis"><SubindexedValue subindex="0" value="100.0"/></SubindexedValues>
      <SubindexedValues index="ZAxis"><SubindexedValue subindex="0" value="0.0"/></SubindexedValues>
    </PVStateValue>
  </PVStateShard>
  <Sequence>
    <Frame relativeTime="0.0">
      <File channel="1" filename="rec_Cycle00001_Ch1_000001.tif"/>
      <PVStateShard>
        <PVStateValue key="positionCurrent">
          <SubindexedValues index="XAxis"><SubindexedValue subindex="0" value="100.0"/></SubindexedValues>
          <SubindexedValues index="ZAxis"><SubindexedValue subindex="0" value="0.0"/></SubindexedValues>
        </PVStateValue>
      </PVStateShard>
    </Frame>
    <Frame relativeTime="0.5">
      <File channel="1" filename="rec_Cycle00001_Ch1_000002.tif"/>
      <PVStateShard>
        <PVStateValue key="positionCurrent">
          <SubindexedValues index="XAxis"><SubindexedValue subindex="0" value="100.0"/></SubindexedValues>
          <SubindexedValues index="ZAxis"><SubindexedValue subindex="0" value="30.0"/></SubindexedValues>
        </PVStateValue>
      </PVStateShard>
    </Frame>
  </Sequence>
  <Sequence>
    <Frame relativeTime="1.0">
      <File channel="2" filename="rec_Cycle00002_Ch2_000001.tif"/>
      <PVStateShard>
        <PVStateValue key="positionCurrent">
          <SubindexedValues index="XAxis"><SubindexedValue subindex="0" value="100.0"/></SubindexedValues>
          <SubindexedValues index="ZAxis"><SubindexedValue subindex="0" value="0.0"/></SubindexedValues>
        </PVStateValue>
      </PVStateShard>
    </Frame>
  </Sequence>
</PVScan>`

func TestParseFrameInfoMultiFOV(t *testing.T) {
	info, err := ParseFrameInfo(writeIndex(t, multiFOVIndex))
	if err != nil {
		t.Fatalf("ParseFrameInfo: %v", err)
	}
	if len(info.Files) != 3 {
		t.Fatalf("got %d files, want 3", len(info.Files))
	}
	if info.Files[0] != "rec_Cycle00001_Ch1_000001.tif" {
		t.Errorf("Files[0] = %q", info.Files[0])
	}
	if got := info.Channels; got[0] != 1 || got[1] != 1 || got[2] != 2 {
		t.Errorf("Channels = %v, want [1 1 2]", got)
	}
	// Two distinct stage positions, ids in order of first appearance; the
	// third frame returns to the first position.
	if got := info.FOVs; got[0] != 0 || got[1] != 1 || got[2] != 0 {
		t.Errorf("FOVs = %v, want [0 1 0]", got)
	}
	if info.NumFOV != 2 {
		t.Errorf("NumFOV = %d, want 2", info.NumFOV)
	}
	if info.NumChannels != 2 {
		t.Errorf("NumChannels = %d, want 2", info.NumChannels)
	}
	if got := info.Cycles; got[0] != 0 || got[1] != 0 || got[2] != 1 {
		t.Errorf("Cycles = %v, want [0 0 1]", got)
	}
	if info.Times[1] != 0.5 {
		t.Errorf("Times[1] = %v, want 0.5", info.Times[1])
	}
}

const singlePositionIndex = `<?xml version="1.0"?>
<PVScan>
  <PVStateShard>
    <PVStateValue key="positionCurrent">
      <SubindexedValues index="ZAxis"><SubindexedValue subindex="0" value="12.5"/></SubindexedValues>
    </PVStateValue>
  </PVStateShard>
  <Sequence>
    <Frame relativeTime="0.0">
      <File channel="1" filename="rec_Cycle00001_Ch1_000001.tif"/>
    </Frame>
    <Frame relativeTime="0.5">
      <File channel="1" filename="rec_Cycle00001_Ch1_000002.tif"/>
    </Frame>
  </Sequence>
</PVScan>`

// Single-position recordings omit per-frame positions; every frame falls
// back to the header's starting position and lands in one field of view.
func TestParseFrameInfoSinglePositionFallback(t *testing.T) {
	info, err := ParseFrameInfo(writeIndex(t, singlePositionIndex))
	if err != nil {
		t.Fatalf("ParseFrameInfo: %v", err)
	}
	if info.NumFOV != 1 {
		t.Errorf("NumFOV = %d, want 1", info.NumFOV)
	}
	for i, fov := range info.FOVs {
		if fov != 0 {
			t.Errorf("FOVs[%d] = %d, want 0", i, fov)
		}
	}
}

func TestParseFrameInfoEmptyIndex(t *testing.T) {
	if _, err := ParseFrameInfo(writeIndex(t, `<PVScan><Sequence/></PVScan>`)); err == nil {
		t.Fatal("expected an error for an index without frames")
	}
}

func TestParseFrameInfoMissingFile(t *testing.T) {
	if _, err := ParseFrameInfo(filepath.Join(t.TempDir(), "absent.xml")); err == nil {
		t.Fatal("expected an error for a missing index")
	}
}

func TestInferXMLPath(t *testing.T) {
	got := InferXMLPath("/data/TSeries-01")
	want := filepath.Join("/data/TSeries-01", "TSeries-01.xml")
	if got != want {
		t.Errorf("InferXMLPath = %q, want %q", got, want)
	}
}
