package tiffstack

import "testing"

func TestNormalizeU16Halves(t *testing.T) {
	src := []uint16{0, 1, 2, 40000, 65535}
	want := []int16{0, 0, 1, 20000, 32767}
	dst := make([]int16, len(src))
	NormalizeU16(src, dst)
	for i := range dst {
		if dst[i] != want[i] {
			t.Errorf("NormalizeU16(%d) = %d, want %d", src[i], dst[i], want[i])
		}
	}
}

func TestNormalizeI32Halves(t *testing.T) {
	src := []int32{0, -2, 7, 60000, -60000}
	want := []int16{0, -1, 3, 30000, -30000}
	dst := make([]int16, len(src))
	NormalizeI32(src, dst)
	for i := range dst {
		if dst[i] != want[i] {
			t.Errorf("NormalizeI32(%d) = %d, want %d", src[i], dst[i], want[i])
		}
	}
}

func TestNormalizeU8Casts(t *testing.T) {
	src := []uint8{0, 127, 255}
	want := []int16{0, 127, 255}
	dst := make([]int16, len(src))
	NormalizeU8(src, dst)
	for i := range dst {
		if dst[i] != want[i] {
			t.Errorf("NormalizeU8(%d) = %d, want %d", src[i], dst[i], want[i])
		}
	}
}

// Re-normalizing already-canonical samples must be a no-op: resupplied
// binaries stay byte-identical.
func TestNormalizeI16IsFixedPoint(t *testing.T) {
	src := []int16{-32768, -1, 0, 1, 32767}
	dst := make([]int16, len(src))
	NormalizeI16(src, dst)
	for i := range dst {
		if dst[i] != src[i] {
			t.Errorf("NormalizeI16(%d) = %d, want identity", src[i], dst[i])
		}
	}
}
