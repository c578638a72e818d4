package tiffstack

// Sample normalization to the canonical signed 16-bit format.
//
// The on-disk store is fixed-width int16. Instruments whose native encoding
// exceeds that range (unsigned 16-bit detectors, 32-bit accumulating
// acquisitions) are halved rather than clipped, preserving relative
// intensity. Downstream stages are calibrated to this convention; the loss
// is intentional.

// NormalizeU16 converts unsigned 16-bit samples in place of a copy:
// each sample is right-shifted by one bit and cast to int16.
func NormalizeU16(src []uint16, dst []int16) {
	for i, v := range src {
		dst[i] = int16(v >> 1)
	}
}

// NormalizeI32 converts signed 32-bit samples: each sample is halved and
// cast to int16.
func NormalizeI32(src []int32, dst []int16) {
	for i, v := range src {
		dst[i] = int16(v / 2)
	}
}

// NormalizeU8 converts 8-bit samples by plain widening cast; no scaling is
// applied for widths that already fit the canonical range.
func NormalizeU8(src []uint8, dst []int16) {
	for i, v := range src {
		dst[i] = int16(v)
	}
}

// NormalizeI16 is the identity on already-canonical samples. Re-normalizing
// canonical data is a no-op, which keeps resupplied binaries stable.
func NormalizeI16(src []int16, dst []int16) {
	copy(dst, src)
}
