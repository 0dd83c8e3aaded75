package protocol

import (
	"crypto/rand"
)

// Standard padding block sizes. Private message plaintexts are padded up to
// the smallest block that fits, hiding the true payload length from
// observers of the broadcast medium.
var paddingBlockSizes = []int{256, 512, 1024, 2048}

// OptimalBlockSize returns the smallest standard block size that can hold
// dataLen plus at least one byte of padding, or dataLen unchanged when no
// block fits.
func OptimalBlockSize(dataLen int) int {
	for _, size := range paddingBlockSizes {
		if dataLen+1 <= size {
			return size
		}
	}
	return dataLen
}

// Pad pads data to targetSize. The final byte records the pad count, the
// rest of the fill is random. Pads above 255 bytes are unrepresentable, so
// oversized requests return the data unchanged.
func Pad(data []byte, targetSize int) []byte {
	padding := targetSize - len(data)
	if padding <= 0 || padding > 255 {
		return data
	}

	padded := make([]byte, targetSize)
	copy(padded, data)
	if _, err := rand.Read(padded[len(data) : targetSize-1]); err != nil {
		// Zero fill is still removable; randomness is only cover
		for i := len(data); i < targetSize-1; i++ {
			padded[i] = 0
		}
	}
	padded[targetSize-1] = uint8(padding)

	return padded
}

// Unpad removes padding applied by Pad, bit-for-bit. Data that carries no
// valid pad count (oversized payloads Pad left untouched) is returned
// unchanged.
func Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > len(data) {
		return data
	}

	return data[:len(data)-padding]
}
