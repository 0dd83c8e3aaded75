package protocol

import (
	"bytes"
	"testing"
)

func TestOptimalBlockSize(t *testing.T) {
	tests := []struct {
		dataLen int
		want    int
	}{
		{dataLen: 0, want: 256},
		{dataLen: 100, want: 256},
		{dataLen: 255, want: 256},
		{dataLen: 256, want: 512},
		{dataLen: 511, want: 512},
		{dataLen: 1024, want: 2048},
		{dataLen: 2047, want: 2048},
		{dataLen: 2048, want: 2048}, // no block fits; returned unchanged
		{dataLen: 5000, want: 5000},
	}

	for _, tt := range tests {
		if got := OptimalBlockSize(tt.dataLen); got != tt.want {
			t.Errorf("OptimalBlockSize(%d) = %d, want %d", tt.dataLen, got, tt.want)
		}
	}
}

func TestPadUnpadRoundTrip(t *testing.T) {
	for _, dataLen := range []int{1, 100, 255, 300, 1000, 2047} {
		data := bytes.Repeat([]byte{0x42}, dataLen)
		padded := Pad(data, OptimalBlockSize(dataLen))

		if len(padded) != OptimalBlockSize(dataLen) {
			t.Errorf("Pad(len=%d) produced %d bytes, want %d", dataLen, len(padded), OptimalBlockSize(dataLen))
		}

		unpadded := Unpad(padded)
		if !bytes.Equal(unpadded, data) {
			t.Errorf("Unpad(Pad(len=%d)) did not restore the original data", dataLen)
		}
	}
}

func TestPadOversizedUnchanged(t *testing.T) {
	// No block fits and padding above 255 is unrepresentable
	data := bytes.Repeat([]byte{0x01}, 3000)
	padded := Pad(data, OptimalBlockSize(len(data)))
	if !bytes.Equal(padded, data) {
		t.Error("Pad() altered data it cannot pad")
	}

	// Unpad must pass such payloads through untouched; the trailing byte is
	// message content, not a pad count
	if got := Unpad(data); !bytes.Equal(got, data) {
		t.Error("Unpad() altered unpadded data")
	}
}

func TestUnpadInvalidCount(t *testing.T) {
	if got := Unpad([]byte{}); len(got) != 0 {
		t.Error("Unpad(empty) changed length")
	}

	// Pad count exceeding the data length is invalid
	data := []byte{0x01, 0x02, 0xFF}
	if got := Unpad(data); !bytes.Equal(got, data) {
		t.Error("Unpad() removed more bytes than exist")
	}
}
