package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/coraltel/audiohookbridge/pkg/audio"
)

func TestMulawToPCM16_Silence(t *testing.T) {
	t.Parallel()
	// 0xFF is µ-law silence (positive zero).
	got := audio.MulawToPCM16([]byte{0xFF})
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	sample := int16(binary.LittleEndian.Uint16(got))
	if sample != 0 {
		t.Errorf("decoded silence sample = %d, want 0", sample)
	}
}

func TestPCM16ToMulaw_Silence(t *testing.T) {
	t.Parallel()
	pcm := make([]byte, 2)
	binary.LittleEndian.PutUint16(pcm, uint16(0))
	got := audio.PCM16ToMulaw(pcm)
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0] != 0xFF {
		t.Errorf("encoded silence byte = 0x%02X, want 0xFF", got[0])
	}
}

func TestMulawRoundTrip_LowDistortion(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 100, -100, 1000, -1000, 16000, -16000, 32767, -32768}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	encoded := audio.PCM16ToMulaw(pcm)
	decoded := audio.MulawToPCM16(encoded)
	if len(decoded) != len(pcm) {
		t.Fatalf("len(decoded) = %d, want %d", len(decoded), len(pcm))
	}

	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(decoded[i*2:]))
		// µ-law is lossy; allow a tolerance proportional to amplitude.
		tolerance := int32(want)
		if tolerance < 0 {
			tolerance = -tolerance
		}
		tolerance = tolerance/16 + 64
		diff := int32(got) - int32(want)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Errorf("sample %d: round-trip %d -> %d, diff %d exceeds tolerance %d", i, want, got, diff, tolerance)
		}
	}
}

func TestMulawToPCM16_LengthDoubles(t *testing.T) {
	t.Parallel()
	in := make([]byte, 160)
	for i := range in {
		in[i] = 0xFF
	}
	got := audio.MulawToPCM16(in)
	if len(got) != 320 {
		t.Errorf("len(got) = %d, want 320", len(got))
	}
}

func TestPCM16ToMulaw_LengthHalves(t *testing.T) {
	t.Parallel()
	in := make([]byte, 320)
	got := audio.PCM16ToMulaw(in)
	if len(got) != 160 {
		t.Errorf("len(got) = %d, want 160", len(got))
	}
}
