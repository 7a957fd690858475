package audio

// µ-law (G.711) encode/decode, bit-compatible with the reference ITU-T
// algorithm (and with Python's audioop.ulaw2lin/lin2ulaw, 2-byte width).
// No third-party codec library appears anywhere in the example corpus for
// this format; see DESIGN.md for the standard-library justification.

const (
	muLawBias = 0x84 // 132, the G.711 encoder/decoder bias
	muLawClip = 32635
)

// muLawDecodeTable is a precomputed lookup from an encoded µ-law byte to its
// linear 16-bit PCM sample, built once at package init from the standard
// G.711 decode algorithm.
var muLawDecodeTable [256]int16

func init() {
	for i := range 256 {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// decodeMuLawSample implements the reference G.711 µ-law-to-linear
// conversion for a single byte.
func decodeMuLawSample(ulaw byte) int16 {
	ulaw = ^ulaw
	sign := ulaw & 0x80
	exponent := (ulaw >> 4) & 0x07
	mantissa := ulaw & 0x0F

	sample := (int32(mantissa) << 3) + muLawBias
	sample <<= exponent
	sample -= muLawBias

	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// MulawToPCM16 decodes 8-bit µ-law samples into little-endian 16-bit linear
// PCM, doubling the byte length of the input.
func MulawToPCM16(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		s := muLawDecodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToMulaw encodes little-endian 16-bit linear PCM into 8-bit µ-law,
// halving the byte length of the input. Trailing odd bytes are ignored.
func PCM16ToMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = encodeMuLawSample(sample)
	}
	return out
}

// encodeMuLawSample implements the reference G.711 linear-to-µ-law
// conversion for a single 16-bit sample.
func encodeMuLawSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	ulaw := sign | (exponent << 4) | mantissa
	return ^ulaw
}
