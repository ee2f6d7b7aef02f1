// Package frame defines the raw sample containers passed between the audio
// graph, the encoder/decoder, and the media transport.
package frame

// PCMFrame is a block of interleaved float32 PCM samples. Stereo data is laid
// out left, right, left, right, ...
type PCMFrame []float32

// EncodedFrame is a block of OPUS-encoded bytes, ready for RTP packetization
// or for handing to an HTTP push body.
type EncodedFrame []byte

// Clone returns a copy of f so callers can retain a reference past the
// lifetime of a shared buffer.
func (f PCMFrame) Clone() PCMFrame {
	out := make(PCMFrame, len(f))
	copy(out, f)
	return out
}

// Add returns the sample-wise sum of f and other. The shorter frame is
// treated as silence-padded; the result has the length of the longer frame.
func (f PCMFrame) Add(other PCMFrame) PCMFrame {
	n := len(f)
	if len(other) > n {
		n = len(other)
	}
	out := make(PCMFrame, n)
	copy(out, f)
	for i, v := range other {
		out[i] += v
	}
	return out
}

// Scale returns f with every sample multiplied by gain.
func (f PCMFrame) Scale(gain float32) PCMFrame {
	out := make(PCMFrame, len(f))
	for i, v := range f {
		out[i] = v * gain
	}
	return out
}

// Silence returns a zeroed PCMFrame of the given sample count.
func Silence(numSamples int) PCMFrame {
	return make(PCMFrame, numSamples)
}
