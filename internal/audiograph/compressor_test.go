package audiograph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompressor_BelowThresholdIsUnaffected(t *testing.T) {
	c := NewCompressor(DefaultCompressorParams, testSampleRate)
	in := constantFrame(100, 0.001) // well under -24dB
	out := c.Process(in)
	assert.InDelta(t, in[99], out[99], 0.0005)
}

func TestCompressor_AboveThresholdIsAttenuated(t *testing.T) {
	c := NewCompressor(DefaultCompressorParams, testSampleRate)
	in := constantFrame(testSampleRate, 0.9) // loud, sustained signal
	out := c.Process(in)
	// After the envelope settles well past attack time, gain reduction should
	// have pulled the output below the input.
	assert.Less(t, float64(out[len(out)-1]), float64(in[len(in)-1]))
}
