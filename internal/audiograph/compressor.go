package audiograph

import (
	"math"

	"github.com/openstudio/openstudio/internal/frame"
)

// CompressorParams configures a soft-knee feed-forward compressor (§4.5).
type CompressorParams struct {
	ThresholdDB float64
	KneeDB      float64
	Ratio       float64 // e.g. 12 means 12:1
	AttackMS    float64
	ReleaseMS   float64
}

// DefaultCompressorParams matches §4.5's per-participant compressor spec.
var DefaultCompressorParams = CompressorParams{
	ThresholdDB: -24,
	KneeDB:      30,
	Ratio:       12,
	AttackMS:    3,
	ReleaseMS:   250,
}

// Compressor is a single-channel (applied per-sample, channel-agnostic)
// soft-knee dynamic range compressor with an exponential envelope follower.
// Grounded on the RMS/energy-level computation style of
// Raikerian-go-discord-chatgpt's audioMixer (calculateRMS), generalized here
// into a continuous envelope-and-gain-reduction processor rather than a
// one-shot RMS reading, since the graph needs sample-accurate gain
// reduction, not just a metering value.
type Compressor struct {
	params     CompressorParams
	sampleRate int

	envelopeDB   float64
	attackCoef   float64
	releaseCoef  float64
}

// NewCompressor builds a Compressor for the given sample rate.
func NewCompressor(params CompressorParams, sampleRate int) *Compressor {
	c := &Compressor{params: params, sampleRate: sampleRate, envelopeDB: 0}
	c.attackCoef = timeConstantCoef(params.AttackMS, sampleRate)
	c.releaseCoef = timeConstantCoef(params.ReleaseMS, sampleRate)
	return c
}

func timeConstantCoef(ms float64, sampleRate int) float64 {
	if ms <= 0 {
		return 0
	}
	return math.Exp(-1.0 / ((ms / 1000.0) * float64(sampleRate)))
}

// targetGainReduction computes the soft-knee gain reduction, in dB, for an
// input level of levelDB.
func (c *Compressor) targetGainReduction(levelDB float64) float64 {
	p := c.params
	halfKnee := p.KneeDB / 2
	lowerKnee := p.ThresholdDB - halfKnee
	upperKnee := p.ThresholdDB + halfKnee

	switch {
	case levelDB <= lowerKnee:
		return 0
	case levelDB >= upperKnee:
		return (levelDB - p.ThresholdDB) * (1 - 1/p.Ratio)
	default:
		// Quadratic interpolation across the knee region.
		x := levelDB - lowerKnee
		return x * x / (2 * p.KneeDB) * (1 - 1/p.Ratio)
	}
}

func linearToDB(v float32) float64 {
	av := math.Abs(float64(v))
	if av < 1e-9 {
		return -180
	}
	return 20 * math.Log10(av)
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// Process applies the compressor sample-by-sample, tracking an envelope
// follower with distinct attack/release time constants.
func (c *Compressor) Process(in frame.PCMFrame) frame.PCMFrame {
	out := make(frame.PCMFrame, len(in))
	for i, v := range in {
		levelDB := linearToDB(v)
		reduction := c.targetGainReduction(levelDB)
		targetEnvelope := -reduction

		var coef float64
		if targetEnvelope < c.envelopeDB {
			coef = c.attackCoef
		} else {
			coef = c.releaseCoef
		}
		c.envelopeDB = targetEnvelope + coef*(c.envelopeDB-targetEnvelope)

		out[i] = v * float32(dbToLinear(c.envelopeDB))
	}
	return out
}
