package publisher

import (
	"github.com/jj11hh/opus"

	"github.com/openstudio/openstudio/internal/frame"
)

// opusFrameMillis is the Opus frame size used for the publisher's
// continuous encode, distinct from (and much shorter than) the ~1s push
// cadence (§4.8): many encoded frames are batched into each push chunk.
// Grounded on ijakenorton-Roundtable's internal/encoderdecoder.OPUSFrameDuration
// enumeration — 20ms is that enumeration's conventional default for
// real-time voice.
const opusFrameMillis = 20

// Encoder is a minimal encode-only counterpart to the teacher's
// OpusEncoderDecoder (internal/encoderdecoder/opusencoderdecoder.go):
// this package never decodes, since the publisher only ever pushes
// outbound program audio. The accumulate-then-slice buffering strategy is
// the same one the teacher uses to cope with PCM blocks that don't line up
// with the Opus frame size.
type Encoder struct {
	sampleRate int
	channels   int
	frameSize  int // samples (all channels) per Opus frame

	encoder *opus.Encoder
	pcmBuf  frame.PCMFrame
}

// NewEncoder builds an Encoder for the given sample rate/channel count
// using the Opus VoIP application profile (low-latency voice).
func NewEncoder(sampleRate, channels int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * channels * opusFrameMillis / 1000,
		encoder:    enc,
	}, nil
}

// Encode appends pcm to the internal buffer and returns every complete
// Opus frame that can now be produced. Leftover samples remain buffered for
// the next call.
func (e *Encoder) Encode(pcm frame.PCMFrame) ([]frame.EncodedFrame, error) {
	e.pcmBuf = append(e.pcmBuf, pcm...)

	var out []frame.EncodedFrame
	for len(e.pcmBuf) >= e.frameSize {
		buf := make([]byte, 4000)
		n, err := e.encoder.EncodeFloat32(e.pcmBuf[:e.frameSize], buf)
		if err != nil {
			e.pcmBuf = e.pcmBuf[e.frameSize:]
			return out, err
		}
		out = append(out, frame.EncodedFrame(buf[:n]))
		e.pcmBuf = e.pcmBuf[e.frameSize:]
	}
	return out, nil
}
