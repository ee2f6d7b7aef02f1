// Package ingest decodes a remote peer's inbound microphone track into PCM
// and hands it to the audio graph (§3's MediaTransport -> AudioGraph path).
//
// Grounded on ijakenorton-Roundtable's internal/encoderdecoder.OpusEncoderDecoder.Decode
// (same jj11hh/opus decoder, same "don't worry about buffer overrun, error
// and drop on overflow" policy), simplified to decode-only: unlike the
// teacher's struct this package never encodes, since encoding inbound
// audio is never required (only the StreamPublisher's outbound path
// encodes, in internal/publisher).
package ingest

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4"

	"github.com/openstudio/openstudio/internal/frame"
	"github.com/openstudio/openstudio/internal/logging"
)

// MicrophoneReader reads RTP off one remote track, decodes each packet's
// Opus payload, and delivers the resulting PCM to OnFrame. Call Start once;
// it runs until the track errors out (remote peer left) or Stop is called.
type MicrophoneReader struct {
	logger   *slog.Logger
	track    *webrtc.TrackRemote
	decoder  *opus.Decoder
	channels int

	mu      sync.Mutex
	stopped bool

	// OnFrame receives every successfully decoded frame, in arrival order.
	OnFrame func(frame.PCMFrame)
}

// NewMicrophoneReader builds a reader decoding at sampleRate/channels,
// which must match the negotiated codec (transport.CodecOpus48000Stereo).
func NewMicrophoneReader(track *webrtc.TrackRemote, sampleRate, channels int, logger *slog.Logger) (*MicrophoneReader, error) {
	decoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &MicrophoneReader{
		logger:   logging.ChildOrDefault(logger),
		track:    track,
		decoder:  decoder,
		channels: channels,
	}, nil
}

// Start runs the read loop on the calling goroutine; callers invoke it via
// `go reader.Start()`.
func (m *MicrophoneReader) Start() {
	buf := make(frame.PCMFrame, 5760*2) // 120ms @ 48kHz stereo, the largest Opus frame
	for {
		m.mu.Lock()
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return
		}

		packet, _, err := m.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Debug("microphone track read ended", "err", err)
			}
			return
		}

		n, err := m.decoder.DecodeFloat32(packet.Payload, buf)
		if err != nil {
			m.logger.Warn("failed to decode opus payload, dropping packet", "err", err)
			continue
		}
		if m.OnFrame != nil {
			m.OnFrame(buf[:n*m.channels].Clone())
		}
	}
}

// Stop halts the read loop after the current packet read returns.
func (m *MicrophoneReader) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}
