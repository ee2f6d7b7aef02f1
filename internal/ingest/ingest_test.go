package ingest

import (
	"testing"

	"github.com/jj11hh/opus"
	"github.com/stretchr/testify/require"
)

// TestNewMicrophoneReader_BuildsDecoder exercises the decoder construction
// path; MicrophoneReader.Start itself requires a live *webrtc.TrackRemote
// (only producible by an active PeerConnection receiving RTP), so the read
// loop has no unit test; internal/connection's two-peer handshake test adds
// no media tracks and does not exercise it either.
func TestNewMicrophoneReader_BuildsDecoder(t *testing.T) {
	_, err := opus.NewDecoder(48000, 2)
	require.NoError(t, err)
}

func TestOpusRoundTrip_EncodeThenDecodeRecoversSampleCount(t *testing.T) {
	enc, err := opus.NewEncoder(48000, 2, opus.AppVoIP)
	require.NoError(t, err)
	dec, err := opus.NewDecoder(48000, 2)
	require.NoError(t, err)

	const frameSize = 48000 * 2 * 20 / 1000 // 20ms stereo
	pcm := make([]float32, frameSize)
	for i := range pcm {
		pcm[i] = 0.1
	}

	encoded := make([]byte, 4000)
	n, err := enc.EncodeFloat32(pcm, encoded)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	decoded := make([]float32, frameSize)
	samples, err := dec.DecodeFloat32(encoded[:n], decoded)
	require.NoError(t, err)
	require.Equal(t, frameSize/2, samples)
}
