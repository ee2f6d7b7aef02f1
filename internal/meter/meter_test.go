package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openstudio/openstudio/internal/frame"
)

func TestProgramMeter_RMSOfConstantSignal(t *testing.T) {
	m := New()
	reading := m.Update(frame.PCMFrame{0.5, 0.5, 0.5, 0.5})
	assert.InDelta(t, 0.5, reading.RMS, 0.0001)
	assert.InDelta(t, 0.5, reading.PeakHold, 0.0001)
}

func TestProgramMeter_PeakHoldPersistsAcrossQuietFrames(t *testing.T) {
	m := New()
	m.Update(frame.PCMFrame{0.9, -0.9})
	reading := m.Update(frame.PCMFrame{0.01, -0.01})
	assert.InDelta(t, 0.9, reading.PeakHold, 0.0001)
}

func TestProgramMeter_ResetPeakHold(t *testing.T) {
	m := New()
	m.Update(frame.PCMFrame{0.9})
	m.ResetPeakHold()
	reading := m.Update(frame.PCMFrame{0.1})
	assert.InDelta(t, 0.1, reading.PeakHold, 0.0001)
}
