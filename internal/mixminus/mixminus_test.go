package mixminus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstudio/openstudio/internal/frame"
)

func TestEngine_BusExcludesOwnContribution(t *testing.T) {
	e := New(nil)
	e.CreateBus("a")
	e.CreateBus("b")
	e.CreateBus("c")

	program := frame.PCMFrame{0.6, 0.6, 0.6}
	perParticipant := map[string]frame.PCMFrame{
		"a": {0.1, 0.1, 0.1},
		"b": {0.2, 0.2, 0.2},
		"c": {0.3, 0.3, 0.3},
	}
	e.ComputeMixMinus(program, perParticipant)

	busA, ok := e.Output("a")
	require.True(t, ok)
	for _, v := range busA {
		assert.InDelta(t, 0.5, v, 0.0001) // 0.6 - 0.1
	}

	busB, _ := e.Output("b")
	for _, v := range busB {
		assert.InDelta(t, 0.4, v, 0.0001) // 0.6 - 0.2
	}
}

func TestEngine_DestroyBusRemovesIt(t *testing.T) {
	e := New(nil)
	e.CreateBus("a")
	e.DestroyBus("a")
	_, ok := e.Output("a")
	assert.False(t, ok)
}

func TestEngine_ThreePeerMeshHasTwoBusesEach(t *testing.T) {
	e := New(nil)
	e.CreateBus("x")
	e.CreateBus("y")
	assert.Len(t, e.Buses(), 2)
}
