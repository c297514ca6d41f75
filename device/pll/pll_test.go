package pll

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aud_miner/device/asicio"
	"aud_miner/util"
)

func TestSolveKnownTargets(t *testing.T) {
	p, err := Solve(200)
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0x00, 0x08, 0x50, 0xe0, 0x02, 0x61}, p.Register())
	assert.Equal(t, 200.0, p.Achieved)

	p, err = Solve(500)
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0x00, 0x08, 0x50, 0xc8, 0x02, 0x40}, p.Register())

	// low VCO band keeps the default byte
	p, err = Solve(RampStart)
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0x00, 0x08, 0x40, 0xbd, 0x02, 0x65}, p.Register())
}

func TestSolveTolerance(t *testing.T) {
	solved := 0
	for target := 50.0; target <= 800.0; target += 0.05 {
		p, err := Solve(target)
		if err != nil {
			assert.ErrorIs(t, err, ErrNoSolution)
			continue
		}
		solved++
		assert.Less(t, math.Abs(p.Achieved-target), 1.0, "target %.2f", target)
		assert.GreaterOrEqual(t, p.FbDiv, uint8(0xa0))
		assert.LessOrEqual(t, p.FbDiv, uint8(0xef))
		assert.GreaterOrEqual(t, p.PostDiv1, p.PostDiv2)
	}
	assert.Greater(t, solved, 10000)
}

func TestSolveUnreachable(t *testing.T) {
	for _, target := range []float64{10, 7000, 436.45} {
		_, err := Solve(target)
		assert.ErrorIs(t, err, ErrNoSolution, "target %.2f", target)
	}
}

type frameLog struct {
	frames [][]byte
}

func (f *frameLog) send(frame []byte) {
	f.frames = append(f.frames, frame)
}

func (f *frameLog) register(i int) [6]byte {
	var reg [6]byte
	copy(reg[:], f.frames[i][4:10])
	return reg
}

func regFor(t *testing.T, target float64) [6]byte {
	p, err := Solve(target)
	require.NoError(t, err)
	return p.Register()
}

func TestApplyEmitsBroadcastWrite(t *testing.T) {
	fl := &frameLog{}
	s := NewSynth(fl.send, util.NewManualClock(time.Unix(0, 0)))

	require.NoError(t, s.Apply(200))
	require.Len(t, fl.frames, 1)
	assert.Equal(t, []byte{0x55, 0xaa, 0x51, 0x09, 0x00, 0x08, 0x50, 0xe0, 0x02, 0x61, 0x0a}, fl.frames[0])
	assert.True(t, asicio.CheckFrame(fl.frames[0]))

	assert.ErrorIs(t, s.Apply(10), ErrNoSolution)
	assert.Len(t, fl.frames, 1)
}

func TestTransitionRampsUp(t *testing.T) {
	fl := &frameLog{}
	clock := util.NewManualClock(time.Unix(0, 0))
	s := NewSynth(fl.send, clock)

	require.True(t, s.Transition(75))

	require.Len(t, fl.frames, 3)
	assert.Equal(t, regFor(t, 62.5), fl.register(0))
	assert.Equal(t, regFor(t, 68.75), fl.register(1))
	assert.Equal(t, regFor(t, 75), fl.register(2))
	assert.Equal(t, []time.Duration{RampDelay, RampDelay}, clock.Slept())
	assert.Equal(t, 75.0, s.Current())
}

func TestTransitionAlignsBeforeStepping(t *testing.T) {
	fl := &frameLog{}
	s := NewSynth(fl.send, util.NewManualClock(time.Unix(0, 0)))
	require.True(t, s.Transition(200))
	fl.frames = nil

	// 200 -> 187.5: 193.75 then 187.5
	require.True(t, s.Transition(187.5))
	require.Len(t, fl.frames, 2)
	assert.Equal(t, regFor(t, 193.75), fl.register(0))
	assert.Equal(t, regFor(t, 187.5), fl.register(1))

	fl.frames = nil
	require.True(t, s.Transition(190))
	// 187.5 -> 190 is inside one step
	require.Len(t, fl.frames, 1)
	assert.Equal(t, regFor(t, 190), fl.register(0))
}

func TestTransitionUnreachableTouchesNothing(t *testing.T) {
	fl := &frameLog{}
	clock := util.NewManualClock(time.Unix(0, 0))
	s := NewSynth(fl.send, clock)

	assert.False(t, s.Transition(7000))
	assert.Empty(t, fl.frames)
	assert.Empty(t, clock.Slept())
	assert.Equal(t, RampStart, s.Current())
}
