package statistics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aud_miner/device/hashrate"
	"aud_miner/device/thermal"
	"aud_miner/util"
)

type fakePower struct{}

func (fakePower) InputVoltage() float64 { return 5000 }
func (fakePower) Current() float64      { return 2000 }
func (fakePower) Power() float64        { return 10 }
func (fakePower) CoreVoltage() float64  { return 1150 }

func newHistory() (*History, *util.ManualClock) {
	clock := util.NewManualClock(time.Unix(100, 0))
	h := New(Sources{
		Clock:      clock,
		Hashrate:   func() hashrate.Snapshot { return hashrate.Snapshot{Hashrate: 512, ErrorCount: 3} },
		Thermal:    func() thermal.Status { return thermal.Status{ChipTemp: 55, VRTemp: 60, FanPercent: 40, FanRPM: 3000} },
		Power:      fakePower{},
		FreeMemory: func() uint64 { return 1 << 20 },
	})
	return h, clock
}

func TestSampleReadsSources(t *testing.T) {
	h, _ := newHistory()
	d := h.Sample()

	assert.Equal(t, time.Unix(100, 0), d.Timestamp)
	assert.Equal(t, 512.0, d.Hashrate)
	assert.Equal(t, uint32(3), d.ErrorCount)
	assert.Equal(t, 55.0, d.ChipTemp)
	assert.Equal(t, 40.0, d.FanSpeed)
	assert.Equal(t, 10.0, d.Power)
	assert.Equal(t, 1150.0, d.CoreVoltage)
	assert.Equal(t, uint64(1<<20), d.FreeMemory)
	assert.Equal(t, 1, h.Len())
}

func TestGetNewestFirst(t *testing.T) {
	h, _ := newHistory()
	for i := 0; i < 3; i++ {
		h.Push(Data{ErrorCount: uint32(i)})
	}

	d, ok := h.Get(0)
	require.True(t, ok)
	assert.Equal(t, uint32(2), d.ErrorCount)
	d, ok = h.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint32(0), d.ErrorCount)

	_, ok = h.Get(3)
	assert.False(t, ok)
	_, ok = h.Get(-1)
	assert.False(t, ok)
}

func TestRingWraps(t *testing.T) {
	h := New(Sources{FreeMemory: func() uint64 { return 0 }})
	for i := 0; i < HistoryLen+5; i++ {
		h.Push(Data{ErrorCount: uint32(i)})
	}
	assert.Equal(t, HistoryLen, h.Len())

	d, _ := h.Get(0)
	assert.Equal(t, uint32(HistoryLen+4), d.ErrorCount)
	d, _ = h.Get(HistoryLen - 1)
	assert.Equal(t, uint32(5), d.ErrorCount)
}
