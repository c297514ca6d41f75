package vr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aud_miner/util"
)

type pmbus struct {
	regs   map[uint8][]byte
	writes []write
}

type write struct {
	cmd  uint8
	data []byte
}

func (p *pmbus) ReadN(addr, cmd uint8, n int) ([]byte, error) {
	b := p.regs[cmd]
	if b == nil {
		b = make([]byte, n)
	}
	return b[:n], nil
}

func (p *pmbus) WriteN(addr, cmd uint8, data []byte) error {
	p.writes = append(p.writes, write{cmd, append([]byte(nil), data...)})
	return nil
}

func newTestVR(t *testing.T) (*TPS546, *pmbus) {
	bus := &pmbus{regs: map[uint8][]byte{
		cmdVoutMode: {0x17}, // exponent -9
	}}
	v, err := NewTPS546(bus, DefaultAddr, util.NewManualClock(time.Unix(0, 0)))
	require.NoError(t, err)
	require.Equal(t, -9, v.voutExp)
	assert.Equal(t, []write{{cmdClearFaults, nil}}, bus.writes)
	bus.writes = nil
	return v, bus
}

func TestLinear11(t *testing.T) {
	// exponent -2, mantissa 200
	assert.Equal(t, 50.0, Linear11(0xF0C8))
	// exponent 0, mantissa -1
	assert.Equal(t, -1.0, Linear11(0x07FF))
	// exponent -4, mantissa 0x3FF
	assert.Equal(t, 63.9375, Linear11(0xE3FF))
}

func TestULinear16(t *testing.T) {
	assert.Equal(t, uint16(614), ReverseULinear16(1.2, -9))
	assert.InDelta(t, 1.2, ULinear16(614, -9), 0.002)
}

func TestRejectsLinearVoutMode(t *testing.T) {
	bus := &pmbus{regs: map[uint8][]byte{cmdVoutMode: {0x40}}}
	_, err := NewTPS546(bus, DefaultAddr, nil)
	assert.Error(t, err)
}

func TestSetVoltage(t *testing.T) {
	v, bus := newTestVR(t)

	require.NoError(t, v.SetVoltage(1.2))
	assert.Equal(t, []write{
		{cmdVoutCommand, []byte{0x66, 0x02}},
		{cmdOperation, []byte{operationOn}},
	}, bus.writes)

	bus.writes = nil
	require.NoError(t, v.SetVoltage(1.1))
	assert.Equal(t, []write{{cmdVoutCommand, []byte{0x33, 0x02}}}, bus.writes, "already on")

	bus.writes = nil
	require.NoError(t, v.SetVoltage(0))
	assert.Equal(t, []write{{cmdOperation, []byte{operationOff}}}, bus.writes)

	bus.writes = nil
	require.NoError(t, v.SetVoltage(3))
	assert.Equal(t, ReverseULinear16(VoutMax, -9), uint16(bus.writes[0].data[0])|uint16(bus.writes[0].data[1])<<8)
}

func TestTelemetry(t *testing.T) {
	v, bus := newTestVR(t)
	bus.regs[cmdReadTemp1] = []byte{0xC8, 0xF0}  // 50 C
	bus.regs[cmdReadVin] = []byte{0x40, 0xD1}    // 5 V: exponent -6, mantissa 320
	bus.regs[cmdReadIout] = []byte{0x28, 0xF0}   // 10 A: exponent -2, mantissa 40
	bus.regs[cmdReadVout] = []byte{0x00, 0x02}   // 512 * 2^-9 = 1 V

	assert.Equal(t, 50.0, v.Temperature())
	assert.Equal(t, 5000.0, v.InputVoltage())
	assert.Equal(t, 10000.0, v.Current())
	assert.Equal(t, 1000.0, v.CoreVoltage())
	assert.Equal(t, 10.0, v.Power())
}

func TestCheckFault(t *testing.T) {
	v, bus := newTestVR(t)

	bus.regs[cmdStatusWord] = []byte{0x40, 0x00} // OFF only
	assert.False(t, v.CheckFault())
	assert.Empty(t, bus.writes)

	bus.regs[cmdStatusWord] = []byte{0x04, 0x00} // TEMP
	assert.True(t, v.CheckFault())
	assert.Equal(t, []write{{cmdClearFaults, nil}}, bus.writes)
}
