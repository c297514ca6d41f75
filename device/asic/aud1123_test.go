package asic

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "aud_miner/device/asiccommon"
	"aud_miner/device/asicio"
	"aud_miner/job"
	"aud_miner/util"
)

var errTimeout = errors.New("timeout")

type fakeUART struct {
	ready   bool
	bauds   []int
	sent    [][]byte
	rx      []byte
	flushes int
}

func (f *fakeUART) IsReady() bool { return f.ready }
func (f *fakeUART) SetBaud(b int) error {
	f.bauds = append(f.bauds, b)
	return nil
}
func (f *fakeUART) Send(buf []byte) error {
	f.sent = append(f.sent, append([]byte(nil), buf...))
	return nil
}
func (f *fakeUART) Receive(buf []byte, timeout time.Duration) (int, error) {
	n := copy(buf, f.rx)
	f.rx = f.rx[n:]
	if n < len(buf) {
		return n, errTimeout
	}
	return n, nil
}
func (f *fakeUART) Flush() error { f.flushes++; return nil }

type fakeReset struct {
	events []string
}

func (f *fakeReset) AssertLow() error { f.events = append(f.events, "low"); return nil }
func (f *fakeReset) Release() error   { f.events = append(f.events, "high"); return nil }

func chipIDReply() []byte {
	return asicio.ResultFrame{Nonce: [4]byte{0x13, 0x70, 0x00, 0x00}}.Bytes()
}

func newTestChain(uart *fakeUART, chips int) (*Chain, *fakeReset, *util.ManualClock) {
	for i := 0; i < chips; i++ {
		uart.rx = append(uart.rx, chipIDReply()...)
	}
	reset := &fakeReset{}
	clock := util.NewManualClock(time.Unix(0, 0))
	c := New(Config{
		Opener:      func(baud int) (ac.Transport, error) { uart.ready = true; uart.bauds = append(uart.bauds, baud); return uart, nil },
		Reset:       reset,
		Clock:       clock,
		MaxBaud:     1000000,
		Frequency:   75,
		VersionMask: 0x1fffe000,
	})
	return c, reset, clock
}

func TestInitializeColdBoot(t *testing.T) {
	uart := &fakeUART{}
	c, reset, _ := newTestChain(uart, 2)

	assert.False(t, c.Ready())
	n := c.Initialize(ac.ColdBoot, 0)
	require.Equal(t, 2, n)

	assert.True(t, c.Ready())
	assert.Equal(t, 2, c.ChipCount())
	assert.Equal(t, []string{"low", "high"}, reset.events)
	assert.Equal(t, []int{ac.DefaultBaudRate, 1000000}, uart.bauds)

	want := [][]byte{
		{0x55, 0xaa, 0x52, 0x05, 0x00, 0x00, 0x0a},
		{0x55, 0xaa, 0x53, 0x05, 0x00, 0x00, 0x03},
		asicio.EncodeCommand(asicio.ScopeSingle, asicio.OpSetAddress, []byte{0x00, 0x00}),
		asicio.EncodeCommand(asicio.ScopeSingle, asicio.OpSetAddress, []byte{0x80, 0x00}),
		{0x55, 0xaa, 0x51, 0x09, 0x00, 0xa4, 0x90, 0x00, 0xff, 0xff, 0x1c},
	}
	require.GreaterOrEqual(t, len(uart.sent), len(want))
	assert.Equal(t, want, uart.sent[:len(want)])

	// 56.25 -> 62.5 -> 68.75 -> 75
	assert.Len(t, uart.sent, len(want)+3)
	assert.Equal(t, 75.0, c.Frequency())

	assert.Equal(t, 0, c.ChipIndex(0x00))
	assert.Equal(t, 1, c.ChipIndex(0x80))
}

func TestInitializeRecoveryKeepsUART(t *testing.T) {
	uart := &fakeUART{ready: true}
	c, _, clock := newTestChain(uart, 1)
	c.uart = uart

	n := c.Initialize(ac.Recovery, 2*time.Second)
	require.Equal(t, 1, n)
	assert.Equal(t, []int{ac.DefaultBaudRate, 1000000}, uart.bauds)

	slept := clock.Slept()
	assert.Equal(t, 2*time.Second, slept[len(slept)-1])
	assert.Contains(t, slept, baudSettle)
}

func TestInitializeNoChips(t *testing.T) {
	uart := &fakeUART{}
	c, _, _ := newTestChain(uart, 0)

	assert.Equal(t, 0, c.Initialize(ac.ColdBoot, 0))
	assert.False(t, c.Ready())
	assert.Equal(t, "Chip count 0", c.Status())
}

func TestInitializeOpenFailure(t *testing.T) {
	c := New(Config{
		Opener: func(int) (ac.Transport, error) { return nil, errors.New("no such device") },
		Clock:  util.NewManualClock(time.Unix(0, 0)),
	})
	assert.Equal(t, 0, c.Initialize(ac.ColdBoot, 0))
	assert.Equal(t, "UART init failed", c.Status())
}

func TestSetVersionMask(t *testing.T) {
	uart := &fakeUART{ready: true}
	c, _, _ := newTestChain(uart, 0)
	c.uart = uart

	c.SetVersionMask(0)
	assert.Equal(t, []byte{0x55, 0xaa, 0x51, 0x09, 0x00, 0xa4, 0x90, 0x00, 0x00, 0x00, 0x17}, uart.sent[0])
}

func TestSetFrequencyUnreachable(t *testing.T) {
	uart := &fakeUART{ready: true}
	c, _, _ := newTestChain(uart, 0)
	c.uart = uart

	assert.False(t, c.SetFrequency(10))
	assert.Empty(t, uart.sent)
}

func TestSendJob(t *testing.T) {
	uart := &fakeUART{ready: true}
	c, _, _ := newTestChain(uart, 0)
	c.uart = uart

	c.SendJob(24, &job.Job{JobID: "a", Version: 0x20000000})
	require.Len(t, uart.sent, 1)
	frame := uart.sent[0]
	assert.Len(t, frame, job.PayloadLen+6)
	assert.Equal(t, uint8(0x21), frame[2])
	assert.Equal(t, uint8(24), frame[4])
	assert.True(t, asicio.CheckFrame(frame))
}

func TestSendWithoutUART(t *testing.T) {
	c := New(Config{Clock: util.NewManualClock(time.Unix(0, 0))})
	assert.ErrorIs(t, c.ReadRegister(0x8c), ErrNoTransport)
	assert.ErrorIs(t, c.Flush(), ErrNoTransport)
}

func TestReceiveFrameResync(t *testing.T) {
	nonce := []byte{0xaa, 0x55, 0x9e, 0x12, 0x34, 0x56, 0x01, 0x9a, 0x00, 0x34, 0x80}
	uart := &fakeUART{ready: true, rx: append([]byte{0x00, 0x13, 0xaa}, nonce...)}
	c, _, _ := newTestChain(uart, 0)
	c.uart = uart

	r, err := c.ReceiveFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, nonce, r.Bytes())
	assert.False(t, r.IsRegister())
}

func TestReceiveFrameTimeout(t *testing.T) {
	uart := &fakeUART{ready: true, rx: []byte{0xaa, 0x55}}
	c, _, _ := newTestChain(uart, 0)
	c.uart = uart

	_, err := c.ReceiveFrame(time.Second)
	assert.ErrorIs(t, err, errTimeout)
}

func TestResync(t *testing.T) {
	assert.Equal(t, 2, resync([]byte{0x01, 0x02, 0xaa, 0x55, 0, 0, 0, 0, 0, 0, 0}))
	assert.Equal(t, 10, resync([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xaa}))
	assert.Equal(t, 11, resync([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}))
}

func TestReadRegistersAndReply(t *testing.T) {
	uart := &fakeUART{}
	c, _, _ := newTestChain(uart, 4)
	require.Equal(t, 4, c.Initialize(ac.ColdBoot, 0))
	uart.sent = nil

	require.NoError(t, c.ReadRegisters())
	require.Len(t, uart.sent, 7)
	assert.Equal(t, asicio.EncodeCommand(asicio.ScopeAll, asicio.OpRead, []byte{0x00, 0x4c}), uart.sent[0])
	assert.Equal(t, asicio.EncodeCommand(asicio.ScopeAll, asicio.OpRead, []byte{0x00, 0x88}), uart.sent[6])

	r := asicio.ResultFrame{Nonce: [4]byte{0x00, 0x01, 0x00, 0x02}, Midstate: 0xc0, Tag: 0x8c}
	reply := c.Reply(r)
	assert.Equal(t, RegisterReply{Chip: 3, Register: 0x8c, Value: 0x00010002}, reply)
}
