package device

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aud_miner/config"
	ac "aud_miner/device/asiccommon"
	"aud_miner/device/asicio"
	"aud_miner/device/devhdr"
	"aud_miner/job"
	"aud_miner/util"
)

var errRxTimeout = errors.New("rx timeout")

type fakeUART struct {
	ready bool
	sent  [][]byte
	rx    []byte
}

func (f *fakeUART) IsReady() bool     { return f.ready }
func (f *fakeUART) SetBaud(int) error { return nil }
func (f *fakeUART) Flush() error      { return nil }
func (f *fakeUART) Send(b []byte) error {
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeUART) Receive(buf []byte, timeout time.Duration) (int, error) {
	n := copy(buf, f.rx)
	f.rx = f.rx[n:]
	if n < len(buf) {
		return n, errRxTimeout
	}
	return n, nil
}

type nopReset struct{}

func (nopReset) AssertLow() error { return nil }
func (nopReset) Release() error   { return nil }

type fakeFans struct{ pct float64 }

func (f *fakeFans) SetFanPercent(p float64) error { f.pct = p; return nil }
func (f *fakeFans) FanRPM(int) int                { return 3000 }
func (f *fakeFans) FanCount() int                 { return 1 }

type fakeChips struct{}

func (fakeChips) ChipTemp(int) float64 { return 50 }
func (fakeChips) ChipZones() int       { return 2 }

type fakeVR struct{ volts []float64 }

func (f *fakeVR) SetVoltage(v float64) error { f.volts = append(f.volts, v); return nil }
func (f *fakeVR) Temperature() float64       { return 60 }
func (f *fakeVR) CheckFault() bool           { return false }
func (f *fakeVR) InputVoltage() float64      { return 5000 }
func (f *fakeVR) Current() float64           { return 2000 }
func (f *fakeVR) Power() float64             { return 10 }
func (f *fakeVR) CoreVoltage() float64       { return 1200 }

func newTestManager(t *testing.T) (*DeviceManager, *fakeUART, *util.ManualClock) {
	t.Helper()
	uart := &fakeUART{rx: asicio.ResultFrame{Nonce: [4]byte{0x13, 0x70, 0x00, 0x00}}.Bytes()}
	clock := util.NewManualClock(time.Unix(0, 0))

	cfg := config.Default()
	cfg.Settings.FrequencyMHz = 75
	store := config.NewStore(cfg)

	dev, err := devhdr.Resolve(cfg.Board)
	require.NoError(t, err)

	hw := &Hardware{
		Opener: func(int) (ac.Transport, error) { uart.ready = true; return uart, nil },
		Reset:  nopReset{},
		Fans:   &fakeFans{},
		Chips:  fakeChips{},
		VR:     &fakeVR{},
	}
	return NewDeviceManager(store, dev, hw, clock), uart, clock
}

func initChain(t *testing.T, my *DeviceManager) {
	t.Helper()
	require.Equal(t, 1, my.Chain.Initialize(ac.ColdBoot, 0))
}

func TestSubmitNeedsReadyChain(t *testing.T) {
	my, _, _ := newTestManager(t)
	my.running = true

	_, err := my.AddJob(&job.Job{JobID: "a"})
	require.NoError(t, err)
	assert.False(t, my.submitNext())
	assert.Equal(t, 1, my.JobQ.Len())

	initChain(t, my)
	assert.True(t, my.submitNext())
	assert.Equal(t, 0, my.JobQ.Len())
	jobs, _, _ := my.HWJobs.Stats()
	assert.Equal(t, 1, jobs)

	assert.False(t, my.submitNext(), "queue is empty")
}

func TestAddJobCleanDropsBacklog(t *testing.T) {
	my, _, _ := newTestManager(t)

	_, err := my.AddJob(&job.Job{JobID: "a"})
	assert.ErrorIs(t, err, ErrNotRunning)

	my.running = true
	_, _ = my.AddJob(&job.Job{JobID: "a"})
	_, _ = my.AddJob(&job.Job{JobID: "b"})
	n, err := my.AddJob(&job.Job{JobID: "c", CleanJobs: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, my.JobQ.Len())
}

func TestCleanJobCancelsInFlight(t *testing.T) {
	my, _, _ := newTestManager(t)
	my.running = true
	initChain(t, my)

	_, _ = my.AddJob(&job.Job{JobID: "a"})
	require.True(t, my.submitNext())
	_, _ = my.AddJob(&job.Job{JobID: "b", CleanJobs: true})
	require.True(t, my.submitNext())

	// "a" went to slot 24 and was cancelled, "b" is in slot 48
	assert.Nil(t, my.HWJobs.FindJobWithLock(24))
	require.NotNil(t, my.HWJobs.FindJobWithLock(48))
	assert.Equal(t, "b", my.HWJobs.FindJobWithLock(48).JobID)
}

func TestHandleFrameRoutesNonce(t *testing.T) {
	my, _, _ := newTestManager(t)
	my.running = true
	initChain(t, my)

	_, _ = my.AddJob(&job.Job{JobID: "a", Version: 0x20000000})
	require.True(t, my.submitNext())

	my.handleFrame(resultFor(24, 0x0034))
	select {
	case r := <-my.results:
		assert.Equal(t, "a", r.JobID)
		assert.Equal(t, uint32(0x20000000|0x0034<<13), r.Version)
	default:
		t.Fatal("no result")
	}

	my.handleFrame(resultFor(72, 0))
	assert.Empty(t, my.results, "stale result is dropped")
	_, _, stale := my.HWJobs.Stats()
	assert.Equal(t, 1, stale)
}

func TestHandleFrameRegisterReply(t *testing.T) {
	my, _, _ := newTestManager(t)
	initChain(t, my)

	my.handleFrame(asicio.ResultFrame{Nonce: [4]byte{0x00, 0x00, 0x01, 0x00}, Midstate: 0x00, Tag: 0x88})
	s := my.Hashrate.Publish()
	assert.InDelta(t, 256*float64(1<<24)/1e9, s.Hashrate, 1e-9)
	assert.Empty(t, my.results)
}

func TestPollHashrate(t *testing.T) {
	my, uart, clock := newTestManager(t)
	my.pollHashrate()
	assert.Empty(t, uart.sent, "chain not ready")

	initChain(t, my)
	uart.sent = nil
	before := clock.Now()
	my.pollHashrate()
	assert.Len(t, uart.sent, 7)
	assert.Equal(t, 100*time.Millisecond, clock.Now().Sub(before))
}

func TestFiniWithoutInit(t *testing.T) {
	my, _, _ := newTestManager(t)
	my.Fini()
	assert.NoError(t, my.Err())
}

func TestChipSensorFlagReachesController(t *testing.T) {
	my, _, _ := newTestManager(t)
	assert.True(t, my.Device.EMCInternalTemp)
	assert.True(t, my.Thermal.ChipSensorOffChip)

	dev := my.Device
	dev.EMCInternalTemp = false
	other := NewDeviceManager(my.Store, dev, my.HW, util.NewManualClock(time.Unix(0, 0)))
	assert.False(t, other.Thermal.ChipSensorOffChip)
}
