// Package asic drives an AUD1123 chain over its serial link.
package asic

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	ac "aud_miner/device/asiccommon"
	"aud_miner/device/asicio"
	"aud_miner/device/hashrate"
	"aud_miner/device/pll"
	"aud_miner/job"
	"aud_miner/log"
	"aud_miner/util"
)

const (
	resetPulse       = 100 * time.Millisecond
	baudSettle       = 100 * time.Millisecond
	enumerateTimeout = 1 * time.Second
	// MaxChips bounds enumeration; addresses are spread over one byte.
	MaxChips = 256

	regChipID = 0x00

	versionMaskReg = 0xA4
	versionShift   = 13
)

var ErrNoTransport = errors.New("uart is not open")

// Opener opens the serial link at the given rate.
type Opener func(baud int) (ac.Transport, error)

type Config struct {
	Opener      Opener
	Reset       ac.ResetLine
	Clock       util.Clock
	MaxBaud     int
	AsicCount   int
	Frequency   float64
	// Target, when set, overrides Frequency so a re-init picks up the
	// current setting.
	Target      func() float64
	VersionMask uint32
}

// Chain is the AUD1123 driver. It satisfies asiccommon.AsicLink and puts jobs
// on the wire for the job tracker.
type Chain struct {
	cfg    Config
	logger *zap.SugaredLogger

	mx       sync.Mutex
	uart     ac.Transport
	chips    int
	interval int
	status   string

	ready *atomic.Bool
	synth *pll.Synth
}

func New(cfg Config) *Chain {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.MaxBaud == 0 {
		cfg.MaxBaud = ac.DefaultBaudRate
	}

	c := &Chain{
		cfg:    cfg,
		logger: log.With("component", "AUD1123"),
		ready:  atomic.NewBool(false),
		status: "not initialized",
	}
	c.synth = pll.NewSynth(c.sendQuiet, cfg.Clock)
	return c
}

func (c *Chain) transport() ac.Transport {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.uart
}

func (c *Chain) send(frame []byte) error {
	u := c.transport()
	if u == nil {
		return ErrNoTransport
	}
	c.logger.Debugf("tx: %x", frame)
	return u.Send(frame)
}

func (c *Chain) sendQuiet(frame []byte) {
	if err := c.send(frame); err != nil {
		c.logger.Errorf("Failed to send data to AUD1123: %v", err)
	}
}

func (c *Chain) Ready() bool {
	return c.ready.Load()
}

func (c *Chain) SetReady(ready bool) {
	c.ready.Store(ready)
}

// ChipCount is the number of chips found by the last enumeration.
func (c *Chain) ChipCount() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.chips
}

// Status is a short description of the last initialization outcome.
func (c *Chain) Status() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.status
}

func (c *Chain) setStatus(s string) {
	c.mx.Lock()
	c.status = s
	c.mx.Unlock()
}

// ChipIndex maps a reply address back to the chip's position in the chain.
func (c *Chain) ChipIndex(addr uint8) int {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.interval == 0 {
		return -1
	}
	return int(addr) / c.interval
}

func (c *Chain) Frequency() float64 {
	return c.synth.Current()
}

// Reset pulses the reset line low.
func (c *Chain) Reset() error {
	if c.cfg.Reset == nil {
		return nil
	}
	if err := c.cfg.Reset.AssertLow(); err != nil {
		return errors.Wrap(err, "assert reset")
	}
	c.cfg.Clock.Sleep(resetPulse)
	if err := c.cfg.Reset.Release(); err != nil {
		return errors.Wrap(err, "release reset")
	}
	c.cfg.Clock.Sleep(resetPulse)
	return nil
}

// Initialize resets the chain, brings the link back to the default rate,
// enumerates the chips and switches to the working rate. It returns the chip
// count, 0 on failure.
func (c *Chain) Initialize(mode ac.InitMode, stabilization time.Duration) int {
	c.logger.Infof("Starting ASIC initialization (%s mode)", mode)

	if err := c.Reset(); err != nil {
		c.setStatus("ASIC reset failed")
		c.logger.Errorf("ASIC reset failed! %v", err)
		return 0
	}

	u := c.transport()
	open := u != nil && u.IsReady()
	switch {
	case mode == ac.ColdBoot && open:
		c.logger.Warnf("Cold boot mode but UART already initialized - will reset baud only")
	case mode == ac.Recovery && !open:
		c.logger.Warnf("Recovery mode but UART not initialized - will do full init")
	}

	if !open {
		c.logger.Infof("Performing full UART initialization")
		if c.cfg.Opener == nil {
			c.setStatus("UART init failed")
			c.logger.Errorf("no UART opener configured")
			return 0
		}
		nu, err := c.cfg.Opener(ac.DefaultBaudRate)
		if err != nil {
			c.setStatus("UART init failed")
			c.logger.Errorf("UART init failed: %v", err)
			return 0
		}
		c.mx.Lock()
		c.uart = nu
		c.mx.Unlock()
		u = nu
	} else {
		c.logger.Infof("UART already initialized, resetting baud to %d", ac.DefaultBaudRate)
		if err := u.SetBaud(ac.DefaultBaudRate); err != nil {
			c.logger.Errorf("reset baud: %v", err)
		}
		c.cfg.Clock.Sleep(baudSettle)
	}

	c.logger.Infof("Detecting ASIC chips...")
	chips := c.Init()
	if chips == 0 {
		c.setStatus("Chip count 0")
		c.logger.Errorf("ASIC initialization failed - chip count 0")
		return 0
	}

	c.logger.Infof("Setting max baud rate and clearing buffers")
	if err := u.SetBaud(c.cfg.MaxBaud); err != nil {
		c.logger.Errorf("set baud %d: %v", c.cfg.MaxBaud, err)
	}
	if err := u.Flush(); err != nil {
		c.logger.Errorf("flush: %v", err)
	}

	c.SetReady(true)
	c.setStatus("")

	if stabilization > 0 {
		c.logger.Infof("Waiting %d ms for tasks to stabilize...", stabilization.Milliseconds())
		c.cfg.Clock.Sleep(stabilization)
	}

	c.logger.Infof("ASIC initialized successfully with %d chip(s) (%s mode)", chips, mode)
	return chips
}

// Init enumerates the chain, assigns addresses, sets the version mask and
// ramps the clock to the configured frequency.
func (c *Chain) Init() int {
	c.logger.Infof("Initializing AUD1123")

	u := c.transport()
	if u == nil {
		return 0
	}
	_ = u.Flush()

	c.sendQuiet(asicio.EncodeCommand(asicio.ScopeAll, asicio.OpRead, []byte{0x00, regChipID}))
	chips := c.countChips(u)
	c.logger.Infof("%d chip(s) detected on the chain", chips)
	if chips == 0 {
		return 0
	}
	if c.cfg.AsicCount > 0 && chips != c.cfg.AsicCount {
		c.logger.Warnf("%d chip(s) detected but the board has %d", chips, c.cfg.AsicCount)
	}

	c.sendQuiet(asicio.EncodeCommand(asicio.ScopeAll, asicio.OpInactive, []byte{0x00, 0x00}))

	interval := MaxChips / chips
	for i := 0; i < chips; i++ {
		c.sendQuiet(asicio.EncodeCommand(asicio.ScopeSingle, asicio.OpSetAddress, []byte{uint8(i * interval), 0x00}))
	}

	c.mx.Lock()
	c.chips = chips
	c.interval = interval
	c.mx.Unlock()

	c.SetVersionMask(c.cfg.VersionMask)

	target := c.cfg.Frequency
	if c.cfg.Target != nil {
		target = c.cfg.Target()
	}

	c.synth.Reset()
	if target == 0 {
		c.logger.Infof("Skipping frequency ramp")
	} else {
		c.logger.Infof("Ramping up frequency from %.2f MHz to %.2f MHz", pll.RampStart, target)
		c.synth.Transition(target)
	}

	return chips
}

func (c *Chain) countChips(u ac.Transport) int {
	buf := make([]byte, asicio.ResultFrameLen)
	chips := 0
	for chips < MaxChips {
		n, err := u.Receive(buf, enumerateTimeout)
		if err != nil || n < len(buf) {
			break
		}
		r, err := asicio.DecodeResult(buf)
		if err != nil {
			c.logger.Warnf("enumerate: %v", err)
			continue
		}
		if r.RegisterValue()>>16 == ac.ChipID {
			chips++
		}
	}
	return chips
}

// SetVersionMask enables version rolling over the bits of mask from bit 13 up.
func (c *Chain) SetVersionMask(mask uint32) {
	roll := mask >> versionShift
	c.sendQuiet(asicio.EncodeCommand(asicio.ScopeAll, asicio.OpWrite,
		[]byte{0x00, versionMaskReg, 0x90, 0x00, uint8(roll >> 8), uint8(roll)}))
}

// SetFrequency ramps the chain to mhz. It reports false when mhz cannot be synthesized.
func (c *Chain) SetFrequency(mhz float64) bool {
	return c.synth.Transition(mhz)
}

func (c *Chain) Flush() error {
	u := c.transport()
	if u == nil {
		return ErrNoTransport
	}
	return u.Flush()
}

// SendJob writes one job frame for hardware slot id.
func (c *Chain) SendJob(id uint8, j *job.Job) {
	c.logger.Debugf("Send Job: %02X", id)
	c.sendQuiet(asicio.EncodeJob(j.Payload(id)))
}

// ReadRegister asks every chip for reg. Replies arrive through ReceiveFrame.
func (c *Chain) ReadRegister(reg uint8) error {
	return c.send(asicio.EncodeCommand(asicio.ScopeAll, asicio.OpRead, []byte{0x00, reg}))
}

// ReadRegisters requests every hashrate counter from every chip.
func (c *Chain) ReadRegisters() error {
	for _, reg := range hashrate.ReadRegisters {
		if err := c.ReadRegister(reg); err != nil {
			return err
		}
	}
	return nil
}

// RegisterReply is a decoded register read answer.
type RegisterReply struct {
	Chip     int
	Register uint8
	Value    uint32
}

// Reply decodes r as a register answer. Only valid when r.IsRegister().
func (c *Chain) Reply(r asicio.ResultFrame) RegisterReply {
	return RegisterReply{
		Chip:     c.ChipIndex(r.ChipAddress()),
		Register: r.Register(),
		Value:    r.RegisterValue(),
	}
}

// ReceiveFrame waits up to timeout for the next result frame, skipping line
// noise until a preamble lines up.
func (c *Chain) ReceiveFrame(timeout time.Duration) (asicio.ResultFrame, error) {
	u := c.transport()
	if u == nil {
		return asicio.ResultFrame{}, ErrNoTransport
	}

	buf := make([]byte, asicio.ResultFrameLen)
	if _, err := u.Receive(buf, timeout); err != nil {
		return asicio.ResultFrame{}, err
	}

	for {
		r, err := asicio.DecodeResult(buf)
		if err == nil {
			return r, nil
		}

		skip := resync(buf)
		c.logger.Debugf("rx resync, dropping %d byte(s)", skip)
		copy(buf, buf[skip:])
		if _, err := u.Receive(buf[len(buf)-skip:], timeout); err != nil {
			return asicio.ResultFrame{}, err
		}
	}
}

// resync returns how many leading bytes to drop so buf starts at the next
// possible preamble.
func resync(buf []byte) int {
	for i := 1; i < len(buf); i++ {
		if buf[i] != asicio.ResultPreamble0 {
			continue
		}
		if i+1 == len(buf) || buf[i+1] == asicio.ResultPreamble1 {
			return i
		}
	}
	return len(buf)
}
