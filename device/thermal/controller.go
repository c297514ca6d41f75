// Package thermal runs the fan loop and the overheat safety state machine.
package thermal

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"aud_miner/config"
	ac "aud_miner/device/asiccommon"
	"aud_miner/log"
	"aud_miner/util"
)

const (
	PollInterval = 1800 * time.Millisecond
	CoolingStep  = 5 * time.Second
	StartupDelay = 500 * time.Millisecond

	ThrottleTemp   = 75.0
	SafeTemp       = 45.0
	VRThrottleTemp = 105.0
	VRCoolTemp     = VRThrottleTemp - 10
	AsicReduction  = 100

	MinCoolingCycles = 6

	pidP         = 15.0
	pidI         = 0.2
	pidD         = 3.0
	pidDStartup  = 20.0
	pidHold      = 3
	pidRamp      = 17
	pidSample    = PollInterval - time.Millisecond
	fanEpsilon   = 0.0001
	apModeFanPct = 70.0

	recoveryVoltageSettle = 500 * time.Millisecond
	recoveryQuiesce       = 500 * time.Millisecond
	recoveryFlushSettle   = 100 * time.Millisecond
	recoveryStabilization = 2000 * time.Millisecond

	fallbackVoltageMV = 1000
	fallbackFreqMHz   = 400.0
)

var ErrFanActuator = errors.New("fan speed could not be set")

type State int

const (
	StateNormal State = iota
	StateOverheatShutdown
	StateCooling
	StateRecovering
)

var stateMap = map[State]string{
	StateNormal:           "NORMAL",
	StateOverheatShutdown: "OVERHEAT_SHUTDOWN",
	StateCooling:          "COOLING",
	StateRecovering:       "RECOVERING",
}

func (s State) String() string {
	return stateMap[s]
}

// SettingsStore is the persisted configuration the controller reads and,
// during an overheat, rewrites.
type SettingsStore interface {
	Snapshot() config.Settings
	SetFrequency(mhz float64) error
	SetCoreVoltage(mv uint16) error
	SetAutoFanSpeed(on bool) error
	SetManualFanSpeed(pct uint16) error
	SetOverheatMode(on bool) error
}

// HashrateSink is told the clock and expected hashrate after each change.
type HashrateSink interface {
	SetOperatingPoint(freq, expected float64)
}

type Deps struct {
	Clock    util.Clock
	Store    SettingsStore
	Fans     ac.FanController
	Chips    ac.ChipThermometer
	VR       ac.VoltageRegulator
	Power    ac.PowerSensor
	Reset    ac.ResetLine
	Link     ac.AsicLink
	Hashrate HashrateSink
}

type Params struct {
	AsicCount      int
	SmallCoreCount int
	// ChipSensorOffChip means chip readings stay valid while the chips are
	// held in reset.
	ChipSensorOffChip bool
}

// Status is a copy of the controller's view, safe to hand to reporters.
type Status struct {
	State            State
	Voltage          float64 // input, mV
	Power            float64
	FanRPM           int
	Fan2RPM          int
	ChipTemp         float64
	ChipTemp2        float64
	VRTemp           float64
	FanPercent       float64
	Frequency        float64
	ExpectedHashrate float64
	OverheatMode     bool
	VRFault          bool
	CoolingCycles    int
}

type Controller struct {
	Deps
	Params

	logger *zap.SugaredLogger
	pid    *PID

	pidStartup bool
	pidCounter int

	lastCoreVoltage uint16
	lastFrequency   float64

	lastKnownVoltage   uint16
	lastKnownFrequency float64
	reducedVoltage     uint16
	reducedFrequency   float64

	mx     sync.Mutex
	status Status
}

func New(d Deps, p Params) *Controller {
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	return &Controller{
		Deps:   d,
		Params: p,
		logger: log.With("component", "power_management"),
	}
}

// ExpectedHashrate is the nominal GH/s of the chain at freq MHz.
func (c *Controller) ExpectedHashrate(freq float64) float64 {
	return freq * float64(c.SmallCoreCount) * float64(c.AsicCount) / 1000.0
}

// Start loads the operating point and arms the PID. Run calls it.
func (c *Controller) Start() {
	s := c.Store.Snapshot()

	c.lastFrequency = s.FrequencyMHz
	c.lastCoreVoltage = 0

	expected := c.ExpectedHashrate(s.FrequencyMHz)
	c.update(func(st *Status) {
		st.State = StateNormal
		st.Frequency = s.FrequencyMHz
		st.ExpectedHashrate = expected
		st.OverheatMode = s.OverheatMode
	})
	if c.Hashrate != nil {
		c.Hashrate.SetOperatingPoint(s.FrequencyMHz, expected)
	}
	c.logger.Infof("ASIC Frequency: %g MHz, Expected hashrate: %s", s.FrequencyMHz, util.HashrateString(expected))

	c.pid = NewPID(c.Clock, pidP, pidI, pidDStartup, Reverse)
	c.pid.Setpoint = s.TempTarget
	c.pid.SetSampleTime(pidSample)
	c.pid.SetOutputLimits(float64(s.MinFanSpeed), 100)
	c.pid.SetMode(true)
	c.pidStartup = true
	c.pidCounter = 0
}

// Run ticks until ctx is done or the fan cannot be commanded.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Starting")
	c.Start()

	delay := StartupDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Clock.After(delay):
		}

		var err error
		delay, err = c.Tick()
		if err != nil {
			return err
		}
	}
}

func (c *Controller) Status() Status {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.status
}

func (c *Controller) State() State {
	return c.Status().State
}

func (c *Controller) update(fn func(st *Status)) {
	c.mx.Lock()
	defer c.mx.Unlock()
	fn(&c.status)
}

func (c *Controller) setState(next State) {
	prev := c.State()
	if prev == next {
		return
	}
	c.update(func(st *Status) { st.State = next })
	c.logger.Infof("State %s -> %s", prev, next)
}

// Tick runs one step of the current state and returns how long to wait
// before the next one.
func (c *Controller) Tick() (time.Duration, error) {
	switch c.State() {
	case StateOverheatShutdown:
		return c.shutdown()
	case StateCooling:
		return c.cool(), nil
	case StateRecovering:
		return c.recover(), nil
	default:
		return c.normal()
	}
}

// chipTemps reads both zones, -1 when the chips are not initialized or the
// zone does not exist.
func (c *Controller) chipTemps() (float64, float64) {
	if c.Link == nil || !c.Link.Ready() {
		return -1, -1
	}
	t1, t2 := -1.0, -1.0
	if c.Chips.ChipZones() > 0 {
		t1 = c.Chips.ChipTemp(0)
	}
	if c.Chips.ChipZones() > 1 {
		t2 = c.Chips.ChipTemp(1)
	}
	return t1, t2
}

func (c *Controller) fanRPM(i int) int {
	if i >= c.Fans.FanCount() {
		return 0
	}
	return c.Fans.FanRPM(i)
}

func (c *Controller) setFan(pct float64) error {
	c.update(func(st *Status) { st.FanPercent = pct })
	if err := c.Fans.SetFanPercent(pct / 100.0); err != nil {
		return errors.Wrapf(ErrFanActuator, "%.1f%%: %v", pct, err)
	}
	return nil
}

func (c *Controller) normal() (time.Duration, error) {
	s := c.Store.Snapshot()
	c.pid.Setpoint = s.TempTarget
	c.pid.SetOutputLimits(float64(s.MinFanSpeed), 100)

	voltage := c.Power.InputVoltage()
	power := c.Power.Power()
	rpm1, rpm2 := c.fanRPM(0), c.fanRPM(1)
	t1, t2 := c.chipTemps()
	vrTemp := c.VR.Temperature()

	st := c.Status()
	c.update(func(st *Status) {
		st.Voltage = voltage
		st.Power = power
		st.FanRPM = rpm1
		st.Fan2RPM = rpm2
		st.ChipTemp = t1
		st.ChipTemp2 = t2
		st.VRTemp = vrTemp
	})

	asicOverheat := t1 > ThrottleTemp || t2 > ThrottleTemp
	if (vrTemp > VRThrottleTemp || asicOverheat) && (st.Frequency > 50 || voltage > 1000) {
		if t2 > 0 {
			c.logger.Errorf("OVERHEAT! VR: %fC ASIC1: %fC ASIC2: %fC", vrTemp, t1, t2)
		} else {
			c.logger.Errorf("OVERHEAT! VR: %fC ASIC: %fC", vrTemp, t1)
		}
		c.setState(StateOverheatShutdown)
		return 0, nil
	}

	if err := c.fanControl(s, t1, t2, st.FanPercent); err != nil {
		return 0, err
	}

	if s.CoreVoltageMV != c.lastCoreVoltage {
		c.logger.Infof("setting new vcore voltage to %dmV", s.CoreVoltageMV)
		if err := c.VR.SetVoltage(float64(s.CoreVoltageMV) / 1000.0); err != nil {
			c.logger.Errorf("set vcore %dmV: %v", s.CoreVoltageMV, err)
		}
		c.lastCoreVoltage = s.CoreVoltageMV
	}

	if s.FrequencyMHz != c.lastFrequency {
		c.logger.Infof("New ASIC frequency requested: %g MHz (current: %g MHz)", s.FrequencyMHz, c.lastFrequency)
		if c.Link.SetFrequency(s.FrequencyMHz) {
			expected := c.ExpectedHashrate(s.FrequencyMHz)
			c.update(func(st *Status) {
				st.Frequency = s.FrequencyMHz
				st.ExpectedHashrate = expected
			})
			if c.Hashrate != nil {
				c.Hashrate.SetOperatingPoint(s.FrequencyMHz, expected)
			}
		}
		c.lastFrequency = s.FrequencyMHz
	}

	if s.OverheatMode != st.OverheatMode {
		c.update(func(st *Status) { st.OverheatMode = s.OverheatMode })
		c.logger.Infof("Overheat mode updated to: %v", s.OverheatMode)
	}

	fault := c.VR.CheckFault()
	if fault && !st.VRFault {
		c.logger.Errorf("Voltage regulator fault")
	}
	c.update(func(st *Status) { st.VRFault = fault })

	return PollInterval, nil
}

func (c *Controller) fanControl(s config.Settings, t1, t2, fanPct float64) error {
	if !s.AutoFanSpeed {
		manual := float64(s.ManualFanSpeed)
		if math.Abs(fanPct-manual) > fanEpsilon {
			c.logger.Infof("Setting manual fan speed to %d%%", s.ManualFanSpeed)
			return c.setFan(manual)
		}
		return nil
	}

	if t1 < 0 {
		if s.APMode {
			c.logger.Warnf("AP mode with invalid temperature reading: %.1f °C - Setting fan to 70%%", t1)
			return c.setFan(apModeFanPct)
		}
		c.logger.Warnf("Ignoring invalid temperature reading: %.1f °C", t1)
		if fanPct < 100 {
			c.logger.Warnf("Setting fan speed to 100%%")
			return c.setFan(100)
		}
		return nil
	}

	input := t1
	if t2 > t1 {
		input = t2
	}

	c.stepStartupTunings()
	c.pid.Compute(input)

	out := c.pid.Output()
	kp, ki, kd := c.pid.Tunings()
	c.logger.Infof("Temp: %.1f °C, SetPoint: %.1f °C, Output: %.1f%% (P:%.1f I:%.1f D_val:%.1f D_start_val:%.1f)",
		input, c.pid.Setpoint, out, kp, ki, kd, pidDStartup)
	return c.setFan(out)
}

// stepStartupTunings holds the startup derivative for pidHold cycles, ramps it
// down to the normal value over pidRamp cycles and then leaves it alone.
func (c *Controller) stepStartupTunings() {
	if !c.pidStartup {
		return
	}

	c.pidCounter++
	switch {
	case c.pidCounter >= pidHold+pidRamp:
		c.pid.SetTunings(pidP, pidI, pidD)
		c.pidStartup = false
		c.logger.Infof("PID startup phase complete, switching to normal D value: %.1f", pidD)
	case c.pidCounter > pidHold:
		ramp := c.pidCounter - pidHold
		d := pidDStartup - (pidDStartup-pidD)*float64(ramp)/pidRamp
		c.pid.SetTunings(pidP, pidI, d)
		c.logger.Debugf("PID startup ramp phase: %d/%d (Total cycle: %d), current D: %.1f", ramp, pidRamp, c.pidCounter, d)
	default:
		c.pid.SetTunings(pidP, pidI, pidDStartup)
		c.logger.Debugf("PID startup hold phase: %d/%d, holding D at: %.1f", c.pidCounter, pidHold, pidDStartup)
	}
}

// shutdown is the protective sequence. Every step runs even if an earlier one
// failed; a fan failure is reported once the chips are safe.
func (c *Controller) shutdown() (time.Duration, error) {
	fanErr := c.setFan(100)
	if fanErr != nil {
		c.logger.Errorf("overheat: %v", fanErr)
	}

	if err := c.VR.SetVoltage(0); err != nil {
		c.logger.Errorf("overheat: vcore off: %v", err)
	}

	c.logger.Infof("Setting RST pin to low due to overheat condition")
	if err := c.Reset.AssertLow(); err != nil {
		c.logger.Errorf("overheat: hold reset: %v", err)
	}

	s := c.Store.Snapshot()
	c.lastKnownVoltage = s.CoreVoltageMV
	c.lastKnownFrequency = s.FrequencyMHz

	c.persist(c.Store.SetAutoFanSpeed(false))
	c.persist(c.Store.SetManualFanSpeed(100))
	c.persist(c.Store.SetOverheatMode(true))
	c.update(func(st *Status) {
		st.OverheatMode = true
		st.CoolingCycles = 0
	})
	c.logger.Warnf("Entering safe mode due to overheat condition. System operation halted.")

	c.setState(StateCooling)
	if fanErr != nil {
		return 0, fanErr
	}
	return CoolingStep, nil
}

func (c *Controller) persist(err error) {
	if err != nil {
		c.logger.Errorf("save settings: %v", err)
	}
}

func (c *Controller) cool() time.Duration {
	vrTemp := c.VR.Temperature()

	st := c.Status()
	cycles := st.CoolingCycles + 1

	if c.ChipSensorOffChip {
		t1, t2 := c.chipTemps()
		c.logger.Warnf("Safe mode active (cycle %d) - VR: %.1fC ASIC1: %.1fC ASIC2: %.1fC", cycles, vrTemp, t1, t2)
		if t1 > SafeTemp || t2 > SafeTemp {
			cycles = 0
		}
		c.update(func(st *Status) {
			st.ChipTemp = t1
			st.ChipTemp2 = t2
		})
	} else {
		c.logger.Warnf("Safe mode active (cycle %d/%d) - VR: %.1fC (ASIC temps unavailable while powered down)",
			cycles, MinCoolingCycles, vrTemp)
	}

	c.update(func(st *Status) {
		st.VRTemp = vrTemp
		st.CoolingCycles = cycles
	})

	if cycles < MinCoolingCycles || vrTemp > VRCoolTemp {
		return CoolingStep
	}

	c.logger.Infof("Temperature normalized after %d cooling cycles. Reinitializing ASIC...", cycles)

	c.reducedVoltage = fallbackVoltageMV
	if c.lastKnownVoltage > fallbackVoltageMV+AsicReduction {
		c.reducedVoltage = c.lastKnownVoltage - AsicReduction
	}
	c.reducedFrequency = math.Max(c.lastKnownFrequency-AsicReduction, fallbackFreqMHz)

	c.persist(c.Store.SetCoreVoltage(c.reducedVoltage))
	c.persist(c.Store.SetFrequency(c.reducedFrequency))

	c.setState(StateRecovering)
	return 0
}

func (c *Controller) recover() time.Duration {
	c.logger.Infof("Restoring core voltage to %dmV = %.3fV (reduced from %dmV = %.3fV)...",
		c.reducedVoltage, float64(c.reducedVoltage)/1000.0, c.lastKnownVoltage, float64(c.lastKnownVoltage)/1000.0)
	if err := c.VR.SetVoltage(float64(c.reducedVoltage) / 1000.0); err != nil {
		c.logger.Errorf("recovery: vcore: %v", err)
	}
	c.Clock.Sleep(recoveryVoltageSettle)

	c.logger.Infof("Stopping ASIC tasks...")
	c.Link.SetReady(false)
	c.Clock.Sleep(recoveryQuiesce)

	c.logger.Infof("Flushing UART buffers...")
	if err := c.Link.Flush(); err != nil {
		c.logger.Errorf("recovery: flush: %v", err)
	}
	c.Clock.Sleep(recoveryFlushSettle)

	chips := c.Link.Initialize(ac.Recovery, recoveryStabilization)
	if chips > 0 {
		c.persist(c.Store.SetOverheatMode(false))
		c.logger.Infof("Resuming normal operation. Reduced frequency (%.0f MHz) will be applied automatically.", c.reducedFrequency)
	} else {
		c.logger.Errorf("Recovery found no chips, staying in overheat mode")
	}

	c.setState(StateNormal)
	return 0
}
