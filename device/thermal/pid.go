package thermal

import (
	"time"

	"aud_miner/util"
)

type Direction int

const (
	Direct Direction = iota
	// Reverse drives the output up when the input rises above the setpoint.
	Reverse
)

// PID is a fixed sample time controller with proportional-on-error action and
// derivative on measurement.
type PID struct {
	clock util.Clock

	dispKp, dispKi, dispKd float64
	kp, ki, kd             float64
	direction              Direction

	sampleTime     time.Duration
	outMin, outMax float64
	automatic      bool

	Setpoint  float64
	input     float64
	output    float64
	outputSum float64
	lastInput float64
	lastTime  time.Time
}

func NewPID(clock util.Clock, kp, ki, kd float64, dir Direction) *PID {
	p := &PID{
		clock:      clock,
		direction:  dir,
		sampleTime: 100 * time.Millisecond,
	}
	p.SetOutputLimits(0, 255)
	p.SetTunings(kp, ki, kd)
	p.lastTime = clock.Now().Add(-p.sampleTime)
	return p
}

// Compute runs one step if a full sample time has passed since the last one.
func (p *PID) Compute(input float64) bool {
	if !p.automatic {
		return false
	}

	now := p.clock.Now()
	if now.Sub(p.lastTime) < p.sampleTime {
		return false
	}

	p.input = input
	err := p.Setpoint - input
	dInput := input - p.lastInput

	p.outputSum = p.clamp(p.outputSum + p.ki*err)
	p.output = p.clamp(p.kp*err + p.outputSum - p.kd*dInput)

	p.lastInput = input
	p.lastTime = now
	return true
}

func (p *PID) Output() float64 { return p.output }

// SetTunings takes gains per second; negative gains are ignored.
func (p *PID) SetTunings(kp, ki, kd float64) {
	if kp < 0 || ki < 0 || kd < 0 {
		return
	}

	p.dispKp, p.dispKi, p.dispKd = kp, ki, kd

	sec := p.sampleTime.Seconds()
	p.kp = kp
	p.ki = ki * sec
	p.kd = kd / sec

	if p.direction == Reverse {
		p.kp = -p.kp
		p.ki = -p.ki
		p.kd = -p.kd
	}
}

func (p *PID) Tunings() (kp, ki, kd float64) {
	return p.dispKp, p.dispKi, p.dispKd
}

func (p *PID) SetSampleTime(d time.Duration) {
	if d <= 0 {
		return
	}
	ratio := d.Seconds() / p.sampleTime.Seconds()
	p.ki *= ratio
	p.kd /= ratio
	p.sampleTime = d
}

func (p *PID) SetOutputLimits(min, max float64) {
	if min >= max {
		return
	}
	p.outMin, p.outMax = min, max

	if p.automatic {
		p.output = p.clamp(p.output)
		p.outputSum = p.clamp(p.outputSum)
	}
}

// SetMode switches between manual and automatic. Going automatic restarts
// from the current output without a bump.
func (p *PID) SetMode(automatic bool) {
	if automatic && !p.automatic {
		p.outputSum = p.clamp(p.output)
		p.lastInput = p.input
	}
	p.automatic = automatic
}

func (p *PID) clamp(v float64) float64 {
	if v > p.outMax {
		return p.outMax
	}
	if v < p.outMin {
		return p.outMin
	}
	return v
}
