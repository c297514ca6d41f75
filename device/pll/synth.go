package pll

import (
	"math"
	"sync"
	"time"

	"aud_miner/device/asicio"
	"aud_miner/log"
	"aud_miner/util"
)

const (
	// RampStart is the clock the chip comes out of reset with.
	RampStart = 56.25
	RampStep  = 6.25
	RampDelay = 100 * time.Millisecond
)

// Synth owns the chain's current clock and moves it in small steps.
type Synth struct {
	send    func(frame []byte)
	clock   util.Clock
	mx      sync.Mutex
	current float64
}

// NewSynth sends every PLL frame through send.
func NewSynth(send func(frame []byte), clock util.Clock) *Synth {
	return &Synth{
		send:    send,
		clock:   clock,
		current: RampStart,
	}
}

func (s *Synth) Current() float64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.current
}

// Reset forgets the ramp position, used after the chips are reset.
func (s *Synth) Reset() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.current = RampStart
}

// Apply writes the PLL setting for target in one broadcast frame. Nothing is
// sent when target cannot be solved.
func (s *Synth) Apply(target float64) error {
	p, err := Solve(target)
	if err != nil {
		log.Errorf("Failed to find PLL settings for target frequency %.2f MHz", target)
		return err
	}

	log.Infof("Setting Frequency to %.2fMHz (%.2f)", target, p.Achieved)
	reg := p.Register()
	s.send(asicio.EncodeCommand(asicio.ScopeAll, asicio.OpWrite, reg[:]))
	return nil
}

// Transition steps the clock toward target on the RampStep grid, RampDelay apart,
// then writes target itself. An unsolvable target leaves the chip untouched.
func (s *Synth) Transition(target float64) bool {
	if _, err := Solve(target); err != nil {
		log.Errorf("Frequency %.2f MHz is not reachable: %v", target, err)
		return false
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	cur := s.current
	switch {
	case target > cur:
		if next := math.Ceil(cur/RampStep) * RampStep; next != cur && next < target {
			cur = next
			s.step(cur)
		}
		for cur+RampStep < target {
			cur += RampStep
			s.step(cur)
		}
	case target < cur:
		if next := math.Floor(cur/RampStep) * RampStep; next != cur && next > target {
			cur = next
			s.step(cur)
		}
		for cur-RampStep > target {
			cur -= RampStep
			s.step(cur)
		}
	}

	_ = s.Apply(target)
	s.current = target
	return true
}

func (s *Synth) step(freq float64) {
	_ = s.Apply(freq)
	s.clock.Sleep(RampDelay)
}
