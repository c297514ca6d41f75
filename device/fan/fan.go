// Package fan drives the cooling fans, either PWM channels with GPIO tach
// inputs or an EMC2302 controller.
package fan

import (
	"context"
	"sync"

	"aud_miner/config"
	"aud_miner/device/pwm"
	"aud_miner/log"
	"aud_miner/util"
)

const (
	// control pin needs a fixed PWM frequency of 25kHz
	pwmPeriodNs = 40000
	startFrac   = 0.5

	// below this a running fan is reported as failed
	fanSpeedMin = 1000
)

// PWMBank implements asiccommon.FanController over sysfs PWM outputs. All
// fans get the same duty cycle.
type PWMBank struct {
	gpioChip string
	pins     []*pwm.Pin
	tachos   []*tachometer
	byOffset map[int]*tachometer

	mx        sync.Mutex
	alarm     []bool
	pollCount int
}

// NewPWMBank exports and enables every fan at half speed. Fans that fail to
// come up are logged and skipped.
func NewPWMBank(root, gpioChip string, fans []config.PWMFan, clock util.Clock) *PWMBank {
	b := &PWMBank{
		gpioChip: gpioChip,
		byOffset: make(map[int]*tachometer),
	}

	for i, f := range fans {
		pin := pwm.NewPin(root, f.Chip, f.Channel, clock)
		if err := setupPin(pin); err != nil {
			log.Errorf("err init fan %d: %v", i, err)
			continue
		}

		t := &tachometer{offset: f.TachoPin}
		b.pins = append(b.pins, pin)
		b.tachos = append(b.tachos, t)
		b.byOffset[f.TachoPin] = t
	}
	b.alarm = make([]bool, len(b.pins))

	return b
}

func setupPin(pin *pwm.Pin) error {
	if err := pin.Export(); err != nil {
		return err
	}
	if err := pin.SetPeriod(pwmPeriodNs); err != nil {
		return err
	}
	if err := pin.SetDutyCycle(uint64(pwmPeriodNs * startFrac)); err != nil {
		return err
	}
	return pin.Enable(true)
}

// Start begins counting tach pulses until ctx is done.
func (b *PWMBank) Start(ctx context.Context) error {
	return b.startTacho(ctx)
}

func (b *PWMBank) rotate() {
	for _, t := range b.tachos {
		t.rotate()
	}
}

func (b *PWMBank) FanCount() int {
	return len(b.pins)
}

// SetFanPercent applies fraction to every fan and returns the first failure.
func (b *PWMBank) SetFanPercent(fraction float64) error {
	var first error
	for i, pin := range b.pins {
		if err := pin.SetFraction(fraction); err != nil {
			log.Errorf("fan %d: %v", i, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (b *PWMBank) FanRPM(index int) int {
	if index < 0 || index >= len(b.tachos) {
		return 0
	}
	return b.tachos[index].RPM()
}

// CheckAlarms logs fans that fall below fanSpeedMin and returns whether any
// fan is in alarm. The first poll is ignored, the tach slots are still empty.
func (b *PWMBank) CheckAlarms() bool {
	b.mx.Lock()
	defer b.mx.Unlock()

	b.pollCount++
	if b.pollCount <= 1 {
		return false
	}

	alarmed := false
	for i, t := range b.tachos {
		rpm := t.RPM()
		if rpm < fanSpeedMin {
			if !b.alarm[i] {
				log.Errorf("ALARM: Fan %d speed %d RPM is below threshold %d RPM", i+1, rpm, fanSpeedMin)
			}
			b.alarm[i] = true
		} else {
			if b.alarm[i] {
				log.Infof("Fan %d speed %d RPM is back above threshold %d", i+1, rpm, fanSpeedMin)
			}
			b.alarm[i] = false
		}
		alarmed = alarmed || b.alarm[i]
	}
	return alarmed
}
