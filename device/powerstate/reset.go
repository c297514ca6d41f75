// Package powerstate drives the chip reset GPIO.
package powerstate

import (
	"sync"

	"github.com/pkg/errors"
	"gobot.io/x/gobot/sysfs"

	"aud_miner/log"
)

// GPIO1_0 is base pin 335 on the controller SoC.
const DefaultResetPin = 335

type digitalPin interface {
	Export() error
	Unexport() error
	Direction(dir string) error
	Read() (int, error)
	Write(b int) error
}

var newPin = func(pin int) digitalPin {
	return sysfs.NewDigitalPin(pin)
}

// ResetLine implements asiccommon.ResetLine over a sysfs GPIO. The pin is
// exported on first use and kept.
type ResetLine struct {
	mx       sync.Mutex
	num      int
	pin      digitalPin
	asserted bool
}

func NewResetLine(pin int) *ResetLine {
	return &ResetLine{num: pin}
}

func (r *ResetLine) open() (digitalPin, error) {
	if r.pin != nil {
		return r.pin, nil
	}

	p := newPin(r.num)
	if err := p.Export(); err != nil {
		return nil, errors.Wrapf(err, "export gpio %d", r.num)
	}
	if err := p.Direction(sysfs.OUT); err != nil {
		return nil, errors.Wrapf(err, "gpio %d direction", r.num)
	}
	r.pin = p
	return p, nil
}

func (r *ResetLine) set(level int) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	p, err := r.open()
	if err != nil {
		return err
	}
	if err := p.Write(level); err != nil {
		return errors.Wrapf(err, "gpio %d write %d", r.num, level)
	}
	r.asserted = level == sysfs.LOW
	return nil
}

// AssertLow holds the chips in reset.
func (r *ResetLine) AssertLow() error {
	log.Debugf("gpio %d: reset low", r.num)
	return r.set(sysfs.LOW)
}

// Release takes the chips out of reset.
func (r *ResetLine) Release() error {
	log.Debugf("gpio %d: reset high", r.num)
	return r.set(sysfs.HIGH)
}

// InReset reports the last level written.
func (r *ResetLine) InReset() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.asserted
}

// Close unexports the pin. The level stays where it was.
func (r *ResetLine) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.pin == nil {
		return nil
	}
	err := r.pin.Unexport()
	r.pin = nil
	return err
}
