package fan

import (
	"github.com/pkg/errors"

	"aud_miner/device/smbus"
	"aud_miner/log"
)

const (
	EMC2302Addr = 0x2E

	emcFan1Setting = 0x30
	emcFan1Config1 = 0x32
	emcTach1       = 0x3E
	emcFan2Setting = 0x40
	emcFan2Config1 = 0x42
	emcTach2       = 0x4E

	emcRangeMask  = 0x60
	emcRangeShift = 5
	// smallest measurable speed 500 RPM, tach multiplier 1
	emcRange500 = 0

	emcTachClock = 3932160
	emcMaxRPM    = 65535
)

var emcTachMultipliers = [4]int{1, 2, 4, 8}

// EMC2302 is a two channel fan controller with its own tach counters.
type EMC2302 struct {
	dev  smbus.Device
	mult [2]int
}

// NewEMC2302 sets both channels to the 500 RPM range.
func NewEMC2302(bus smbus.Bus, addr uint8) (*EMC2302, error) {
	e := &EMC2302{dev: smbus.Device{Bus: bus, Addr: addr}}

	log.Infof("EMC2302 init")
	for i, reg := range []uint8{emcFan1Config1, emcFan2Config1} {
		m, err := e.setRange(reg, emcRange500)
		if err != nil {
			return nil, errors.Wrapf(err, "EMC2302 fan %d config", i+1)
		}
		e.mult[i] = m
	}
	return e, nil
}

func (e *EMC2302) setRange(reg uint8, rng uint8) (int, error) {
	cfg, err := e.dev.ReadReg(reg)
	if err != nil {
		return 0, err
	}
	cfg = cfg&^emcRangeMask | rng<<emcRangeShift
	if err := e.dev.WriteReg(reg, cfg); err != nil {
		return 0, err
	}
	return emcTachMultipliers[rng], nil
}

func (e *EMC2302) FanCount() int {
	return 2
}

// SetFanPercent writes the same drive setting to both fans.
func (e *EMC2302) SetFanPercent(fraction float64) error {
	setting := uint8(255.0 * fraction)
	if fraction >= 1 {
		setting = 255
	} else if fraction <= 0 {
		setting = 0
	}

	if err := e.dev.WriteReg(emcFan1Setting, setting); err != nil {
		return errors.Wrap(err, "EMC2302 fan 1 setting")
	}
	if err := e.dev.WriteReg(emcFan2Setting, setting); err != nil {
		return errors.Wrap(err, "EMC2302 fan 2 setting")
	}
	return nil
}

func (e *EMC2302) FanRPM(index int) int {
	switch index {
	case 0:
		return e.rpm(emcTach1, e.mult[0])
	case 1:
		return e.rpm(emcTach2, e.mult[1])
	}
	return 0
}

func (e *EMC2302) rpm(reg uint8, mult int) int {
	b, err := e.dev.Bus.ReadN(e.dev.Addr, reg, 2)
	if err != nil {
		log.Errorf("EMC2302: failed to read fan speed: %v", err)
		return 0
	}
	return TachToRPM(b[0], b[1], mult)
}

// TachToRPM converts the tach reading (high byte, low byte) to RPM. A high byte
// of 0xFF means the fan is stopped.
func TachToRPM(hi, lo uint8, mult int) int {
	if hi == 0xFF {
		return 0
	}
	count := int(hi)<<5 | int(lo)>>3
	if count == 0 {
		return emcMaxRPM
	}
	rpm := emcTachClock * mult / count
	if rpm > emcMaxRPM {
		log.Warnf("EMC2302: RPM %d exceeds range, clamping", rpm)
		rpm = emcMaxRPM
	}
	return rpm
}
