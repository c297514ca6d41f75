// Package vr drives the PMBus core voltage regulator.
package vr

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"aud_miner/device/smbus"
	"aud_miner/log"
	"aud_miner/util"
)

const (
	DefaultAddr = 0x24

	cmdOperation   uint8 = 0x01
	cmdClearFaults uint8 = 0x03
	cmdVoutMode    uint8 = 0x20
	cmdVoutCommand uint8 = 0x21
	cmdStatusWord  uint8 = 0x79
	cmdReadVin     uint8 = 0x88
	cmdReadVout    uint8 = 0x8B
	cmdReadIout    uint8 = 0x8C
	cmdReadTemp1   uint8 = 0x8D

	operationOn  uint8 = 0x80
	operationOff uint8 = 0x00

	VoutMin = 0.5
	VoutMax = 1.5

	// STATUS_WORD: VOUT, IOUT, INPUT in the high byte; CML, TEMP, VIN_UV,
	// IOUT_OC and VOUT_OV in the low byte. OFF and BUSY are not faults.
	statusFaultMask uint16 = 0xE03E

	voutSettle = 100 * time.Millisecond
)

// TPS546 implements asiccommon.VoltageRegulator and asiccommon.PowerSensor.
type TPS546 struct {
	dev   smbus.Device
	clock util.Clock

	mx      sync.Mutex
	voutExp int
	on      bool
}

// NewTPS546 reads VOUT_MODE and clears any latched faults. The output is
// left as it is until SetVoltage.
func NewTPS546(bus smbus.Bus, addr uint8, clock util.Clock) (*TPS546, error) {
	if clock == nil {
		clock = util.RealClock{}
	}
	t := &TPS546{dev: smbus.Device{Bus: bus, Addr: addr}, clock: clock}

	mode, err := t.dev.ReadReg(cmdVoutMode)
	if err != nil {
		return nil, errors.Wrap(err, "TPS546 read VOUT_MODE")
	}
	if mode&0xE0 != 0 {
		return nil, errors.Errorf("TPS546 VOUT_MODE 0x%02x is not ULINEAR16", mode)
	}
	t.voutExp = signExtend5(mode & 0x1F)

	if err := t.dev.SendByte(cmdClearFaults); err != nil {
		return nil, errors.Wrap(err, "TPS546 clear faults")
	}

	log.Infof("TPS546 at 0x%02x, VOUT exponent %d", addr, t.voutExp)
	return t, nil
}

func signExtend5(v uint8) int {
	if v&0x10 != 0 {
		return int(v) - 0x20
	}
	return int(v)
}

// Linear11 decodes the PMBus LINEAR11 format: 5 bit exponent, 11 bit mantissa,
// both two's complement.
func Linear11(word uint16) float64 {
	exp := signExtend5(uint8(word >> 11))
	mant := int(word & 0x7FF)
	if mant&0x400 != 0 {
		mant -= 0x800
	}
	return float64(mant) * math.Pow(2, float64(exp))
}

// ULinear16 decodes a VOUT value with the exponent from VOUT_MODE.
func ULinear16(word uint16, exp int) float64 {
	return float64(word) * math.Pow(2, float64(exp))
}

// ReverseULinear16 encodes volts for VOUT_COMMAND.
func ReverseULinear16(v float64, exp int) uint16 {
	return uint16(math.Round(v / math.Pow(2, float64(exp))))
}

// SetVoltage sets the core voltage in volts. 0 turns the output off.
func (t *TPS546) SetVoltage(v float64) error {
	t.mx.Lock()
	defer t.mx.Unlock()

	if v == 0 {
		log.Infof("TPS546: output off")
		if err := t.dev.WriteReg(cmdOperation, operationOff); err != nil {
			return errors.Wrap(err, "TPS546 output off")
		}
		t.on = false
		return nil
	}

	if v > VoutMax {
		log.Warnf("TPS546: %.3fV out of range, clamp to %.3f", v, VoutMax)
		v = VoutMax
	}
	if v < VoutMin {
		log.Warnf("TPS546: %.3fV out of range, clamp to %.3f", v, VoutMin)
		v = VoutMin
	}

	log.Infof("Setting VOUT to %.3fV", v)
	if err := t.dev.WriteWord(cmdVoutCommand, ReverseULinear16(v, t.voutExp)); err != nil {
		return errors.Wrap(err, "TPS546 VOUT_COMMAND")
	}

	if !t.on {
		if err := t.dev.WriteReg(cmdOperation, operationOn); err != nil {
			return errors.Wrap(err, "TPS546 output on")
		}
		t.on = true
	}

	// Let VOUT settle
	t.clock.Sleep(voutSettle)
	return nil
}

func (t *TPS546) readLinear11(cmd uint8) (float64, error) {
	w, err := t.dev.ReadWord(cmd)
	if err != nil {
		return 0, err
	}
	return Linear11(w), nil
}

// Temperature is the regulator die temperature, -1 when unreadable.
func (t *TPS546) Temperature() float64 {
	v, err := t.readLinear11(cmdReadTemp1)
	if err != nil {
		log.Errorf("TPS546 temperature: %v", err)
		return -1
	}
	return v
}

// CheckFault reports a latched fault from STATUS_WORD and clears it.
func (t *TPS546) CheckFault() bool {
	status, err := t.dev.ReadWord(cmdStatusWord)
	if err != nil {
		log.Errorf("TPS546 status: %v", err)
		return false
	}
	if status&statusFaultMask == 0 {
		return false
	}

	log.Errorf("TPS546 fault, STATUS_WORD 0x%04x", status)
	if err := t.dev.SendByte(cmdClearFaults); err != nil {
		log.Errorf("TPS546 clear faults: %v", err)
	}
	return true
}

// InputVoltage is in mV.
func (t *TPS546) InputVoltage() float64 {
	v, err := t.readLinear11(cmdReadVin)
	if err != nil {
		return 0
	}
	return v * 1000
}

// Current is the output current in mA.
func (t *TPS546) Current() float64 {
	v, err := t.readLinear11(cmdReadIout)
	if err != nil {
		return 0
	}
	return v * 1000
}

// CoreVoltage is the measured output in mV.
func (t *TPS546) CoreVoltage() float64 {
	w, err := t.dev.ReadWord(cmdReadVout)
	if err != nil {
		return 0
	}
	t.mx.Lock()
	exp := t.voutExp
	t.mx.Unlock()
	return ULinear16(w, exp) * 1000
}

// Power is the output power in W.
func (t *TPS546) Power() float64 {
	return t.CoreVoltage() / 1000 * t.Current() / 1000
}
