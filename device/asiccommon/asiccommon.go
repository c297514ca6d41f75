package asiccommon

import (
	"time"
)

// Transport is the byte link to the chip chain.
type Transport interface {
	IsReady() bool
	SetBaud(baud int) error
	Send(buf []byte) error
	// Receive fills buf or gives up after timeout, returning the bytes read.
	Receive(buf []byte, timeout time.Duration) (int, error)
	Flush() error
}

// ResetLine drives the chips' active-low reset pin.
type ResetLine interface {
	AssertLow() error
	Release() error
}

type FanController interface {
	// SetFanPercent takes a fraction in [0, 1].
	SetFanPercent(fraction float64) error
	FanRPM(index int) int
	FanCount() int
}

// ChipThermometer reads die or board temperatures near the chips. A negative
// value means the reading is not available.
type ChipThermometer interface {
	ChipTemp(zone int) float64
	ChipZones() int
}

type VoltageRegulator interface {
	// SetVoltage takes volts. 0 turns the output off.
	SetVoltage(volts float64) error
	Temperature() float64
	// CheckFault reports and clears a latched regulator fault.
	CheckFault() bool
}

type PowerSensor interface {
	InputVoltage() float64 // mV
	Current() float64      // mA
	Power() float64        // W
	CoreVoltage() float64  // mV, measured
}

type InitMode int

const (
	ColdBoot InitMode = iota
	Recovery
)

func (m InitMode) String() string {
	if m == Recovery {
		return "recovery"
	}
	return "cold boot"
}

// AsicLink is what the safety loop needs from the chip driver.
type AsicLink interface {
	Ready() bool
	SetReady(ready bool)
	SetFrequency(mhz float64) bool
	Flush() error
	// Initialize resets and enumerates the chain, returning the chip count.
	Initialize(mode InitMode, stabilization time.Duration) int
}

// Chip constants of the AUD1123.
const (
	ChipID          = 0x1370
	CoreCount       = 128
	SmallCoreCount  = 2040
	HashDomains     = 4
	AsicDifficulty  = 256
	JobInterval     = 500 * time.Millisecond
	DefaultBaudRate = 115200
)
