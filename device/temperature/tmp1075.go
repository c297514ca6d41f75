// Package temperature reads the TMP1075 sensors that sit next to the chips.
package temperature

import (
	"aud_miner/device/smbus"
	"aud_miner/log"
)

const (
	DefaultAddr = 0x48
	// Sensors is the number of TMP1075 on the board, at consecutive addresses.
	Sensors = 2

	regTemp = 0x00

	resolution = 0.0625
)

// TMP1075 implements asiccommon.ChipThermometer over a pair of sensors.
type TMP1075 struct {
	devs     [Sensors]smbus.Device
	offset   float64
	failures [Sensors]int
}

func NewTMP1075(bus smbus.Bus, base uint8, offset float64) *TMP1075 {
	t := &TMP1075{offset: offset}
	for i := range t.devs {
		t.devs[i] = smbus.Device{Bus: bus, Addr: base + uint8(i)}
	}
	return t
}

func (t *TMP1075) ChipZones() int {
	return Sensors
}

// ChipTemp returns degrees C plus the board offset, or -1 when the sensor
// cannot be read.
func (t *TMP1075) ChipTemp(zone int) float64 {
	if zone < 0 || zone >= Sensors {
		log.Errorf("TMP1075: invalid device index %d", zone)
		return -1
	}

	raw, err := t.devs[zone].ReadWordBE(regTemp)
	if err != nil {
		t.failures[zone]++
		// Don't spam the log
		if t.failures[zone] < 2 || t.failures[zone]%100 == 0 {
			log.Errorf("TMP1075: read 0x%02x: %v", t.devs[zone].Addr, err)
		}
		return -1
	}
	t.failures[zone] = 0

	return Decode(raw) + t.offset
}

// Decode converts the 12-bit left aligned register value.
func Decode(raw uint16) float64 {
	return float64(int16(raw)>>4) * resolution
}
