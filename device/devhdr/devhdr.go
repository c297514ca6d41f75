// Package devhdr holds the known ASIC models, device families and board
// versions, and resolves the configured board to one of them.
package devhdr

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"aud_miner/config"
	ac "aud_miner/device/asiccommon"
	"aud_miner/log"
)

type AsicConfig struct {
	Name             string
	ChipID           uint16
	CoreCount        int
	SmallCoreCount   int
	HashDomains      int
	Difficulty       int
	DefaultFrequency float64
	DefaultVoltage   uint16 // mV
	JobInterval      time.Duration
}

type Family struct {
	Name      string
	Asic      AsicConfig
	AsicCount int
}

// DeviceConfig is the resolved board description.
type DeviceConfig struct {
	BoardVersion string
	Family       Family

	FanDriver string
	EMC2302   bool
	TPS546    bool
	// EMCInternalTemp means the chip temperature sensor stays readable while
	// the chips are powered down.
	EMCInternalTemp bool
	EMCTempOffset   float64
}

// ExpectedHashrate is the nominal GH/s of the board at freq MHz.
func (d DeviceConfig) ExpectedHashrate(freq float64) float64 {
	return freq * float64(d.Family.Asic.SmallCoreCount) * float64(d.Family.AsicCount) / 1000.0
}

var AUD1123 = AsicConfig{
	Name:             "AUD1123",
	ChipID:           ac.ChipID,
	CoreCount:        ac.CoreCount,
	SmallCoreCount:   ac.SmallCoreCount,
	HashDomains:      ac.HashDomains,
	Difficulty:       ac.AsicDifficulty,
	DefaultFrequency: 500,
	DefaultVoltage:   1200,
	JobInterval:      ac.JobInterval,
}

var AsicConfigs = []AsicConfig{AUD1123}

var Families = []Family{
	{Name: "Fortune", Asic: AUD1123, AsicCount: 1},
}

var Boards = []DeviceConfig{
	{
		BoardVersion:    "100",
		Family:          Families[0],
		FanDriver:       config.FanDriverPWM,
		TPS546:          true,
		EMCInternalTemp: true,
	},
	{
		BoardVersion:    "101",
		Family:          Families[0],
		FanDriver:       config.FanDriverEMC2302,
		EMC2302:         true,
		TPS546:          true,
		EMCInternalTemp: true,
	},
}

var (
	ErrUnknownFamily = errors.New("unknown device model")
	ErrUnknownAsic   = errors.New("unknown asic model")
)

func logDevice(d DeviceConfig) {
	log.Infof("Device Model: %s", d.Family.Name)
	log.Infof("Board Version: %s", d.BoardVersion)
	log.Infof("ASIC: %dx %s (%d cores)", d.Family.AsicCount, d.Family.Asic.Name, d.Family.Asic.CoreCount)
}

// Resolve returns the table entry for a known board version. Any other
// version is a custom board, built from the named family and ASIC model and
// the sensor flags in b.
func Resolve(b config.Board) (DeviceConfig, error) {
	for _, d := range Boards {
		if d.BoardVersion == b.BoardVersion {
			d.EMCTempOffset = b.EMCTempOffset
			logDevice(d)
			return d, nil
		}
	}

	log.Infof("Custom Board Version: %s", b.BoardVersion)
	d := DeviceConfig{
		BoardVersion:    b.BoardVersion,
		FanDriver:       b.FanDriver,
		EMC2302:         b.EMC2302,
		TPS546:          b.TPS546,
		EMCInternalTemp: b.EMCInternalTemp,
		EMCTempOffset:   b.EMCTempOffset,
	}

	found := false
	for _, f := range Families {
		if strings.EqualFold(f.Name, b.DeviceModel) {
			d.Family = f
			found = true
			log.Infof("Device Model: %s", f.Name)
			break
		}
	}
	if !found {
		return d, errors.Wrapf(ErrUnknownFamily, "%q", b.DeviceModel)
	}

	found = false
	for _, a := range AsicConfigs {
		if strings.EqualFold(a.Name, b.AsicModel) {
			d.Family.Asic = a
			found = true
			log.Infof("ASIC: %dx %s (%d cores)", d.Family.AsicCount, a.Name, a.CoreCount)
			break
		}
	}
	if !found {
		return d, errors.Wrapf(ErrUnknownAsic, "%q", b.AsicModel)
	}

	if d.FanDriver == "" {
		d.FanDriver = config.FanDriverPWM
		if d.EMC2302 {
			d.FanDriver = config.FanDriverEMC2302
		}
	}
	return d, nil
}
