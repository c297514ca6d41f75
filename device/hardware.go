package device

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"aud_miner/config"
	"aud_miner/device/asic"
	ac "aud_miner/device/asiccommon"
	"aud_miner/device/asicio"
	"aud_miner/device/devhdr"
	"aud_miner/device/fan"
	"aud_miner/device/powerstate"
	"aud_miner/device/pwm"
	"aud_miner/device/smbus"
	"aud_miner/device/temperature"
	"aud_miner/device/vr"
	"aud_miner/log"
	"aud_miner/util"
)

var ErrNoRegulator = errors.New("board has no supported voltage regulator")

// Regulator is a VR that also reports input power.
type Regulator interface {
	ac.VoltageRegulator
	ac.PowerSensor
}

// Hardware is the set of board drivers the manager runs on.
type Hardware struct {
	Opener asic.Opener
	Reset  ac.ResetLine
	Fans   ac.FanController
	Chips  ac.ChipThermometer
	VR     Regulator

	// FanAlarms, when set, is polled to report stalled fans.
	FanAlarms func() bool
	// Start is run once before the loops, e.g. to begin tach counting.
	Start func(ctx context.Context) error

	closers []io.Closer
}

func (h *Hardware) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			log.Debugf("close: %v", err)
		}
	}
	h.closers = nil
}

// OpenHardware brings up the drivers that dev and b describe.
func OpenHardware(b config.Board, dev devhdr.DeviceConfig, clock util.Clock) (*Hardware, error) {
	h := &Hardware{}

	h.Opener = func(baud int) (ac.Transport, error) {
		u, err := asicio.OpenUART(b.UARTDevice, baud)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, u)
		return u, nil
	}

	reset := powerstate.NewResetLine(b.ResetGPIO)
	h.Reset = reset
	h.closers = append(h.closers, reset)

	bus, err := smbus.Open(b.I2CBus)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.closers = append(h.closers, bus)

	if !dev.TPS546 {
		h.Close()
		return nil, errors.Wrapf(ErrNoRegulator, "board %s", dev.BoardVersion)
	}
	addr := b.VRAddr
	if addr == 0 {
		addr = vr.DefaultAddr
	}
	reg, err := vr.NewTPS546(bus, addr, clock)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.VR = reg

	tAddr := b.TMP1075Addr
	if tAddr == 0 {
		tAddr = temperature.DefaultAddr
	}
	h.Chips = temperature.NewTMP1075(bus, tAddr, dev.EMCTempOffset)

	switch dev.FanDriver {
	case config.FanDriverEMC2302:
		emc, err := fan.NewEMC2302(bus, fan.EMC2302Addr)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.Fans = emc
	default:
		bank := fan.NewPWMBank(pwm.SysfsRoot, b.TachGpioChip, b.PWMFans, clock)
		h.Fans = bank
		h.FanAlarms = bank.CheckAlarms
		h.Start = bank.Start
	}

	log.Infof("Board %s: %s fans, TPS546 at 0x%02x, TMP1075 at 0x%02x", dev.BoardVersion, dev.FanDriver, addr, tAddr)
	return h, nil
}
