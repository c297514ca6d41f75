// Package pwm drives sysfs PWM channels.
package pwm

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"aud_miner/util"
)

const (
	SysfsRoot = "/sys/class/pwm"

	exportSettle = 200 * time.Millisecond
)

type Pin struct {
	chipPath string
	channel  string
	clock    util.Clock
	enabled  bool
}

// NewPin addresses pwmchip<chip>/pwm<channel> under root.
func NewPin(root string, chip, channel int, clock util.Clock) *Pin {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Pin{
		chipPath: filepath.Join(root, "pwmchip"+strconv.Itoa(chip)),
		channel:  strconv.Itoa(channel),
		clock:    clock,
	}
}

func (p *Pin) pinDir() string {
	return filepath.Join(p.chipPath, "pwm"+p.channel)
}

func (p *Pin) write(name string, v uint64) error {
	path := filepath.Join(p.pinDir(), name)
	if err := os.WriteFile(path, []byte(strconv.FormatUint(v, 10)), 0644); err != nil {
		return errors.Wrapf(err, "pwm write %s", path)
	}
	return nil
}

func (p *Pin) read(name string) (uint64, error) {
	path := filepath.Join(p.pinDir(), name)
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "pwm read %s", path)
	}
	v := bytes.TrimSpace(buf)
	if len(v) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	return n, errors.Wrapf(err, "pwm parse %s", path)
}

// Export makes the channel visible. An already exported channel is fine.
func (p *Pin) Export() error {
	err := os.WriteFile(filepath.Join(p.chipPath, "export"), []byte(p.channel), 0644)
	if err != nil {
		e, ok := err.(*os.PathError)
		if !ok || e.Err != syscall.EBUSY {
			return errors.Wrapf(err, "pwm export %s", p.pinDir())
		}
	}

	p.clock.Sleep(exportSettle)
	return nil
}

func (p *Pin) Enable(enable bool) error {
	if p.enabled == enable {
		return nil
	}
	v := uint64(0)
	if enable {
		v = 1
	}
	if err := p.write("enable", v); err != nil {
		return err
	}
	p.enabled = enable
	return nil
}

func (p *Pin) Period() (uint64, error) {
	return p.read("period")
}

// SetPeriod takes nanoseconds.
func (p *Pin) SetPeriod(ns uint64) error {
	return p.write("period", ns)
}

func (p *Pin) DutyCycle() (uint64, error) {
	return p.read("duty_cycle")
}

func (p *Pin) SetDutyCycle(ns uint64) error {
	return p.write("duty_cycle", ns)
}

// SetFraction sets the duty cycle to frac of the period, clamped to [0, 1].
func (p *Pin) SetFraction(frac float64) error {
	period, err := p.Period()
	if err != nil {
		return err
	}
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	return p.SetDutyCycle(uint64(float64(period) * frac))
}

// Fraction reads the duty cycle back as a fraction of the period.
func (p *Pin) Fraction() (float64, error) {
	period, err := p.Period()
	if err != nil || period == 0 {
		return 0, err
	}
	duty, err := p.DutyCycle()
	if err != nil {
		return 0, err
	}
	return float64(duty) / float64(period), nil
}
