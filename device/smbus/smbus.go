// Package smbus wraps periph.io I2C access with the register helpers the board
// sensors need. It avoids cgo and raw ioctls.
package smbus

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Bus is a register level view of one I2C bus.
type Bus interface {
	ReadN(addr, cmd uint8, n int) ([]byte, error)
	WriteN(addr, cmd uint8, data []byte) error
}

// SysIF is a Bus backed by a Linux i2c-dev node.
type SysIF struct {
	BusFile string
	bus     i2c.BusCloser
	mx      sync.Mutex
	pec     bool
}

// Open opens /dev/i2c-<bus>.
func Open(bus int) (*SysIF, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}

	busFile := fmt.Sprintf("/dev/i2c-%d", bus)
	b, err := i2creg.Open(busFile)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", busFile)
	}
	return &SysIF{BusFile: busFile, bus: b}, nil
}

// SetPEC turns packet error checking on for both directions.
func (s *SysIF) SetPEC(on bool) {
	s.mx.Lock()
	s.pec = on
	s.mx.Unlock()
}

func (s *SysIF) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.bus.Close()
}

// ReadN writes cmd and reads n bytes back in one transaction.
func (s *SysIF) ReadN(addr, cmd uint8, n int) ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	d := &i2c.Dev{Addr: uint16(addr), Bus: s.bus}

	rlen := n
	if s.pec {
		rlen++
	}
	read := make([]byte, rlen)
	if err := d.Tx([]byte{cmd}, read); err != nil {
		return nil, errors.Wrapf(err, "i2c 0x%02x read 0x%02x", addr, cmd)
	}

	if s.pec {
		if err := CheckPEC(addr, READ, append([]byte{cmd}, read...)); err != nil {
			return nil, errors.Wrapf(err, "i2c 0x%02x read 0x%02x", addr, cmd)
		}
	}
	return read[:n], nil
}

func (s *SysIF) WriteN(addr, cmd uint8, data []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	d := &i2c.Dev{Addr: uint16(addr), Bus: s.bus}
	out := append([]byte{cmd}, data...)

	if s.pec {
		var err error
		if out, err = AppendPEC(addr, WRITE, out); err != nil {
			return err
		}
	}

	if _, err := d.Write(out); err != nil {
		return errors.Wrapf(err, "i2c 0x%02x write 0x%02x", addr, cmd)
	}
	return nil
}
