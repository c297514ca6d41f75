package smbus

// Device is one chip on a bus.
type Device struct {
	Bus  Bus
	Addr uint8
}

func (d Device) ReadReg(cmd uint8) (uint8, error) {
	b, err := d.Bus.ReadN(d.Addr, cmd, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d Device) WriteReg(cmd, v uint8) error {
	return d.Bus.WriteN(d.Addr, cmd, []byte{v})
}

// ReadWord reads an SMBus word, low byte first.
func (d Device) ReadWord(cmd uint8) (uint16, error) {
	b, err := d.Bus.ReadN(d.Addr, cmd, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (d Device) WriteWord(cmd uint8, v uint16) error {
	return d.Bus.WriteN(d.Addr, cmd, []byte{uint8(v), uint8(v >> 8)})
}

// ReadWordBE reads a register that is sent high byte first, as most
// temperature sensors do.
func (d Device) ReadWordBE(cmd uint8) (uint16, error) {
	b, err := d.Bus.ReadN(d.Addr, cmd, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// SendByte issues a command with no data.
func (d Device) SendByte(cmd uint8) error {
	return d.Bus.WriteN(d.Addr, cmd, nil)
}
