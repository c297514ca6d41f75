package smbus

import "github.com/pkg/errors"

const (
	crcInit = 0x00
	crcPoly = 0x07

	READ  = 0x01
	WRITE = 0x00
)

var (
	ErrPEC = errors.New("PEC mismatch")

	crcTable = makeCRC8Table()
)

func makeCRC8Table() [256]uint8 {
	var t [256]uint8
	for i := range t {
		t[i] = CalcCRC8([]byte{uint8(i)})
	}
	return t
}

// CalcCRC8 is the bitwise SMBus CRC-8, used to build the lookup table.
func CalcCRC8(data []byte) uint8 {
	var crc uint8 = crcInit

	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crcPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CalcPEC covers the address byte and the data.
func CalcPEC(addr uint8, rdwr uint8, data []byte) (uint8, error) {
	if rdwr > READ {
		return 0, errors.Errorf("invalid rdwr value: %d", rdwr)
	}
	if addr > 0x7f {
		return 0, errors.Errorf("invalid address: 0x%02x", addr)
	}

	crc := crcTable[crcInit^(addr<<1|rdwr)]
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc, nil
}

func AppendPEC(addr, rdwr uint8, data []byte) ([]byte, error) {
	pec, err := CalcPEC(addr, rdwr, data)
	if err != nil {
		return nil, err
	}
	return append(data, pec), nil
}

// CheckPEC verifies the last byte of data.
func CheckPEC(addr, rdwr uint8, data []byte) error {
	if len(data) < 2 {
		return errors.New("data slice too small")
	}

	pec, err := CalcPEC(addr, rdwr, data[:len(data)-1])
	if err != nil {
		return err
	}
	if got := data[len(data)-1]; pec != got {
		return errors.Wrapf(ErrPEC, "%02x != %02x", pec, got)
	}
	return nil
}
