package asicio

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	ResultPreamble0 = 0xAA
	ResultPreamble1 = 0x55
	ResultFrameLen  = 11
)

var (
	ErrShortFrame  = errors.New("result frame too short")
	ErrBadPreamble = errors.New("result frame preamble mismatch")
)

// ResultFrame is the 11 byte message the chip sends back, either a nonce
// report or a register read reply:
//
//	[0:2]  AA 55
//	[2:6]  nonce (register value for replies)
//	[6]    midstate (chip address for replies)
//	[7]    job tag (register address for replies)
//	[8:10] rolled version bits, big endian
//	[10]   crc, bit 7 set on nonce reports
type ResultFrame struct {
	Nonce    [4]byte
	Midstate uint8
	Tag      uint8
	Version  [2]byte
	CRC      uint8
}

func DecodeResult(buf []byte) (ResultFrame, error) {
	var r ResultFrame
	if len(buf) < ResultFrameLen {
		return r, ErrShortFrame
	}
	if buf[0] != ResultPreamble0 || buf[1] != ResultPreamble1 {
		return r, errors.Wrapf(ErrBadPreamble, "got %02x %02x", buf[0], buf[1])
	}

	copy(r.Nonce[:], buf[2:6])
	r.Midstate = buf[6]
	r.Tag = buf[7]
	copy(r.Version[:], buf[8:10])
	r.CRC = buf[10]
	return r, nil
}

// Bytes is the wire form of the frame.
func (r ResultFrame) Bytes() []byte {
	buf := make([]byte, ResultFrameLen)
	buf[0], buf[1] = ResultPreamble0, ResultPreamble1
	copy(buf[2:6], r.Nonce[:])
	buf[6] = r.Midstate
	buf[7] = r.Tag
	copy(buf[8:10], r.Version[:])
	buf[10] = r.CRC
	return buf
}

// JobID is tag bits 7..4 scaled back to the id that was sent (multiples of 8).
func (r ResultFrame) JobID() uint8 {
	return (r.Tag & 0xf0) >> 1
}

// CoreID is bits 31..25 of the big-endian nonce.
func (r ResultFrame) CoreID() uint8 {
	return uint8((binary.BigEndian.Uint32(r.Nonce[:]) >> 25) & 0x7f)
}

// SmallCoreID is tag bits 3..0.
func (r ResultFrame) SmallCoreID() uint8 {
	return r.Tag & 0x0f
}

// VersionBits places the 16 rolled bits at version bits 28..13.
func (r ResultFrame) VersionBits() uint32 {
	return uint32(binary.BigEndian.Uint16(r.Version[:])) << 13
}

// NonceValue is the nonce as it is submitted upstream, the wire bytes read little endian.
func (r ResultFrame) NonceValue() uint32 {
	return binary.LittleEndian.Uint32(r.Nonce[:])
}

func (r ResultFrame) IsRegister() bool {
	return r.CRC&0x80 == 0
}

// RegisterValue, ChipAddress and Register are only meaningful when IsRegister is true.
func (r ResultFrame) RegisterValue() uint32 {
	return binary.BigEndian.Uint32(r.Nonce[:])
}

func (r ResultFrame) ChipAddress() uint8 {
	return r.Midstate
}

func (r ResultFrame) Register() uint8 {
	return r.Tag
}
