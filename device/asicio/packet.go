package asicio

import (
	"encoding/binary"
)

type Kind uint8

const (
	KindJob Kind = 0x20
	KindCmd Kind = 0x40
)

type Scope uint8

const (
	ScopeSingle Scope = 0x00
	ScopeAll    Scope = 0x10
)

type Op uint8

const (
	OpSetAddress Op = 0x00
	OpWrite      Op = 0x01
	OpRead       Op = 0x02
	OpInactive   Op = 0x03
)

const (
	Preamble0 = 0x55
	Preamble1 = 0xAA

	// preamble + header + length
	frameHeadLen = 4
)

// Header packs kind, scope and op into the frame header byte.
func Header(kind Kind, scope Scope, op Op) uint8 {
	return uint8(kind) | uint8(scope) | uint8(op)
}

// Encode builds a complete frame. Command frames end with one CRC5 byte,
// job frames with a big-endian CRC16.
func Encode(kind Kind, scope Scope, op Op, payload []byte) []byte {
	header := Header(kind, scope, op)

	if kind == KindJob {
		buf := make([]byte, frameHeadLen+len(payload)+2)
		buf[0], buf[1] = Preamble0, Preamble1
		buf[2] = header
		buf[3] = uint8(len(payload) + 4)
		copy(buf[frameHeadLen:], payload)
		binary.BigEndian.PutUint16(buf[frameHeadLen+len(payload):], CRC16False(buf[2:frameHeadLen+len(payload)]))
		return buf
	}

	buf := make([]byte, frameHeadLen+len(payload)+1)
	buf[0], buf[1] = Preamble0, Preamble1
	buf[2] = header
	buf[3] = uint8(len(payload) + 3)
	copy(buf[frameHeadLen:], payload)
	buf[frameHeadLen+len(payload)] = CRC5(buf[2 : frameHeadLen+len(payload)])
	return buf
}

func EncodeCommand(scope Scope, op Op, payload []byte) []byte {
	return Encode(KindCmd, scope, op, payload)
}

// EncodeJob wraps a job payload in a single-scope write frame.
func EncodeJob(payload []byte) []byte {
	return Encode(KindJob, ScopeSingle, OpWrite, payload)
}

// CheckFrame verifies the trailing checksum of an encoded frame.
func CheckFrame(frame []byte) bool {
	if len(frame) < frameHeadLen+1 || frame[0] != Preamble0 || frame[1] != Preamble1 {
		return false
	}

	if Kind(frame[2]&0x60) == KindJob {
		n := len(frame)
		if n < frameHeadLen+2 {
			return false
		}
		return binary.BigEndian.Uint16(frame[n-2:]) == CRC16False(frame[2:n-2])
	}

	n := len(frame)
	return frame[n-1] == CRC5(frame[2:n-1])
}
