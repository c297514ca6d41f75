package job

import (
	"encoding/binary"
)

// PayloadLen is the size of the job frame body.
const PayloadLen = 82

// Job is one unit of work handed to the chips. Hashes are in the byte order
// the chip expects.
type Job struct {
	JobID         string // upstream id, for logs
	StartingNonce uint32
	NBits         uint32
	NTime         uint32
	MerkleRoot    [32]byte
	PrevBlockHash [32]byte
	Version       uint32
	CleanJobs     bool

	/* Device */
	HWCtxID     uint8
	NotifyJobTS float64
	ScanJobTS   float64
}

// Payload packs the job for hardware slot id:
//
//	id | midstates=1 | starting_nonce | nbits | ntime | merkle_root[32] | prev_hash[32] | version
//
// with the 32-bit fields little endian.
func (j *Job) Payload(id uint8) []byte {
	buf := make([]byte, PayloadLen)

	buf[0] = id
	buf[1] = 0x01
	binary.LittleEndian.PutUint32(buf[2:], j.StartingNonce)
	binary.LittleEndian.PutUint32(buf[6:], j.NBits)
	binary.LittleEndian.PutUint32(buf[10:], j.NTime)
	copy(buf[14:46], j.MerkleRoot[:])
	copy(buf[46:78], j.PrevBlockHash[:])
	binary.LittleEndian.PutUint32(buf[78:], j.Version)

	return buf
}
