package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aud_miner/device/asicio"
	"aud_miner/job"
)

type sentJob struct {
	id uint8
	j  *job.Job
}

type fakeSender struct {
	sent []sentJob
}

func (f *fakeSender) SendJob(id uint8, j *job.Job) {
	f.sent = append(f.sent, sentJob{id, j})
}

func newTracker(transmit bool) (*HWJob, *fakeSender) {
	s := &fakeSender{}
	h := &HWJob{}
	h.Init(s, transmit)
	return h, s
}

func resultFor(id uint8, version uint16) asicio.ResultFrame {
	return asicio.ResultFrame{
		Nonce:   [4]byte{0x9e, 0x12, 0x34, 0x56},
		Tag:     id<<1 | 0x03,
		Version: [2]byte{byte(version >> 8), byte(version)},
		CRC:     0x80,
	}
}

func TestJobIDRotation(t *testing.T) {
	h, _ := newTracker(false)

	seen := map[uint8]bool{}
	var first []uint8
	for i := 0; i < 16; i++ {
		id := h.AddJob(&job.Job{})
		assert.Zero(t, id%8)
		assert.Less(t, id, uint8(JobSlots))
		assert.False(t, seen[id], "id %d repeated inside one period", id)
		seen[id] = true
		first = append(first, id)
	}
	assert.Equal(t, uint8(24), first[0])

	for i := 0; i < 16; i++ {
		assert.Equal(t, first[i], h.AddJob(&job.Job{}))
	}
}

func TestVersionReconstruction(t *testing.T) {
	h, _ := newTracker(false)
	id := h.AddJob(&job.Job{JobID: "abc", Version: 0x20000000})

	r := h.GetResult(resultFor(id, 0x0034))
	require.NotNil(t, r)
	assert.Equal(t, uint32(0x20068000), r.Version)
	assert.Equal(t, id, r.HWCtxID)
	assert.Equal(t, "abc", r.JobID)
	assert.Equal(t, uint32(0x5634129e), r.Nonce)
	assert.Equal(t, uint8(3), r.SmallCoreID)
}

func TestStaleResultRejected(t *testing.T) {
	h, _ := newTracker(false)

	assert.Nil(t, h.GetResult(resultFor(24, 0)))

	id := h.AddJob(&job.Job{})
	require.NotNil(t, h.GetResult(resultFor(id, 0)))

	assert.Equal(t, 1, h.ClearAndCancelJobs())
	assert.Nil(t, h.GetResult(resultFor(id, 0)))
	assert.Nil(t, h.FindJobWithLock(id))

	jobs, results, stale := h.Stats()
	assert.Equal(t, 1, jobs)
	assert.Equal(t, 1, results)
	assert.Equal(t, 2, stale)
}

func TestSlotReuseReplacesJob(t *testing.T) {
	h, _ := newTracker(false)

	a := &job.Job{JobID: "a", Version: 0x20000000}
	id := h.AddJob(a)
	for i := 0; i < 15; i++ {
		h.AddJob(&job.Job{})
	}
	b := &job.Job{JobID: "b", Version: 0x30000000}
	assert.Equal(t, id, h.AddJob(b))

	assert.Same(t, b, h.FindJobWithLock(id))
	r := h.GetResult(resultFor(id, 0))
	require.NotNil(t, r)
	assert.Equal(t, "b", r.JobID)
}

func TestTransmitIsOptIn(t *testing.T) {
	h, s := newTracker(false)
	h.AddJob(&job.Job{})
	assert.Empty(t, s.sent)

	h, s = newTracker(true)
	j := &job.Job{}
	id := h.AddJob(j)
	require.Len(t, s.sent, 1)
	assert.Equal(t, id, s.sent[0].id)
	assert.Same(t, j, s.sent[0].j)
}
