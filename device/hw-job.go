package device

import (
	"sync"

	"github.com/jrick/bitset"

	"aud_miner/device/asicio"
	"aud_miner/job"
	"aud_miner/log"
	"aud_miner/util"
)

const (
	JobSlots  = 128
	JobIDStep = 24
)

// JobSender puts a job frame on the wire.
type JobSender interface {
	SendJob(id uint8, j *job.Job)
}

// HWJob maps the 7-bit hardware job id back to the work it carries. Slots and
// their valid bits change together under mx.
type HWJob struct {
	ID       uint8
	Jobs     [JobSlots]*job.Job
	valid    bitset.Bytes
	mx       *sync.Mutex
	sender   JobSender
	transmit bool

	nJobTotal    int
	nResultTotal int
	nStale       int
}

func (my *HWJob) Init(sender JobSender, transmit bool) {
	*my = HWJob{
		valid:    bitset.NewBytes(JobSlots),
		mx:       &sync.Mutex{},
		sender:   sender,
		transmit: transmit,
	}
}

// GetID advances the id ring: multiples of 8, period 16.
func (my *HWJob) GetID() uint8 {
	my.ID = (my.ID + JobIDStep) % JobSlots
	return my.ID
}

func (my *HWJob) AddJob(j *job.Job) uint8 {
	my.mx.Lock()

	id := my.GetID()
	j.HWCtxID = id
	j.ScanJobTS = util.NowInSec()

	if old := my.Jobs[id]; old != nil {
		log.Debugf("HW ID %d: release job %s", id, old.JobID)
		my.Jobs[id] = nil
	}

	my.Jobs[id] = j
	my.valid.Set(int(id))
	my.nJobTotal++
	my.mx.Unlock()

	log.Debugf("Add Job %s, HW ID %d", j.JobID, id)

	if my.transmit && my.sender != nil {
		my.sender.SendJob(id, j)
	}
	return id
}

func (my *HWJob) FindJobWithLock(id uint8) *job.Job {
	my.mx.Lock()
	defer my.mx.Unlock()

	if int(id) >= JobSlots || !my.valid.Get(int(id)) {
		return nil
	}
	return my.Jobs[id]
}

// GetResult resolves a nonce report. Reports for ids with no valid job are
// dropped with a warning.
func (my *HWJob) GetResult(r asicio.ResultFrame) *job.JobResult {
	id := r.JobID()
	versionBits := r.VersionBits()

	log.Debugf("Job ID: %02X, Core: %d/%d, Ver: %08X", id, r.CoreID(), r.SmallCoreID(), versionBits)

	my.mx.Lock()
	defer my.mx.Unlock()

	if int(id) >= JobSlots || !my.valid.Get(int(id)) || my.Jobs[id] == nil {
		my.nStale++
		log.Warnf("Invalid job nonce found, 0x%02X", id)
		return nil
	}

	j := my.Jobs[id]
	my.nResultTotal++

	return &job.JobResult{
		HWCtxID:     id,
		JobID:       j.JobID,
		Nonce:       r.NonceValue(),
		Version:     j.Version | versionBits,
		CoreID:      r.CoreID(),
		SmallCoreID: r.SmallCoreID(),
	}
}

// ClearAndCancelJobs invalidates every slot, used when the chips are reset.
func (my *HWJob) ClearAndCancelJobs() int {
	my.mx.Lock()
	defer my.mx.Unlock()

	n := 0
	for id := range my.Jobs {
		if my.Jobs[id] == nil {
			continue
		}
		log.Debugf("Clear job %s, HW ID %d", my.Jobs[id].JobID, id)
		my.Jobs[id] = nil
		my.valid.Unset(id)
		n++
	}

	return n
}

func (my *HWJob) Stats() (jobs, results, stale int) {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.nJobTotal, my.nResultTotal, my.nStale
}
