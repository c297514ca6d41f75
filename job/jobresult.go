package job

import "fmt"

// JobResult is a nonce matched back to the job that produced it.
type JobResult struct {
	HWCtxID     uint8
	JobID       string
	Nonce       uint32
	Version     uint32
	CoreID      uint8
	SmallCoreID uint8
}

func (r *JobResult) IsDuplicate(r2 *JobResult) bool {
	return r.HWCtxID == r2.HWCtxID && r.Nonce == r2.Nonce && r.Version == r2.Version
}

func (r *JobResult) String() string {
	return fmt.Sprintf("job %s (hw 0x%02x) nonce %08x version %08x core %d/%d",
		r.JobID, r.HWCtxID, r.Nonce, r.Version, r.CoreID, r.SmallCoreID)
}
