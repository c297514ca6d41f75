package device

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"aud_miner/config"
	"aud_miner/device/asic"
	ac "aud_miner/device/asiccommon"
	"aud_miner/device/asicio"
	"aud_miner/device/devhdr"
	"aud_miner/device/hashrate"
	"aud_miner/device/statistics"
	"aud_miner/device/thermal"
	"aud_miner/job"
	"aud_miner/log"
	"aud_miner/util"
)

const (
	resultTimeout    = 1 * time.Second
	idleWait         = 100 * time.Millisecond
	fanAlarmInterval = 5 * time.Second
	resultQueueLen   = 64
)

type AddJobFunc func(j *job.Job) (int, error)

// DevFunc is what the work producer sees of the device.
type DevFunc struct {
	AddJob   AddJobFunc
	Results  <-chan *job.JobResult
	Hashrate func() hashrate.Snapshot
	Status   func() thermal.Status
	History  *statistics.History
}

var EmptyDevFunc = DevFunc{
	AddJob:   func(j *job.Job) (int, error) { return 0, nil },
	Hashrate: func() hashrate.Snapshot { return hashrate.Snapshot{} },
	Status:   func() thermal.Status { return thermal.Status{} },
}

var ErrNotRunning = errors.New("device manager is not running")

// DeviceManager owns the chain and runs its loops: job submission, result
// reception, hashrate polling, the thermal controller and statistics.
type DeviceManager struct {
	Store  *config.Store
	Device devhdr.DeviceConfig
	HW     *Hardware
	Clock  util.Clock

	Chain    *asic.Chain
	HWJobs   HWJob
	JobQ     job.JobQ
	Hashrate *hashrate.Monitor
	Thermal  *thermal.Controller
	Stats    *statistics.History

	results chan *job.JobResult

	mx      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	err     error
	running bool
}

// NewDeviceManager wires the chain driver and the control loops onto hw.
// Nothing touches the hardware until Init.
func NewDeviceManager(store *config.Store, dev devhdr.DeviceConfig, hw *Hardware, clock util.Clock) *DeviceManager {
	if clock == nil {
		clock = util.RealClock{}
	}
	s := store.Snapshot()
	b := store.Board()

	my := &DeviceManager{
		Store:   store,
		Device:  dev,
		HW:      hw,
		Clock:   clock,
		results: make(chan *job.JobResult, resultQueueLen),
		done:    make(chan struct{}),
	}

	my.Chain = asic.New(asic.Config{
		Opener:      hw.Opener,
		Reset:       hw.Reset,
		Clock:       clock,
		MaxBaud:     b.MaxBaud,
		AsicCount:   dev.Family.AsicCount,
		Target:      func() float64 { return store.Snapshot().FrequencyMHz },
		VersionMask: s.VersionMask,
	})

	my.HWJobs.Init(my.Chain, s.JobTransmit)
	if !s.JobTransmit {
		log.Warnf("Job transmit is disabled, the chips will not receive work")
	}

	my.Hashrate = hashrate.New(dev.Family.AsicCount, dev.Family.Asic.HashDomains)

	my.Thermal = thermal.New(thermal.Deps{
		Clock:    clock,
		Store:    store,
		Fans:     hw.Fans,
		Chips:    hw.Chips,
		VR:       hw.VR,
		Power:    hw.VR,
		Reset:    hw.Reset,
		Link:     my.Chain,
		Hashrate: my.Hashrate,
	}, thermal.Params{
		AsicCount:         dev.Family.AsicCount,
		SmallCoreCount:    dev.Family.Asic.SmallCoreCount,
		ChipSensorOffChip: dev.EMCInternalTemp,
	})

	my.Stats = statistics.New(statistics.Sources{
		Clock:    clock,
		Hashrate: my.Hashrate.Snapshot,
		Thermal:  my.Thermal.Status,
		Power:    hw.VR,
	})

	return my
}

// Init powers the chain, enumerates it and starts the loops. A chain that
// comes up with no chips is logged; the thermal loop still runs.
func (my *DeviceManager) Init(ctx context.Context) DevFunc {
	ctx, cancel := context.WithCancel(ctx)
	my.mx.Lock()
	my.cancel = cancel
	my.running = true
	my.mx.Unlock()

	if my.HW.Start != nil {
		if err := my.HW.Start(ctx); err != nil {
			log.Errorf("start board: %v", err)
		}
	}

	s := my.Store.Snapshot()
	log.Infof("Setting core voltage to %d mV", s.CoreVoltageMV)
	if err := my.HW.VR.SetVoltage(float64(s.CoreVoltageMV) / 1000.0); err != nil {
		log.Errorf("set core voltage: %v", err)
	}

	chips := my.Chain.Initialize(ac.ColdBoot, 0)
	if chips == 0 {
		log.Errorf("No chips found: %s", my.Chain.Status())
	}

	my.goLoop(ctx, "thermal", func(ctx context.Context) error { return my.Thermal.Run(ctx) })
	my.goLoop(ctx, "jobs", my.jobLoop)
	my.goLoop(ctx, "results", my.resultLoop)
	my.goLoop(ctx, "hashrate", my.hashrateLoop)
	my.goLoop(ctx, "statistics", func(ctx context.Context) error { my.Stats.Run(ctx); return nil })
	if my.HW.FanAlarms != nil {
		my.goLoop(ctx, "fan alarms", my.fanAlarmLoop)
	}

	go func() {
		my.wg.Wait()
		close(my.done)
	}()

	return DevFunc{
		AddJob:   my.AddJob,
		Results:  my.results,
		Hashrate: my.Hashrate.Snapshot,
		Status:   my.Thermal.Status,
		History:  my.Stats,
	}
}

// goLoop runs fn until ctx is done. An error from any loop stops them all.
func (my *DeviceManager) goLoop(ctx context.Context, name string, fn func(ctx context.Context) error) {
	my.wg.Add(1)
	go func() {
		defer my.wg.Done()
		err := fn(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			log.Debugf("%s loop stopped", name)
			return
		}
		log.Errorf("%s loop failed: %v", name, err)

		my.mx.Lock()
		if my.err == nil {
			my.err = errors.Wrapf(err, "%s loop", name)
		}
		cancel := my.cancel
		my.mx.Unlock()
		cancel()
	}()
}

// Done is closed once every loop has returned.
func (my *DeviceManager) Done() <-chan struct{} {
	return my.done
}

// Err is the failure that stopped the loops, nil after a clean Fini.
func (my *DeviceManager) Err() error {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.err
}

// Fini stops the loops and releases the board.
func (my *DeviceManager) Fini() {
	my.mx.Lock()
	cancel := my.cancel
	running := my.running
	my.running = false
	my.mx.Unlock()
	if !running {
		return
	}

	cancel()
	<-my.done

	my.Chain.SetReady(false)
	if err := my.HW.VR.SetVoltage(0); err != nil {
		log.Errorf("power off: %v", err)
	}
	my.HW.Close()
}

// AddJob queues j for the submission loop. A clean job drops the backlog
// first and reports how many queued jobs were discarded.
func (my *DeviceManager) AddJob(j *job.Job) (int, error) {
	my.mx.Lock()
	running := my.running
	my.mx.Unlock()
	if !running {
		return 0, ErrNotRunning
	}

	nClear := 0
	if j.CleanJobs {
		nClear = my.JobQ.ClearQ()
		log.Debugf("Clean job %s: dropped %d queued", j.JobID, nClear)
	}
	my.JobQ.Enqueue(j)
	return nClear, nil
}

func (my *DeviceManager) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-my.Clock.After(d):
		return true
	}
}

func (my *DeviceManager) jobLoop(ctx context.Context) error {
	for my.sleep(ctx, ac.JobInterval) {
		my.submitNext()
	}
	return ctx.Err()
}

// submitNext hands the oldest queued job to the tracker.
func (my *DeviceManager) submitNext() bool {
	if !my.Chain.Ready() {
		return false
	}
	j, err := my.JobQ.Dequeue()
	if err != nil {
		return false
	}
	if j.CleanJobs {
		n := my.HWJobs.ClearAndCancelJobs()
		log.Debugf("Clean job %s: cancelled %d in flight", j.JobID, n)
	}
	my.HWJobs.AddJob(j)
	return true
}

func (my *DeviceManager) resultLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		if !my.Chain.Ready() {
			my.sleep(ctx, idleWait)
			continue
		}

		r, err := my.Chain.ReceiveFrame(resultTimeout)
		if err != nil {
			if !errors.Is(err, asicio.ErrTimeout) {
				log.Debugf("receive: %v", err)
				my.sleep(ctx, idleWait)
			}
			continue
		}
		my.handleFrame(r)
	}
	return ctx.Err()
}

// handleFrame routes register replies to the hashrate monitor and nonces to
// the job tracker.
func (my *DeviceManager) handleFrame(r asicio.ResultFrame) {
	if r.IsRegister() {
		reply := my.Chain.Reply(r)
		kind := hashrate.KindOf(reply.Register)
		if kind == hashrate.RegisterInvalid {
			log.Debugf("Unexpected register 0x%02x from chip %d", reply.Register, reply.Chip)
			return
		}
		my.Hashrate.OnSample(kind, reply.Chip, reply.Value, util.NowInMs(my.Clock))
		return
	}

	res := my.HWJobs.GetResult(r)
	if res == nil {
		return
	}
	select {
	case my.results <- res:
	default:
		log.Warnf("Result queue full, dropping %s", res)
	}
}

func (my *DeviceManager) hashrateLoop(ctx context.Context) error {
	for my.sleep(ctx, hashrate.PollInterval) {
		my.pollHashrate()
	}
	return ctx.Err()
}

func (my *DeviceManager) pollHashrate() {
	if !my.Chain.Ready() {
		return
	}
	if err := my.Chain.ReadRegisters(); err != nil {
		log.Errorf("read hashrate registers: %v", err)
		return
	}
	my.Clock.Sleep(hashrate.SettleDelay)

	s := my.Hashrate.Publish()
	jobs, results, stale := my.HWJobs.Stats()
	log.Infof("Hashrate %s, errors %d, jobs %d, results %d, stale %d",
		util.HashrateString(s.Hashrate), s.ErrorCount, jobs, results, stale)
}

func (my *DeviceManager) fanAlarmLoop(ctx context.Context) error {
	for my.sleep(ctx, fanAlarmInterval) {
		my.HW.FanAlarms()
	}
	return ctx.Err()
}
