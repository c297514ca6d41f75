// Package statistics keeps a bounded history of operating samples.
package statistics

import (
	"context"
	"sync"
	"time"

	ac "aud_miner/device/asiccommon"
	"aud_miner/device/hashrate"
	"aud_miner/device/thermal"
	"aud_miner/log"
	"aud_miner/system"
	"aud_miner/util"
)

const (
	HistoryLen     = 720
	SampleInterval = 5 * time.Second
)

type Data struct {
	Timestamp   time.Time
	Hashrate    float64
	ErrorCount  uint32
	ChipTemp    float64
	VRTemp      float64
	Power       float64 // W
	Voltage     float64 // input, mV
	Current     float64 // mA
	CoreVoltage float64 // measured, mV
	FanSpeed    float64 // percent
	FanRPM      int
	FreeMemory  uint64
}

// Sources are read once per sample. Nil entries leave their fields zero.
type Sources struct {
	Clock      util.Clock
	Hashrate   func() hashrate.Snapshot
	Thermal    func() thermal.Status
	Power      ac.PowerSensor
	FreeMemory func() uint64
}

// History is a ring of the last HistoryLen samples.
type History struct {
	src Sources

	mx    sync.RWMutex
	ring  [HistoryLen]Data
	head  int // next write position
	count int
}

func New(src Sources) *History {
	if src.Clock == nil {
		src.Clock = util.RealClock{}
	}
	if src.FreeMemory == nil {
		src.FreeMemory = system.FreeMemory
	}
	return &History{src: src}
}

func (h *History) Push(d Data) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.ring[h.head] = d
	h.head = (h.head + 1) % HistoryLen
	if h.count < HistoryLen {
		h.count++
	}
}

// Get returns the sample index steps back from the newest one.
func (h *History) Get(index int) (Data, bool) {
	h.mx.RLock()
	defer h.mx.RUnlock()
	if index < 0 || index >= h.count {
		return Data{}, false
	}
	pos := (h.head - 1 - index + HistoryLen) % HistoryLen
	return h.ring[pos], true
}

func (h *History) Len() int {
	h.mx.RLock()
	defer h.mx.RUnlock()
	return h.count
}

// Sample reads every source and records the result.
func (h *History) Sample() Data {
	d := Data{
		Timestamp:  h.src.Clock.Now(),
		FreeMemory: h.src.FreeMemory(),
	}
	if h.src.Hashrate != nil {
		s := h.src.Hashrate()
		d.Hashrate = s.Hashrate
		d.ErrorCount = s.ErrorCount
	}
	if h.src.Thermal != nil {
		st := h.src.Thermal()
		d.ChipTemp = st.ChipTemp
		d.VRTemp = st.VRTemp
		d.FanSpeed = st.FanPercent
		d.FanRPM = st.FanRPM
	}
	if h.src.Power != nil {
		d.Power = h.src.Power.Power()
		d.Voltage = h.src.Power.InputVoltage()
		d.Current = h.src.Power.Current()
		d.CoreVoltage = h.src.Power.CoreVoltage()
	}
	h.Push(d)
	return d
}

func (h *History) Run(ctx context.Context) {
	log.Infof("Statistics history: %d samples every %v", HistoryLen, SampleInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.src.Clock.After(SampleInterval):
		}
		d := h.Sample()
		log.Debugf("stats: %s, %.1fC, %.1fW", util.HashrateString(d.Hashrate), d.ChipTemp, d.Power)
	}
}
