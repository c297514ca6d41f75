// Package hashrate turns the chips' counter registers into a smoothed GH/s figure.
package hashrate

import (
	"sync"
	"time"

	"aud_miner/log"
)

const (
	PollInterval = 5 * time.Second
	// SettleDelay is the wait between issuing register reads and publishing.
	SettleDelay = 100 * time.Millisecond

	emaAlpha = 12

	// Counters tick once per 2^32 hashes, the hashrate register is in 2^24 units.
	hashCountLSB = float64(1 << 32)
	hashrateUnit = float64(1 << 24)

	directInvalid = 0x007fffff
)

type RegisterKind int

const (
	RegisterInvalid RegisterKind = iota
	RegisterHashrate
	RegisterTotalCount
	RegisterDomain0Count
	RegisterDomain1Count
	RegisterDomain2Count
	RegisterDomain3Count
	RegisterErrorCount
)

// Chip register addresses.
const (
	AddrErrorCount   = 0x4c
	AddrHashrate     = 0x88
	AddrTotalCount   = 0x8c
	AddrDomain0Count = 0x90
	AddrDomain1Count = 0x94
	AddrDomain2Count = 0x98
	AddrDomain3Count = 0x9c
)

// ReadRegisters lists the registers polled every interval, in read order.
var ReadRegisters = []uint8{
	AddrErrorCount, AddrTotalCount,
	AddrDomain0Count, AddrDomain1Count, AddrDomain2Count, AddrDomain3Count,
	AddrHashrate,
}

func KindOf(addr uint8) RegisterKind {
	switch addr {
	case AddrHashrate:
		return RegisterHashrate
	case AddrTotalCount:
		return RegisterTotalCount
	case AddrDomain0Count:
		return RegisterDomain0Count
	case AddrDomain1Count:
		return RegisterDomain1Count
	case AddrDomain2Count:
		return RegisterDomain2Count
	case AddrDomain3Count:
		return RegisterDomain3Count
	case AddrErrorCount:
		return RegisterErrorCount
	}
	return RegisterInvalid
}

// Measurement is the state of one counter. Hashrate is only set once a
// second sample has arrived.
type Measurement struct {
	Value    uint32
	TimeMs   uint32
	Hashrate float64
	Expected float64
	seeded   bool
}

type Snapshot struct {
	Hashrate   float64
	ErrorCount uint32
	Total      []Measurement
	Domains    [][]Measurement
	Errors     []Measurement
}

type Monitor struct {
	mx        sync.Mutex
	asicCount int
	domains   int

	total   []Measurement
	domain  [][]Measurement
	errors  []Measurement
	freq    float64
	expect  float64
	current float64
	errCnt  uint32
}

func New(asicCount, hashDomains int) *Monitor {
	m := &Monitor{
		asicCount: asicCount,
		domains:   hashDomains,
	}
	m.clear()
	return m
}

func (m *Monitor) clear() {
	m.total = make([]Measurement, m.asicCount)
	m.errors = make([]Measurement, m.asicCount)
	m.domain = make([][]Measurement, m.asicCount)

	for i := 0; i < m.asicCount; i++ {
		m.total[i].Expected = m.expect / float64(m.asicCount)
		m.domain[i] = make([]Measurement, m.domains)
		for d := 0; d < m.domains; d++ {
			m.domain[i][d].Expected = m.expect / float64(m.asicCount) / float64(m.domains)
		}
	}
}

// SetOperatingPoint records the clock and the hashrate it should give. A new
// frequency drops every measurement.
func (m *Monitor) SetOperatingPoint(freq, expected float64) {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.expect = expected
	if freq != m.freq {
		log.Debugf("hashrate: frequency %.2f -> %.2f, clearing measurements", m.freq, freq)
		m.freq = freq
		m.clear()
	}
}

// OnSample feeds one register reading taken at timeMs.
func (m *Monitor) OnSample(kind RegisterKind, asicNr int, value uint32, timeMs uint32) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if asicNr < 0 || asicNr >= m.asicCount {
		log.Errorf("Asic nr out of bounds [%d]", asicNr)
		return
	}

	switch kind {
	case RegisterHashrate:
		updateDirect(value, &m.total[asicNr])
	case RegisterTotalCount:
		updateCounter(timeMs, value, &m.total[asicNr])
	case RegisterDomain0Count, RegisterDomain1Count, RegisterDomain2Count, RegisterDomain3Count:
		d := int(kind - RegisterDomain0Count)
		if d >= m.domains {
			log.Errorf("Hash domain out of bounds [%d]", d)
			return
		}
		updateCounter(timeMs, value, &m.domain[asicNr][d])
	case RegisterErrorCount:
		updateCounter(timeMs, value, &m.errors[asicNr])
	default:
		log.Errorf("Invalid register type")
	}
}

// Publish recomputes the chain totals.
func (m *Monitor) Publish() Snapshot {
	m.mx.Lock()
	m.current = sumHashrates(m.total)
	m.errCnt = sumValues(m.errors)
	m.mx.Unlock()

	return m.Snapshot()
}

func (m *Monitor) Hashrate() float64 {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.current
}

func (m *Monitor) Snapshot() Snapshot {
	m.mx.Lock()
	defer m.mx.Unlock()

	s := Snapshot{
		Hashrate:   m.current,
		ErrorCount: m.errCnt,
		Total:      append([]Measurement(nil), m.total...),
		Errors:     append([]Measurement(nil), m.errors...),
		Domains:    make([][]Measurement, len(m.domain)),
	}
	for i := range m.domain {
		s.Domains[i] = append([]Measurement(nil), m.domain[i]...)
	}
	return s
}

// updateDirect decodes the hashrate register: bit 31 flags a long reading,
// bits 30..0 are 2^24 hash units. 0x7fffff means no data.
func updateDirect(value uint32, ms *Measurement) {
	long := value>>31 != 0
	mag := value & 0x7fffffff

	if !long && mag != directInvalid {
		ms.Hashrate = float64(mag) * hashrateUnit / 1e9
	}
}

func counterToGHs(durationMs, counter uint32) float64 {
	if durationMs == 0 {
		return 0
	}
	seconds := float64(durationMs) / 1000.0
	return float64(counter) / seconds * hashCountLSB / 1e9
}

func updateCounter(timeMs, value uint32, ms *Measurement) {
	if ms.seeded {
		// both differences wrap
		inst := counterToGHs(timeMs-ms.TimeMs, value-ms.Value)

		if ms.Expected > 0 && ms.Hashrate == 0 {
			if inst == 0 {
				ms.Hashrate = 0
			} else {
				ms.Hashrate = ms.Expected
			}
		}
		ms.Hashrate = (ms.Hashrate*(emaAlpha-1) + inst) / emaAlpha
	}

	ms.Value = value
	ms.TimeMs = timeMs
	ms.seeded = true
}

// sumHashrates reports a multi-chip total only when every chip reports.
func sumHashrates(ms []Measurement) float64 {
	if len(ms) == 1 {
		return ms[0].Hashrate
	}

	total := 0.0
	for _, m := range ms {
		if m.Hashrate == 0 {
			return 0
		}
		total += m.Hashrate
	}
	return total
}

func sumValues(ms []Measurement) uint32 {
	var total uint32
	for _, m := range ms {
		total += m.Value
	}
	return total
}
