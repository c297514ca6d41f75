package fan

import (
	"sync"
	"time"
)

const (
	tachoSlots    = 8
	tachoSlotTime = 500 * time.Millisecond
	// each revolution gives 2 pulses, 3 slots cover 1.5 s: RPM = pulses * 40 / 2
	tachoRPMFactor = 20
)

// tachometer counts tach edges in half second slots.
type tachometer struct {
	mx      sync.Mutex
	offset  int
	counter [tachoSlots]int
	cursor  int
}

func (t *tachometer) pulse() {
	t.mx.Lock()
	t.counter[t.cursor]++
	t.mx.Unlock()
}

// rotate closes the current slot and starts an empty one.
func (t *tachometer) rotate() {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.cursor = (t.cursor + 1) % tachoSlots
	t.counter[t.cursor] = 0
}

// RPM averages the last three closed slots.
func (t *tachometer) RPM() int {
	t.mx.Lock()
	defer t.mx.Unlock()

	prev1 := (t.cursor + tachoSlots - 1) % tachoSlots
	prev2 := (prev1 + tachoSlots - 1) % tachoSlots
	prev3 := (prev2 + tachoSlots - 1) % tachoSlots
	return (t.counter[prev1] + t.counter[prev2] + t.counter[prev3]) * tachoRPMFactor
}
