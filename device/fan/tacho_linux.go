//go:build linux
// +build linux

package fan

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/gpiod"
)

// startTacho watches the tach lines for rising edges. The gpiod handler only
// carries the line offset, so all tach inputs must be on one chip.
func (b *PWMBank) startTacho(ctx context.Context) error {
	if len(b.byOffset) == 0 {
		return nil
	}

	offsets := make([]int, 0, len(b.byOffset))
	for off := range b.byOffset {
		offsets = append(offsets, off)
	}

	lines, err := gpiod.RequestLines(b.gpioChip, offsets,
		gpiod.WithRisingEdge,
		gpiod.WithEventHandler(b.onEdge))
	if err != nil {
		return errors.Wrapf(err, "request tach lines on %s", b.gpioChip)
	}

	go func() {
		defer lines.Close()

		ticker := time.NewTicker(tachoSlotTime)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.rotate()
			}
		}
	}()
	return nil
}

func (b *PWMBank) onEdge(evt gpiod.LineEvent) {
	if t := b.byOffset[evt.Offset]; t != nil {
		t.pulse()
	}
}
