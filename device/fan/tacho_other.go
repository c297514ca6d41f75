//go:build !linux
// +build !linux

package fan

import (
	"context"

	"aud_miner/log"
)

func (b *PWMBank) startTacho(ctx context.Context) error {
	log.Warnf("fan tachometers need gpiod, RPM will read 0")
	return nil
}
