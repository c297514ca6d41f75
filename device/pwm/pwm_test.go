package pwm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aud_miner/util"
)

func fakeChip(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pwmchip2", "pwm0"), 0755))
	return root
}

func readFile(t *testing.T, path string) string {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestPinLifecycle(t *testing.T) {
	root := fakeChip(t)
	clock := util.NewManualClock(time.Unix(0, 0))
	p := NewPin(root, 2, 0, clock)

	require.NoError(t, p.Export())
	assert.Equal(t, "0", readFile(t, filepath.Join(root, "pwmchip2", "export")))
	assert.Len(t, clock.Slept(), 1)

	require.NoError(t, p.SetPeriod(40000))
	require.NoError(t, p.Enable(true))
	assert.Equal(t, "1", readFile(t, filepath.Join(root, "pwmchip2", "pwm0", "enable")))

	require.NoError(t, p.SetFraction(0.25))
	assert.Equal(t, "10000", readFile(t, filepath.Join(root, "pwmchip2", "pwm0", "duty_cycle")))

	f, err := p.Fraction()
	require.NoError(t, err)
	assert.Equal(t, 0.25, f)

	require.NoError(t, p.SetFraction(1.5))
	f, _ = p.Fraction()
	assert.Equal(t, 1.0, f)
}

func TestPinMissingChannel(t *testing.T) {
	p := NewPin(t.TempDir(), 7, 1, util.NewManualClock(time.Unix(0, 0)))
	assert.Error(t, p.SetPeriod(40000))
	_, err := p.Period()
	assert.Error(t, err)
}
