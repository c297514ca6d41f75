package powerstate

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePin struct {
	num       int
	exported  int
	dir       string
	writes    []int
	exportErr error
}

func (f *fakePin) Export() error              { f.exported++; return f.exportErr }
func (f *fakePin) Unexport() error            { f.exported--; return nil }
func (f *fakePin) Direction(dir string) error { f.dir = dir; return nil }
func (f *fakePin) Read() (int, error)         { return 0, nil }
func (f *fakePin) Write(b int) error {
	f.writes = append(f.writes, b)
	return nil
}

func withFakePin(t *testing.T, p *fakePin) {
	orig := newPin
	newPin = func(num int) digitalPin {
		p.num = num
		return p
	}
	t.Cleanup(func() { newPin = orig })
}

func TestResetLine(t *testing.T) {
	p := &fakePin{}
	withFakePin(t, p)

	r := NewResetLine(DefaultResetPin)
	require.NoError(t, r.AssertLow())
	assert.True(t, r.InReset())
	require.NoError(t, r.Release())
	assert.False(t, r.InReset())

	assert.Equal(t, DefaultResetPin, p.num)
	assert.Equal(t, 1, p.exported, "exported once")
	assert.Equal(t, "out", p.dir)
	assert.Equal(t, []int{0, 1}, p.writes)

	require.NoError(t, r.Close())
	assert.Equal(t, 0, p.exported)
}

func TestResetLineExportFailure(t *testing.T) {
	p := &fakePin{exportErr: errors.New("busy")}
	withFakePin(t, p)

	r := NewResetLine(12)
	assert.Error(t, r.AssertLow())
	assert.Empty(t, p.writes)
}
