//go:build !linux
// +build !linux

package asicio

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrTimeout     = errors.New("uart receive timeout")
	errUnsupported = errors.New("uart is only supported on linux")
)

type UART struct{}

func OpenUART(devName string, baud int) (*UART, error) {
	return nil, errors.Wrap(errUnsupported, devName)
}

func (u *UART) IsReady() bool {
	return false
}

func (u *UART) SetBaud(int) error {
	return errUnsupported
}

func (u *UART) Send([]byte) error {
	return errUnsupported
}

func (u *UART) Receive([]byte, time.Duration) (int, error) {
	return 0, errUnsupported
}

func (u *UART) Flush() error {
	return errUnsupported
}

func (u *UART) Close() error {
	return nil
}
