//go:build linux
// +build linux

package asicio

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"aud_miner/log"
)

const uartWriteRetries = 3

var ErrTimeout = errors.New("uart receive timeout")

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	3000000: unix.B3000000,
}

// UART is the serial link to the chip chain.
type UART struct {
	devName string
	fd      int
	wmx     sync.Mutex
	ready   bool
	mx      sync.Mutex
}

func OpenUART(devName string, baud int) (*UART, error) {
	fd, err := unix.Open(devName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", devName)
	}

	u := &UART{devName: devName, fd: fd}
	if err := u.SetBaud(baud); err != nil {
		unix.Close(fd)
		return nil, err
	}

	u.mx.Lock()
	u.ready = true
	u.mx.Unlock()

	log.Infof("UART %s open at %d baud", devName, baud)
	return u, nil
}

func (u *UART) IsReady() bool {
	u.mx.Lock()
	defer u.mx.Unlock()
	return u.ready
}

// SetBaud puts the line in raw 8N1 mode at the given rate.
func (u *UART) SetBaud(baud int) error {
	rate, ok := baudRates[baud]
	if !ok {
		return errors.Errorf("unsupported baud rate %d", baud)
	}

	t, err := unix.IoctlGetTermios(u.fd, unix.TCGETS)
	if err != nil {
		return errors.Wrapf(err, "get termios %s", u.devName)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | rate
	t.Ispeed = rate
	t.Ospeed = rate
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(u.fd, unix.TCSETS, t); err != nil {
		return errors.Wrapf(err, "set termios %s", u.devName)
	}

	log.Debugf("UART %s baud %d", u.devName, baud)
	return nil
}

func (u *UART) Send(buf []byte) error {
	u.wmx.Lock()
	defer u.wmx.Unlock()

	var err error
	for i := 0; i < uartWriteRetries; i++ {
		var n int
		n, err = unix.Write(u.fd, buf)
		if err == nil && n == len(buf) {
			return nil
		}
		if err == nil {
			err = errors.Errorf("short write %d/%d", n, len(buf))
		}
		log.Debugf("UART write retry %d: %v", i+1, err)
	}

	return errors.Wrapf(err, "write %s", u.devName)
}

// Receive fills buf or fails with ErrTimeout once timeout has passed. It returns
// the number of bytes read.
func (u *UART) Receive(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	got := 0

	for got < len(buf) {
		remain := time.Until(deadline)
		if remain <= 0 {
			return got, ErrTimeout
		}

		pollfd := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
		ret, err := unix.Poll(pollfd, int(remain/time.Millisecond)+1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return got, errors.Wrap(err, "poll uart")
		}
		if ret == 0 || pollfd[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, err := unix.Read(u.fd, buf[got:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return got, errors.Wrap(err, "read uart")
		}
		got += n
	}

	return got, nil
}

// Flush drops anything queued in either direction.
func (u *UART) Flush() error {
	return unix.IoctlSetInt(u.fd, unix.TCFLSH, unix.TCIOFLUSH)
}

func (u *UART) Close() error {
	u.mx.Lock()
	u.ready = false
	u.mx.Unlock()
	return unix.Close(u.fd)
}
