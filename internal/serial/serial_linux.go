//go:build linux

package serial

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Baud rate constants
var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
}

// RawPort is a tty driven directly through termios. It is an alternative
// to Port for USB CDC adapters that misbehave under the serial library.
type RawPort struct {
	fd       int
	file     *os.File
	portName string
	baudRate int
}

// OpenRaw opens a serial port in raw mode with a 100ms read timeout
func OpenRaw(portName string, baudRate int) (*RawPort, error) {
	baudCode, ok := baudRates[baudRate]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate: %d", baudRate)
	}

	fd, err := unix.Open(portName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	// Non-blocking only for the open itself; Read polls for readiness.
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to clear O_NONBLOCK: %w", err)
	}

	port := &RawPort{
		fd:       fd,
		portName: portName,
		baudRate: baudRate,
	}

	if err := port.configure(baudCode); err != nil {
		unix.Close(fd)
		return nil, err
	}
	port.file = os.NewFile(uintptr(fd), portName)

	return port, nil
}

func (p *RawPort) configure(baudCode uint32) error {
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr failed: %w", err)
	}

	// Raw mode, like cfmakeraw
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD

	// 8N1, enable receiver, local mode
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | baudCode
	t.Ispeed = baudCode
	t.Ospeed = baudCode

	// VMIN=0, VTIME=1: return whatever arrived within 100ms
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("tcsetattr failed: %w", err)
	}

	// Discard anything queued before configuration took effect.
	if err := unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return fmt.Errorf("tcflush failed: %w", err)
	}
	return nil
}

// Close closes the serial port
func (p *RawPort) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// Read waits up to ReadTimeout for data and returns (0, nil) if none came.
// A hung-up tty reads as zero bytes immediately, just like a VTIME expiry,
// so readiness is checked with poll first and a hangup is reported as
// ErrDisconnected.
func (p *RawPort) Read(buf []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	ready, err := unix.Poll(fds, int(ReadTimeout/time.Millisecond))
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("poll %s: %w", p.portName, err)
	}
	if ready == 0 {
		return 0, nil
	}

	revents := fds[0].Revents
	if revents&unix.POLLIN == 0 {
		if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return 0, ErrDisconnected
		}
		return 0, nil
	}

	n, err := unix.Read(p.fd, buf)
	switch {
	case err == unix.EINTR || err == unix.EAGAIN:
		return 0, nil
	case err == unix.EIO:
		return 0, ErrDisconnected
	case err != nil:
		return 0, fmt.Errorf("read %s: %w", p.portName, err)
	case n == 0:
		// Readable but empty: end of file on a tty means hangup.
		return 0, ErrDisconnected
	}
	return n, nil
}

// PortName returns the port name
func (p *RawPort) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate
func (p *RawPort) BaudRate() int {
	return p.baudRate
}
