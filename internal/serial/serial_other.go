//go:build !linux

package serial

import (
	"errors"
)

var errRawUnsupported = errors.New("raw serial port not supported on this platform")

// RawPort is a stub for non-Linux platforms; use Port instead.
type RawPort struct{}

// OpenRaw always fails on non-Linux platforms.
func OpenRaw(portName string, baudRate int) (*RawPort, error) {
	return nil, errRawUnsupported
}

// Close is a stub - never called on non-Linux platforms.
func (p *RawPort) Close() error {
	return errRawUnsupported
}

// Read is a stub - never called on non-Linux platforms.
func (p *RawPort) Read(buf []byte) (int, error) {
	return 0, errRawUnsupported
}

// PortName is a stub - never called on non-Linux platforms.
func (p *RawPort) PortName() string {
	return ""
}

// BaudRate is a stub - never called on non-Linux platforms.
func (p *RawPort) BaudRate() int {
	return 0
}
