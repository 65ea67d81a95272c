package serial

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ReadTimeout is how long a Read waits for data before returning (0, nil).
const ReadTimeout = 100 * time.Millisecond

// ErrDisconnected is returned by Read once the device has gone away.
// It wraps io.ErrUnexpectedEOF so that callers do not mistake it for the
// clean end of a stream.
var ErrDisconnected = fmt.Errorf("serial: device disconnected: %w", io.ErrUnexpectedEOF)

// Port wraps a serial port configured for the capture device.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate, 8N1, and a short
// read timeout so that capture loops can notice shutdown.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	// Drop whatever the device sent before we were listening.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Read reads up to len(buf) bytes. It returns (0, nil) when the read
// timeout expires with no data.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// PortInfo describes an available serial port.
type PortInfo struct {
	Name    string
	IsUSB   bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// Description returns a short human-readable label for the port.
func (i PortInfo) Description() string {
	if !i.IsUSB {
		return ""
	}
	desc := fmt.Sprintf("USB %s:%s", i.VID, i.PID)
	if i.Product != "" {
		desc += " " + i.Product
	}
	if i.Serial != "" {
		desc += " (" + i.Serial + ")"
	}
	return desc
}

// ListPorts returns the available serial ports, with USB details where the
// platform provides them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:    d.Name,
				IsUSB:   d.IsUSB,
				VID:     d.VID,
				PID:     d.PID,
				Serial:  d.SerialNumber,
				Product: d.Product,
			})
		}
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(names))
	for _, n := range names {
		ports = append(ports, PortInfo{Name: n})
	}
	return ports, nil
}

// PortNames returns just the names from ListPorts.
func PortNames() ([]string, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}
	return names, nil
}
