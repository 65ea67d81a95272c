package detect

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bigbag/can2shark/internal/framer"
	"github.com/bigbag/can2shark/internal/protocol"
	"github.com/bigbag/can2shark/internal/serial"
)

// DefaultWindow is how long each port is listened to.
const DefaultWindow = 1500 * time.Millisecond

// enoughFrames ends a probe early once the stream is clearly ours.
const enoughFrames = 3

// ErrNoDevice is returned when no port carries valid frames.
var ErrNoDevice = errors.New("no capture device found")

// Result represents a port carrying valid frames.
type Result struct {
	Port   string
	Info   serial.PortInfo
	Frames int
}

// Probe listens to src until window elapses, the source ends, or a few
// frames have been seen, and returns the number of valid frames found.
// A nil clock means time.Now.
func Probe(src io.Reader, window time.Duration, clock func() time.Time) (int, error) {
	if clock == nil {
		clock = time.Now
	}

	sync := framer.New(protocol.DefaultConfig())
	count := func([]byte) error { return nil }
	buf := make([]byte, 256)

	deadline := clock().Add(window)
	for clock().Before(deadline) {
		n, err := src.Read(buf)
		if n > 0 {
			// Counting never fails.
			_ = sync.Feed(buf[:n], count)
			if sync.Stats().Frames >= enoughFrames {
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return int(sync.Stats().Frames), err
		}
	}
	return int(sync.Stats().Frames), nil
}

// DetectDevice returns the first port on which valid frames arrive.
func DetectDevice(baudRate int, window time.Duration) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, info := range ports {
		result, err := tryPort(info, baudRate, window)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w (last error: %w)", ErrNoDevice, lastErr)
	}
	return nil, ErrNoDevice
}

// DetectOnPort checks a specific port.
func DetectOnPort(portName string, baudRate int, window time.Duration) (*Result, error) {
	return tryPort(serial.PortInfo{Name: portName}, baudRate, window)
}

// ListDevices scans all ports and returns every one carrying frames.
func ListDevices(baudRate int, window time.Duration) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, info := range ports {
		result, err := tryPort(info, baudRate, window)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func tryPort(info serial.PortInfo, baudRate int, window time.Duration) (*Result, error) {
	port, err := serial.Open(info.Name, baudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	frames, err := Probe(port, window, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", info.Name, err)
	}
	if frames == 0 {
		return nil, fmt.Errorf("%w on %s", ErrNoDevice, info.Name)
	}

	return &Result{
		Port:   info.Name,
		Info:   info,
		Frames: frames,
	}, nil
}
