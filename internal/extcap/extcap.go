// Package extcap answers Wireshark's extcap capability queries.
//
// Wireshark runs the binary with --extcap-interfaces, --extcap-dlts or
// --extcap-config and parses the brace-delimited lines written to stdout.
package extcap

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bigbag/can2shark/internal/pcap"
	"github.com/bigbag/can2shark/internal/protocol"
	"github.com/bigbag/can2shark/internal/serial"
)

const (
	// Interface is the only interface this tool provides.
	Interface = "wowcan"
	// Display is the interface name shown in Wireshark.
	Display = "CAN over serial (wowcan)"
	// DLTName is the libpcap name of link type 227.
	DLTName = "CAN_SOCKETCAN"
)

// ErrUnknownInterface is returned for an interface this tool does not provide.
var ErrUnknownInterface = errors.New("extcap: unknown interface")

// Argument numbers, in the order Config prints them.
const (
	argSerialPort = iota
	argBaudRate
	argRawTTY
)

// CheckInterface returns ErrUnknownInterface unless iface is ours.
func CheckInterface(iface string) error {
	if iface != Interface {
		return fmt.Errorf("%w: %q", ErrUnknownInterface, iface)
	}
	return nil
}

// Interfaces prints the extcap version line and the interface list.
func Interfaces(w io.Writer, version string) error {
	_, err := fmt.Fprintf(w,
		"extcap {version=%s}{display=can2shark}\n"+
			"interface {value=%s}{display=%s}\n",
		escape(version), Interface, Display)
	return err
}

// DLTs prints the link type captured on iface.
func DLTs(w io.Writer, iface string) error {
	if err := CheckInterface(iface); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "dlt {number=%d}{name=%s}{display=Linux SocketCAN}\n",
		pcap.LinkTypeCANSocketCAN, DLTName)
	return err
}

// Config prints the capture options for iface. Each known port becomes a
// selectable value of --serial-port; the first one is the default.
func Config(w io.Writer, iface string, ports []serial.PortInfo) error {
	if err := CheckInterface(iface); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "arg {number=%d}{call=--serial-port}{display=Serial Port}{type=editselector}{required=true}{tooltip=The serial port (e.g. COM4 or /dev/ttyACM0)}\n",
		argSerialPort)
	fmt.Fprintf(&b, "arg {number=%d}{call=--baudrate}{display=Baud Rate}{type=integer}{range=1200,4000000}{default=%d}{tooltip=The serial baud rate}\n",
		argBaudRate, protocol.DefaultBaudRate)
	fmt.Fprintf(&b, "arg {number=%d}{call=--raw-tty}{display=Raw termios}{type=boolflag}{default=false}{tooltip=Drive the tty through termios directly (Linux)}\n",
		argRawTTY)

	for i, p := range ports {
		display := p.Name
		if desc := p.Description(); desc != "" {
			display += " - " + desc
		}
		fmt.Fprintf(&b, "value {arg=%d}{value=%s}{display=%s}{default=%t}\n",
			argSerialPort, escape(p.Name), escape(display), i == 0)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

var braceEscaper = strings.NewReplacer("{", "(", "}", ")", "\n", " ")

// escape keeps a value from breaking the brace-delimited syntax.
func escape(s string) string {
	return braceEscaper.Replace(s)
}
