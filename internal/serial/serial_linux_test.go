//go:build linux

package serial

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestBaudRates(t *testing.T) {
	tests := []struct {
		baud int
		want uint32
	}{
		{9600, unix.B9600},
		{115200, unix.B115200},
		{921600, unix.B921600},
		{2000000, unix.B2000000},
	}
	for _, tt := range tests {
		if got, ok := baudRates[tt.baud]; !ok || got != tt.want {
			t.Errorf("baudRates[%d] = %#o, %v; want %#o", tt.baud, got, ok, tt.want)
		}
	}
}

func TestOpenRaw_UnsupportedBaud(t *testing.T) {
	if _, err := OpenRaw("/dev/null", 12345); err == nil {
		t.Errorf("OpenRaw with baud 12345 = nil error, want error")
	}
}

func TestOpenRaw_MissingDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyMissing")
	if _, err := OpenRaw(path, 115200); err == nil {
		t.Errorf("OpenRaw(%s) = nil error, want error", path)
	}
}

func TestOpenRaw_NotATTY(t *testing.T) {
	if _, err := OpenRaw("/dev/null", 115200); err == nil {
		t.Errorf("OpenRaw(/dev/null) = nil error, want tcgetattr failure")
	}
}

// openPTY returns the master fd of a new pseudo-terminal and the path of
// its slave side.
func openPTY(t *testing.T) (int, string) {
	t.Helper()
	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("no pseudo-terminal support: %v", err)
	}
	t.Cleanup(func() { unix.Close(master) })

	if err := unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0); err != nil {
		t.Fatalf("unlockpt: %v", err)
	}
	n, err := unix.IoctlGetInt(master, unix.TIOCGPTN)
	if err != nil {
		t.Fatalf("ptsname: %v", err)
	}
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func TestRawPortRead_DataAndTimeout(t *testing.T) {
	master, slave := openPTY(t)
	p, err := OpenRaw(slave, 115200)
	if err != nil {
		t.Fatalf("OpenRaw(%s): %v", slave, err)
	}
	defer p.Close()

	buf := make([]byte, 64)
	start := time.Now()
	n, err := p.Read(buf)
	if n != 0 || err != nil {
		t.Fatalf("idle Read = %d, %v; want 0, nil", n, err)
	}
	if elapsed := time.Since(start); elapsed < ReadTimeout/2 {
		t.Errorf("idle Read returned after %v, want about %v", elapsed, ReadTimeout)
	}

	sent := []byte{0xAA, 0x69, 0x01, 0x02}
	if _, err := unix.Write(master, sent); err != nil {
		t.Fatalf("write master: %v", err)
	}
	var got []byte
	for i := 0; i < 10 && len(got) < len(sent); i++ {
		n, err := p.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != string(sent) {
		t.Errorf("Read = % X, want % X", got, sent)
	}
}

func TestRawPortRead_Hangup(t *testing.T) {
	_, slave := openPTY(t)
	p, err := OpenRaw(slave, 115200)
	if err != nil {
		t.Fatalf("OpenRaw(%s): %v", slave, err)
	}
	defer p.Close()

	if err := unix.IoctlSetInt(p.fd, unix.TIOCVHANGUP, 0); err != nil {
		t.Skipf("TIOCVHANGUP not permitted: %v", err)
	}

	buf := make([]byte, 64)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if err == nil {
			if n != 0 {
				t.Fatalf("Read after hangup returned %d bytes", n)
			}
			continue
		}
		if !errors.Is(err, ErrDisconnected) || !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("Read after hangup error = %v, want ErrDisconnected", err)
		}
		if errors.Is(err, io.EOF) {
			t.Fatalf("Read after hangup error %v matches io.EOF", err)
		}
		return
	}
	t.Fatalf("Read kept reporting timeouts after hangup")
}
