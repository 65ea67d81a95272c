package capture

import (
	"fmt"
	"io"
	"os"
)

// OpenSink opens the capture destination. Wireshark passes the path of a
// FIFO it has already created; anything else is created as a regular file.
// An empty path or "-" selects stdout, which is never closed.
func OpenSink(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}

	flags := os.O_WRONLY
	if fi, err := os.Stat(path); err != nil || fi.Mode().IsRegular() {
		flags |= os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
