package pcap

import (
	"fmt"
	"io"
	"time"

	"github.com/bigbag/can2shark/internal/protocol"
)

// Flusher is implemented by sinks that buffer internally, such as bufio.Writer.
type Flusher interface {
	Flush() error
}

// Writer appends capture records to a sink, one flush per record.
type Writer struct {
	w             io.Writer
	headerWritten bool
	records       uint64
	buf           []byte
}

// NewWriter wraps w. Nothing is written until WriteHeader or WriteMessage.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, RecordLen)}
}

// WriteHeader writes the global header. Later calls are no-ops.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if err := w.write(GlobalHeader()); err != nil {
		return fmt.Errorf("write global header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteMessage writes one record for m, writing the global header first
// if that has not happened yet.
func (w *Writer) WriteMessage(m protocol.Message, ts time.Time) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.buf = AppendRecord(w.buf[:0], m, ts)
	if err := w.write(w.buf); err != nil {
		return fmt.Errorf("write record %d: %w", w.records+1, err)
	}
	w.records++
	return nil
}

// Records returns the number of records written.
func (w *Writer) Records() uint64 {
	return w.records
}

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	if f, ok := w.w.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
