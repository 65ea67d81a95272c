package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/bigbag/can2shark/internal/framer"
	"github.com/bigbag/can2shark/internal/pcap"
	"github.com/bigbag/can2shark/internal/protocol"
)

// DefaultReadSize bounds a single read from the source.
const DefaultReadSize = 256

var (
	// ErrSourceFault means the byte source failed; the session is over.
	ErrSourceFault = errors.New("capture: source fault")
	// ErrSinkFault means the capture sink rejected a write or flush.
	ErrSinkFault = errors.New("capture: sink fault")
)

// ProgressCallback is called after each read with the total bytes read so far.
type ProgressCallback func(bytesRead int64)

// Stats summarises a session.
type Stats struct {
	BytesRead int64
	Records   uint64
	Framer    framer.Stats
}

// Option configures a Session.
type Option func(*Session)

// WithConfig overrides the frame layout. Only the 17-byte layout can be
// decoded into CAN messages.
func WithConfig(cfg protocol.Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the source of capture timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReadSize sets the maximum number of bytes requested per read.
func WithReadSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// Session moves bytes from a source to a capture sink: every valid frame
// becomes one flushed record.
type Session struct {
	src      io.Reader
	out      *pcap.Writer
	cfg      protocol.Config
	sync     *framer.Synchronizer
	logger   *slog.Logger
	now      func() time.Time
	readSize int
	progress ProgressCallback

	bytesRead int64
}

// New creates a session reading from src and writing capture records to sink.
// src should return (0, nil) or a timeout error when no data is available
// so that cancellation is noticed between reads.
func New(src io.Reader, sink io.Writer, opts ...Option) (*Session, error) {
	s := &Session{
		src:      src,
		out:      pcap.NewWriter(sink),
		cfg:      protocol.DefaultConfig(),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		readSize: DefaultReadSize,
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame layout: %w", err)
	}
	if s.cfg.FrameLen != protocol.FrameLen {
		return nil, fmt.Errorf("frame length %d cannot carry a CAN message (need %d)", s.cfg.FrameLen, protocol.FrameLen)
	}
	s.sync = framer.New(s.cfg, framer.WithLogger(s.logger))
	return s, nil
}

// SetProgressCallback sets the progress callback function.
func (s *Session) SetProgressCallback(cb ProgressCallback) {
	s.progress = cb
}

func (s *Session) reportProgress() {
	if s.progress != nil {
		s.progress(s.bytesRead)
	}
}

// Run writes the capture header and then processes the source until it
// reports io.EOF, a fault occurs, or ctx is cancelled. Cancellation is
// checked between reads and is not an error; buffered partial frames
// are discarded.
func (s *Session) Run(ctx context.Context) error {
	if err := s.out.WriteHeader(); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkFault, err)
	}

	buf := make([]byte, s.readSize)
	for {
		if ctx.Err() != nil {
			s.sync.Reset()
			s.logger.Info("capture stopped", s.logAttrs()...)
			return nil
		}

		n, err := s.src.Read(buf)
		if n > 0 {
			s.bytesRead += int64(n)
			if ferr := s.sync.Feed(buf[:n], s.emit); ferr != nil {
				return fmt.Errorf("%w: %w", ErrSinkFault, ferr)
			}
			s.reportProgress()
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				s.sync.Reset()
				s.logger.Info("source exhausted", s.logAttrs()...)
				return nil
			}
			return fmt.Errorf("%w: %w", ErrSourceFault, err)
		}
	}
}

func (s *Session) emit(frame []byte) error {
	m, err := protocol.ParseFrame(frame)
	if err != nil {
		return err
	}
	if err := s.out.WriteMessage(m, s.now()); err != nil {
		return err
	}
	s.logger.Debug("frame", "msg", m.String())
	return nil
}

// Stats returns counters for the session so far.
func (s *Session) Stats() Stats {
	return Stats{
		BytesRead: s.bytesRead,
		Records:   s.out.Records(),
		Framer:    s.sync.Stats(),
	}
}

func (s *Session) logAttrs() []any {
	st := s.Stats()
	return []any{
		"bytes", st.BytesRead,
		"records", st.Records,
		"resyncs", st.Framer.Resyncs,
		"discarded", st.Framer.DiscardedBytes,
		"crc_errors", st.Framer.CRCMismatches,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
