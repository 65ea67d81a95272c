// Package framer recovers fixed-size frames from an unreliable byte stream.
//
// The Synchronizer accumulates bytes, scans for the outer start-of-frame
// sentinel, and validates the inner sentinel and CRC of each candidate.
// Corrupt candidates cost exactly one byte, so a real frame that starts
// inside a broken one is still found. Good frames cost exactly one frame.
package framer

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/bigbag/can2shark/internal/crc16"
	"github.com/bigbag/can2shark/internal/protocol"
)

// State is the position of the synchronizer in its scan cycle.
type State int

const (
	SeekingOuterSOF State = iota
	AwaitingFullFrame
	Validating
)

func (s State) String() string {
	switch s {
	case SeekingOuterSOF:
		return "seeking"
	case AwaitingFullFrame:
		return "awaiting"
	case Validating:
		return "validating"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats counts what the synchronizer has kept and thrown away.
type Stats struct {
	Frames             uint64
	Resyncs            uint64
	DiscardedBytes     uint64
	SentinelMismatches uint64
	CRCMismatches      uint64
	Overflows          uint64
}

// EmitFunc receives each valid frame. The slice aliases the internal
// buffer and is only valid until EmitFunc returns.
type EmitFunc func(frame []byte) error

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger used for discard diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// Synchronizer is not safe for concurrent use; it has a single owner.
type Synchronizer struct {
	cfg    protocol.Config
	table  *crc16.Table
	buf    []byte
	state  State
	stats  Stats
	logger *slog.Logger
}

// New creates a Synchronizer for the given layout. It panics if cfg is invalid.
func New(cfg protocol.Config, opts ...Option) *Synchronizer {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("framer: %v", err))
	}
	s := &Synchronizer{
		cfg:    cfg,
		table:  cfg.Table(),
		buf:    make([]byte, 0, 3*cfg.FrameLen),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Feed appends p to the buffer and emits every complete valid frame found.
//
// Input is consumed in slices of at most one frame length so the buffer
// stays bounded regardless of how much data arrives per call; the frames
// produced do not depend on how the stream is chunked.
//
// If emit returns an error, the frame it was given is still consumed and
// Feed stops, returning that error. Unprocessed input is dropped.
func (s *Synchronizer) Feed(p []byte, emit EmitFunc) error {
	for len(p) > 0 {
		n := s.cfg.FrameLen
		if n > len(p) {
			n = len(p)
		}
		s.buf = append(s.buf, p[:n]...)
		p = p[n:]

		if err := s.process(emit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) process(emit EmitFunc) error {
	frameLen := s.cfg.FrameLen
	for {
		s.state = SeekingOuterSOF
		idx := bytes.IndexByte(s.buf, s.cfg.SOFOuter)
		if idx < 0 {
			if len(s.buf) > 2*frameLen {
				drop := len(s.buf) - frameLen
				s.stats.Overflows++
				s.logger.Debug("no start of frame, truncating buffer", "discarded", drop)
				s.discard(drop)
			}
			return nil
		}
		if idx > 0 {
			s.stats.Resyncs++
			s.logger.Debug("resync", "discarded", idx)
			s.discard(idx)
		}

		s.state = AwaitingFullFrame
		if len(s.buf) < frameLen {
			return nil
		}

		s.state = Validating
		candidate := s.buf[:frameLen]
		if candidate[1] != s.cfg.SOFInner {
			s.stats.SentinelMismatches++
			s.logger.Debug("inner sentinel mismatch",
				"want", fmt.Sprintf("0x%02X", s.cfg.SOFInner),
				"got", fmt.Sprintf("0x%02X", candidate[1]))
			s.discard(1)
			continue
		}
		if !s.cfg.Valid(s.table, candidate) {
			s.stats.CRCMismatches++
			s.logger.Debug("crc mismatch",
				"calculated", fmt.Sprintf("0x%04X", s.cfg.Checksum(s.table, candidate)),
				"received", fmt.Sprintf("% X", candidate[frameLen-protocol.CRCLen:]))
			s.discard(1)
			continue
		}

		s.stats.Frames++
		err := emit(candidate)
		s.consume(frameLen)
		if err != nil {
			return err
		}
	}
}

// discard drops n leading bytes that did not become part of a frame.
func (s *Synchronizer) discard(n int) {
	s.stats.DiscardedBytes += uint64(n)
	s.consume(n)
}

func (s *Synchronizer) consume(n int) {
	m := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:m]
}

// Reset drops any partially accumulated bytes.
func (s *Synchronizer) Reset() {
	if len(s.buf) > 0 {
		s.logger.Debug("dropping buffered bytes", "count", len(s.buf))
	}
	s.buf = s.buf[:0]
	s.state = SeekingOuterSOF
}

// Buffered returns the number of bytes waiting for more input.
func (s *Synchronizer) Buffered() int {
	return len(s.buf)
}

// State returns where the last processing step stopped.
func (s *Synchronizer) State() State {
	return s.state
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	return s.stats
}

// Config returns the frame layout in use.
func (s *Synchronizer) Config() protocol.Config {
	return s.cfg
}
