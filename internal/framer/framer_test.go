package framer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/bigbag/can2shark/internal/crc16"
	"github.com/bigbag/can2shark/internal/protocol"
)

// collector records copies of emitted frames.
type collector struct {
	frames [][]byte
}

func (c *collector) emit(frame []byte) error {
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func frameOf(m protocol.Message) []byte {
	f := protocol.EncodeFrame(m)
	return f[:]
}

func feedBytewise(t *testing.T, s *Synchronizer, data []byte, c *collector) {
	t.Helper()
	for i := range data {
		if err := s.Feed(data[i:i+1], c.emit); err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
	}
}

func TestFeed_RoundTripBytewise(t *testing.T) {
	want := protocol.Message{ID: 0x123, Length: 3, Data: [8]byte{0x11, 0x22, 0x33}}
	s := New(protocol.DefaultConfig())
	c := &collector{}

	feedBytewise(t, s, frameOf(want), c)

	if len(c.frames) != 1 {
		t.Fatalf("emitted %d frames, want 1", len(c.frames))
	}
	got := protocol.Decode(protocol.Frame(c.frames[0]))
	if got != want {
		t.Errorf("decoded %+v, want %+v", got, want)
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", s.Buffered())
	}
}

func TestFeed_GarbagePrefix(t *testing.T) {
	frame := frameOf(protocol.Message{ID: 0x42, Length: 2, Data: [8]byte{0x01, 0x02}})
	garbage := []byte{0x01, 0x13, 0x37, 0xC0, 0xFE}
	data := append(append([]byte{}, garbage...), frame...)

	s := New(protocol.DefaultConfig())
	c := &collector{}
	if err := s.Feed(data, c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if len(c.frames) != 1 {
		t.Fatalf("emitted %d frames, want 1", len(c.frames))
	}
	if !bytes.Equal(c.frames[0], frame) {
		t.Errorf("frame = % X, want % X", c.frames[0], frame)
	}
	stats := s.Stats()
	if stats.DiscardedBytes != uint64(len(garbage)) {
		t.Errorf("DiscardedBytes = %d, want %d", stats.DiscardedBytes, len(garbage))
	}
	if stats.Resyncs != 1 {
		t.Errorf("Resyncs = %d, want 1", stats.Resyncs)
	}
}

func TestFeed_CRCCorruptionThenValid(t *testing.T) {
	first := frameOf(protocol.Message{ID: 0x100, Length: 4, Data: [8]byte{0x10, 0x20, 0x30, 0x40}})
	first[protocol.FrameLen-1] ^= 0xFF
	second := frameOf(protocol.Message{ID: 0x200, Length: 4, Data: [8]byte{0x50, 0x60, 0x70, 0x80}})
	data := append(append([]byte{}, first...), second...)

	s := New(protocol.DefaultConfig())
	c := &collector{}
	if err := s.Feed(data, c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if len(c.frames) != 1 {
		t.Fatalf("emitted %d frames, want 1", len(c.frames))
	}
	if !bytes.Equal(c.frames[0], second) {
		t.Errorf("frame = % X, want second frame % X", c.frames[0], second)
	}

	// Exactly the corrupted frame's bytes are discarded; none of the second.
	stats := s.Stats()
	if stats.DiscardedBytes != protocol.FrameLen {
		t.Errorf("DiscardedBytes = %d, want %d", stats.DiscardedBytes, protocol.FrameLen)
	}
	if stats.CRCMismatches < 1 {
		t.Errorf("CRCMismatches = %d, want >= 1", stats.CRCMismatches)
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", s.Buffered())
	}
}

func TestFeed_CRCCorruptionThenValidBytewise(t *testing.T) {
	first := frameOf(protocol.Message{ID: 0x100, Length: 1, Data: [8]byte{0x10}})
	first[protocol.FrameLen-1] ^= 0x01
	second := frameOf(protocol.Message{ID: 0x200, Length: 1, Data: [8]byte{0x20}})

	s := New(protocol.DefaultConfig())
	c := &collector{}
	feedBytewise(t, s, append(append([]byte{}, first...), second...), c)

	if len(c.frames) != 1 || !bytes.Equal(c.frames[0], second) {
		t.Fatalf("frames = % X, want only % X", c.frames, second)
	}
	if got := s.Stats().DiscardedBytes; got != protocol.FrameLen {
		t.Errorf("DiscardedBytes = %d, want %d", got, protocol.FrameLen)
	}
}

func TestFeed_MultipleFramesOneRead(t *testing.T) {
	msgs := []protocol.Message{
		{ID: 1, Length: 1, Data: [8]byte{0x01}},
		{ID: 2, Length: 2, Data: [8]byte{0x02, 0x02}},
		{ID: 3, Length: 3, Data: [8]byte{0x03, 0x03, 0x03}},
	}
	var data []byte
	for _, m := range msgs {
		data = append(data, frameOf(m)...)
	}

	s := New(protocol.DefaultConfig())
	c := &collector{}
	if err := s.Feed(data, c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if len(c.frames) != len(msgs) {
		t.Fatalf("emitted %d frames, want %d", len(c.frames), len(msgs))
	}
	for i, m := range msgs {
		if got := protocol.Decode(protocol.Frame(c.frames[i])); got != m {
			t.Errorf("frame %d = %+v, want %+v", i, got, m)
		}
	}
	if s.Stats().DiscardedBytes != 0 {
		t.Errorf("DiscardedBytes = %d, want 0", s.Stats().DiscardedBytes)
	}
}

func TestFeed_StraySentinelBeforeFrame(t *testing.T) {
	// A lone 0xAA followed by a real frame: the false candidate must cost
	// only the stray byte.
	frame := frameOf(protocol.Message{ID: 0x77, Length: 8, Data: [8]byte{0xAA, 0xAA, 0x69, 0, 0, 0, 0, 0xAA}})
	data := append([]byte{protocol.SOFOuter}, frame...)

	s := New(protocol.DefaultConfig())
	c := &collector{}
	if err := s.Feed(data, c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if len(c.frames) != 1 || !bytes.Equal(c.frames[0], frame) {
		t.Fatalf("frames = % X, want % X", c.frames, frame)
	}
	stats := s.Stats()
	if stats.SentinelMismatches != 1 {
		t.Errorf("SentinelMismatches = %d, want 1", stats.SentinelMismatches)
	}
	if stats.DiscardedBytes != 1 {
		t.Errorf("DiscardedBytes = %d, want 1", stats.DiscardedBytes)
	}
}

func TestFeed_OverflowGuard(t *testing.T) {
	s := New(protocol.DefaultConfig())
	c := &collector{}

	noise := bytes.Repeat([]byte{0x55}, 10*protocol.FrameLen)
	if err := s.Feed(noise, c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if s.Buffered() > 2*protocol.FrameLen {
		t.Errorf("Buffered() = %d, want <= %d", s.Buffered(), 2*protocol.FrameLen)
	}
	if s.Stats().Overflows == 0 {
		t.Errorf("Overflows = 0, want > 0")
	}
	if s.State() != SeekingOuterSOF {
		t.Errorf("State() = %v, want %v", s.State(), SeekingOuterSOF)
	}

	frame := frameOf(protocol.Message{ID: 0x10, Length: 0})
	if err := s.Feed(frame, c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(c.frames) != 1 {
		t.Errorf("emitted %d frames after noise, want 1", len(c.frames))
	}
}

func TestFeed_NoSentinelBelowGuardKeepsBuffer(t *testing.T) {
	s := New(protocol.DefaultConfig())
	noise := bytes.Repeat([]byte{0x01}, 2*protocol.FrameLen)
	if err := s.Feed(noise, (&collector{}).emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if s.Buffered() != len(noise) {
		t.Errorf("Buffered() = %d, want %d", s.Buffered(), len(noise))
	}
	if s.Stats().Overflows != 0 {
		t.Errorf("Overflows = %d, want 0", s.Stats().Overflows)
	}
}

func TestFeed_PartialFrameWaits(t *testing.T) {
	frame := frameOf(protocol.Message{ID: 0x5, Length: 1, Data: [8]byte{0x9}})
	s := New(protocol.DefaultConfig())
	c := &collector{}

	if err := s.Feed(frame[:10], c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(c.frames) != 0 {
		t.Fatalf("emitted %d frames from partial input", len(c.frames))
	}
	if s.State() != AwaitingFullFrame {
		t.Errorf("State() = %v, want %v", s.State(), AwaitingFullFrame)
	}
	if s.Buffered() != 10 {
		t.Errorf("Buffered() = %d, want 10", s.Buffered())
	}

	if err := s.Feed(frame[10:], c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(c.frames) != 1 {
		t.Errorf("emitted %d frames, want 1", len(c.frames))
	}
}

func TestFeed_EmptyInput(t *testing.T) {
	s := New(protocol.DefaultConfig())
	if err := s.Feed(nil, (&collector{}).emit); err != nil {
		t.Errorf("Feed(nil) = %v", err)
	}
	if err := s.Feed([]byte{}, (&collector{}).emit); err != nil {
		t.Errorf("Feed([]) = %v", err)
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", s.Buffered())
	}
}

func TestFeed_EmitErrorStops(t *testing.T) {
	sinkErr := errors.New("sink closed")
	a := frameOf(protocol.Message{ID: 1})
	b := frameOf(protocol.Message{ID: 2})

	s := New(protocol.DefaultConfig())
	calls := 0
	err := s.Feed(append(append([]byte{}, a...), b...), func(frame []byte) error {
		calls++
		return sinkErr
	})

	if !errors.Is(err, sinkErr) {
		t.Fatalf("Feed error = %v, want %v", err, sinkErr)
	}
	if calls != 1 {
		t.Errorf("emit called %d times, want 1", calls)
	}
}

func TestReset(t *testing.T) {
	frame := frameOf(protocol.Message{ID: 0x9})
	s := New(protocol.DefaultConfig())
	c := &collector{}

	if err := s.Feed(frame[:8], c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	s.Reset()
	if s.Buffered() != 0 {
		t.Errorf("Buffered() after Reset = %d, want 0", s.Buffered())
	}

	// The tail of the old frame alone must not produce anything.
	if err := s.Feed(frame[8:], c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(c.frames) != 0 {
		t.Errorf("emitted %d frames after Reset, want 0", len(c.frames))
	}
}

// buildStream mixes valid frames, corrupted frames, stray sentinels and noise.
func buildStream(rng *rand.Rand, n int) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		m := protocol.Message{ID: rng.Uint32() & 0x1FFFFFFF, Length: uint8(rng.IntN(9))}
		for j := range m.Data {
			m.Data[j] = byte(rng.IntN(256))
		}
		f := frameOf(m)

		switch rng.IntN(6) {
		case 0:
			f[1+rng.IntN(protocol.FrameLen-1)] ^= byte(1 + rng.IntN(255))
		case 1:
			out = append(out, protocol.SOFOuter)
		case 2:
			for k := rng.IntN(20); k > 0; k-- {
				out = append(out, byte(rng.IntN(256)))
			}
		}
		out = append(out, f...)
	}
	return out
}

func TestFeed_GranularityIndependent(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	stream := buildStream(rng, 300)

	whole := &collector{}
	if err := New(protocol.DefaultConfig()).Feed(stream, whole.emit); err != nil {
		t.Fatalf("Feed whole: %v", err)
	}
	if len(whole.frames) == 0 {
		t.Fatal("no frames recovered from mixed stream")
	}

	bytewise := &collector{}
	feedBytewise(t, New(protocol.DefaultConfig()), stream, bytewise)

	chunked := &collector{}
	s := New(protocol.DefaultConfig())
	for rest := stream; len(rest) > 0; {
		n := 1 + rng.IntN(64)
		if n > len(rest) {
			n = len(rest)
		}
		if err := s.Feed(rest[:n], chunked.emit); err != nil {
			t.Fatalf("Feed chunk: %v", err)
		}
		if s.Buffered() > 2*protocol.FrameLen {
			t.Fatalf("Buffered() = %d after chunk, want <= %d", s.Buffered(), 2*protocol.FrameLen)
		}
		rest = rest[n:]
	}

	for name, got := range map[string]*collector{"bytewise": bytewise, "chunked": chunked} {
		if len(got.frames) != len(whole.frames) {
			t.Errorf("%s: %d frames, whole-buffer feed gave %d", name, len(got.frames), len(whole.frames))
			continue
		}
		for i := range whole.frames {
			if !bytes.Equal(got.frames[i], whole.frames[i]) {
				t.Errorf("%s: frame %d differs", name, i)
				break
			}
		}
	}
}

func TestFeed_EveryEmittedFrameIsValid(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	stream := buildStream(rng, 200)
	cfg := protocol.DefaultConfig()
	tab := cfg.Table()

	c := &collector{}
	if err := New(cfg).Feed(stream, c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	for i, f := range c.frames {
		if !cfg.Valid(tab, f) {
			t.Errorf("frame %d failed validation: % X", i, f)
		}
	}
}

func TestFeed_CustomLayout(t *testing.T) {
	cfg := protocol.Config{FrameLen: 8, SOFOuter: 0x7E, SOFInner: 0x81, Poly: crc16.PolyCCITT, Init: 0x0000}
	tab := cfg.Table()

	frame := []byte{0x7E, 0x81, 0x01, 0x02, 0x03, 0x04, 0, 0}
	binary.BigEndian.PutUint16(frame[6:], crc16.Checksum(tab, frame[1:6], cfg.Init))

	s := New(cfg)
	c := &collector{}
	data := append([]byte{0x7E, 0x00, 0xAA}, frame...)
	if err := s.Feed(data, c.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if len(c.frames) != 1 || !bytes.Equal(c.frames[0], frame) {
		t.Fatalf("frames = % X, want % X", c.frames, frame)
	}
	if got := s.Stats().DiscardedBytes; got != 3 {
		t.Errorf("DiscardedBytes = %d, want 3", got)
	}

	// The default layout must not accept the custom frame.
	other := &collector{}
	if err := New(protocol.DefaultConfig()).Feed(data, other.emit); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(other.frames) != 0 {
		t.Errorf("default layout emitted %d frames for custom stream", len(other.frames))
	}
}

func TestNew_PanicsOnInvalidConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("New with invalid config did not panic")
		}
	}()
	New(protocol.Config{FrameLen: 2})
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{SeekingOuterSOF, "seeking"},
		{AwaitingFullFrame, "awaiting"},
		{Validating, "validating"},
		{State(9), "State(9)"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.expected {
			t.Errorf("State(%d).String() = %q, want %q", int(tc.state), got, tc.expected)
		}
	}
}
