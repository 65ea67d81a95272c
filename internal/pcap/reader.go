package pcap

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/bigbag/can2shark/internal/protocol"
)

// Packet is one decoded capture record.
type Packet struct {
	Time    time.Time
	Message protocol.Message
}

// Reader reads SocketCAN captures.
type Reader struct {
	r *pcapgo.Reader
}

// NewReader parses the global header of r and rejects any link type other
// than SocketCAN.
func NewReader(r io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if pr.LinkType() != layers.LinkType(LinkTypeCANSocketCAN) {
		return nil, fmt.Errorf("%w: %d", ErrLinkType, pr.LinkType())
	}
	return &Reader{r: pr}, nil
}

// Next returns the next packet, or io.EOF at the end of the capture.
func (r *Reader) Next() (Packet, error) {
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		return Packet{}, err
	}
	m, err := ParseCANFrame(data)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Time: ci.Timestamp, Message: m}, nil
}

// Format selects the Dump output encoding.
type Format int

const (
	// FormatText prints candump log lines: "(sec.usec) iface ID#DATA".
	FormatText Format = iota
	// FormatCBOR writes a CBOR sequence of DumpRecord values.
	FormatCBOR
)

// DumpRecord is the CBOR representation of a packet.
type DumpRecord struct {
	TimestampMicros int64  `cbor:"ts"`
	ID              uint32 `cbor:"id"`
	Length          uint8  `cbor:"len"`
	Data            []byte `cbor:"data"`
}

// Dump reads a capture from r and writes every packet to w.
// It returns the number of packets written.
func Dump(r io.Reader, w io.Writer, format Format, iface string) (int, error) {
	pr, err := NewReader(r)
	if err != nil {
		return 0, err
	}

	enc := cbor.NewEncoder(w)
	count := 0
	for {
		p, err := pr.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("packet %d: %w", count+1, err)
		}

		switch format {
		case FormatCBOR:
			rec := DumpRecord{
				TimestampMicros: p.Time.UnixMicro(),
				ID:              p.Message.ID,
				Length:          p.Message.Length,
				Data:            p.Message.Payload(),
			}
			if err := enc.Encode(rec); err != nil {
				return count, fmt.Errorf("encode packet %d: %w", count+1, err)
			}
		default:
			if _, err := fmt.Fprintf(w, "(%d.%06d) %s %s\n",
				p.Time.Unix(), p.Time.Nanosecond()/1000, iface, p.Message); err != nil {
				return count, err
			}
		}
		count++
	}
}
