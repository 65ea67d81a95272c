// Package pcap encapsulates CAN messages in the libpcap capture format
// with the SocketCAN link type, and reads such captures back.
package pcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bigbag/can2shark/internal/protocol"
)

// libpcap global header fields.
const (
	Magic        = 0xA1B2C3D4
	VersionMajor = 2
	VersionMinor = 4
	SnapLen      = 65535

	// LinkTypeCANSocketCAN is LINKTYPE_CAN_SOCKETCAN: each record is a
	// Linux struct can_frame.
	LinkTypeCANSocketCAN = 227
)

// Sizes in bytes.
const (
	GlobalHeaderLen = 24
	RecordHeaderLen = 16
	CANFrameLen     = 16
	RecordLen       = RecordHeaderLen + CANFrameLen
)

var (
	ErrLinkType   = errors.New("pcap: unsupported link type")
	ErrShortFrame = errors.New("pcap: short can frame")
)

// GlobalHeader returns the 24-byte file header. It never varies.
func GlobalHeader() []byte {
	h := make([]byte, GlobalHeaderLen)
	binary.LittleEndian.PutUint32(h[0:4], Magic)
	binary.LittleEndian.PutUint16(h[4:6], VersionMajor)
	binary.LittleEndian.PutUint16(h[6:8], VersionMinor)
	binary.LittleEndian.PutUint32(h[8:12], 0)  // thiszone
	binary.LittleEndian.PutUint32(h[12:16], 0) // sigfigs
	binary.LittleEndian.PutUint32(h[16:20], SnapLen)
	binary.LittleEndian.PutUint32(h[20:24], LinkTypeCANSocketCAN)
	return h
}

// CANFrame lays m out as a struct can_frame:
//
//	0..3   can_id, little-endian
//	4      length, verbatim
//	5..7   padding (zero)
//	8..15  data, all 8 bytes
func CANFrame(m protocol.Message) [CANFrameLen]byte {
	var b [CANFrameLen]byte
	binary.LittleEndian.PutUint32(b[0:4], m.ID)
	b[4] = m.Length
	copy(b[8:16], m.Data[:])
	return b
}

// ParseCANFrame reverses CANFrame.
func ParseCANFrame(b []byte) (protocol.Message, error) {
	if len(b) < CANFrameLen {
		return protocol.Message{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	m := protocol.Message{
		ID:     binary.LittleEndian.Uint32(b[0:4]),
		Length: b[4],
	}
	copy(m.Data[:], b[8:16])
	return m, nil
}

// Record returns the 32-byte record (header + can_frame) for m captured at ts.
func Record(m protocol.Message, ts time.Time) []byte {
	return AppendRecord(make([]byte, 0, RecordLen), m, ts)
}

// AppendRecord appends the record for m to dst.
func AppendRecord(dst []byte, m protocol.Message, ts time.Time) []byte {
	var hdr [RecordHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(ts.Unix()))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(ts.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(hdr[8:12], CANFrameLen)
	binary.LittleEndian.PutUint32(hdr[12:16], CANFrameLen)

	frame := CANFrame(m)
	dst = append(dst, hdr[:]...)
	return append(dst, frame[:]...)
}
