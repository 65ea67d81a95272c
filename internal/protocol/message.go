package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/bigbag/can2shark/internal/crc16"
)

// ErrShortFrame is returned when a raw frame is shorter than FrameLen.
var ErrShortFrame = errors.New("protocol: short frame")

// Frame is a validated 17-byte wire frame.
type Frame [FrameLen]byte

// Message is a decoded CAN message.
//
// Length is the DLC exactly as received. Values above 8 are not rejected;
// Payload treats them as 8.
type Message struct {
	ID     uint32
	Length uint8
	Data   [MaxDataLen]byte
}

// Decode extracts the CAN fields of a validated frame.
func Decode(f Frame) Message {
	m := Message{
		ID:     binary.LittleEndian.Uint32(f[OffsetID : OffsetID+4]),
		Length: f[OffsetDLC],
	}
	copy(m.Data[:], f[OffsetData:OffsetData+MaxDataLen])
	return m
}

// ParseFrame decodes the first FrameLen bytes of raw. It does not check
// sentinels or CRC; the synchronizer has already done that.
func ParseFrame(raw []byte) (Message, error) {
	if len(raw) < FrameLen {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(raw))
	}
	return Decode(Frame(raw[:FrameLen])), nil
}

// EncodeFrame builds the wire frame for m, including sentinels and CRC.
func EncodeFrame(m Message) Frame {
	var f Frame
	f[OffsetSOFOuter] = SOFOuter
	f[OffsetSOFInner] = SOFInner
	binary.LittleEndian.PutUint32(f[OffsetID:OffsetID+4], m.ID)
	f[OffsetDLC] = m.Length
	copy(f[OffsetData:OffsetData+MaxDataLen], m.Data[:])
	binary.BigEndian.PutUint16(f[OffsetCRC:OffsetCRC+CRCLen], crc16.CCITTFalse(f[OffsetSOFInner:OffsetCRC]))
	return f
}

// Payload returns the data bytes covered by Length, capped at 8.
func (m Message) Payload() []byte {
	n := int(m.Length)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return m.Data[:n]
}

// String renders the message in candump notation, e.g. "123#112233".
func (m Message) String() string {
	var sb strings.Builder
	if m.ID > 0x7FF {
		fmt.Fprintf(&sb, "%08X#", m.ID)
	} else {
		fmt.Fprintf(&sb, "%03X#", m.ID)
	}
	for _, b := range m.Payload() {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
