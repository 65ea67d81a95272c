package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/can2shark/internal/crc16"
)

// minFrameLen covers two sentinels, one checksummed byte and the CRC.
const minFrameLen = 5

// Config describes a frame layout. It is a value type; copies never share state.
//
// A frame is FrameLen bytes long, starts with SOFOuter and SOFInner, and
// ends with a big-endian CRC over bytes [1, FrameLen-2).
type Config struct {
	FrameLen int
	SOFOuter byte
	SOFInner byte
	Poly     uint16
	Init     uint16
}

// DefaultConfig returns the 17-byte CAN-over-serial layout.
func DefaultConfig() Config {
	return Config{
		FrameLen: FrameLen,
		SOFOuter: SOFOuter,
		SOFInner: SOFInner,
		Poly:     crc16.PolyCCITT,
		Init:     crc16.InitCCITT,
	}
}

// Validate reports whether the layout can describe a frame at all.
func (c Config) Validate() error {
	if c.FrameLen < minFrameLen {
		return fmt.Errorf("frame length %d is below minimum %d", c.FrameLen, minFrameLen)
	}
	if c.SOFOuter == c.SOFInner {
		return fmt.Errorf("outer and inner sentinels must differ (both 0x%02X)", c.SOFOuter)
	}
	return nil
}

// Table returns the CRC lookup table for the layout's polynomial.
func (c Config) Table() *crc16.Table {
	if c.Poly == crc16.PolyCCITT {
		return crc16.CCITTTable()
	}
	return crc16.MakeTable(c.Poly)
}

// Checksum computes the CRC over SOFInner through the last data byte.
func (c Config) Checksum(tab *crc16.Table, frame []byte) uint16 {
	return crc16.Checksum(tab, frame[1:c.FrameLen-CRCLen], c.Init)
}

// Valid checks both sentinels and the trailing CRC of a FrameLen-byte candidate.
func (c Config) Valid(tab *crc16.Table, frame []byte) bool {
	if len(frame) < c.FrameLen {
		return false
	}
	if frame[0] != c.SOFOuter || frame[1] != c.SOFInner {
		return false
	}
	want := binary.BigEndian.Uint16(frame[c.FrameLen-CRCLen : c.FrameLen])
	return c.Checksum(tab, frame) == want
}
