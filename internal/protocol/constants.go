package protocol

// Wire frame sentinels. SOFOuter only marks a possible frame start;
// SOFInner confirms it and is covered by the CRC.
const (
	SOFOuter = 0xAA
	SOFInner = 0x69
)

// Wire frame layout:
//
//	[0xAA][0x69][ID:4 LE][LEN:1][DATA:8][CRC16:2 BE]
const (
	FrameLen = 17

	OffsetSOFOuter = 0
	OffsetSOFInner = 1
	OffsetID       = 2
	OffsetDLC      = 6
	OffsetData     = 7
	OffsetCRC      = 15

	CRCLen     = 2
	MaxDataLen = 8
)

// Default serial speed used by the capture device.
const DefaultBaudRate = 115200
