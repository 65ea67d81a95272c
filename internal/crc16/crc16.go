package crc16

// CRC-16/CCITT-FALSE parameters: no reflection, no final XOR.
const (
	PolyCCITT = 0x1021
	InitCCITT = 0xFFFF
)

// Table is a 256-entry lookup table for a non-reflected 16-bit CRC.
type Table [256]uint16

var ccittTable = MakeTable(PolyCCITT)

// MakeTable builds the lookup table for the given polynomial.
// Each entry is the register after shifting the byte value, placed in the
// high byte, through 8 rounds of polynomial division.
func MakeTable(poly uint16) *Table {
	t := new(Table)
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Update folds p into a running CRC register.
func Update(crc uint16, tab *Table, p []byte) uint16 {
	for _, b := range p {
		crc = (crc << 8) ^ tab[byte(crc>>8)^b]
	}
	return crc
}

// Checksum computes the CRC of p starting from initial.
func Checksum(tab *Table, p []byte, initial uint16) uint16 {
	return Update(initial, tab, p)
}

// CCITTFalse returns the CRC-16/CCITT-FALSE of p.
func CCITTFalse(p []byte) uint16 {
	return Update(InitCCITT, ccittTable, p)
}

// CCITTTable returns the shared table for polynomial 0x1021.
func CCITTTable() *Table {
	return ccittTable
}
