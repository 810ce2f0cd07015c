// Package checksum provides CRC-32 computation and verification over
// calibration image byte ranges.
package checksum

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// CRC32 computes the IEEE CRC-32 of data. The checksum of an empty
// slice is zero.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Verify recomputes the CRC-32 of data and compares it against expected.
func Verify(data []byte, expected uint32) bool {
	return CRC32(data) == expected
}

// VerifyRange recomputes the CRC-32 over data[start:end) and compares it
// against expected. Returns an error if the range is out of bounds.
func VerifyRange(data []byte, start, end int, expected uint32) (bool, error) {
	if start < 0 || end < start || end > len(data) {
		return false, fmt.Errorf("invalid range [%d:%d) for %d bytes", start, end, len(data))
	}
	return CRC32(data[start:end]) == expected, nil
}

// ReadUint32LE reads a little-endian uint32 from data at offset.
// Returns an error if fewer than four bytes are available.
func ReadUint32LE(data []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(data) {
		return 0, fmt.Errorf("checksum field [%d:%d) outside %d bytes", offset, offset+4, len(data))
	}
	return binary.LittleEndian.Uint32(data[offset : offset+4]), nil
}

// PutUint32LE writes v little-endian into data at offset.
// Returns an error if fewer than four bytes are available.
func PutUint32LE(data []byte, offset int, v uint32) error {
	if offset < 0 || offset+4 > len(data) {
		return fmt.Errorf("checksum field [%d:%d) outside %d bytes", offset, offset+4, len(data))
	}
	binary.LittleEndian.PutUint32(data[offset:offset+4], v)
	return nil
}
