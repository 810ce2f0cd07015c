// Package calibration implements an in-memory editor for ECU calibration
// binaries. An image is a fixed-length byte buffer with an embedded
// checksum field; every edit is bounds-checked before any byte changes.
package calibration

import (
	"fmt"
	"os"

	"github.com/dpetrenko/drivetrace/internal/checksum"
)

// DefaultChecksumOffset addresses the customary checksum field location:
// the last four bytes of the image, little-endian CRC-32.
const DefaultChecksumOffset = -4

// Image is a mutable calibration binary. The buffer length is fixed for
// the lifetime of the image; all operations overwrite in place, none
// insert or delete. An Image is owned by a single editing session and is
// not safe for concurrent use.
type Image struct {
	data             []byte
	originalChecksum uint32
}

// Load creates an image from raw bytes, snapshotting the as-loaded
// CRC-32 of the full buffer. The checksum is recorded, not validated;
// images with a stale embedded checksum load fine and fail Verify.
func Load(data []byte) *Image {
	buf := make([]byte, len(data))
	copy(buf, data)

	return &Image{
		data:             buf,
		originalChecksum: checksum.CRC32(buf),
	}
}

// LoadFile reads path and loads its contents as an image.
func LoadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration binary: %w", err)
	}
	return Load(data), nil
}

// Len returns the fixed buffer length.
func (img *Image) Len() int {
	return len(img.data)
}

// OriginalChecksum returns the CRC-32 snapshot taken at load time.
func (img *Image) OriginalChecksum() uint32 {
	return img.originalChecksum
}

// StoredChecksum returns the value currently embedded in the checksum
// field at checksumOffset (negative offsets resolve from the end).
func (img *Image) StoredChecksum(checksumOffset int) (uint32, error) {
	offset, err := img.resolveOffset(checksumOffset)
	if err != nil {
		return 0, err
	}
	return checksum.ReadUint32LE(img.data, offset)
}

// Modify overwrites len(values) bytes starting at offset. Bounds are
// validated before anything is written: on error the buffer is unchanged
// byte for byte. Byte values are range-safe by type; callers parsing
// user input must reject values outside [0,255] before building the
// slice.
func (img *Image) Modify(offset int, values []byte) error {
	if err := img.checkRange(offset, len(values)); err != nil {
		return err
	}

	copy(img.data[offset:], values)
	return nil
}

// Read returns a copy of size bytes starting at offset.
func (img *Image) Read(offset, size int) ([]byte, error) {
	if err := img.checkRange(offset, size); err != nil {
		return nil, err
	}

	out := make([]byte, size)
	copy(out, img.data[offset:])
	return out, nil
}

// SaveOption configures Save.
type SaveOption func(*saveConfig)

type saveConfig struct {
	updateChecksum bool
	checksumOffset int
}

// WithoutChecksumUpdate writes the buffer as-is, leaving the embedded
// checksum field untouched.
func WithoutChecksumUpdate() SaveOption {
	return func(c *saveConfig) {
		c.updateChecksum = false
	}
}

// WithChecksumOffset sets the checksum field offset. Negative offsets
// resolve relative to the buffer length, so -4 addresses the last four
// bytes.
func WithChecksumOffset(offset int) SaveOption {
	return func(c *saveConfig) {
		c.checksumOffset = offset
	}
}

// Save writes the image to path with mode 0644. Unless disabled, it
// first recomputes the CRC-32 over the bytes preceding the checksum
// field and overwrites the field little-endian.
//
// Note the side effect: updating the checksum mutates the in-memory
// buffer, so a subsequent Read of the field returns the new value even
// if the file write itself fails.
func (img *Image) Save(path string, opts ...SaveOption) error {
	cfg := saveConfig{
		updateChecksum: true,
		checksumOffset: DefaultChecksumOffset,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.updateChecksum {
		offset, err := img.resolveOffset(cfg.checksumOffset)
		if err != nil {
			return err
		}

		sum := checksum.CRC32(img.data[:offset])
		if err := checksum.PutUint32LE(img.data, offset, sum); err != nil {
			return err
		}
	}

	if err := os.WriteFile(path, img.data, 0644); err != nil {
		return fmt.Errorf("writing calibration binary: %w", err)
	}
	return nil
}

// Verify extracts the stored checksum at checksumOffset (negative
// offsets resolve from the end) and compares it against the CRC-32 of
// the preceding bytes.
func (img *Image) Verify(checksumOffset int) (bool, error) {
	offset, err := img.resolveOffset(checksumOffset)
	if err != nil {
		return false, err
	}

	stored, err := checksum.ReadUint32LE(img.data, offset)
	if err != nil {
		return false, err
	}

	return checksum.Verify(img.data[:offset], stored), nil
}

func (img *Image) checkRange(offset, size int) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	if size < 0 {
		return fmt.Errorf("negative size %d", size)
	}
	if offset+size > len(img.data) {
		return fmt.Errorf("range [%d:%d) outside image of %d bytes", offset, offset+size, len(img.data))
	}
	return nil
}

func (img *Image) resolveOffset(offset int) (int, error) {
	if offset < 0 {
		offset += len(img.data)
	}
	if offset < 0 || offset+4 > len(img.data) {
		return 0, fmt.Errorf("checksum field at %d outside image of %d bytes", offset, len(img.data))
	}
	return offset, nil
}
