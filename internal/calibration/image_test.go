package calibration

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dpetrenko/drivetrace/internal/checksum"
)

func testImage(t *testing.T, size int) *Image {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return Load(data)
}

func TestLoad(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	img := Load(data)

	if img.Len() != len(data) {
		t.Errorf("Len() = %d, want %d", img.Len(), len(data))
	}
	if img.OriginalChecksum() != checksum.CRC32(data) {
		t.Error("original checksum does not match as-loaded CRC-32")
	}

	// Load copies: mutating the source must not affect the image
	data[0] = 0xFF
	got, err := img.Read(0, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got[0] != 1 {
		t.Error("image shares backing array with caller's slice")
	}
}

func TestModifyRead(t *testing.T) {
	img := testImage(t, 64)

	if err := img.Modify(10, []byte{0xAA, 0xBB, 0xCC}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	got, err := img.Read(10, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("Read returned %x, want aabbcc", got)
	}

	// Read returns a copy, not a window into the buffer
	got[0] = 0x00
	again, _ := img.Read(10, 1)
	if again[0] != 0xAA {
		t.Error("Read returned a live view of the buffer")
	}
}

func TestModifyBoundsLeaveBufferUnchanged(t *testing.T) {
	img := testImage(t, 32)
	before, _ := img.Read(0, img.Len())

	testCases := []struct {
		name   string
		offset int
		values []byte
	}{
		{"negative offset", -1, []byte{1}},
		{"past end", 30, []byte{1, 2, 3}},
		{"offset at end", 32, []byte{1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := img.Modify(tc.offset, tc.values); err == nil {
				t.Fatal("expected validation error")
			}

			after, _ := img.Read(0, img.Len())
			if !bytes.Equal(before, after) {
				t.Error("buffer changed after failed Modify")
			}
		})
	}
}

func TestReadBounds(t *testing.T) {
	img := testImage(t, 16)

	if _, err := img.Read(8, 9); err == nil {
		t.Error("expected error reading past end")
	}
	if _, err := img.Read(-1, 4); err == nil {
		t.Error("expected error for negative offset")
	}
	if _, err := img.Read(0, -1); err == nil {
		t.Error("expected error for negative size")
	}

	got, err := img.Read(0, 16)
	if err != nil {
		t.Fatalf("full-range Read: %v", err)
	}
	if len(got) != 16 {
		t.Errorf("Read returned %d bytes, want 16", len(got))
	}
}

func TestSaveVerifyRoundTrip(t *testing.T) {
	img := testImage(t, 128)
	path := filepath.Join(t.TempDir(), "cal.bin")

	if err := img.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ok, err := img.Verify(DefaultChecksumOffset)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify failed immediately after checksum-updating Save")
	}

	// The saved file must verify on reload
	reloaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if ok, _ = reloaded.Verify(DefaultChecksumOffset); !ok {
		t.Error("reloaded image does not verify")
	}

	// Flipping any byte outside the checksum field breaks verification
	if err = reloaded.Modify(5, []byte{^mustRead(t, reloaded, 5)}); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if ok, _ = reloaded.Verify(DefaultChecksumOffset); ok {
		t.Error("Verify passed after payload byte flip")
	}
}

func TestSaveWithoutChecksumUpdate(t *testing.T) {
	img := testImage(t, 64)
	path := filepath.Join(t.TempDir(), "cal.bin")

	before, _ := img.Read(60, 4)
	if err := img.Save(path, WithoutChecksumUpdate()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	after, _ := img.Read(60, 4)
	if !bytes.Equal(before, after) {
		t.Error("checksum field changed despite WithoutChecksumUpdate")
	}

	saved, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	whole, _ := img.Read(0, img.Len())
	if !bytes.Equal(saved, whole) {
		t.Error("saved file differs from in-memory buffer")
	}
}

func TestSaveCustomChecksumOffset(t *testing.T) {
	img := testImage(t, 64)
	path := filepath.Join(t.TempDir(), "cal.bin")

	if err := img.Save(path, WithChecksumOffset(16)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ok, err := img.Verify(16)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify failed for custom checksum offset")
	}

	// Stored field holds CRC-32 of the preceding bytes, little-endian
	field, _ := img.Read(16, 4)
	head, _ := img.Read(0, 16)
	var want [4]byte
	if err = checksum.PutUint32LE(want[:], 0, checksum.CRC32(head)); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(field, want[:]) {
		t.Errorf("checksum field = %x, want %x", field, want)
	}
}

func TestStoredChecksum(t *testing.T) {
	img := testImage(t, 64)
	path := filepath.Join(t.TempDir(), "cal.bin")

	if err := img.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// The stored field is the CRC-32 of the preceding bytes, which is
	// not the whole-buffer snapshot taken at load time.
	stored, err := img.StoredChecksum(DefaultChecksumOffset)
	if err != nil {
		t.Fatalf("StoredChecksum: %v", err)
	}

	head, _ := img.Read(0, img.Len()-4)
	if want := checksum.CRC32(head); stored != want {
		t.Errorf("StoredChecksum() = %#08x, want %#08x", stored, want)
	}
	if stored == img.OriginalChecksum() {
		t.Error("stored field unexpectedly equals the as-loaded snapshot")
	}

	if _, err = img.StoredChecksum(-100); err == nil {
		t.Error("expected error for unresolvable offset")
	}
}

func TestVerifyOffsets(t *testing.T) {
	img := testImage(t, 8)

	if _, err := img.Verify(-100); err == nil {
		t.Error("expected error for unresolvable negative offset")
	}
	if _, err := img.Verify(6); err == nil {
		t.Error("expected error for field past end")
	}
}

func mustRead(t *testing.T, img *Image, offset int) byte {
	t.Helper()

	b, err := img.Read(offset, 1)
	if err != nil {
		t.Fatalf("Read(%d, 1): %v", offset, err)
	}
	return b[0]
}
