package checksum

import "testing"

func TestCRC32(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		want uint32
	}{
		{"empty", nil, 0},
		{"empty slice", []byte{}, 0},
		// Standard IEEE check value for "123456789"
		{"check string", []byte("123456789"), 0xCBF43926},
		{"single zero byte", []byte{0x00}, 0xD202EF8D},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := CRC32(tc.data)
			if got != tc.want {
				t.Errorf("CRC32(%q) = %#08x, want %#08x", tc.data, got, tc.want)
			}

			// Determinism
			if again := CRC32(tc.data); again != got {
				t.Errorf("CRC32 not deterministic: %#08x != %#08x", again, got)
			}

			if !Verify(tc.data, tc.want) {
				t.Error("Verify returned false for matching checksum")
			}
			if Verify(tc.data, tc.want+1) {
				t.Error("Verify returned true for mismatched checksum")
			}
		})
	}
}

func TestVerifyRange(t *testing.T) {
	data := []byte("hello, world")
	sum := CRC32(data[:5])

	ok, err := VerifyRange(data, 0, 5, sum)
	if err != nil {
		t.Fatalf("VerifyRange: %v", err)
	}
	if !ok {
		t.Error("expected range checksum to verify")
	}

	if _, err = VerifyRange(data, 0, len(data)+1, sum); err == nil {
		t.Error("expected error for out-of-bounds range")
	}
	if _, err = VerifyRange(data, -1, 5, sum); err == nil {
		t.Error("expected error for negative start")
	}
}

func TestUint32LERoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	if err := PutUint32LE(buf, 4, 0xDEADBEEF); err != nil {
		t.Fatalf("PutUint32LE: %v", err)
	}

	got, err := ReadUint32LE(buf, 4)
	if err != nil {
		t.Fatalf("ReadUint32LE: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("got %#08x, want 0xDEADBEEF", got)
	}

	// Little-endian byte layout
	want := []byte{0xEF, 0xBE, 0xAD, 0xDE}
	for i, b := range want {
		if buf[4+i] != b {
			t.Errorf("buf[%d] = %#02x, want %#02x", 4+i, buf[4+i], b)
		}
	}

	if err = PutUint32LE(buf, 6, 1); err == nil {
		t.Error("expected error writing past end of buffer")
	}
	if _, err = ReadUint32LE(buf, -1); err == nil {
		t.Error("expected error for negative offset")
	}
}
