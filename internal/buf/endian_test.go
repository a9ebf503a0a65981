package buf

import "testing"

func TestEndianHelpers(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}

	if got := U16LE(data); got != 0x2301 {
		t.Fatalf("U16LE = 0x%x, want 0x2301", got)
	}
	if got := U32LE(data); got != 0x67452301 {
		t.Fatalf("U32LE = 0x%x, want 0x67452301", got)
	}
	if got := U64LE(data); got != 0xefcdab8967452301 {
		t.Fatalf("U64LE = 0x%x, want 0xefcdab8967452301", got)
	}
	if got := U16BE(data); got != 0x0123 {
		t.Fatalf("U16BE = 0x%x, want 0x0123", got)
	}
	if got := U32BE(data); got != 0x01234567 {
		t.Fatalf("U32BE = 0x%x, want 0x01234567", got)
	}
	if got := U64BE(data); got != 0x0123456789abcdef {
		t.Fatalf("U64BE = 0x%x, want 0x0123456789abcdef", got)
	}

	short := []byte{0xAA}
	if U16LE(short) != 0 || U16BE(short) != 0 {
		t.Fatalf("U16 short reads should be 0")
	}
	if U32LE(short) != 0 || U32BE(short) != 0 || U64LE(short) != 0 || U64BE(short) != 0 {
		t.Fatalf("short reads should return 0")
	}
}

func TestPutHelpers(t *testing.T) {
	b := make([]byte, 4)

	PutU16LE(b, 0xbeef)
	if b[0] != 0xef || b[1] != 0xbe {
		t.Fatalf("PutU16LE wrote % x", b[:2])
	}
	PutU16BE(b, 0xbeef)
	if b[0] != 0xbe || b[1] != 0xef {
		t.Fatalf("PutU16BE wrote % x", b[:2])
	}
	PutU32LE(b, 0x46535000)
	if got := U32LE(b); got != 0x46535000 {
		t.Fatalf("PutU32LE round trip = 0x%x", got)
	}
	PutU32BE(b, 0xbcadadbc)
	if got := U32BE(b); got != 0xbcadadbc {
		t.Fatalf("PutU32BE round trip = 0x%x", got)
	}
}

func TestUintBE(t *testing.T) {
	tests := []struct {
		name   string
		in     []byte
		want   uint64
		wantOk bool
	}{
		{"empty", nil, 0, true},
		{"one byte", []byte{0x7f}, 0x7f, true},
		{"four bytes", []byte{0x00, 0x00, 0x01, 0x00}, 0x100, true},
		{"eight bytes", []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0x0102030405060708, true},
		{"too wide", make([]byte, 9), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := UintBE(tt.in)
			if ok != tt.wantOk || got != tt.want {
				t.Errorf("UintBE() = (%#x, %v), want (%#x, %v)", got, ok, tt.want, tt.wantOk)
			}
		})
	}
}
