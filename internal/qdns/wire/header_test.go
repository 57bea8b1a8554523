package wire

import "testing"

func TestHeaderPackUnpackRoundTrip(t *testing.T) {
	h := Header{
		ID:      0xBEEF,
		QDCount: 1,
		ANCount: 2,
		NSCount: 3,
		ARCount: 4,
	}
	h = h.WithQR(true).WithAA(true).WithTC(false).WithRA(true).WithRCode(3)

	packed := h.Pack()
	if len(packed) != HeaderSize {
		t.Fatalf("Pack() length = %d, want %d", len(packed), HeaderSize)
	}

	got, err := UnpackHeader(packed)
	if err != nil {
		t.Fatalf("UnpackHeader error: %v", err)
	}
	if got != h {
		t.Errorf("round trip = %+v, want %+v", got, h)
	}
	if !got.QR() {
		t.Error("QR bit lost in round trip")
	}
	if got.RCode() != 3 {
		t.Errorf("RCode = %d, want 3", got.RCode())
	}
}

func TestUnpackHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := UnpackHeader(make([]byte, 11)); err == nil {
		t.Fatal("expected error for header shorter than 12 bytes")
	}
}

func TestHeaderPreservesReservedBitsUntouched(t *testing.T) {
	h := Header{Flags: 0x0070} // only the Z bits set
	h2 := h.WithQR(true)
	if h2.Flags&flagZ != flagZ {
		t.Error("WithQR should not clear unrelated Z bits")
	}
}
