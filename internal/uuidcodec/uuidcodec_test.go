package uuidcodec

import "testing"

func TestTrustedAppFilenameFormat(t *testing.T) {
	id := TrustedApp(0x0102030405060708, 0x090a0b0c0d0e0f10)
	name := TrustedAppFilename(id)

	want := "08070605-0403-0201-100f-0e0d0c0b0a09.ta"
	if name != want {
		t.Errorf("expected %q, got %q", want, name)
	}
}

func TestTrustedAppRoundTripsThroughString(t *testing.T) {
	id := TrustedApp(0x1111111111111111, 0x2222222222222222)
	if id.String() == "" {
		t.Fatalf("expected non-empty uuid string")
	}
}

func TestHalvesRoundTripsThroughTrustedApp(t *testing.T) {
	wantA, wantB := uint64(0x0102030405060708), uint64(0x090a0b0c0d0e0f10)
	id := TrustedApp(wantA, wantB)

	gotA, gotB := Halves(id)
	if gotA != wantA || gotB != wantB {
		t.Errorf("Halves(TrustedApp(%#x, %#x)) = (%#x, %#x)", wantA, wantB, gotA, gotB)
	}
}
