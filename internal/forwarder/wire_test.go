package forwarder

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := ForwardedSmc{
		FunctionID:  0x32000012,
		X:           [6]uint64{1, 2, 3, 4, 5, 6},
		ShmSnapshot: []byte{0xaa, 0xbb, 0xcc},
	}

	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.FunctionID != want.FunctionID {
		t.Errorf("function id: got %#x want %#x", got.FunctionID, want.FunctionID)
	}
	if got.X != want.X {
		t.Errorf("registers: got %v want %v", got.X, want.X)
	}
	if !bytes.Equal(got.ShmSnapshot, want.ShmSnapshot) {
		t.Errorf("shm snapshot: got %v want %v", got.ShmSnapshot, want.ShmSnapshot)
	}
}

func TestEncodeDecodeEmptySnapshot(t *testing.T) {
	want := ForwardedSmc{FunctionID: 0x32000003, X: [6]uint64{9, 0, 0, 0, 0, 0}}
	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.ShmSnapshot) != 0 {
		t.Errorf("expected no shm snapshot, got %v", got.ShmSnapshot)
	}
	if got.X[0] != 9 {
		t.Errorf("expected x1 9, got %d", got.X[0])
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	want := ForwardedSmc{FunctionID: 0x32000012, X: [6]uint64{1, 2, 3, 4, 5, 6}, ShmSnapshot: []byte("hello")}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.FunctionID != want.FunctionID || string(got.ShmSnapshot) != string(want.ShmSnapshot) {
		t.Errorf("got %#v want %#v", got, want)
	}
}
