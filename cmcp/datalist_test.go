package cmcp

import (
	"bytes"
	"errors"
	"testing"
)

func TestDataListAddAndFind(t *testing.T) {
	d := NewDataList()

	if err := d.Add(1, []byte("hello")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := d.Add(2, []byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := d.Find(1, 5)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Find: got %v, want %q", got, "hello")
	}
}

func TestDataListAddDuplicateID(t *testing.T) {
	d := NewDataList()
	mustAdd(t, d, 1, []byte("a"))

	if err := d.Add(1, []byte("b")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Add duplicate: got %v, want ErrInvalidArgument", err)
	}
}

func TestDataListFindWrongLength(t *testing.T) {
	d := NewDataList()
	mustAdd(t, d, 1, []byte("hello"))

	if _, err := d.Find(1, 4); !errors.Is(err, ErrLookup) {
		t.Fatalf("Find wrong length: got %v, want ErrLookup", err)
	}
}

func TestDataListFindMissing(t *testing.T) {
	d := NewDataList()
	if _, err := d.Find(9, 0); !errors.Is(err, ErrLookup) {
		t.Fatalf("Find missing: got %v, want ErrLookup", err)
	}
}

func TestDataListCapacityItems(t *testing.T) {
	d := NewDataList()
	for i := 0; i < MaxParams; i++ {
		if err := d.Add(uint16(i), nil); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if err := d.Add(uint16(MaxParams), nil); !errors.Is(err, ErrCapacity) {
		t.Fatalf("Add past MaxParams: got %v, want ErrCapacity", err)
	}
}

func TestDataListCapacityBytes(t *testing.T) {
	d := NewDataList()
	if err := d.Add(1, make([]byte, MaxParamBytes+1)); !errors.Is(err, ErrCapacity) {
		t.Fatalf("Add over MaxParamBytes: got %v, want ErrCapacity", err)
	}
}

func TestDataListEncodeParseRoundTrip(t *testing.T) {
	d := NewDataList()
	mustAdd(t, d, 1, []byte("abc"))
	mustAdd(t, d, 2, []byte{})
	mustAdd(t, d, 3, []byte{0x01, 0x02, 0x03, 0x04})

	buf := make([]byte, d.EncodedLen())
	d.Encode(buf)

	parsed := ParseDataList(buf)
	if parsed.Len() != d.Len() {
		t.Fatalf("Len after round trip: got %d, want %d", parsed.Len(), d.Len())
	}

	got, err := parsed.Find(3, 4)
	if err != nil {
		t.Fatalf("Find after round trip: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("Find after round trip: got %v", got)
	}
}

func TestParseDataListTruncatedTrailingRecordStopsSilently(t *testing.T) {
	full := NewDataList()
	mustAdd(t, full, 1, []byte("ok"))
	mustAdd(t, full, 2, []byte("truncated"))

	buf := make([]byte, full.EncodedLen())
	full.Encode(buf)

	parsed := ParseDataList(buf[:len(buf)-3])
	if parsed.Len() != 1 {
		t.Fatalf("Len on truncated buffer: got %d, want 1", parsed.Len())
	}
	if _, err := parsed.Find(1, 2); err != nil {
		t.Fatalf("Find well-formed prefix: %v", err)
	}
}

func mustAdd(t *testing.T, d *DataList, id uint16, bytes []byte) {
	t.Helper()
	if err := d.Add(id, bytes); err != nil {
		t.Fatalf("Add(%d): %v", id, err)
	}
}
