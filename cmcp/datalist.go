package cmcp

import "encoding/binary"

// MaxParams bounds the number of items a single DataList may hold.
const MaxParams = 64

// MaxParamBytes bounds the total payload bytes (excluding the 4-byte
// id+length header of each item) a single DataList may hold.
const MaxParamBytes = 64 * 1024

// paramHeaderLen is the encoded size of one item's id+length header.
const paramHeaderLen = 4

// Param is one (id, bytes) entry of a DataList. Its wire length field is
// not stored; it is always len(Bytes).
type Param struct {
	ID    uint16
	Bytes []byte
}

// DataList is an ordered sequence of parameter items with unique ids. A
// DataList built by Parse borrows its items' Bytes slices from the buffer
// passed to Parse; that buffer must outlive the DataList. A DataList built
// with NewDataList and Add owns the slices passed to Add exactly as much as the
// caller owned them; DataList never copies on Add.
type DataList struct {
	items    []Param
	totalLen int // sum of item Bytes lengths, tracked for the MaxParamBytes check
}

// NewDataList returns an empty DataList ready for Add.
func NewDataList() *DataList {
	return &DataList{}
}

// Add appends (id, bytes) to the list. It fails with ErrInvalidArgument if
// id is already present, or ErrCapacity if the list is at MaxParams items
// or would exceed MaxParamBytes total payload.
func (d *DataList) Add(id uint16, bytes []byte) error {
	for _, it := range d.items {
		if it.ID == id {
			return ErrInvalidArgument
		}
	}
	if len(d.items) >= MaxParams {
		return ErrCapacity
	}
	if d.totalLen+len(bytes) > MaxParamBytes {
		return ErrCapacity
	}

	d.items = append(d.items, Param{ID: id, Bytes: bytes})
	d.totalLen += len(bytes)
	return nil
}

// Find returns the bytes stored under id, succeeding only when the stored
// length equals expectedLen exactly; no length coercion is performed, so
// callers that look up typed parameters must assert width.
func (d *DataList) Find(id uint16, expectedLen int) ([]byte, error) {
	for _, it := range d.items {
		if it.ID == id {
			if len(it.Bytes) != expectedLen {
				return nil, ErrLookup
			}
			return it.Bytes, nil
		}
	}
	return nil, ErrLookup
}

// Len returns the number of items currently held.
func (d *DataList) Len() int {
	return len(d.items)
}

// Items returns the list's items in insertion order. The returned slice
// must not be mutated by the caller.
func (d *DataList) Items() []Param {
	return d.items
}

// EncodedLen returns the number of bytes Encode will write:
// sum over items of (4 + len(item.Bytes)).
func (d *DataList) EncodedLen() int {
	n := 0
	for _, it := range d.items {
		n += paramHeaderLen + len(it.Bytes)
	}
	return n
}

// Encode writes the list's items, in insertion order, into buf as
// [id(2) length(2) bytes(length)]*, little-endian. buf must be at least
// EncodedLen() bytes.
func (d *DataList) Encode(buf []byte) {
	off := 0
	for _, it := range d.items {
		binary.LittleEndian.PutUint16(buf[off:], it.ID)
		binary.LittleEndian.PutUint16(buf[off+2:], uint16(len(it.Bytes)))
		copy(buf[off+4:], it.Bytes)
		off += paramHeaderLen + len(it.Bytes)
	}
}

// ParseDataList reads (id, length, bytes) records from buf until fewer
// than 4 bytes remain. If a declared item length would run past the end of
// buf, parsing stops there and returns the well-formed prefix rather than
// an error: a truncated trailing record is indistinguishable from a
// transport that delivered a partial datagram, and the caller has already
// committed to acting on whatever parsed.
//
// The returned DataList borrows buf: every item's Bytes slice is a
// subslice of buf, so buf must outlive the DataList.
func ParseDataList(buf []byte) *DataList {
	d := NewDataList()

	off := 0
	for off+paramHeaderLen <= len(buf) {
		id := binary.LittleEndian.Uint16(buf[off:])
		length := binary.LittleEndian.Uint16(buf[off+2:])
		off += paramHeaderLen

		if off+int(length) > len(buf) {
			break
		}

		d.items = append(d.items, Param{ID: id, Bytes: buf[off : off+int(length)]})
		d.totalLen += int(length)
		off += int(length)
	}

	return d
}
