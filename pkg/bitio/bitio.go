// Package bitio is the reference implementation of the bit-level
// reader/writer pair the transport core consumes as a host-provided
// interface (spec §6). Applications may supply their own BitReader/
// BitWriter implementation; this one is big-endian, grows on write, and
// reports buffer overflow as an error rather than panicking, matching the
// teacher's BitStream behavior for reads.
package bitio

import (
	"encoding/binary"
	"errors"
)

// ErrBufferOverflow is returned by every Read* method once the cursor
// would advance past the end of the underlying buffer.
var ErrBufferOverflow = errors.New("bitio: buffer overflow")

// Writer accumulates bytes big-endian. The zero value is ready to use.
type Writer struct {
	data []byte
}

// NewWriter returns an empty Writer with the given capacity hint.
func NewWriter(capHint int) *Writer {
	return &Writer{data: make([]byte, 0, capHint)}
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.data = append(w.data, 1)
	} else {
		w.data = append(w.data, 0)
	}
}

func (w *Writer) WriteU8(v uint8) {
	w.data = append(w.data, v)
}

func (w *Writer) WriteU16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) WriteU32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) WriteU64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) WriteBytes(b []byte) {
	w.data = append(w.data, b...)
}

// Bytes returns the accumulated datagram. The slice is owned by the
// caller from this point on; the Writer should not be reused afterward.
func (w *Writer) Bytes() []byte {
	return w.data
}

func (w *Writer) Len() int { return len(w.data) }

// Reader walks a byte slice big-endian. The zero value is not usable;
// use NewReader.
type Reader struct {
	data   []byte
	offset int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadU8()
	return b != 0, err
}

func (r *Reader) ReadU8() (uint8, error) {
	if r.offset+1 > len(r.data) {
		return 0, ErrBufferOverflow
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, ErrBufferOverflow
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrBufferOverflow
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if r.offset+8 > len(r.data) {
		return 0, ErrBufferOverflow
	}
	v := binary.BigEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrBufferOverflow
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// Remaining returns the remaining length of the payload, including
// whatever the channel and application packet still need to consume.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}
