package comm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShortBuffer is returned when a read runs past the end of the buffer.
	// It means pack and unpack disagree on the field order of a round.
	ErrShortBuffer = errors.New("comm: read past end of message buffer")
	// ErrTrailingData is returned when unpack leaves unread bytes behind.
	ErrTrailingData = errors.New("comm: unread data left in message buffer")
)

// MessageBuffer is a write-then-read FIFO byte stream. Values come back out
// in exactly the order they were written; nothing is tagged or reordered.
type MessageBuffer struct {
	data []byte
	pos  int
}

// NewMessageBuffer wraps data for reading. A nil slice gives an empty buffer
// ready for writing.
func NewMessageBuffer(data []byte) *MessageBuffer {
	return &MessageBuffer{data: data}
}

// WriteInt appends v as a little endian int64
func (b *MessageBuffer) WriteInt(v int) {
	b.data = binary.LittleEndian.AppendUint64(b.data, uint64(int64(v)))
}

// WriteFloat64 appends the IEEE-754 bits of v
func (b *MessageBuffer) WriteFloat64(v float64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, math.Float64bits(v))
}

// WriteBytes appends p without a length prefix
func (b *MessageBuffer) WriteBytes(p []byte) {
	b.data = append(b.data, p...)
}

// WriteString appends the length of s followed by its raw bytes
func (b *MessageBuffer) WriteString(s string) {
	b.WriteInt(len(s))
	b.data = append(b.data, s...)
}

// ReadInt consumes one value written by WriteInt
func (b *MessageBuffer) ReadInt() (int, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return int(int64(binary.LittleEndian.Uint64(p))), nil
}

// ReadFloat64 consumes one value written by WriteFloat64
func (b *MessageBuffer) ReadFloat64() (float64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(p)), nil
}

// ReadBytes consumes n raw bytes. The returned slice aliases the buffer.
func (b *MessageBuffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative byte count %d: %w", n, ErrShortBuffer)
	}
	return b.next(n)
}

// ReadString consumes one value written by WriteString
func (b *MessageBuffer) ReadString() (string, error) {
	n, err := b.ReadInt()
	if err != nil {
		return "", err
	}
	p, err := b.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func (b *MessageBuffer) next(n int) ([]byte, error) {
	if n < 0 || n > len(b.data)-b.pos {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w",
			n, b.pos, len(b.data)-b.pos, ErrShortBuffer)
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

// Bytes returns everything written so far, including any already read part
func (b *MessageBuffer) Bytes() []byte {
	return b.data
}

// Remaining returns the number of unread bytes
func (b *MessageBuffer) Remaining() int {
	return len(b.data) - b.pos
}

// Size returns the total number of bytes held
func (b *MessageBuffer) Size() int {
	return len(b.data)
}

// Reset empties the buffer for reuse
func (b *MessageBuffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

// CheckConsumed reports ErrTrailingData if any bytes were left unread
func (b *MessageBuffer) CheckConsumed() error {
	if r := b.Remaining(); r != 0 {
		return fmt.Errorf("%d bytes left: %w", r, ErrTrailingData)
	}
	return nil
}
