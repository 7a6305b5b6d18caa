package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FragmentHeader is the 4-byte record marking header used on TCP.
// Bit 31 flags the last fragment, bits 0-30 carry the fragment length.
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// ReadFragmentHeader reads one record marking header.
func ReadFragmentHeader(r io.Reader) (*FragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	header := binary.BigEndian.Uint32(buf[:])
	return &FragmentHeader{
		IsLast: header&LastFragmentBit != 0,
		Length: header &^ LastFragmentBit,
	}, nil
}

// ReadRecord reads fragments until the last one and returns the
// reassembled record. A record larger than maxSize is rejected without
// reading its payload.
func ReadRecord(r io.Reader, maxSize int) ([]byte, error) {
	var record []byte
	for {
		header, err := ReadFragmentHeader(r)
		if err != nil {
			return nil, err
		}
		if len(record)+int(header.Length) > maxSize {
			return nil, fmt.Errorf("rpc record of at least %d bytes exceeds limit %d",
				len(record)+int(header.Length), maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read fragment body: %w", err)
		}

		if header.IsLast {
			return record, nil
		}
	}
}

// WriteRecord writes data as a single last fragment.
func WriteRecord(w io.Writer, data []byte) error {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, LastFragmentBit|uint32(len(data)))
	copy(out[4:], data)
	_, err := w.Write(out)
	return err
}
