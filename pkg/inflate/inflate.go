// Package inflate expands individually compressed chunks. A chunk is either a
// zlib stream or a bare DEFLATE stream; the zlib header is sniffed.
package inflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

var (
	// ErrSizeMismatch is returned when a chunk does not expand to exactly the
	// expected number of bytes.
	ErrSizeMismatch = errors.New("inflate: decompressed size mismatch")
)

// IsZlibHeader reports whether b1 b2 form a valid zlib header using DEFLATE.
func IsZlibHeader(b1, b2 byte) bool {
	if b1&0x0f != 8 || b1>>4 > 7 {
		return false
	}

	return (uint16(b1)<<8|uint16(b2))%31 == 0
}

// NewReader returns a decompressor for src, choosing zlib or raw DEFLATE.
func NewReader(src []byte) (io.ReadCloser, error) {
	if len(src) >= 2 && IsZlibHeader(src[0], src[1]) {
		return zlib.NewReader(bytes.NewReader(src))
	}

	return flate.NewReader(bytes.NewReader(src)), nil
}

// Expand decompresses src into exactly size bytes.
func Expand(src []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	if err := ExpandTo(dst, src); err != nil {
		return nil, err
	}

	return dst, nil
}

// ExpandTo decompresses src into dst, which must be filled exactly: a short
// stream or a stream with data left over is an error.
func ExpandTo(dst, src []byte) error {
	r, err := NewReader(src)
	if err != nil {
		return fmt.Errorf("inflate: %w", err)
	}

	defer r.Close()

	n, err := io.ReadFull(r, dst)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, n, len(dst))
	}
	if err != nil {
		return fmt.Errorf("inflate: %w", err)
	}

	var extra [1]byte
	m, err := r.Read(extra[:])
	if m > 0 {
		return fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, len(dst))
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("inflate: %w", err)
	}

	return nil
}

// CopyN decompresses src into w and fails unless the stream holds exactly
// size bytes. Unlike Expand it does not hold the output in memory.
func CopyN(w io.Writer, src []byte, size int64) error {
	r, err := NewReader(src)
	if err != nil {
		return fmt.Errorf("inflate: %w", err)
	}

	defer r.Close()

	n, err := io.CopyN(w, r, size)
	if err == io.EOF {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, n, size)
	}
	if err != nil {
		return fmt.Errorf("inflate: %w", err)
	}

	// the zlib reader checks the Adler-32 trailer on this read
	var extra [1]byte
	m, err := r.Read(extra[:])
	if m > 0 {
		return fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, size)
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("inflate: %w", err)
	}

	return nil
}
