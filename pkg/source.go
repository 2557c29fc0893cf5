package pkg

import (
	"errors"
	"io"
	"os"
	"sync"
)

// record fields above this cannot be valid offsets or sizes
const maxFieldValue = 1 << 62

// A Source is random access, read-only container data of a known length.
type Source interface {
	io.ReaderAt
	Size() int64
}

type sizedSource struct {
	io.ReaderAt
	size int64
}

func (s sizedSource) Size() int64 {
	return s.size
}

// NewSource wraps r, whose data is size bytes long.
func NewSource(r io.ReaderAt, size int64) Source {
	return sizedSource{ReaderAt: r, size: size}
}

// seekSource adapts a stream that can only Seek and Read. Reads are
// serialized so views handed to several workers never race on the single
// stream position.
type seekSource struct {
	mu   sync.Mutex
	rs   io.ReadSeeker
	size int64
}

// NewSeekSource measures rs and adapts it to a Source.
func NewSeekSource(rs io.ReadSeeker) (Source, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	return &seekSource{rs: rs, size: size}, nil
}

func (s *seekSource) Size() int64 {
	return s.size
}

func (s *seekSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("pkg: negative offset")
	}
	if off >= s.size {
		return 0, io.EOF
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(s.rs, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

type fileSource struct {
	*os.File
	size int64
}

func (f *fileSource) Size() int64 {
	return f.size
}

func openFileSource(name string) (*fileSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &fileSource{File: f, size: st.Size()}, nil
}

// view returns an independent reader over src with its own position.
func view(src Source) Source {
	return NewSource(io.NewSectionReader(src, 0, src.Size()), src.Size())
}

// checkRange validates that [off, off+n) lies inside a source of size bytes.
func checkRange(op string, size, off, n int64) error {
	if off < 0 || n < 0 || off > size || n > size-off {
		return newError(OutOfBoundsReference, op,
			"range 0x%x+0x%x exceeds container length 0x%x", off, n, size)
	}
	return nil
}

// readAt reads exactly n bytes at off. The range is checked first so nothing
// past the end of the source is ever requested.
func readAt(op string, src Source, off, n int64) ([]byte, error) {
	if err := checkRange(op, src.Size(), off, n); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if err := readFullAt(op, src, buf, off); err != nil {
		return nil, err
	}

	return buf, nil
}

// readRegion is readAt for structural regions such as tables, where a range
// outside the container means the table itself is malformed.
func readRegion(op string, src Source, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off > src.Size() || n > src.Size()-off {
		return nil, newError(MalformedTable, op,
			"region 0x%x+0x%x exceeds container length 0x%x", off, n, src.Size())
	}
	return readAt(op, src, off, n)
}

func readFullAt(op string, src io.ReaderAt, buf []byte, off int64) error {
	got, err := src.ReadAt(buf, off)
	if got == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		return newError(IncompleteRead, op, "read %d of %d bytes at 0x%x", got, len(buf), off)
	}
	return wrapError(IncompleteRead, op, err)
}
