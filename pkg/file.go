package pkg

import (
	"bytes"
	"io"
)

// Reader walks the entries of a Package one at a time, in the manner of
// archive/tar: Next advances to the next entry and Read returns its data.
type Reader struct {
	p       *Package
	entries []FileEntry
	idx     int
	current *payloadReader
	err     error
}

func NewReader(p *Package) (*Reader, error) {
	entries, err := p.Entries()
	if err != nil {
		return nil, err
	}

	return &Reader{p: p, entries: entries}, nil
}

func (pr *Reader) Read(b []byte) (int, error) {
	if pr.err != nil {
		return 0, pr.err
	}
	if pr.current == nil {
		return 0, io.EOF
	}

	n, err := pr.current.Read(b)
	if err != nil && err != io.EOF {
		pr.err = err
	}
	return n, err
}

// Next advances to the next entry and returns it, or io.EOF after the last.
// A decode error is returned together with its entry and does not stop the
// walk; the next call moves on.
func (pr *Reader) Next() (*FileEntry, error) {
	if pr.err != nil {
		return nil, pr.err
	}

	pr.current = nil

	if pr.idx >= len(pr.entries) {
		return nil, io.EOF
	}

	entry := &pr.entries[pr.idx]
	pr.idx++

	if entry.IsDir() {
		return entry, nil
	}

	var buf bytes.Buffer
	if err := pr.p.ExtractEntry(entry.Index, &buf); err != nil {
		if err == ErrClosed {
			pr.err = err
		}
		return entry, err
	}

	pr.current = &payloadReader{op: entry.Name, r: &buf, nb: int64(buf.Len())}
	return entry, nil
}

// Remaining returns the number of unread bytes of the current entry.
func (pr *Reader) Remaining() int64 {
	if pr.current == nil {
		// No current file, so no bytes
		return 0
	}
	return pr.current.remaining()
}
