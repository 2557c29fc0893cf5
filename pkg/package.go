package pkg

import (
	"bytes"
	"io"
	"log"
	"strings"
	"sync"
)

// variant is the format specific half of a Package. Exactly one
// implementation is chosen by Open and kept for the life of the Package.
type variant interface {
	header() Header
	list() []FileEntry
	// extract writes the decoded payload of e, read from src, to w.
	extract(src Source, e *FileEntry, w io.Writer) error
	// params returns the PARAM.SFO values found while opening, if any.
	params() map[string]string
	// wipe drops key material and tables.
	wipe()
}

type verifier interface {
	verify(src Source) (*Checksum, error)
}

// Checksum is the result of Verify.
type Checksum struct {
	Expected   []byte
	Calculated []byte
}

func (c *Checksum) Valid() bool {
	return bytes.Equal(c.Expected, c.Calculated)
}

// Package is an open container. All methods are safe for concurrent use;
// after Close they return ErrClosed.
type Package struct {
	mu     sync.RWMutex
	src    Source
	closer io.Closer
	format Format
	v      variant
	log    *log.Logger
	closed bool

	sfoMu sync.Mutex
	sfo   map[string]string
}

// Open detects the format of src and parses its header and entry table.
// An input that is none of the supported containers fails with
// UnrecognizedFormat; any other error means the container is damaged or
// unsupported and no Package is returned.
func Open(src Source, options ...OpenOption) (*Package, error) {
	o := newOpenOptions(options)

	format, err := DetectSource(src)
	if err != nil {
		return nil, err
	}

	o.logger.Printf("detected %v (%d bytes)", format, src.Size())

	var v variant

	switch format {
	case FormatPS3PKG:
		v, err = openPS3PKG(src, o)
	case FormatPS4PKG:
		v, err = openPS4PKG(src, o)
	case FormatPS5PKG:
		v, err = openPS5PKG(src, o)
	case FormatPS3PUP:
		v, err = openPS3PUP(src, o)
	case FormatPS4PUP:
		v, err = openPS4PUP(src, o)
	case FormatPS5PUP:
		v, err = openPS5PUP(src, o)
	default:
		return nil, newError(UnrecognizedFormat, "open", "no known magic or update bundle header")
	}

	if err != nil {
		return nil, err
	}

	return &Package{src: src, format: format, v: v, log: o.logger}, nil
}

// OpenFile opens the named file; Close closes it.
func OpenFile(name string, options ...OpenOption) (*Package, error) {
	f, err := openFileSource(name)
	if err != nil {
		return nil, err
	}

	p, err := Open(f, options...)
	if err != nil {
		f.Close()
		return nil, err
	}

	p.closer = f
	return p, nil
}

// Close discards key material and tables and closes the file opened by
// OpenFile.
func (p *Package) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	p.closed = true
	p.v.wipe()
	p.v = nil

	if p.closer != nil {
		return p.closer.Close()
	}

	return nil
}

func (p *Package) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Format returns the detected format, FormatUnknown once closed.
func (p *Package) Format() Format {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return FormatUnknown
	}
	return p.format
}

func (p *Package) Header() (Header, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}
	return p.v.header(), nil
}

// Entries returns a copy of the listed entries in table order.
func (p *Package) Entries() ([]FileEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	entries := p.v.list()
	out := make([]FileEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ExtractEntry decodes entry index and writes it to w. The payload is
// decoded completely before the first write, so a failing entry leaves w
// untouched.
func (p *Package) ExtractEntry(index int, w io.Writer) error {
	return p.extractEntry(p.src, index, w)
}

func (p *Package) extractEntry(src Source, index int, w io.Writer) error {
	var buf bytes.Buffer

	if err := p.decode(src, index, &buf); err != nil {
		return err
	}

	_, err := buf.WriteTo(w)
	return err
}

func (p *Package) decode(src Source, index int, w io.Writer) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	entries := p.v.list()
	if index < 0 || index >= len(entries) {
		return newError(OutOfBoundsReference, "extract", "no entry %d in %d entries", index, len(entries))
	}

	e := entries[index]
	return p.v.extract(src, &e, w)
}

// SFO returns the PARAM.SFO values of the package. When the header does not
// point at one, the first entry named PARAM.SFO is decoded instead.
func (p *Package) SFO() (map[string]string, error) {
	p.sfoMu.Lock()
	defer p.sfoMu.Unlock()

	if p.isClosed() {
		return nil, ErrClosed
	}

	if p.sfo == nil {
		sfo, err := p.loadSFO()
		if err != nil {
			return nil, err
		}
		p.sfo = sfo
	}

	out := make(map[string]string, len(p.sfo))
	for k, v := range p.sfo {
		out[k] = v
	}
	return out, nil
}

func (p *Package) loadSFO() (map[string]string, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	params := p.v.params()
	entries := p.v.list()
	p.mu.RUnlock()

	if params != nil {
		return params, nil
	}

	for i := range entries {
		if !strings.EqualFold(entries[i].BaseName(), "PARAM.SFO") {
			continue
		}

		var buf bytes.Buffer
		if err := p.ExtractEntry(i, &buf); err != nil {
			return nil, err
		}

		return readSFO(&buf)
	}

	return map[string]string{}, nil
}

// Verify recomputes the whole package checksum where the format stores one.
func (p *Package) Verify() (*Checksum, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	v, ok := p.v.(verifier)
	if !ok {
		return nil, newError(UnsupportedSubVariant, "verify", "%v carries no package checksum", p.format)
	}

	return v.verify(p.src)
}

// PackageType returns the content class of a PS3 format package, 0 for
// every other format.
func (p *Package) PackageType() PackageType {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if ps3, ok := p.v.(*ps3PKG); ok {
		return ps3.pkgType
	}
	return 0
}

func (p *Package) GetTitle() string {
	sfo, err := p.SFO()
	if err != nil {
		return ""
	}

	title, exists := sfo["TITLE"]
	if !exists {
		title = sfo["STITLE"]
	}

	return title
}

func (p *Package) GetTitleID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ""
	}

	if ps3, ok := p.v.(*ps3PKG); ok {
		return ps3.hdr.GetTitleID()
	}

	if id := p.v.header().GetContentID(); len(id) >= 16 {
		return id[7:16]
	}

	return ""
}

func (p *Package) GetRegion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if ps3, ok := p.v.(*ps3PKG); ok {
		return ps3.region()
	}
	return "UNK"
}
