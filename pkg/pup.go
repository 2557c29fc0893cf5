package pkg

import (
	"encoding/binary"
	"io"
	"log"

	"megpoid.xyz/go/go-psunpack/pkg/inflate"
)

const (
	pupHeaderSize    = 0x20
	pupRecordSize    = 0x20
	ps4PUPMaxEntries = 1000
	ps5PUPMaxEntries = 5000

	pupFlagTable      = 1 << 0
	pupFlagCompressed = 1 << 3
	pupFlagBlocked    = 1 << 11
	pupFlagDigests    = 1 << 16
)

// PUPRecord is one entry record of a PS4 or PS5 update bundle.
type PUPRecord struct {
	Flags            uint32
	Reserved         uint32
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
}

func decodePUPRecord(b []byte) PUPRecord {
	le := binary.LittleEndian
	return PUPRecord{
		Flags:            le.Uint32(b[0x00:]),
		Reserved:         le.Uint32(b[0x04:]),
		Offset:           le.Uint64(b[0x08:]),
		CompressedSize:   le.Uint64(b[0x10:]),
		UncompressedSize: le.Uint64(b[0x18:]),
	}
}

// ID is the symbolic entry id; for a table entry it is the raw index of the
// entry the table describes.
func (r *PUPRecord) ID() uint32 {
	return r.Flags >> 20
}

func (r *PUPRecord) IsTable() bool {
	return r.Flags&pupFlagTable != 0
}

func (r *PUPRecord) IsCompressed() bool {
	return r.Flags&pupFlagCompressed != 0
}

func (r *PUPRecord) IsBlocked() bool {
	return r.Flags&pupFlagBlocked != 0
}

func (r *PUPRecord) HasDigests() bool {
	return r.Flags&pupFlagDigests != 0
}

func (r *PUPRecord) BlockSize() int64 {
	k := (r.Flags >> 12) & 0xF
	return 1 << (12 + k)
}

// isPadding reports records in the reserved id ranges that carry no file.
func (r *PUPRecord) isPadding() bool {
	nibble := r.ID() >> 8
	return nibble == 0x8 || nibble == 0x9 || nibble == 0xF
}

// pupBundle reads the magic-less PS4 and PS5 update bundles.
type pupBundle struct {
	hdr     Header
	format  Format
	records []PUPRecord
	links   map[int]int
	entries []FileEntry
	log     *log.Logger
}

func openPS4PUP(src Source, o *openOptionData) (*pupBundle, error) {
	if src.Size() < pupHeaderSize {
		return nil, newError(MalformedHeader, "ps4 pup header", "container shorter than header")
	}

	buf, err := readAt("ps4 pup header", src, 0, pupHeaderSize)
	if err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	h := &PS4PUPHeader{
		Magic:      le.Uint32(buf[0x00:]),
		Version:    buf[0x04],
		Mode:       buf[0x05],
		Endian:     buf[0x06],
		Attributes: buf[0x07],
		KeyType:    le.Uint32(buf[0x08:]),
		HeaderSize: le.Uint16(buf[0x0C:]),
		MetaSize:   le.Uint16(buf[0x0E:]),
		FileSize:   le.Uint64(buf[0x10:]),
		EntryCount: le.Uint16(buf[0x18:]),
		HashCount:  le.Uint16(buf[0x1A:]),
	}

	if err := validatePUP(src, "ps4 pup header", int(h.EntryCount), ps4PUPMaxEntries, int64(h.HeaderSize), h.FileSize); err != nil {
		return nil, err
	}

	p := &pupBundle{hdr: h, format: FormatPS4PUP, log: o.logger}
	if err := p.load(src, int(h.EntryCount)); err != nil {
		return nil, err
	}

	return p, nil
}

func openPS5PUP(src Source, o *openOptionData) (*pupBundle, error) {
	if src.Size() < pupHeaderSize {
		return nil, newError(MalformedHeader, "ps5 pup header", "container shorter than header")
	}

	buf, err := readAt("ps5 pup header", src, 0, pupHeaderSize)
	if err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	h := &PS5PUPHeader{
		Signature:  le.Uint32(buf[0x00:]),
		Flags:      le.Uint32(buf[0x04:]),
		FileSize:   le.Uint64(buf[0x08:]),
		HeaderSize: le.Uint16(buf[0x10:]),
		Version:    le.Uint16(buf[0x12:]),
		EntryCount: le.Uint16(buf[0x14:]),
		HashCount:  le.Uint16(buf[0x16:]),
	}

	if err := validatePUP(src, "ps5 pup header", int(h.EntryCount), ps5PUPMaxEntries, int64(h.HeaderSize), h.FileSize); err != nil {
		return nil, err
	}

	p := &pupBundle{hdr: h, format: FormatPS5PUP, log: o.logger}
	if err := p.load(src, int(h.EntryCount)); err != nil {
		return nil, err
	}

	return p, nil
}

// validatePUP checks the counts against the container. The 16-bit header
// size field wraps for large PS5 bundles, so the record region is measured
// from the entry count instead.
func validatePUP(src Source, op string, count, max int, headerSize int64, fileSize uint64) error {
	switch {
	case count == 0 || count > max:
		return newError(MalformedHeader, op, "entry count %d out of range", count)
	case headerSize < pupHeaderSize:
		return newError(MalformedHeader, op, "header size 0x%x shorter than fixed header", headerSize)
	case pupHeaderSize+int64(count)*pupRecordSize > src.Size():
		return newError(MalformedHeader, op, "%d records exceed container length 0x%x", count, src.Size())
	case headerSize > src.Size():
		return newError(MalformedHeader, op, "header size 0x%x exceeds container", headerSize)
	case fileSize > uint64(src.Size()):
		return newError(MalformedHeader, op, "file size 0x%x exceeds container length 0x%x", fileSize, src.Size())
	}
	return nil
}

func (p *pupBundle) load(src Source, count int) error {
	raw, err := readRegion("pup records", src, pupHeaderSize, int64(count)*pupRecordSize)
	if err != nil {
		return err
	}

	p.records = make([]PUPRecord, count)
	for i := range p.records {
		p.records[i] = decodePUPRecord(raw[i*pupRecordSize:])
	}

	p.links = blockLinks(p.records)

	for i := range p.records {
		rec := &p.records[i]

		if rec.IsTable() {
			continue
		}

		if rec.isPadding() {
			p.log.Printf("%v: skipping padding record %d (id 0x%03x)", p.format, i, rec.ID())
			continue
		}

		if rec.Offset > maxFieldValue || rec.CompressedSize > maxFieldValue || rec.UncompressedSize > maxFieldValue {
			return newError(MalformedTable, "pup records", "record %d field overflows", i)
		}

		e := FileEntry{
			Index:            len(p.entries),
			TableIndex:       i,
			ID:               uint64(rec.ID()),
			Offset:           int64(rec.Offset),
			Size:             int64(rec.CompressedSize),
			UncompressedSize: int64(rec.UncompressedSize),
			RawFlags:         rec.Flags,
			BlockTable:       -1,
		}

		if rec.IsCompressed() {
			e.Flags |= FlagCompressed
			e.HasUncompressedSize = true
		}

		if rec.IsBlocked() {
			e.Flags |= FlagBlocked
			e.HasUncompressedSize = true
			e.BlockSize = rec.BlockSize()
			if t, ok := p.links[i]; ok {
				e.BlockTable = t
			}
		}

		e.Name = p.name(src, &e)
		p.entries = append(p.entries, e)
	}

	p.log.Printf("%v: %d records, %d listed", p.format, count, len(p.entries))
	return nil
}

func (p *pupBundle) name(src Source, e *FileEntry) string {
	names := ps4PUPNames
	if p.format == FormatPS5PUP {
		names = ps5PUPNames
	}

	if name, ok := names[uint32(e.ID)]; ok {
		return name
	}

	var head []byte
	if !e.IsCompressed() && !e.IsBlocked() && checkRange("peek", src.Size(), e.Offset, 4) == nil {
		head, _ = readAt("peek", src, e.Offset, 4)
	}

	return syntheticName(e.ID, head)
}

func (p *pupBundle) header() Header {
	return p.hdr
}

func (p *pupBundle) list() []FileEntry {
	return p.entries
}

func (p *pupBundle) extract(src Source, e *FileEntry, w io.Writer) error {
	op := "extract " + e.Name

	switch {
	case e.IsBlocked():
		if e.BlockTable < 0 {
			return newError(MalformedTable, op, "no table entry describes record %d", e.TableIndex)
		}

		blocks, err := readBlockTable(src, &p.records[e.BlockTable], BlockCount(e.UncompressedSize, e.BlockSize))
		if err != nil {
			return err
		}

		return reconstructBlocks(op, src, e.Offset, blocks, e.UncompressedSize, e.BlockSize, w)

	case e.IsCompressed():
		if p.format == FormatPS5PUP {
			return newError(UnsupportedSubVariant, op, "compressed entry that is not blocked")
		}

		data, err := readAt(op, src, e.Offset, e.Size)
		if err != nil {
			return err
		}

		if err := inflate.CopyN(w, data, e.UncompressedSize); err != nil {
			return wrapError(MalformedTable, op, err)
		}

		return nil

	default:
		if err := checkRange(op, src.Size(), e.Offset, e.Size); err != nil {
			return err
		}

		return copyPayload(op, w, io.NewSectionReader(src, e.Offset, e.Size), e.Size)
	}
}

func (p *pupBundle) params() map[string]string {
	return nil
}

func (p *pupBundle) wipe() {
	p.records = nil
	p.links = nil
	p.entries = nil
}
