package pkg

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"io"
	"log"

	"megpoid.xyz/go/go-psunpack/pkg/crypt"
)

const (
	tableRecordSize   = 32
	tablePKGMaxCount  = 100000
	ps4PKGHeaderSize  = 0x420
	ps5PKGHeaderSize  = 0xA0
	entryFlagEncrypt  = 1 << 31
	entryFlagCompress = 1 << 30
)

// TableRecord is one 32-byte record of a PS4 or PS5 package entry table.
type TableRecord struct {
	ID         uint32
	NameOffset uint32
	Flags1     uint32
	Flags2     uint32
	Offset     uint32
	Size       uint32

	raw [tableRecordSize]byte
}

func decodeTableRecord(b []byte) TableRecord {
	be := binary.BigEndian
	r := TableRecord{
		ID:         be.Uint32(b[0x00:]),
		NameOffset: be.Uint32(b[0x04:]),
		Flags1:     be.Uint32(b[0x08:]),
		Flags2:     be.Uint32(b[0x0C:]),
		Offset:     be.Uint32(b[0x10:]),
		Size:       be.Uint32(b[0x14:]),
	}
	copy(r.raw[:], b)
	return r
}

func (r *TableRecord) IsEncrypted() bool {
	return r.Flags1&entryFlagEncrypt != 0
}

func (r *TableRecord) IsCompressed() bool {
	return r.Flags1&entryFlagCompress != 0
}

func (r *TableRecord) KeyIndex() int {
	return int(r.Flags2>>12) & 0xF
}

// tablePKG reads the PS4 and PS5 packages; both share one record layout
// and differ only in their headers.
type tablePKG struct {
	hdr         Header
	format      Format
	records     []TableRecord
	entries     []FileEntry
	hasKey      bool
	keyMaterial []byte
	sfo         map[string]string
	log         *log.Logger
}

func openPS4PKG(src Source, o *openOptionData) (*tablePKG, error) {
	if src.Size() < ps4PKGHeaderSize {
		return nil, newError(MalformedHeader, "ps4 pkg header", "container shorter than header")
	}

	buf, err := readAt("ps4 pkg header", src, 0, ps4PKGHeaderSize)
	if err != nil {
		return nil, err
	}

	be := binary.BigEndian
	h := &PS4PKGHeader{
		Magic:          be.Uint32(buf[0x00:]),
		Type:           be.Uint32(buf[0x04:]),
		FileCount:      be.Uint32(buf[0x0C:]),
		EntryCount:     be.Uint32(buf[0x10:]),
		SCEntryCount:   be.Uint16(buf[0x14:]),
		TableOffset:    be.Uint32(buf[0x18:]),
		EntryDataSize:  be.Uint32(buf[0x1C:]),
		BodyOffset:     be.Uint64(buf[0x20:]),
		BodySize:       be.Uint64(buf[0x28:]),
		ContentOffset:  be.Uint64(buf[0x30:]),
		ContentSize:    be.Uint64(buf[0x38:]),
		DrmType:        be.Uint32(buf[0x70:]),
		ContentType:    be.Uint32(buf[0x74:]),
		ContentFlags:   be.Uint32(buf[0x78:]),
		PromoteSize:    be.Uint32(buf[0x7C:]),
		VersionDate:    be.Uint32(buf[0x80:]),
		VersionHash:    be.Uint32(buf[0x84:]),
		PfsImageOffset: be.Uint64(buf[0x410:]),
		PfsImageSize:   be.Uint64(buf[0x418:]),
	}
	copy(h.ContentID[:], buf[0x40:])
	copy(h.EntriesDigest[:], buf[0x100:])
	copy(h.TableDigest[:], buf[0x140:])

	if h.Magic != magicPS4PKG {
		return nil, newError(MalformedHeader, "ps4 pkg header", "invalid magic 0x%08x", h.Magic)
	}

	size := uint64(src.Size())

	switch {
	case h.EntryCount == 0 || h.EntryCount > tablePKGMaxCount:
		return nil, newError(MalformedHeader, "ps4 pkg header", "entry count %d out of range", h.EntryCount)
	case uint64(h.TableOffset) > size || uint64(h.EntryCount)*tableRecordSize > size-uint64(h.TableOffset):
		return nil, newError(MalformedHeader, "ps4 pkg header",
			"table 0x%x with %d records exceeds container", h.TableOffset, h.EntryCount)
	case h.BodyOffset > size || h.BodySize > size-h.BodyOffset:
		return nil, newError(MalformedHeader, "ps4 pkg header", "body 0x%x+0x%x exceeds container", h.BodyOffset, h.BodySize)
	case h.ContentOffset > size || h.ContentSize > size-h.ContentOffset:
		return nil, newError(MalformedHeader, "ps4 pkg header",
			"content 0x%x+0x%x exceeds container", h.ContentOffset, h.ContentSize)
	case h.PfsImageOffset > size || h.PfsImageSize > size-h.PfsImageOffset:
		return nil, newError(MalformedHeader, "ps4 pkg header",
			"PFS image 0x%x+0x%x exceeds container", h.PfsImageOffset, h.PfsImageSize)
	}

	if h.KeyBlobPresent, err = readKeyBlob(src, &h.KeyBlob); err != nil {
		return nil, err
	}

	p := &tablePKG{hdr: h, format: FormatPS4PKG, log: o.logger}

	raw, err := p.readTable(src, int64(h.TableOffset), int64(h.EntryCount)*tableRecordSize)
	if err != nil {
		return nil, err
	}

	if err := p.load(src, raw, int(h.EntryCount), o); err != nil {
		return nil, err
	}

	return p, nil
}

func openPS5PKG(src Source, o *openOptionData) (*tablePKG, error) {
	if src.Size() < ps5PKGHeaderSize {
		return nil, newError(MalformedHeader, "ps5 pkg header", "container shorter than header")
	}

	buf, err := readAt("ps5 pkg header", src, 0, ps5PKGHeaderSize)
	if err != nil {
		return nil, err
	}

	be := binary.BigEndian
	h := &PS5PKGHeader{
		Magic:        be.Uint32(buf[0x00:]),
		Version:      be.Uint16(buf[0x04:]),
		Flags:        be.Uint16(buf[0x06:]),
		HeaderSize:   be.Uint32(buf[0x08:]),
		EntryCount:   be.Uint32(buf[0x0C:]),
		TableOffset:  be.Uint64(buf[0x10:]),
		TableSize:    be.Uint64(buf[0x18:]),
		BodyOffset:   be.Uint64(buf[0x20:]),
		BodySize:     be.Uint64(buf[0x28:]),
		ContentType:  be.Uint32(buf[0x60:]),
		ContentFlags: be.Uint32(buf[0x64:]),
	}
	copy(h.ContentID[:], buf[0x30:])
	copy(h.TableDigest[:], buf[0x80:])

	if h.Magic != magicPS5PKG {
		return nil, newError(MalformedHeader, "ps5 pkg header", "invalid magic 0x%08x", h.Magic)
	}

	size := uint64(src.Size())

	switch {
	case h.EntryCount == 0 || h.EntryCount > tablePKGMaxCount:
		return nil, newError(MalformedHeader, "ps5 pkg header", "entry count %d out of range", h.EntryCount)
	case uint64(h.HeaderSize) > size:
		return nil, newError(MalformedHeader, "ps5 pkg header", "header size 0x%x exceeds container", h.HeaderSize)
	case h.BodyOffset > size || h.BodySize > size-h.BodyOffset:
		return nil, newError(MalformedHeader, "ps5 pkg header", "body 0x%x+0x%x exceeds container", h.BodyOffset, h.BodySize)
	case h.TableSize < uint64(h.EntryCount)*tableRecordSize:
		return nil, newError(MalformedHeader, "ps5 pkg header", "table size 0x%x cannot hold %d records", h.TableSize, h.EntryCount)
	case h.TableOffset > size || h.TableSize > size-h.TableOffset:
		return nil, newError(MalformedHeader, "ps5 pkg header", "table 0x%x+0x%x exceeds container", h.TableOffset, h.TableSize)
	}

	if h.KeyBlobPresent, err = readKeyBlob(src, &h.KeyBlob); err != nil {
		return nil, err
	}

	p := &tablePKG{hdr: h, format: FormatPS5PKG, log: o.logger}

	raw, err := p.readTable(src, int64(h.TableOffset), int64(h.TableSize))
	if err != nil {
		return nil, err
	}

	digest := crypt.Sum256(raw)
	h.TableDigestMatches = bytes.Equal(digest[:], h.TableDigest[:])
	if !h.TableDigestMatches {
		p.log.Printf("ps5 pkg: table digest mismatch")
	}

	if err := p.load(src, raw, int(h.EntryCount), o); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *tablePKG) readTable(src Source, off, n int64) ([]byte, error) {
	return readRegion(p.format.String()+" table", src, off, n)
}

// load decodes the records, unwraps the key material when an entry needs it
// and names every listed entry.
func (p *tablePKG) load(src Source, raw []byte, count int, o *openOptionData) error {
	p.records = make([]TableRecord, count)

	var names *nameBlob
	encrypted := false

	for i := range p.records {
		rec := decodeTableRecord(raw[i*tableRecordSize:])
		p.records[i] = rec

		if rec.IsEncrypted() {
			encrypted = true
		}

		if rec.ID == nameBlobID {
			data, err := readRegion("entry names", src, int64(rec.Offset), int64(rec.Size))
			if err != nil {
				return err
			}
			names = newNameBlob(data)
		}
	}

	if encrypted && o.rsaKey != nil {
		km, err := unwrapKeyMaterial(src, o.rsaKey, p.log)
		if err != nil {
			return err
		}
		p.keyMaterial = km
		p.hasKey = true
	}

	for i := range p.records {
		rec := &p.records[i]
		if rec.ID < firstListedID {
			continue
		}

		e := FileEntry{
			Index:      len(p.entries),
			TableIndex: i,
			ID:         uint64(rec.ID),
			Offset:     int64(rec.Offset),
			Size:       int64(rec.Size),
			RawFlags:   rec.Flags1,
			BlockTable: -1,
		}

		if rec.IsEncrypted() {
			e.Flags |= FlagEncrypted
		}
		if rec.IsCompressed() {
			e.Flags |= FlagCompressed
		}

		if name, ok := tablePKGName(p.format, rec.ID); ok {
			e.Name = name
		} else if name, ok := names.next(); ok {
			e.Name = name
		} else {
			e.Name = syntheticName(e.ID, p.peek(src, &e))
		}

		p.entries = append(p.entries, e)
	}

	p.log.Printf("%v: %d records, %d listed", p.format, count, len(p.entries))

	p.loadSFO(src)
	return nil
}

// peek returns up to 4 decoded bytes of the payload, or nil when they
// cannot be read.
func (p *tablePKG) peek(src Source, e *FileEntry) []byte {
	n := e.Size
	if n > 4 {
		n = 4
	}

	if e.IsCompressed() || checkRange("peek", src.Size(), e.Offset, n) != nil {
		return nil
	}

	head, err := readAt("peek", src, e.Offset, n)
	if err != nil {
		return nil
	}

	if e.IsEncrypted() {
		s, err := p.stream(&p.records[e.TableIndex])
		if err != nil {
			return nil
		}
		s.XORKeyStream(head, head)
	}

	return head
}

func (p *tablePKG) loadSFO(src Source) {
	for i := range p.entries {
		e := &p.entries[i]
		if e.Name != "sce_sys/param.sfo" {
			continue
		}

		var buf bytes.Buffer
		if err := p.extract(src, e, &buf); err != nil {
			p.log.Printf("%v: param.sfo: %v", p.format, err)
			return
		}

		sfo, err := ParseSFO(buf.Bytes())
		if err != nil {
			p.log.Printf("%v: param.sfo: %v", p.format, err)
			return
		}

		p.sfo = sfo
		return
	}
}

func (p *tablePKG) stream(rec *TableRecord) (*crypt.CTR, error) {
	if !p.hasKey {
		return nil, newError(CryptoFailure, "entry key", "encrypted entry 0x%x (key %d) needs an RSA key", rec.ID, rec.KeyIndex())
	}

	key, iv := entryKey(rec.raw[:], p.keyMaterial)
	block, err := crypt.NewCipher(key)
	if err != nil {
		return nil, wrapError(CryptoFailure, "entry key", err)
	}

	return crypt.NewCTR(block, iv), nil
}

func (p *tablePKG) header() Header {
	return p.hdr
}

func (p *tablePKG) list() []FileEntry {
	return p.entries
}

func (p *tablePKG) extract(src Source, e *FileEntry, w io.Writer) error {
	op := "extract " + e.Name

	if e.IsCompressed() {
		return newError(UnsupportedSubVariant, op, "compressed package entries are not supported")
	}

	if err := checkRange(op, src.Size(), e.Offset, e.Size); err != nil {
		return err
	}

	var r io.Reader = io.NewSectionReader(src, e.Offset, e.Size)

	if e.IsEncrypted() {
		s, err := p.stream(&p.records[e.TableIndex])
		if err != nil {
			return err
		}
		r = cipher.StreamReader{S: s, R: r}
	}

	return copyPayload(op, w, r, e.Size)
}

func (p *tablePKG) params() map[string]string {
	return p.sfo
}

func (p *tablePKG) wipe() {
	for i := range p.keyMaterial {
		p.keyMaterial[i] = 0
	}
	p.keyMaterial = nil
	p.hasKey = false
	p.records = nil
	p.entries = nil
}
