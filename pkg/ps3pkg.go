package pkg

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"megpoid.xyz/go/go-psunpack/pkg/crypt"
)

const (
	ps3HeaderSize    = 0xC0
	ps3ExtHeaderSize = 0x40
	ps3ItemSize      = 32
	ps3MaxItems      = 100000
	ps3MaxInfoCount  = 0x100
	ps3MaxInfoSize   = 0x10000
	ps3TailSize      = 0x20

	// a decrypted table size at or above this is taken as a wrong key
	ps3TrialLimit = 0x3200000
)

const extHeaderMagic uint32 = 0x7F657874 // "\x7Fext"

type keystreamMode int

const (
	keystreamAES keystreamMode = iota + 1
	keystreamSHA1
)

func (m keystreamMode) String() string {
	switch m {
	case keystreamAES:
		return "AES-CTR"
	case keystreamSHA1:
		return "SHA-1"
	default:
		return "none"
	}
}

type ItemRecord struct {
	FilenameOffset uint32
	FilenameSize   uint32
	DataOffset     uint64
	DataSize       uint64
	Flags          uint32
}

func decodeItemRecord(b []byte) ItemRecord {
	be := binary.BigEndian
	return ItemRecord{
		FilenameOffset: be.Uint32(b[0x00:]),
		FilenameSize:   be.Uint32(b[0x04:]),
		DataOffset:     be.Uint64(b[0x08:]),
		DataSize:       be.Uint64(b[0x10:]),
		Flags:          be.Uint32(b[0x18:]),
	}
}

func (h *ItemRecord) FileType() FileTypeEnum {
	return FileTypeEnum(h.Flags & 0xff)
}

func (h *ItemRecord) KeyType() uint16 {
	flag := h.Flags >> 24 & 0xff
	return uint16(flag)
}

// seekStream is a keystream usable both as a cipher.Stream and at random
// offsets.
type seekStream interface {
	cipher.Stream
	crypt.KeyStream
	Seek(off int64)
}

type ps3Item struct {
	rec ItemRecord
	// alt selects the PS3 key inside PSP and PS1 packages
	alt bool
}

type ps3PKG struct {
	hdr       PS3PKGHeader
	rawHeader []byte
	pkgType   PackageType
	mode      keystreamMode
	main      *crypt.Cipher
	alt       *crypt.Cipher
	tableSize int64
	items     []ps3Item
	entries   []FileEntry
	sfo       map[string]string
	rif       []byte
	log       *log.Logger
}

func openPS3PKG(src Source, o *openOptionData) (*ps3PKG, error) {
	p := &ps3PKG{log: o.logger}

	if err := p.readHeader(src); err != nil {
		return nil, err
	}

	if err := p.readMetadata(src); err != nil {
		return nil, err
	}

	if p.hdr.Meta.SfoOffset > 0 && p.hdr.Meta.SfoSize > 0 {
		raw, err := readAt("ps3 pkg sfo", src, int64(p.hdr.Meta.SfoOffset), int64(p.hdr.Meta.SfoSize))
		if err != nil {
			return nil, err
		}

		p.sfo, err = ParseSFO(raw)
		if err != nil {
			return nil, wrapError(MalformedHeader, "ps3 pkg sfo", err)
		}
	}

	if err := p.setupDecryption(src); err != nil {
		return nil, err
	}

	if err := p.loadLicense(o.license); err != nil {
		return nil, err
	}

	if err := p.readFileIndex(src); err != nil {
		return nil, err
	}

	if p.mode == keystreamAES {
		tag := crypt.CMAC(p.main, p.rawHeader[:0x80])
		p.hdr.CMACMatches = bytes.Equal(tag[:], p.hdr.HeaderCmacHash[:])
	}

	return p, nil
}

func (p *ps3PKG) readHeader(src Source) error {
	if src.Size() < ps3HeaderSize {
		return newError(MalformedHeader, "ps3 pkg header", "container shorter than header")
	}

	buf, err := readAt("ps3 pkg header", src, 0, ps3HeaderSize)
	if err != nil {
		return err
	}

	be := binary.BigEndian
	h := &p.hdr
	h.Magic = be.Uint32(buf[0x00:])
	h.Revision = be.Uint16(buf[0x04:])
	h.Type = be.Uint16(buf[0x06:])
	h.InfoOffset = be.Uint32(buf[0x08:])
	h.InfoCount = be.Uint32(buf[0x0C:])
	h.HeaderSize = be.Uint32(buf[0x10:])
	h.ItemCount = be.Uint32(buf[0x14:])
	h.TotalSize = be.Uint64(buf[0x18:])
	h.DataOffset = be.Uint64(buf[0x20:])
	h.DataSize = be.Uint64(buf[0x28:])
	copy(h.ContentID[:], buf[0x30:])
	copy(h.Digest[:], buf[0x60:])
	copy(h.DataIV[:], buf[0x70:])
	copy(h.HeaderCmacHash[:], buf[0x80:])
	copy(h.HeaderNpdrmSignature[:], buf[0x90:])
	copy(h.HeaderSha1Hash[:], buf[0xB8:])
	p.rawHeader = buf

	if h.Magic != magicPS3PKG {
		return newError(MalformedHeader, "ps3 pkg header", "invalid PKG magic 0x%08x", h.Magic)
	}

	size := uint64(src.Size())

	switch {
	case h.ItemCount == 0:
		return newError(MalformedHeader, "ps3 pkg header", "PKG has no item entries")
	case h.ItemCount > ps3MaxItems:
		return newError(MalformedHeader, "ps3 pkg header", "item count %d exceeds %d", h.ItemCount, ps3MaxItems)
	case h.HeaderSize < ps3HeaderSize || uint64(h.HeaderSize) > size:
		return newError(MalformedHeader, "ps3 pkg header", "header size 0x%x out of range", h.HeaderSize)
	case h.DataOffset > size || h.DataSize > size-h.DataOffset:
		return newError(MalformedHeader, "ps3 pkg header",
			"data region 0x%x+0x%x exceeds container length 0x%x", h.DataOffset, h.DataSize, size)
	case h.TotalSize > size:
		return newError(MalformedHeader, "ps3 pkg header", "total size 0x%x exceeds container length 0x%x", h.TotalSize, size)
	case uint64(h.ItemCount)*ps3ItemSize > h.DataSize:
		return newError(MalformedHeader, "ps3 pkg header", "data region cannot hold %d items", h.ItemCount)
	}

	if h.HeaderSize < ps3HeaderSize+ps3ExtHeaderSize {
		return nil
	}

	ext, err := readAt("ps3 pkg extended header", src, ps3HeaderSize, ps3ExtHeaderSize)
	if err != nil {
		return err
	}

	if be.Uint32(ext[0x00:]) != extHeaderMagic {
		return nil
	}

	h.Extended = &ExtendedHeader{
		Magic:       be.Uint32(ext[0x00:]),
		Unknown1:    be.Uint32(ext[0x04:]),
		HeaderSize:  be.Uint32(ext[0x08:]),
		DataSize:    be.Uint32(ext[0x0C:]),
		DataOffset:  be.Uint32(ext[0x10:]),
		DataType:    be.Uint32(ext[0x14:]),
		PkgDataSize: be.Uint64(ext[0x18:]),
		DataType2:   be.Uint32(ext[0x24:]),
	}

	return nil
}

func (p *ps3PKG) readMetadata(src Source) error {
	h := &p.hdr

	if h.InfoCount > ps3MaxInfoCount {
		return newError(MalformedHeader, "ps3 pkg metadata", "%d metadata records", h.InfoCount)
	}

	pos := int64(h.InfoOffset)

	for i := 0; i < int(h.InfoCount); i++ {
		info, err := readAt("ps3 pkg metadata", src, pos, 8)
		if err != nil {
			return wrapError(MalformedHeader, "ps3 pkg metadata", err)
		}

		infoType := IdentifierType(binary.BigEndian.Uint32(info[0:]))
		infoSize := int64(binary.BigEndian.Uint32(info[4:]))
		if infoSize > ps3MaxInfoSize {
			return newError(MalformedHeader, "ps3 pkg metadata", "record %d is 0x%x bytes", i, infoSize)
		}

		buf, err := readAt("ps3 pkg metadata", src, pos+8, infoSize)
		if err != nil {
			return wrapError(MalformedHeader, "ps3 pkg metadata", err)
		}

		pos += 8 + infoSize

		switch infoType {
		case IdentifierDRMType:
			h.Meta.DrmType = word(buf, 0)
		case IdentifierContentType:
			h.Meta.ContentType = ContentTypeEnum(word(buf, 0))
		case IdentifierPackageFlags:
			h.Meta.PackageFlags = word(buf, 0)
		case IdentifierFileIndexInfo:
			h.Meta.IndexTableOffset = word(buf, 0)
			h.Meta.IndexTableSize = word(buf, 1)
		case IdentifierSFO:
			h.Meta.SfoOffset = word(buf, 0)
			h.Meta.SfoSize = word(buf, 1)
		}
	}

	return nil
}

// word returns the i-th big-endian uint32 of buf, zero when buf is short.
func word(buf []byte, i int) uint32 {
	if len(buf) < 4*(i+1) {
		return 0
	}
	return binary.BigEndian.Uint32(buf[4*i:])
}

func (p *ps3PKG) packageType() (PackageType, error) {
	var pkgType PackageType

	switch p.hdr.Meta.ContentType {
	case ContentTypePS1:
		pkgType = PackageTypePSOne
	case ContentTypePSP:
		fallthrough
	case ContentTypePSPGo:
		fallthrough
	case ContentTypeMinis:
		fallthrough
	case ContentTypeNeoGeo:
		pkgType = PackageTypePSP
	case ContentTypeVitaApp:
		pkgType = PackageTypeVitaApp
	case ContentTypeVitaDLC:
		pkgType = PackageTypeVitaDLC
	case ContentTypePSM1:
		fallthrough
	case ContentTypePSM2:
		pkgType = PackageTypePSM
	default:
		return 0, newError(UnsupportedSubVariant, "ps3 pkg", "unsupported content type: 0x%x", p.hdr.Meta.ContentType)
	}

	if pkgType == PackageTypeVitaApp && p.sfo["CATEGORY"] == "gp" {
		pkgType = PackageTypeVitaPatch
	}

	return pkgType, nil
}

func (p *ps3PKG) setupDecryption(src Source) error {
	h := &p.hdr

	var ctrKey []byte

	switch h.Type {
	case pkgTypePS3:
		p.pkgType = PackageTypePS3
		ctrKey = KeyPS3
	case pkgTypePSP:
		pkgType, err := p.packageType()
		if err != nil {
			return err
		}
		p.pkgType = pkgType

		keyType := 1
		if h.Extended != nil {
			keyType = h.Extended.KeyType()
		}

		var baseKey []byte

		switch keyType {
		case 1:
			ctrKey = KeyPSP
		case 2:
			baseKey = KeyVita2
		case 3:
			baseKey = KeyVita3
		case 4:
			baseKey = KeyVita4
		default:
			return newError(MalformedHeader, "ps3 pkg", "unknown key type: %v", keyType)
		}

		if baseKey != nil {
			// encrypt the iv
			ctrKey = make([]byte, 16)
			if err := AESECBEncrypt(ctrKey, h.DataIV[:], baseKey); err != nil {
				return wrapError(CryptoFailure, "ps3 pkg", err)
			}
		}
	default:
		return newError(MalformedHeader, "ps3 pkg", "unsupported package type: %v", h.Type)
	}

	p.main = crypt.MustCipher(ctrKey)
	p.alt = crypt.MustCipher(KeyPS3)

	head, err := readAt("ps3 pkg table", src, int64(h.DataOffset), ps3ItemSize)
	if err != nil {
		return err
	}

	// Nothing in the header says which keystream protects the table: try
	// AES first and judge the first item's data offset, which is also the
	// size of the table.
	for _, mode := range []keystreamMode{keystreamAES, keystreamSHA1} {
		p.mode = mode

		trial := make([]byte, len(head))
		p.stream(false).XORKeyStream(trial, head)

		size := binary.BigEndian.Uint64(trial[8:16])
		p.log.Printf("ps3 pkg: %v trial table size 0x%x", mode, size)

		if size > 0 && size < ps3TrialLimit {
			p.tableSize = int64(size)
			return nil
		}
	}

	p.mode = 0
	return newError(CryptoFailure, "ps3 pkg", "neither AES nor SHA-1 keystream yields a plausible table")
}

func (p *ps3PKG) stream(alt bool) seekStream {
	switch {
	case p.mode == keystreamSHA1:
		return crypt.NewSHA1CTR(p.hdr.Digest[:])
	case alt:
		return crypt.NewCTR(p.alt, p.hdr.DataIV[:])
	default:
		return crypt.NewCTR(p.main, p.hdr.DataIV[:])
	}
}

func (p *ps3PKG) usesPS3Key(rec *ItemRecord) bool {
	if p.pkgType != PackageTypePSP && p.pkgType != PackageTypePSOne {
		return false
	}
	return rec.KeyType() != EntryTypePSP
}

func (p *ps3PKG) readFileIndex(src Source) error {
	h := &p.hdr
	count := int64(h.ItemCount)
	recordListSize := count * ps3ItemSize

	if p.tableSize < recordListSize || uint64(p.tableSize) > h.DataSize {
		return newError(MalformedTable, "ps3 pkg table",
			"table size 0x%x cannot hold %d items in a 0x%x data region", p.tableSize, count, h.DataSize)
	}

	raw, err := readAt("ps3 pkg table", src, int64(h.DataOffset), p.tableSize)
	if err != nil {
		return err
	}

	records := make([]byte, recordListSize)
	p.stream(false).XORKeyStream(records, raw[:recordListSize])

	p.items = make([]ps3Item, count)
	p.entries = make([]FileEntry, count)

	for idx := range p.items {
		rec := decodeItemRecord(records[idx*ps3ItemSize:])

		nameStart := int64(rec.FilenameOffset)
		nameEnd := nameStart + int64(rec.FilenameSize)
		if nameStart < recordListSize || nameEnd > p.tableSize {
			return newError(MalformedTable, "ps3 pkg table",
				"item %d name 0x%x+0x%x outside the table", idx, rec.FilenameOffset, rec.FilenameSize)
		}

		if rec.DataOffset > maxFieldValue || rec.DataSize > maxFieldValue {
			return newError(MalformedTable, "ps3 pkg table", "item %d data field overflows", idx)
		}

		alt := p.usesPS3Key(&rec)
		name := make([]byte, rec.FilenameSize)
		p.stream(alt).XORKeyStreamAt(name, raw[nameStart:nameEnd], nameStart)

		e := &p.entries[idx]
		e.Index = idx
		e.TableIndex = idx
		e.ID = uint64(idx)
		e.Name = cstring(name)
		e.Offset = int64(h.DataOffset) + int64(rec.DataOffset)
		e.Size = int64(rec.DataSize)
		e.Flags = FlagEncrypted
		e.RawFlags = rec.Flags
		e.BlockTable = -1

		if rec.FileType().IsDirectory() {
			e.Flags |= FlagDirectory
			e.Size = 0
		}

		p.items[idx] = ps3Item{rec: rec, alt: alt}
	}

	p.log.Printf("ps3 pkg: %d items, table 0x%x bytes, %v", count, p.tableSize, p.mode)
	return nil
}

func (p *ps3PKG) header() Header {
	return &p.hdr
}

func (p *ps3PKG) list() []FileEntry {
	return p.entries
}

func (p *ps3PKG) extract(src Source, e *FileEntry, w io.Writer) error {
	if e.IsDir() {
		return nil
	}

	op := "extract " + e.Name
	if err := checkRange(op, src.Size(), e.Offset, e.Size); err != nil {
		return err
	}

	item := &p.items[e.TableIndex]
	if item.rec.DataOffset+item.rec.DataSize > p.hdr.DataSize {
		return newError(OutOfBoundsReference, op, "item exceeds the data region")
	}

	s := p.stream(item.alt)
	s.Seek(int64(item.rec.DataOffset))

	r := cipher.StreamReader{S: s, R: io.NewSectionReader(src, e.Offset, e.Size)}
	return copyPayload(op, w, r, e.Size)
}

func (p *ps3PKG) params() map[string]string {
	return p.sfo
}

func (p *ps3PKG) wipe() {
	p.main = nil
	p.alt = nil
	p.rif = nil
	p.items = nil
	p.entries = nil
}

// verify checks the SHA-1 stored in the first 20 bytes of the package tail
// against the hash of everything before the tail.
func (p *ps3PKG) verify(src Source) (*Checksum, error) {
	total := int64(p.hdr.TotalSize)
	if total < ps3TailSize {
		return nil, newError(MalformedHeader, "ps3 pkg verify", "total size 0x%x has no tail", total)
	}

	hasher := crypt.NewSHA1()
	if _, err := io.Copy(hasher, io.NewSectionReader(src, 0, total-ps3TailSize)); err != nil {
		return nil, wrapError(IncompleteRead, "ps3 pkg verify", err)
	}

	fileHash, err := readAt("ps3 pkg verify", src, total-ps3TailSize, crypt.SHA1Size)
	if err != nil {
		return nil, err
	}

	return &Checksum{Expected: fileHash, Calculated: hasher.Sum(nil)}, nil
}

// headRange is the raw span of the header, metadata and file table.
func (p *ps3PKG) headRange() (int64, int64) {
	return 0, int64(p.hdr.DataOffset) + p.tableSize
}

// tailRange is the raw span after the data region.
func (p *ps3PKG) tailRange() (int64, int64) {
	off := int64(p.hdr.DataOffset + p.hdr.DataSize)
	return off, int64(p.hdr.TotalSize) - off
}

func (p *ps3PKG) loadLicense(rif string) error {
	if len(rif) == 0 || p.pkgType == PackageTypePSOne || p.pkgType == PackageTypePSP || p.pkgType == PackageTypePS3 {
		return nil
	}

	lic, err := DecodeLicense(rif, p.pkgType)
	if err != nil {
		return wrapError(CryptoFailure, "license", err)
	}
	p.rif = lic

	rifid := LicenseContentID(p.rif, p.pkgType)
	cid := p.hdr.GetContentID()

	if rifid != cid {
		return newError(CryptoFailure, "license", "zRIF content ID '%s' doesn't match pkg '%s'", rifid, cid)
	}

	return nil
}

// Region letters inside the title ID. PSP ids carry it third, Vita ids
// fourth.
var (
	pspRegions  = map[byte]string{'U': "USA", 'E': "EUR", 'J': "JPN", 'A': "ASIA", 'H': "ASIA"}
	vitaRegions = map[byte]string{
		'A': "USA", 'E': "USA",
		'B': "EUR", 'F': "EUR",
		'C': "JPN", 'G': "JPN",
		'D': "ASIA", 'H': "ASIA",
	}
)

func (p *ps3PKG) region() string {
	regions, at := pspRegions, 9
	if p.hdr.Extended != nil && p.hdr.Extended.KeyType() != 1 {
		regions, at = vitaRegions, 10
	}

	if r, ok := regions[p.hdr.ContentID[at]]; ok {
		return r
	}
	return "UNK"
}

func (p *ps3PKG) String() string {
	return fmt.Sprintf("PS3 PKG %s (%d items)", p.hdr.GetContentID(), len(p.entries))
}
