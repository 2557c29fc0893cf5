package pkg

import (
	"encoding/binary"
	"io"
	"log"
)

const (
	ps3PUPHeaderSize = 0x30
	ps3PUPFileSize   = 0x20
	ps3PUPHashSize   = 0x20
	ps3PUPMaxEntries = 1000
)

const ps3PUPMagic uint64 = 0x5343455546000000 // "SCEUF\0\0\0"

type ps3PUPFile struct {
	ID     uint64
	Offset uint64
	Length uint64
}

type ps3PUP struct {
	hdr     PS3PUPHeader
	files   []ps3PUPFile
	entries []FileEntry
	log     *log.Logger
}

func openPS3PUP(src Source, o *openOptionData) (*ps3PUP, error) {
	if src.Size() < ps3PUPHeaderSize {
		return nil, newError(MalformedHeader, "ps3 pup header", "container shorter than header")
	}

	buf, err := readAt("ps3 pup header", src, 0, ps3PUPHeaderSize)
	if err != nil {
		return nil, err
	}

	be := binary.BigEndian
	p := &ps3PUP{log: o.logger}
	h := &p.hdr
	h.Magic = be.Uint64(buf[0x00:])
	h.PackageVersion = be.Uint64(buf[0x08:])
	h.ImageVersion = be.Uint64(buf[0x10:])
	h.FileCount = be.Uint64(buf[0x18:])
	h.HeaderLength = be.Uint64(buf[0x20:])
	h.DataLength = be.Uint64(buf[0x28:])

	size := uint64(src.Size())

	switch {
	case h.Magic != ps3PUPMagic:
		return nil, newError(MalformedHeader, "ps3 pup header", "invalid magic 0x%016x", h.Magic)
	case h.FileCount == 0 || h.FileCount > ps3PUPMaxEntries:
		return nil, newError(MalformedHeader, "ps3 pup header", "file count %d out of range", h.FileCount)
	case h.HeaderLength < ps3PUPHeaderSize+h.FileCount*(ps3PUPFileSize+ps3PUPHashSize):
		return nil, newError(MalformedHeader, "ps3 pup header", "header length 0x%x cannot hold %d files", h.HeaderLength, h.FileCount)
	case h.HeaderLength > size || h.DataLength > size-h.HeaderLength:
		return nil, newError(MalformedHeader, "ps3 pup header",
			"header 0x%x and data 0x%x exceed container length 0x%x", h.HeaderLength, h.DataLength, size)
	}

	if err := p.load(src); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *ps3PUP) load(src Source) error {
	count := int64(p.hdr.FileCount)

	raw, err := readRegion("ps3 pup tables", src, ps3PUPHeaderSize, count*(ps3PUPFileSize+ps3PUPHashSize))
	if err != nil {
		return err
	}

	be := binary.BigEndian
	hashes := raw[count*ps3PUPFileSize:]

	digests := make(map[uint64][]byte, count)
	for i := int64(0); i < count; i++ {
		h := hashes[i*ps3PUPHashSize:]
		digests[be.Uint64(h[0:])] = append([]byte(nil), h[8:28]...)
	}

	p.files = make([]ps3PUPFile, count)
	for i := range p.files {
		b := raw[i*ps3PUPFileSize:]
		f := ps3PUPFile{
			ID:     be.Uint64(b[0x00:]),
			Offset: be.Uint64(b[0x08:]),
			Length: be.Uint64(b[0x10:]),
		}

		if f.Offset > maxFieldValue || f.Length > maxFieldValue {
			return newError(MalformedTable, "ps3 pup tables", "file %d field overflows", i)
		}

		p.files[i] = f

		e := FileEntry{
			Index:      i,
			TableIndex: i,
			ID:         f.ID,
			Offset:     int64(f.Offset),
			Size:       int64(f.Length),
			BlockTable: -1,
			Digest:     digests[f.ID],
		}

		if name, ok := ps3PUPNames[f.ID]; ok {
			e.Name = name
		} else {
			var head []byte
			if checkRange("peek", src.Size(), e.Offset, 4) == nil {
				head, _ = readAt("peek", src, e.Offset, 4)
			}
			e.Name = syntheticName(e.ID, head)
		}

		p.entries = append(p.entries, e)
	}

	p.log.Printf("PS3_PUP: %d files, image version %d", count, p.hdr.ImageVersion)
	return nil
}

func (p *ps3PUP) header() Header {
	return &p.hdr
}

func (p *ps3PUP) list() []FileEntry {
	return p.entries
}

func (p *ps3PUP) extract(src Source, e *FileEntry, w io.Writer) error {
	op := "extract " + e.Name
	if err := checkRange(op, src.Size(), e.Offset, e.Size); err != nil {
		return err
	}

	return copyPayload(op, w, io.NewSectionReader(src, e.Offset, e.Size), e.Size)
}

func (p *ps3PUP) params() map[string]string {
	return nil
}

func (p *ps3PUP) wipe() {
	p.files = nil
	p.entries = nil
}
