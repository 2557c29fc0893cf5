package pkg

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zlib"

	"megpoid.xyz/go/go-psunpack/pkg/crypt"
)

const testContentID = "UP0000-NPUB00001_00-TESTPACKAGE00001"

func newMemSource(b []byte) Source {
	return NewSource(bytes.NewReader(b), int64(len(b)))
}

func align16(n int) int {
	return (n + 15) &^ 15
}

func zlibBytes(data []byte) []byte {
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	w.Write(data)
	w.Close()
	return b.Bytes()
}

// pattern returns n bytes that compress well but are not all equal.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i/64)
	}
	return b
}

// buildSFO encodes values as a PARAM.SFO. Values that parse as integers are
// stored as integers, everything else as NUL-terminated UTF-8.
func buildSFO(values map[string]string) []byte {
	le := binary.LittleEndian

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var keyTable, dataTable bytes.Buffer
	index := make([]byte, len(keys)*sfoIndexSize)

	for i, k := range keys {
		rec := index[i*sfoIndexSize:]
		le.PutUint16(rec[0:], uint16(keyTable.Len()))
		le.PutUint32(rec[12:], uint32(dataTable.Len()))

		keyTable.WriteString(k)
		keyTable.WriteByte(0)

		if n, err := strconv.Atoi(values[k]); err == nil {
			le.PutUint16(rec[2:], integer)
			le.PutUint32(rec[4:], 4)
			le.PutUint32(rec[8:], 4)
			var v [4]byte
			le.PutUint32(v[:], uint32(n))
			dataTable.Write(v[:])
			continue
		}

		v := values[k] + "\x00"
		le.PutUint16(rec[2:], utf8)
		le.PutUint32(rec[4:], uint32(len(v)))
		le.PutUint32(rec[8:], uint32(align16(len(v))))
		dataTable.WriteString(v)
		dataTable.Write(make([]byte, align16(len(v))-len(v)))
	}

	for keyTable.Len()%4 != 0 {
		keyTable.WriteByte(0)
	}

	keyOffset := sfoHeaderSize + len(index)
	dataOffset := keyOffset + keyTable.Len()

	out := make([]byte, sfoHeaderSize, dataOffset+dataTable.Len())
	copy(out, sfoMagic[:])
	le.PutUint32(out[0x04:], 0x101)
	le.PutUint32(out[0x08:], uint32(keyOffset))
	le.PutUint32(out[0x0C:], uint32(dataOffset))
	le.PutUint32(out[0x10:], uint32(len(keys)))

	out = append(out, index...)
	out = append(out, keyTable.Bytes()...)
	out = append(out, dataTable.Bytes()...)
	return out
}

type testItem struct {
	name string
	data []byte
	dir  bool
}

type ps3Build struct {
	sha1   bool
	items  []testItem
	digest [16]byte
	iv     [16]byte
}

const testPS3DataOffset = 0x100

// buildPS3PKG lays out a PS3 type package: header, empty metadata, then one
// encrypted data region holding the item records, names and payloads.
func buildPS3PKG(b ps3Build) []byte {
	be := binary.BigEndian
	n := len(b.items)

	pos := n * ps3ItemSize
	nameOffs := make([]int, n)
	for i, it := range b.items {
		nameOffs[i] = pos
		pos += align16(len(it.name))
	}
	tableSize := align16(pos)

	pos = tableSize
	dataOffs := make([]int, n)
	for i, it := range b.items {
		dataOffs[i] = pos
		pos += align16(len(it.data))
	}
	dataSize := pos

	region := make([]byte, dataSize)
	for i, it := range b.items {
		r := region[i*ps3ItemSize:]
		be.PutUint32(r[0x00:], uint32(nameOffs[i]))
		be.PutUint32(r[0x04:], uint32(len(it.name)))
		be.PutUint64(r[0x08:], uint64(dataOffs[i]))
		be.PutUint64(r[0x10:], uint64(len(it.data)))
		if it.dir {
			be.PutUint32(r[0x18:], uint32(FileTypeDirectory))
		} else {
			be.PutUint32(r[0x18:], 3)
		}
		copy(region[nameOffs[i]:], it.name)
		copy(region[dataOffs[i]:], it.data)
	}

	if b.sha1 {
		crypt.NewSHA1CTR(b.digest[:]).XORKeyStream(region, region)
	} else {
		crypt.NewCTR(crypt.MustCipher(KeyPS3), b.iv[:]).XORKeyStream(region, region)
	}

	total := testPS3DataOffset + dataSize + ps3TailSize
	out := make([]byte, total)
	be.PutUint32(out[0x00:], magicPS3PKG)
	be.PutUint16(out[0x04:], 0x8000)
	be.PutUint16(out[0x06:], pkgTypePS3)
	be.PutUint32(out[0x08:], ps3HeaderSize)
	be.PutUint32(out[0x0C:], 0)
	be.PutUint32(out[0x10:], ps3HeaderSize)
	be.PutUint32(out[0x14:], uint32(n))
	be.PutUint64(out[0x18:], uint64(total))
	be.PutUint64(out[0x20:], testPS3DataOffset)
	be.PutUint64(out[0x28:], uint64(dataSize))
	copy(out[0x30:], testContentID)
	copy(out[0x60:], b.digest[:])
	copy(out[0x70:], b.iv[:])

	tag := crypt.CMAC(crypt.MustCipher(KeyPS3), out[:0x80])
	copy(out[0x80:], tag[:])

	copy(out[testPS3DataOffset:], region)

	sum := crypt.SumSHA1(out[:total-ps3TailSize])
	copy(out[total-ps3TailSize:], sum[:])

	return out
}

type tableItem struct {
	id         uint32
	name       string
	data       []byte
	encrypted  bool
	compressed bool

	// size overrides the record size when non-zero
	size uint32
}

type tableBuild struct {
	format Format
	items  []tableItem

	// keyMaterial encrypts the flagged items
	keyMaterial []byte
	blob        []byte
	blobAt      int64
}

const testTableOffset = 0x2200

// buildTablePKG lays out a PS4 or PS5 package: header, key blob, an entry
// table led by the name blob record, the name blob and the payloads.
func buildTablePKG(b tableBuild) []byte {
	be := binary.BigEndian
	count := len(b.items) + 1

	var names bytes.Buffer
	names.WriteByte(0)
	for _, it := range b.items {
		if it.name != "" {
			names.WriteString(it.name)
			names.WriteByte(0)
		}
	}

	namesAt := testTableOffset + align16(count*tableRecordSize)
	pos := namesAt + align16(names.Len())

	table := make([]byte, count*tableRecordSize)
	be.PutUint32(table[0x00:], nameBlobID)
	be.PutUint32(table[0x10:], uint32(namesAt))
	be.PutUint32(table[0x14:], uint32(names.Len()))

	type placed struct {
		at   int
		data []byte
	}
	var payloads []placed

	for i, it := range b.items {
		r := table[(i+1)*tableRecordSize:]
		var flags uint32
		if it.encrypted {
			flags |= entryFlagEncrypt
		}
		if it.compressed {
			flags |= entryFlagCompress
		}

		size := uint32(len(it.data))
		if it.size != 0 {
			size = it.size
		}

		be.PutUint32(r[0x00:], it.id)
		be.PutUint32(r[0x08:], flags)
		be.PutUint32(r[0x10:], uint32(pos))
		be.PutUint32(r[0x14:], size)

		data := append([]byte(nil), it.data...)
		if it.encrypted {
			key, iv := entryKey(r[:tableRecordSize], b.keyMaterial)
			crypt.NewCTR(crypt.MustCipher(key), iv).XORKeyStream(data, data)
		}

		payloads = append(payloads, placed{at: pos, data: data})
		pos += align16(len(data))
	}

	out := make([]byte, pos)
	copy(out[testTableOffset:], table)
	copy(out[namesAt:], names.Bytes())
	for _, p := range payloads {
		copy(out[p.at:], p.data)
	}

	if b.blob != nil {
		copy(out[b.blobAt:], b.blob)
	}

	if b.format == FormatPS5PKG {
		be.PutUint32(out[0x00:], magicPS5PKG)
		be.PutUint16(out[0x04:], 1)
		be.PutUint32(out[0x08:], ps5PKGHeaderSize)
		be.PutUint32(out[0x0C:], uint32(count))
		be.PutUint64(out[0x10:], testTableOffset)
		be.PutUint64(out[0x18:], uint64(len(table)))
		be.PutUint64(out[0x20:], testTableOffset)
		be.PutUint64(out[0x28:], uint64(pos-testTableOffset))
		copy(out[0x30:], testContentID)
		digest := crypt.Sum256(table)
		copy(out[0x80:], digest[:])
	} else {
		be.PutUint32(out[0x00:], magicPS4PKG)
		be.PutUint32(out[0x0C:], uint32(len(b.items)))
		be.PutUint32(out[0x10:], uint32(count))
		be.PutUint32(out[0x18:], testTableOffset)
		be.PutUint64(out[0x20:], testTableOffset)
		be.PutUint64(out[0x28:], uint64(pos-testTableOffset))
		copy(out[0x40:], testContentID)
	}

	return out
}

type pupItem struct {
	flags        uint32
	data         []byte
	uncompressed uint64
}

func pupFlags(id uint32, bits uint32) uint32 {
	return id<<20 | bits
}

// blockedPayload places the chunks of a blocked entry 16-byte aligned and
// returns the payload with its plain block table.
func blockedPayload(chunks [][]byte) (data, table []byte) {
	le := binary.LittleEndian
	var buf bytes.Buffer

	for _, c := range chunks {
		var rec [blockInfoSize]byte
		le.PutUint32(rec[0:], uint32(buf.Len()))
		le.PutUint32(rec[4:], uint32(len(c)))
		table = append(table, rec[:]...)

		buf.Write(c)
		buf.Write(make([]byte, align16(len(c))-len(c)))
	}

	return buf.Bytes(), table
}

func buildPUP(format Format, items []pupItem) []byte {
	le := binary.LittleEndian
	n := len(items)
	headerSize := pupHeaderSize + n*pupRecordSize

	pos := align16(headerSize)
	offsets := make([]int, n)
	for i, it := range items {
		offsets[i] = pos
		pos += align16(len(it.data))
	}

	out := make([]byte, pos)
	for i, it := range items {
		r := out[pupHeaderSize+i*pupRecordSize:]
		le.PutUint32(r[0x00:], it.flags)
		le.PutUint64(r[0x08:], uint64(offsets[i]))
		le.PutUint64(r[0x10:], uint64(len(it.data)))
		le.PutUint64(r[0x18:], it.uncompressed)
		copy(out[offsets[i]:], it.data)
	}

	if format == FormatPS5PUP {
		le.PutUint32(out[0x00:], 0xEEF51454)
		le.PutUint64(out[0x08:], uint64(pos))
		le.PutUint16(out[0x10:], uint16(headerSize))
		le.PutUint16(out[0x12:], 1)
		le.PutUint16(out[0x14:], uint16(n))
	} else {
		le.PutUint32(out[0x00:], 0x32BDFD1D)
		out[0x04] = 1
		le.PutUint16(out[0x0C:], uint16(headerSize))
		le.PutUint64(out[0x10:], uint64(pos))
		le.PutUint16(out[0x18:], uint16(n))
	}

	return out
}

type ps3PUPItem struct {
	id   uint64
	data []byte
}

func buildPS3PUP(items []ps3PUPItem) []byte {
	be := binary.BigEndian
	n := len(items)
	headerLength := ps3PUPHeaderSize + n*(ps3PUPFileSize+ps3PUPHashSize)

	pos := headerLength
	offsets := make([]int, n)
	for i, it := range items {
		offsets[i] = pos
		pos += len(it.data)
	}

	out := make([]byte, pos)
	be.PutUint64(out[0x00:], ps3PUPMagic)
	be.PutUint64(out[0x08:], 1)
	be.PutUint64(out[0x10:], 48000)
	be.PutUint64(out[0x18:], uint64(n))
	be.PutUint64(out[0x20:], uint64(headerLength))
	be.PutUint64(out[0x28:], uint64(pos-headerLength))

	hashes := ps3PUPHeaderSize + n*ps3PUPFileSize
	for i, it := range items {
		f := out[ps3PUPHeaderSize+i*ps3PUPFileSize:]
		be.PutUint64(f[0x00:], it.id)
		be.PutUint64(f[0x08:], uint64(offsets[i]))
		be.PutUint64(f[0x10:], uint64(len(it.data)))

		h := out[hashes+i*ps3PUPHashSize:]
		be.PutUint64(h[0x00:], it.id)
		sum := crypt.SumSHA1(it.data)
		copy(h[0x08:], sum[:])

		copy(out[offsets[i]:], it.data)
	}

	return out
}

// extractBytes decodes entry i of p into memory.
func extractBytes(p *Package, i int) ([]byte, error) {
	var buf bytes.Buffer
	err := p.ExtractEntry(i, &buf)
	return buf.Bytes(), err
}
