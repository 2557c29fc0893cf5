package pkg

import (
	"encoding/binary"
	"io"

	"megpoid.xyz/go/go-psunpack/pkg/inflate"
)

const (
	blockInfoSize   = 8
	blockDigestSize = 32

	maxBlockTableSize = 1 << 24
)

// BlockInfo locates one chunk of a blocked entry, relative to the entry's
// base offset.
type BlockInfo struct {
	Offset uint32
	Size   uint32
}

// BlockCount returns the number of chunks an entry of the given uncompressed
// size is split into.
func BlockCount(uncompressed, blockSize int64) int64 {
	if blockSize <= 0 || uncompressed <= 0 {
		return 0
	}
	return (uncompressed + blockSize - 1) / blockSize
}

// LastBlockLength returns the uncompressed length of the final chunk. A
// remainder of zero means the last chunk is full.
func LastBlockLength(uncompressed, blockSize int64) int64 {
	if blockSize <= 0 || uncompressed <= 0 {
		return 0
	}
	if r := uncompressed % blockSize; r != 0 {
		return r
	}
	return blockSize
}

func blockLength(i, uncompressed, blockSize int64) int64 {
	if i == BlockCount(uncompressed, blockSize)-1 {
		return LastBlockLength(uncompressed, blockSize)
	}
	return blockSize
}

// blockLinks maps the raw index of every blocked entry to the raw index of
// the table entry describing it. A table entry carries its target's index in
// its id field.
func blockLinks(records []PUPRecord) map[int]int {
	links := make(map[int]int)
	for i := range records {
		if records[i].IsTable() {
			links[int(records[i].ID())] = i
		}
	}
	return links
}

// decodeBlockTable reads count block records, skipping the per-block
// digests that precede them when present.
func decodeBlockTable(data []byte, count int64, digests bool) ([]BlockInfo, error) {
	var start int64
	if digests {
		start = count * blockDigestSize
	}

	if int64(len(data)) < start+count*blockInfoSize {
		return nil, newError(MalformedTable, "block table",
			"0x%x bytes cannot hold %d block records", len(data), count)
	}

	blocks := make([]BlockInfo, count)
	for i := range blocks {
		b := data[start+int64(i)*blockInfoSize:]
		blocks[i] = BlockInfo{
			Offset: binary.LittleEndian.Uint32(b[0:]),
			Size:   binary.LittleEndian.Uint32(b[4:]),
		}
	}

	return blocks, nil
}

// readBlockTable loads the side table of a blocked entry from its table
// entry, inflating it first when it is compressed.
func readBlockTable(src Source, table *PUPRecord, count int64) ([]BlockInfo, error) {
	op := "block table"

	if table.CompressedSize > maxBlockTableSize || table.UncompressedSize > maxBlockTableSize {
		return nil, newError(MalformedTable, op, "table of 0x%x bytes", table.CompressedSize)
	}

	data, err := readRegion(op, src, int64(table.Offset), int64(table.CompressedSize))
	if err != nil {
		return nil, err
	}

	if table.IsCompressed() {
		data, err = inflate.Expand(data, int(table.UncompressedSize))
		if err != nil {
			return nil, wrapError(MalformedTable, op, err)
		}
	}

	return decodeBlockTable(data, count, table.HasDigests())
}

// reconstructBlocks writes the uncompressed payload of a blocked entry to w.
// Chunks are not flagged individually: one whose stored size, rounded down to
// 16 bytes, equals its expected length is stored, any other is compressed.
func reconstructBlocks(op string, src Source, base int64, blocks []BlockInfo, uncompressed, blockSize int64, w io.Writer) error {
	count := BlockCount(uncompressed, blockSize)
	if int64(len(blocks)) < count {
		return newError(MalformedTable, op, "%d block records for %d blocks", len(blocks), count)
	}

	for i := int64(0); i < count; i++ {
		b := blocks[i]
		expected := blockLength(i, uncompressed, blockSize)

		data, err := readAt(op, src, base+int64(b.Offset), int64(b.Size))
		if err != nil {
			return err
		}

		if int64(b.Size)&^0xF == expected {
			data = data[:expected]
		} else if data, err = inflate.Expand(data, int(expected)); err != nil {
			return newError(MalformedTable, op, "block %d: %v", i, err)
		}

		if _, err := w.Write(data); err != nil {
			return err
		}
	}

	return nil
}
