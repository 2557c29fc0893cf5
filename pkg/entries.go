package pkg

import "path"

// EntryFlags are the format independent properties of an entry.
type EntryFlags uint32

const (
	FlagDirectory EntryFlags = 1 << iota
	FlagEncrypted
	FlagCompressed
	FlagBlocked
)

// FileEntry describes one listed item of a container. Entries form a flat
// list; any hierarchy lives in Name only.
type FileEntry struct {
	// Index is the position in Package.Entries.
	Index int
	// TableIndex is the position of the record in the on-disk table.
	TableIndex int
	ID         uint64
	Name       string
	// Offset is absolute within the container.
	Offset int64
	// Size is the number of bytes stored in the container.
	Size int64

	UncompressedSize    int64
	HasUncompressedSize bool

	Flags    EntryFlags
	RawFlags uint32

	// BlockTable is the TableIndex of the block info table of a blocked
	// entry, -1 otherwise.
	BlockTable int
	BlockSize  int64

	Digest []byte
}

func (e *FileEntry) IsDir() bool {
	return e.Flags&FlagDirectory != 0
}

func (e *FileEntry) IsEncrypted() bool {
	return e.Flags&FlagEncrypted != 0
}

func (e *FileEntry) IsCompressed() bool {
	return e.Flags&FlagCompressed != 0
}

func (e *FileEntry) IsBlocked() bool {
	return e.Flags&FlagBlocked != 0
}

// OutputSize is the number of bytes extraction produces.
func (e *FileEntry) OutputSize() int64 {
	switch {
	case e.IsDir():
		return 0
	case e.HasUncompressedSize:
		return e.UncompressedSize
	default:
		return e.Size
	}
}

// BaseName returns the last element of Name.
func (e *FileEntry) BaseName() string {
	return path.Base(e.Name)
}
