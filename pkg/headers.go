package pkg

import "strings"

// Header is the decoded fixed header of an open container. The concrete
// type is one of the *Header records below, matching Format().
type Header interface {
	Format() Format
	// DeclaredEntries is the entry or item count the header declares.
	DeclaredEntries() int
	// GetContentID returns the content identifier, empty for update bundles.
	GetContentID() string
}

func cstring(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

type PS3PKGHeader struct {
	Magic                uint32
	Revision             uint16
	Type                 uint16
	InfoOffset           uint32
	InfoCount            uint32
	HeaderSize           uint32
	ItemCount            uint32
	TotalSize            uint64
	DataOffset           uint64
	DataSize             uint64
	ContentID            [36]byte
	Digest               [16]byte
	DataIV               [16]byte
	HeaderCmacHash       [16]byte
	HeaderNpdrmSignature [40]byte
	HeaderSha1Hash       [8]byte

	// Extended is nil when the package has no extended header.
	Extended *ExtendedHeader
	Meta     Metadata

	// CMACMatches is an advisory check of HeaderCmacHash against the
	// package key; it is never used to reject a package.
	CMACMatches bool
}

func (h *PS3PKGHeader) Format() Format { return FormatPS3PKG }

func (h *PS3PKGHeader) DeclaredEntries() int { return int(h.ItemCount) }

func (h *PS3PKGHeader) GetContentID() string {
	return cstring(h.ContentID[:])
}

func (h *PS3PKGHeader) GetTitleID() string {
	return string(h.ContentID[7:16])
}

func (h *PS3PKGHeader) GetContentName() string {
	id := h.GetContentID()
	if len(id) < 20 {
		return ""
	}
	return id[20:]
}

type ExtendedHeader struct {
	Magic       uint32
	Unknown1    uint32
	HeaderSize  uint32
	DataSize    uint32
	DataOffset  uint32
	DataType    uint32
	PkgDataSize uint64
	DataType2   uint32
}

func (h *ExtendedHeader) KeyType() int {
	return int(h.DataType2) & 7
}

type Metadata struct {
	DrmType          uint32
	ContentType      ContentTypeEnum
	PackageFlags     uint32
	IndexTableOffset uint32
	IndexTableSize   uint32
	SfoOffset        uint32
	SfoSize          uint32
}

type PS4PKGHeader struct {
	Magic          uint32
	Type           uint32
	FileCount      uint32
	EntryCount     uint32
	SCEntryCount   uint16
	TableOffset    uint32
	EntryDataSize  uint32
	BodyOffset     uint64
	BodySize       uint64
	ContentOffset  uint64
	ContentSize    uint64
	ContentID      [36]byte
	DrmType        uint32
	ContentType    uint32
	ContentFlags   uint32
	PromoteSize    uint32
	VersionDate    uint32
	VersionHash    uint32
	EntriesDigest  [32]byte
	TableDigest    [32]byte
	PfsImageOffset uint64
	PfsImageSize   uint64
	KeyBlob        [keyBlobSize]byte
	KeyBlobPresent bool
}

func (h *PS4PKGHeader) Format() Format { return FormatPS4PKG }

func (h *PS4PKGHeader) DeclaredEntries() int { return int(h.EntryCount) }

func (h *PS4PKGHeader) GetContentID() string {
	return cstring(h.ContentID[:])
}

type PS5PKGHeader struct {
	Magic          uint32
	Version        uint16
	Flags          uint16
	HeaderSize     uint32
	EntryCount     uint32
	TableOffset    uint64
	TableSize      uint64
	BodyOffset     uint64
	BodySize       uint64
	ContentID      [36]byte
	ContentType    uint32
	ContentFlags   uint32
	TableDigest    [32]byte
	KeyBlob        [keyBlobSize]byte
	KeyBlobPresent bool

	// TableDigestMatches is advisory, like PS3PKGHeader.CMACMatches.
	TableDigestMatches bool
}

func (h *PS5PKGHeader) Format() Format { return FormatPS5PKG }

func (h *PS5PKGHeader) DeclaredEntries() int { return int(h.EntryCount) }

func (h *PS5PKGHeader) GetContentID() string {
	return cstring(h.ContentID[:])
}

type PS3PUPHeader struct {
	Magic          uint64
	PackageVersion uint64
	ImageVersion   uint64
	FileCount      uint64
	HeaderLength   uint64
	DataLength     uint64
}

func (h *PS3PUPHeader) Format() Format { return FormatPS3PUP }

func (h *PS3PUPHeader) DeclaredEntries() int { return int(h.FileCount) }

func (h *PS3PUPHeader) GetContentID() string { return "" }

type PS4PUPHeader struct {
	Magic      uint32
	Version    uint8
	Mode       uint8
	Endian     uint8
	Attributes uint8
	KeyType    uint32
	HeaderSize uint16
	MetaSize   uint16
	FileSize   uint64
	EntryCount uint16
	HashCount  uint16
}

func (h *PS4PUPHeader) Format() Format { return FormatPS4PUP }

func (h *PS4PUPHeader) DeclaredEntries() int { return int(h.EntryCount) }

func (h *PS4PUPHeader) GetContentID() string { return "" }

type PS5PUPHeader struct {
	Signature  uint32
	Flags      uint32
	FileSize   uint64
	HeaderSize uint16
	Version    uint16
	EntryCount uint16
	HashCount  uint16
}

func (h *PS5PUPHeader) Format() Format { return FormatPS5PUP }

func (h *PS5PUPHeader) DeclaredEntries() int { return int(h.EntryCount) }

func (h *PS5PUPHeader) GetContentID() string { return "" }
