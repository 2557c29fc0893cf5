package pkg

import (
	"encoding/binary"
)

// DetectSize is the number of leading bytes Detect looks at.
const DetectSize = 32

const (
	magicPS3PKG uint32 = 0x7F504B47 // "\x7FPKG"
	magicPS4PKG uint32 = 0x7F434E54 // "\x7FCNT"
	magicPS5PKG uint32 = 0x7F464948 // "\x7FFIH"
	magicPS3PUP uint32 = 0x53434555 // "SCEU"
)

// The exact magics are tried in this order; a new variant with a magic goes
// here, ahead of the heuristic.
var magics = []struct {
	magic  uint32
	format Format
}{
	{magicPS3PKG, FormatPS3PKG},
	{magicPS4PKG, FormatPS4PKG},
	{magicPS5PKG, FormatPS5PKG},
	{magicPS3PUP, FormatPS3PUP},
}

// pupProbe names where a magic-less update bundle keeps its counts.
type pupProbe struct {
	format     Format
	headerSize int
	entryCount int
	hashCount  int
}

var pupProbes = []pupProbe{
	{format: FormatPS4PUP, headerSize: 0x0C, entryCount: 0x18, hashCount: 0x1A},
	{format: FormatPS5PUP, headerSize: 0x10, entryCount: 0x14, hashCount: 0x16},
}

const (
	probeMinHeader = 0x20
	probeMaxHeader = 0x100000
	probeMaxCount  = 5000
)

// probe returns the entry count seen at p's offsets, or 0 when the fields
// do not describe a plausible header.
func (p pupProbe) probe(head []byte) int {
	hdr := int(binary.LittleEndian.Uint16(head[p.headerSize:]))
	entries := int(binary.LittleEndian.Uint16(head[p.entryCount:]))
	hashes := int(binary.LittleEndian.Uint16(head[p.hashCount:]))

	if hdr < probeMinHeader || hdr > probeMaxHeader {
		return 0
	}
	if entries == 0 || entries > probeMaxCount {
		return 0
	}
	if hashes > probeMaxCount {
		return 0
	}

	return entries
}

// Detect identifies the container from its first DetectSize bytes.
func Detect(head []byte) Format {
	if len(head) < DetectSize {
		return FormatUnknown
	}

	magic := binary.BigEndian.Uint32(head)
	for _, m := range magics {
		if magic == m.magic {
			return m.format
		}
	}

	return detectPUP(head)
}

// detectPUP prefers the candidate reporting more entries: the larger
// bundle format always carries far more of them. Ties go to the later,
// larger-capacity probe.
func detectPUP(head []byte) Format {
	best := FormatUnknown
	bestCount := 0

	for _, p := range pupProbes {
		if n := p.probe(head); n > 0 && n >= bestCount {
			best, bestCount = p.format, n
		}
	}

	return best
}

// DetectSource reads the head of src and detects its format.
func DetectSource(src Source) (Format, error) {
	if src.Size() < DetectSize {
		return FormatUnknown, nil
	}

	head, err := readAt("detect", src, 0, DetectSize)
	if err != nil {
		return FormatUnknown, err
	}

	return Detect(head), nil
}
