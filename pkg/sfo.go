package pkg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
)

var sfoMagic = [4]byte{0x00, 0x50, 0x53, 0x46}

const (
	utf8Special uint16 = 0x0004
	utf8        uint16 = 0x0204
	integer     uint16 = 0x0404
)

const (
	sfoHeaderSize = 0x14
	sfoIndexSize  = 0x10
	sfoMaxEntries = 0x400
)

var errSFOHeader = errors.New("invalid SFO header")

type sfoIndexTableEntry struct {
	KeyOffset      uint16
	ParamFormat    uint16
	ParamLength    uint32
	ParamMaxLength uint32
	DataOffset     uint32
}

// ParseSFO decodes a PARAM.SFO blob into its key/value pairs. Integer values
// are rendered in decimal.
func ParseSFO(data []byte) (map[string]string, error) {
	le := binary.LittleEndian

	if len(data) < sfoHeaderSize || !bytes.Equal(data[0:4], sfoMagic[:]) {
		return nil, errSFOHeader
	}

	keyTableOffset := le.Uint32(data[0x08:])
	dataTableOffset := le.Uint32(data[0x0C:])
	count := le.Uint32(data[0x10:])

	if count > sfoMaxEntries ||
		uint64(sfoHeaderSize)+uint64(count)*sfoIndexSize > uint64(len(data)) ||
		keyTableOffset > dataTableOffset || uint64(dataTableOffset) > uint64(len(data)) {
		return nil, errSFOHeader
	}

	keys := data[keyTableOffset:dataTableOffset]
	values := data[dataTableOffset:]

	entries := map[string]string{}

	for i := 0; i < int(count); i++ {
		raw := data[sfoHeaderSize+i*sfoIndexSize:]
		entry := sfoIndexTableEntry{
			KeyOffset:      le.Uint16(raw[0:]),
			ParamFormat:    le.Uint16(raw[2:]),
			ParamLength:    le.Uint32(raw[4:]),
			ParamMaxLength: le.Uint32(raw[8:]),
			DataOffset:     le.Uint32(raw[12:]),
		}

		if int(entry.KeyOffset) >= len(keys) ||
			uint64(entry.DataOffset)+uint64(entry.ParamLength) > uint64(len(values)) {
			return nil, errors.New("SFO entry out of range")
		}

		n := bytes.IndexByte(keys[entry.KeyOffset:], 0)
		if n < 0 {
			n = len(keys) - int(entry.KeyOffset)
		}
		key := string(keys[entry.KeyOffset : int(entry.KeyOffset)+n])
		value := values[entry.DataOffset : entry.DataOffset+entry.ParamLength]

		switch entry.ParamFormat {
		case utf8Special:
			entries[key] = string(value)
		case utf8:
			entries[key] = cstring(value)
		case integer:
			if len(value) < 4 {
				return nil, errors.New("SFO integer too short")
			}
			entries[key] = strconv.Itoa(int(le.Uint32(value)))
		}
	}

	return entries, nil
}

// readSFO parses a PARAM.SFO streamed from r.
func readSFO(r io.Reader) (map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return ParseSFO(data)
}
