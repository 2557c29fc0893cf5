package pkg

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// zRIF strings are deflated against a fixed dictionary of common license
// bytes, itself stored zlib compressed.
const rifDictBase64 = `
eNpjYBgFo2AU0AsYAIElGt8MRJiDCAsw3xhEmIAIU4N4AwNdRxcXZ3+/EJCAkW
6Ac7C7ARwYgviuQAaIdoPSzlDaBUo7QmknIM3ACIZM78+u7kx3VWYEAGJ9HV0=
`

var rifDict = sync.OnceValue(func() []byte {
	raw, err := base64.StdEncoding.DecodeString(rifDictBase64)
	if err != nil {
		panic(err)
	}

	dict, err := inflateLicense(raw, nil)
	if err != nil {
		panic(err)
	}

	return dict
})

// ErrLicenseLength is returned by DecodeLicense when the license does not
// have the length its package type requires.
var ErrLicenseLength = errors.New("pkg: invalid license length")

var licenseSizes = map[PackageType]int{
	PackageTypePSM:       1024,
	PackageTypeVitaApp:   512,
	PackageTypeVitaDLC:   512,
	PackageTypeVitaPatch: 512,
}

func inflateLicense(data, dict []byte) ([]byte, error) {
	var (
		z   io.ReadCloser
		err error
	)

	if dict == nil {
		z, err = zlib.NewReader(bytes.NewReader(data))
	} else {
		z, err = zlib.NewReaderDict(bytes.NewReader(data), dict)
	}
	if err != nil {
		return nil, err
	}

	defer z.Close()
	return io.ReadAll(z)
}

// DecodeLicense expands a zRIF string. A non-zero pkgType also checks the
// license length expected for that kind of package.
func DecodeLicense(zrif string, pkgType PackageType) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(zrif)
	if err != nil {
		return nil, err
	}

	lic, err := inflateLicense(data, rifDict())
	if err != nil {
		return nil, err
	}

	if pkgType > 0 && len(lic) != licenseSizes[pkgType] {
		return nil, ErrLicenseLength
	}

	return lic, nil
}

// EncodeLicense compresses a raw license into a zRIF string.
func EncodeLicense(lic []byte) (string, error) {
	var b bytes.Buffer

	z, err := zlib.NewWriterLevelDict(&b, zlib.BestCompression, rifDict())
	if err != nil {
		return "", err
	}

	if _, err := z.Write(lic); err != nil {
		return "", err
	}

	if err := z.Close(); err != nil {
		return "", err
	}

	out := b.Bytes()
	rewriteZlibHeader(out)

	return base64.StdEncoding.EncodeToString(out), nil
}

// rewriteZlibHeader replaces the two zlib header bytes with the ones other
// zRIF tools emit: 1K window, maximum compression, preset dictionary.
func rewriteZlibHeader(b []byte) {
	const (
		cmDeflate = 8
		cinfo1K   = 2 << 4
		flevelMax = 3 << 6
		fdict     = 1 << 5
	)

	b[0] = cmDeflate | cinfo1K
	b[1] = flevelMax | fdict

	if r := (uint16(b[0])<<8 | uint16(b[1])) % 31; r != 0 {
		b[1] += uint8(31 - r)
	}
}

// LicenseContentID returns the content ID a decoded license is bound to.
func LicenseContentID(lic []byte, pkgType PackageType) string {
	offset := 0x10
	if pkgType == PackageTypePSM || (pkgType == 0 && len(lic) == licenseSizes[PackageTypePSM]) {
		offset = 0x50
	}

	if len(lic) < offset+36 {
		return ""
	}

	return cstring(lic[offset : offset+36])
}
