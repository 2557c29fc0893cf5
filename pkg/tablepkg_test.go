package pkg

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"megpoid.xyz/go/go-psunpack/pkg/crypt"
)

var (
	testRSAOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

func testRSA() *rsa.PrivateKey {
	testRSAOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testRSAKey = key
	})
	return testRSAKey
}

var testKeyMaterial = bytes.Repeat([]byte{0x5A, 0xC3, 0x11, 0x7E}, 8)

func TestPS4PKG(t *testing.T) {
	t.Parallel()

	sfo := buildSFO(map[string]string{"TITLE": "Table Game", "CONTENT_ID": testContentID})
	png := append([]byte("\x89PNG\r\n\x1a\n"), pattern(200, 4)...)

	Convey("a PS4 package", t, func() {
		data := buildTablePKG(tableBuild{
			format: FormatPS4PKG,
			items: []tableItem{
				{id: 0x0010, data: pattern(64, 1)},
				{id: 0x1000, data: sfo},
				{id: 0x2000, name: "data/file.bin", data: pattern(3000, 2)},
				{id: 0x2001, data: png},
			},
		})

		p, err := Open(newMemSource(data))
		So(err, ShouldBeNil)
		defer p.Close()

		So(p.Format(), ShouldEqual, FormatPS4PKG)

		Convey("lists entries from id 0x400 up", func() {
			entries, err := p.Entries()
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 3)

			So(entries[0].Name, ShouldEqual, "sce_sys/param.sfo")
			So(entries[0].TableIndex, ShouldEqual, 2)
			So(entries[1].Name, ShouldEqual, "data/file.bin")
			So(entries[1].Size, ShouldEqual, 3000)
			So(entries[2].Name, ShouldEqual, "00002001.png")
			So(entries[2].Index, ShouldEqual, 2)
		})

		Convey("extracts plain entries", func() {
			got, err := extractBytes(p, 1)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, pattern(3000, 2))

			got, err = extractBytes(p, 2)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, png)
		})

		Convey("reads param.sfo while opening", func() {
			So(p.GetTitle(), ShouldEqual, "Table Game")
			So(p.GetTitleID(), ShouldEqual, "NPUB00001")
			So(p.PackageType(), ShouldEqual, 0)
		})

		Convey("decodes the header", func() {
			h, err := p.Header()
			So(err, ShouldBeNil)
			So(h.DeclaredEntries(), ShouldEqual, 5)
			So(h.GetContentID(), ShouldEqual, testContentID)
			So(h.(*PS4PKGHeader).KeyBlobPresent, ShouldBeTrue)
		})

		Convey("has no package checksum", func() {
			_, err := p.Verify()
			So(KindOf(err), ShouldEqual, UnsupportedSubVariant)
		})
	})
}

func TestPS4PKGSingleEntry(t *testing.T) {
	t.Parallel()

	Convey("a package with one named file", t, func() {
		payload := pattern(123, 7)
		data := buildTablePKG(tableBuild{
			format: FormatPS4PKG,
			items:  []tableItem{{id: 0x2000, name: "eboot.bin", data: payload}},
		})

		p, err := Open(newMemSource(data))
		So(err, ShouldBeNil)
		defer p.Close()

		entries, err := p.Entries()
		So(err, ShouldBeNil)
		So(entries, ShouldHaveLength, 1)
		So(entries[0].Name, ShouldEqual, "eboot.bin")
		So(entries[0].Size, ShouldEqual, len(payload))
		So(entries[0].IsEncrypted(), ShouldBeFalse)

		got, err := extractBytes(p, 0)
		So(err, ShouldBeNil)
		So(got, ShouldResemble, payload)
	})
}

func TestTablePKGEncryption(t *testing.T) {
	t.Parallel()

	ref := testRSA()
	png := append([]byte("\x89PNG\r\n\x1a\n"), pattern(100, 5)...)
	secret := pattern(777, 6)

	blob, err := rsa.EncryptPKCS1v15(rand.Reader, &ref.PublicKey, testKeyMaterial)
	if err != nil {
		t.Fatal(err)
	}

	data := buildTablePKG(tableBuild{
		format: FormatPS4PKG,
		items: []tableItem{
			{id: 0x2000, name: "eboot.bin", data: secret, encrypted: true},
			{id: 0x2001, data: png, encrypted: true},
			{id: 0x2002, name: "plain.txt", data: []byte("hello")},
		},
		keyMaterial: testKeyMaterial,
		blob:        blob,
		blobAt:      0xA00,
	})

	Convey("encrypted table entries", t, func() {
		Convey("decrypt with the right RSA key", func() {
			p, err := Open(newMemSource(data), WithRSAKey(crypt.FromRSA(ref)))
			So(err, ShouldBeNil)
			defer p.Close()

			entries, err := p.Entries()
			So(err, ShouldBeNil)
			So(entries[0].IsEncrypted(), ShouldBeTrue)
			So(entries[1].Name, ShouldEqual, "00002001.png")

			got, err := extractBytes(p, 0)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, secret)

			got, err = extractBytes(p, 1)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, png)
		})

		Convey("list without a key but cannot be decrypted", func() {
			p, err := Open(newMemSource(data))
			So(err, ShouldBeNil)
			defer p.Close()

			entries, err := p.Entries()
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 3)
			So(entries[1].Name, ShouldEqual, "00002001.bin")

			_, err = extractBytes(p, 0)
			So(KindOf(err), ShouldEqual, CryptoFailure)

			got, err := extractBytes(p, 2)
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "hello")
		})

		Convey("fail to open with a key that unwraps no blob", func() {
			other, err := rsa.GenerateKey(rand.Reader, 1024)
			So(err, ShouldBeNil)

			_, err = Open(newMemSource(data), WithRSAKey(crypt.FromRSA(other)))
			So(KindOf(err), ShouldEqual, CryptoFailure)
		})

		Convey("fail to open with an empty key", func() {
			So(func() {
				_, err = Open(newMemSource(data), WithRSAKey(&crypt.PrivateKey{}))
			}, ShouldNotPanic)
			So(KindOf(err), ShouldEqual, CryptoFailure)
		})

		Convey("derive key and IV from the record and key material", func() {
			record := make([]byte, tableRecordSize)
			binary.BigEndian.PutUint32(record, 0x2000)

			key, iv := entryKey(record, testKeyMaterial)
			sum := crypt.Sum256(append(record, testKeyMaterial...))
			So(iv, ShouldResemble, sum[0:16])
			So(key, ShouldResemble, sum[16:32])
		})
	})
}

func TestTablePKGDamage(t *testing.T) {
	t.Parallel()

	Convey("damaged table packages", t, func() {
		Convey("compressed entries are not supported", func() {
			data := buildTablePKG(tableBuild{
				format: FormatPS4PKG,
				items: []tableItem{
					{id: 0x2000, name: "packed.bin", data: zlibBytes(pattern(400, 1)), compressed: true},
					{id: 0x2001, name: "fine.bin", data: []byte("fine")},
				},
			})

			p, err := Open(newMemSource(data))
			So(err, ShouldBeNil)
			defer p.Close()

			_, err = extractBytes(p, 0)
			So(KindOf(err), ShouldEqual, UnsupportedSubVariant)

			got, err := extractBytes(p, 1)
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "fine")
		})

		Convey("a payload past the end fails at extraction only", func() {
			data := buildTablePKG(tableBuild{
				format: FormatPS4PKG,
				items: []tableItem{
					{id: 0x2000, name: "short.bin", data: []byte("abc"), size: 0x100000},
				},
			})

			p, err := Open(newMemSource(data))
			So(err, ShouldBeNil)
			defer p.Close()

			_, err = extractBytes(p, 0)
			So(KindOf(err), ShouldEqual, OutOfBoundsReference)
		})

		Convey("a name blob past the end", func() {
			data := buildTablePKG(tableBuild{
				format: FormatPS4PKG,
				items:  []tableItem{{id: 0x2000, name: "a.bin", data: []byte("a")}},
			})
			binary.BigEndian.PutUint32(data[testTableOffset+0x14:], 0xFFFFFF)

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedTable)
		})

		Convey("a table past the end", func() {
			data := buildTablePKG(tableBuild{
				format: FormatPS4PKG,
				items:  []tableItem{{id: 0x2000, name: "a.bin", data: []byte("a")}},
			})
			binary.BigEndian.PutUint32(data[0x10:], 0xFFFF)

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})

		Convey("a table offset past the end", func() {
			data := buildTablePKG(tableBuild{
				format: FormatPS4PKG,
				items:  []tableItem{{id: 0x2000, name: "a.bin", data: []byte("a")}},
			})
			binary.BigEndian.PutUint32(data[0x18:], uint32(len(data)))

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})

		Convey("a content region past the end", func() {
			data := buildTablePKG(tableBuild{
				format: FormatPS4PKG,
				items:  []tableItem{{id: 0x2000, name: "a.bin", data: []byte("a")}},
			})
			binary.BigEndian.PutUint64(data[0x30:], 0x1000)
			binary.BigEndian.PutUint64(data[0x38:], uint64(len(data)))

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})

		Convey("no entries", func() {
			data := buildTablePKG(tableBuild{
				format: FormatPS4PKG,
				items:  []tableItem{{id: 0x2000, name: "a.bin", data: []byte("a")}},
			})
			binary.BigEndian.PutUint32(data[0x10:], 0)

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})

		Convey("a header shorter than its fixed size", func() {
			data := make([]byte, 0x100)
			binary.BigEndian.PutUint32(data, magicPS4PKG)

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})
	})
}

func TestPS5PKG(t *testing.T) {
	t.Parallel()

	json := []byte(`{"titleId":"NPUB00001"}`)
	sfo := buildSFO(map[string]string{"TITLE": "Five"})

	build := func() []byte {
		return buildTablePKG(tableBuild{
			format: FormatPS5PKG,
			items: []tableItem{
				{id: 0x1000, data: json},
				{id: 0x1001, data: sfo},
				{id: 0x1006, data: []byte("\x89PNG")},
			},
		})
	}

	Convey("a PS5 package", t, func() {
		p, err := Open(newMemSource(build()))
		So(err, ShouldBeNil)
		defer p.Close()

		So(p.Format(), ShouldEqual, FormatPS5PKG)

		Convey("names its own well-known ids first", func() {
			entries, err := p.Entries()
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 3)
			So(entries[0].Name, ShouldEqual, "sce_sys/param.json")
			So(entries[1].Name, ShouldEqual, "sce_sys/param.sfo")
			So(entries[2].Name, ShouldEqual, "sce_sys/pic1.png")

			got, err := extractBytes(p, 0)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, json)
		})

		Convey("checks the table digest", func() {
			h, err := p.Header()
			So(err, ShouldBeNil)
			So(h.(*PS5PKGHeader).TableDigestMatches, ShouldBeTrue)
		})

		Convey("reads param.sfo", func() {
			So(p.GetTitle(), ShouldEqual, "Five")
		})
	})

	Convey("a PS5 package with a wrong table digest still opens", t, func() {
		data := build()
		data[0x80] ^= 0xFF

		p, err := Open(newMemSource(data))
		So(err, ShouldBeNil)
		defer p.Close()

		h, err := p.Header()
		So(err, ShouldBeNil)
		So(h.(*PS5PKGHeader).TableDigestMatches, ShouldBeFalse)
	})
}
