package pkg

import (
	"encoding/binary"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"megpoid.xyz/go/go-psunpack/pkg/crypt"
)

// blockedEntry splits want into 4096 byte blocks, compressing every other
// one, and returns the payload and plain block table.
func blockedEntry(want []byte) (data, table []byte) {
	var chunks [][]byte
	for i := 0; i < len(want); i += 4096 {
		end := i + 4096
		if end > len(want) {
			end = len(want)
		}
		if (i/4096)%2 == 1 {
			chunks = append(chunks, zlibBytes(want[i:end]))
		} else {
			chunks = append(chunks, want[i:end])
		}
	}
	return blockedPayload(chunks)
}

func TestPS4PUP(t *testing.T) {
	t.Parallel()

	plain := pattern(100, 7)
	packed := pattern(6000, 8)
	kernel := pattern(10000, 9)
	blocked, table := blockedEntry(kernel)

	build := func(compressedTable bool) []byte {
		tbl := pupItem{flags: pupFlags(1, pupFlagTable), data: table, uncompressed: uint64(len(table))}
		if compressedTable {
			tbl = pupItem{flags: pupFlags(1, pupFlagTable|pupFlagCompressed), data: zlibBytes(table), uncompressed: uint64(len(table))}
		}

		return buildPUP(FormatPS4PUP, []pupItem{
			{flags: pupFlags(0x006, 0), data: plain, uncompressed: uint64(len(plain))},
			{flags: pupFlags(0x005, pupFlagBlocked), data: blocked, uncompressed: uint64(len(kernel))},
			tbl,
			{flags: pupFlags(0x801, 0), data: []byte("padding")},
			{flags: pupFlags(0x007, pupFlagCompressed), data: zlibBytes(packed), uncompressed: uint64(len(packed))},
			{flags: pupFlags(0x0A0, 0), data: []byte("SLB2....")},
		})
	}

	for _, compressedTable := range []bool{false, true} {
		data := build(compressedTable)

		Convey("a PS4 update bundle", t, func() {
			So(Detect(data[:DetectSize]), ShouldEqual, FormatPS4PUP)

			p, err := Open(newMemSource(data))
			So(err, ShouldBeNil)
			defer p.Close()

			So(p.Format(), ShouldEqual, FormatPS4PUP)

			entries, err := p.Entries()
			So(err, ShouldBeNil)

			Convey("skips table and padding records", func() {
				So(entries, ShouldHaveLength, 4)
				So(entries[0].Name, ShouldEqual, "system_exfat.bin")
				So(entries[1].Name, ShouldEqual, "coreos.bin")
				So(entries[2].Name, ShouldEqual, "eap_kernel.bin")
				So(entries[3].Name, ShouldEqual, "000000A0.slb2")
				So(entries[3].TableIndex, ShouldEqual, 5)
			})

			Convey("links the blocked entry to its table", func() {
				So(entries[1].IsBlocked(), ShouldBeTrue)
				So(entries[1].BlockTable, ShouldEqual, 2)
				So(entries[1].BlockSize, ShouldEqual, 4096)
				So(entries[1].OutputSize(), ShouldEqual, len(kernel))
			})

			Convey("reassembles mixed blocks", func() {
				got, err := extractBytes(p, 1)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, kernel)
			})

			Convey("inflates compressed entries", func() {
				So(entries[2].IsCompressed(), ShouldBeTrue)

				got, err := extractBytes(p, 2)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, packed)
			})

			Convey("copies plain entries", func() {
				got, err := extractBytes(p, 0)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, plain)
			})

			Convey("has no content ID", func() {
				h, err := p.Header()
				So(err, ShouldBeNil)
				So(h.DeclaredEntries(), ShouldEqual, 6)
				So(h.GetContentID(), ShouldEqual, "")
				So(p.GetTitleID(), ShouldEqual, "")
			})
		})
	}
}

func TestPUPDamage(t *testing.T) {
	t.Parallel()

	Convey("damaged update bundles", t, func() {
		Convey("a blocked entry without a table fails at extraction", func() {
			want := pattern(5000, 1)
			blocked, _ := blockedEntry(want)
			data := buildPUP(FormatPS4PUP, []pupItem{
				{flags: pupFlags(0x005, pupFlagBlocked), data: blocked, uncompressed: uint64(len(want))},
				{flags: pupFlags(0x006, 0), data: []byte("ok")},
			})

			p, err := Open(newMemSource(data))
			So(err, ShouldBeNil)
			defer p.Close()

			_, err = extractBytes(p, 0)
			So(KindOf(err), ShouldEqual, MalformedTable)

			got, err := extractBytes(p, 1)
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "ok")
		})

		Convey("a compressed entry with a bad checksum", func() {
			packed := pattern(3000, 4)
			z := zlibBytes(packed)
			z[len(z)-1] ^= 0xFF
			data := buildPUP(FormatPS4PUP, []pupItem{
				{flags: pupFlags(0x007, pupFlagCompressed), data: z, uncompressed: uint64(len(packed))},
			})

			p, err := Open(newMemSource(data))
			So(err, ShouldBeNil)
			defer p.Close()

			_, err = extractBytes(p, 0)
			So(KindOf(err), ShouldEqual, MalformedTable)
		})

		Convey("a record pointing past the end", func() {
			data := buildPUP(FormatPS4PUP, []pupItem{
				{flags: pupFlags(0x006, 0), data: []byte("data")},
			})
			binary.LittleEndian.PutUint64(data[pupHeaderSize+0x08:], uint64(len(data)))

			p, err := Open(newMemSource(data))
			So(err, ShouldBeNil)
			defer p.Close()

			_, err = extractBytes(p, 0)
			So(KindOf(err), ShouldEqual, OutOfBoundsReference)
		})

		Convey("a header size beyond the container", func() {
			data := buildPUP(FormatPS4PUP, []pupItem{
				{flags: pupFlags(0x006, 0), data: []byte("data")},
			})
			binary.LittleEndian.PutUint16(data[0x0C:], 0x8000)

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})

		Convey("a record region beyond the container", func() {
			data := buildPUP(FormatPS4PUP, []pupItem{
				{flags: pupFlags(0x006, 0), data: []byte("data")},
			})
			binary.LittleEndian.PutUint16(data[0x18:], 900)

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})

		Convey("a header size shorter than the fixed header", func() {
			data := buildPUP(FormatPS5PUP, []pupItem{
				{flags: pupFlags(0x006, 0), data: []byte("data")},
			})
			binary.LittleEndian.PutUint16(data[0x10:], 0x1F)

			_, err := openPS5PUP(newMemSource(data), newOpenOptions(nil))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})

		Convey("a file size beyond the container", func() {
			data := buildPUP(FormatPS5PUP, []pupItem{
				{flags: pupFlags(0x006, 0), data: []byte("data")},
			})
			binary.LittleEndian.PutUint64(data[0x08:], uint64(len(data))+1)

			_, err := Open(newMemSource(data))
			So(KindOf(err), ShouldEqual, MalformedHeader)
		})
	})
}

func TestPS5PUP(t *testing.T) {
	t.Parallel()

	Convey("a PS5 update bundle", t, func() {
		packed := pattern(3000, 2)
		data := buildPUP(FormatPS5PUP, []pupItem{
			{flags: pupFlags(0x003, 0), data: []byte("wlan")},
			{flags: pupFlags(0x006, pupFlagCompressed), data: zlibBytes(packed), uncompressed: uint64(len(packed))},
			{flags: pupFlags(0xF00, 0)},
		})

		So(Detect(data[:DetectSize]), ShouldEqual, FormatPS5PUP)

		p, err := Open(newMemSource(data))
		So(err, ShouldBeNil)
		defer p.Close()

		entries, err := p.Entries()
		So(err, ShouldBeNil)
		So(entries, ShouldHaveLength, 2)
		So(entries[0].Name, ShouldEqual, "wlanbt.bin")
		So(entries[1].Name, ShouldEqual, "system_ex.bin")

		Convey("does not decode compressed entries outside blocks", func() {
			_, err := extractBytes(p, 1)
			So(KindOf(err), ShouldEqual, UnsupportedSubVariant)
		})

		Convey("still extracts the other entries", func() {
			got, err := extractBytes(p, 0)
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "wlan")
		})
	})
}

func TestPS5PUPManyEntries(t *testing.T) {
	t.Parallel()

	Convey("a PS5 bundle whose header size field wraps", t, func() {
		items := make([]pupItem, 3000)
		for i := range items {
			items[i] = pupItem{flags: pupFlags(0x006, 0), data: []byte{byte(i), byte(i >> 8)}}
		}

		data := buildPUP(FormatPS5PUP, items)
		So(binary.LittleEndian.Uint16(data[0x10:]), ShouldBeLessThan, pupHeaderSize+3000*pupRecordSize)
		So(Detect(data[:DetectSize]), ShouldEqual, FormatPS5PUP)

		p, err := Open(newMemSource(data))
		So(err, ShouldBeNil)
		defer p.Close()

		entries, err := p.Entries()
		So(err, ShouldBeNil)
		So(entries, ShouldHaveLength, 3000)

		got, err := extractBytes(p, 2999)
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{byte(2999 & 0xFF), byte(2999 >> 8)})
	})
}

func TestPS3PUP(t *testing.T) {
	t.Parallel()

	Convey("a PS3 update bundle", t, func() {
		self := append([]byte("SCE\x00"), pattern(300, 3)...)
		items := []ps3PUPItem{
			{id: 0x100, data: []byte("4.90\n")},
			{id: 0x300, data: pattern(2000, 1)},
			{id: 0x999, data: self},
		}
		data := buildPS3PUP(items)

		p, err := Open(newMemSource(data))
		So(err, ShouldBeNil)
		defer p.Close()

		So(p.Format(), ShouldEqual, FormatPS3PUP)
		So(p.Format().IsPUP(), ShouldBeTrue)

		entries, err := p.Entries()
		So(err, ShouldBeNil)
		So(entries, ShouldHaveLength, 3)

		Convey("names entries by id", func() {
			So(entries[0].Name, ShouldEqual, "version.txt")
			So(entries[1].Name, ShouldEqual, "update_files.tar")
			So(entries[2].Name, ShouldEqual, "00000999.self")
		})

		Convey("attaches the stored digests", func() {
			for i, it := range items {
				sum := crypt.SumSHA1(it.data)
				So(entries[i].Digest, ShouldResemble, sum[:])
			}
		})

		Convey("extracts payloads", func() {
			for i, it := range items {
				got, err := extractBytes(p, i)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, it.data)
			}
		})

		Convey("reports its header", func() {
			h, err := p.Header()
			So(err, ShouldBeNil)
			So(h.DeclaredEntries(), ShouldEqual, 3)
			So(h.(*PS3PUPHeader).ImageVersion, ShouldEqual, 48000)
		})
	})

	Convey("a PS3 update bundle with ids past 32 bits", t, func() {
		data := buildPS3PUP([]ps3PUPItem{
			{id: 0x1_0000_0999, data: []byte("one")},
			{id: 0x2_0000_0999, data: []byte("two")},
		})

		p, err := Open(newMemSource(data))
		So(err, ShouldBeNil)
		defer p.Close()

		entries, err := p.Entries()
		So(err, ShouldBeNil)
		So(entries[0].ID, ShouldEqual, uint64(0x1_0000_0999))
		So(entries[0].Name, ShouldEqual, "100000999.bin")
		So(entries[1].Name, ShouldEqual, "200000999.bin")
	})

	Convey("a PS3 update bundle with too many files", t, func() {
		data := buildPS3PUP([]ps3PUPItem{{id: 0x100, data: []byte("x")}})
		binary.BigEndian.PutUint64(data[0x18:], 5000)

		_, err := Open(newMemSource(data))
		So(KindOf(err), ShouldEqual, MalformedHeader)
	})
}
