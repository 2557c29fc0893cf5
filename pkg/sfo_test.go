package pkg

import (
	"bytes"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseSFO(t *testing.T) {
	t.Parallel()

	Convey("ParseSFO", t, func() {
		data := buildSFO(map[string]string{
			"TITLE":      "Test Game",
			"TITLE_ID":   "NPUB00001",
			"CATEGORY":   "gd",
			"APP_VER":    "01.02",
			"ATTRIBUTE":  "32",
			"PARENTAL_L": "5",
		})

		Convey("decodes strings and integers", func() {
			sfo, err := ParseSFO(data)
			So(err, ShouldBeNil)
			So(sfo["TITLE"], ShouldEqual, "Test Game")
			So(sfo["TITLE_ID"], ShouldEqual, "NPUB00001")
			So(sfo["APP_VER"], ShouldEqual, "01.02")
			So(sfo["ATTRIBUTE"], ShouldEqual, "32")
			So(sfo["PARENTAL_L"], ShouldEqual, "5")
			So(sfo, ShouldHaveLength, 6)
		})

		Convey("readSFO streams the same values", func() {
			sfo, err := readSFO(bytes.NewReader(data))
			So(err, ShouldBeNil)
			So(sfo["CATEGORY"], ShouldEqual, "gd")
		})

		Convey("rejects a bad magic", func() {
			bad := append([]byte(nil), data...)
			bad[1] = 'X'
			_, err := ParseSFO(bad)
			So(err, ShouldEqual, errSFOHeader)
		})

		Convey("rejects a truncated blob", func() {
			_, err := ParseSFO(data[:sfoHeaderSize-1])
			So(err, ShouldEqual, errSFOHeader)

			_, err = ParseSFO(data[:sfoHeaderSize+sfoIndexSize])
			So(err, ShouldNotBeNil)
		})
	})
}
