package pkg

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLicense(t *testing.T) {
	t.Parallel()

	Convey("zRIF licenses", t, func() {
		lic := make([]byte, 512)
		copy(lic[0x10:], testContentID)
		for i := 0x50; i < len(lic); i++ {
			lic[i] = byte(i)
		}

		Convey("survive an encode and decode", func() {
			zrif, err := EncodeLicense(lic)
			So(err, ShouldBeNil)
			So(zrif, ShouldNotBeEmpty)

			decoded, err := DecodeLicense(zrif, PackageTypeVitaApp)
			So(err, ShouldBeNil)
			So(decoded, ShouldResemble, lic)
			So(LicenseContentID(decoded, PackageTypeVitaApp), ShouldEqual, testContentID)
		})

		Convey("check the length for the package type", func() {
			zrif, err := EncodeLicense(lic)
			So(err, ShouldBeNil)

			_, err = DecodeLicense(zrif, PackageTypePSM)
			So(err, ShouldEqual, ErrLicenseLength)

			_, err = DecodeLicense(zrif, 0)
			So(err, ShouldBeNil)
		})

		Convey("PSM licenses keep the content ID further in", func() {
			psm := make([]byte, 1024)
			copy(psm[0x50:], testContentID)
			So(LicenseContentID(psm, PackageTypePSM), ShouldEqual, testContentID)
			So(LicenseContentID(psm, 0), ShouldEqual, testContentID)
		})

		Convey("short licenses have no content ID", func() {
			So(LicenseContentID(lic[:0x20], PackageTypeVitaApp), ShouldEqual, "")
		})

		Convey("carry the header other zRIF tools write", func() {
			zrif, err := EncodeLicense(lic)
			So(err, ShouldBeNil)
			So(zrif[:2], ShouldEqual, "KO")
		})

		Convey("garbage is rejected", func() {
			_, err := DecodeLicense("not base64!", 0)
			So(err, ShouldNotBeNil)
		})
	})
}
