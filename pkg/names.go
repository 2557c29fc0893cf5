package pkg

import (
	"bytes"
	"fmt"
)

// entry ids below this are package bookkeeping (digests, keys, name blob)
const firstListedID = 0x400

const nameBlobID = 0x200

var ps4PKGNames = map[uint32]string{
	0x0400: "sce_sys/license.dat",
	0x0401: "sce_sys/license.info",
	0x0402: "sce_sys/nptitle.dat",
	0x0403: "sce_sys/npbind.dat",
	0x0404: "sce_sys/selfinfo.dat",
	0x0406: "sce_sys/imageinfo.dat",
	0x0407: "sce_sys/target-deltainfo.dat",
	0x0408: "sce_sys/origin-deltainfo.dat",
	0x0409: "sce_sys/psreserved.dat",
	0x1000: "sce_sys/param.sfo",
	0x1001: "sce_sys/playgo-chunk.dat",
	0x1002: "sce_sys/playgo-chunk.sha",
	0x1003: "sce_sys/playgo-manifest.xml",
	0x1004: "sce_sys/pronunciation.xml",
	0x1005: "sce_sys/pronunciation.sig",
	0x1006: "sce_sys/pic1.png",
	0x1007: "sce_sys/pubtoolinfo.dat",
	0x1008: "sce_sys/app/playgo-chunk.dat",
	0x1009: "sce_sys/app/playgo-chunk.sha",
	0x100A: "sce_sys/app/playgo-manifest.xml",
	0x100B: "sce_sys/shareparam.json",
	0x100C: "sce_sys/shareoverlayimage.png",
	0x100D: "sce_sys/save_data.png",
	0x100E: "sce_sys/shareprivacyguardimage.png",
	0x1200: "sce_sys/icon0.png",
	0x1220: "sce_sys/pic0.png",
	0x1240: "sce_sys/snd0.at9",
	0x1260: "sce_sys/changeinfo/changeinfo.xml",
	0x1280: "sce_sys/icon0.dds",
	0x12A0: "sce_sys/pic0.dds",
	0x12C0: "sce_sys/pic1.dds",
	0x1400: "sce_sys/trophy/trophy00.trp",
}

var ps5PKGNames = map[uint32]string{
	0x1000: "sce_sys/param.json",
	0x1001: "sce_sys/param.sfo",
}

var ps3PUPNames = map[uint64]string{
	0x100: "version.txt",
	0x101: "license.xml",
	0x102: "promo_flags.txt",
	0x103: "update_flags.txt",
	0x104: "patch_build.txt",
	0x200: "ps3swu.self",
	0x201: "vsh.tar",
	0x202: "dots.txt",
	0x203: "patch_data.pkg",
	0x300: "update_files.tar",
	0x501: "spkg_hdr.tar",
	0x601: "ps3swu2.self",
}

var ps4PUPNames = map[uint32]string{
	0x001: "emc_ipl.bin",
	0x002: "eap_kbl.bin",
	0x003: "torus2_fw.bin",
	0x004: "sam_ipl.bin",
	0x005: "coreos.bin",
	0x006: "system_exfat.bin",
	0x007: "eap_kernel.bin",
	0x008: "eap_vsh_fat16.bin",
	0x009: "preup_exfat.bin",
	0x00B: "sc_fw_update0.bin",
	0x00D: "emc_ipl_ext.bin",
	0x00E: "eap_kbl_ext.bin",
	0x00F: "torus2_fw_ext.bin",
	0x010: "sam_ipl_ext.bin",
	0x020: "emc_ipl_mgs.bin",
	0x022: "eap_kbl_mgs.bin",
}

var ps5PUPNames = map[uint32]string{
	0x001: "emc_ipl.bin",
	0x002: "eap_kbl.bin",
	0x003: "wlanbt.bin",
	0x005: "coreos.bin",
	0x006: "system_ex.bin",
	0x009: "preup_ex.bin",
	0x00C: "sc_fw_update.bin",
}

func tablePKGName(format Format, id uint32) (string, bool) {
	if format == FormatPS5PKG {
		if name, ok := ps5PKGNames[id]; ok {
			return name, true
		}
	}

	name, ok := ps4PKGNames[id]
	return name, ok
}

// nameBlob yields the non-empty NUL-terminated strings of an entry name blob
// in order.
type nameBlob struct {
	names [][]byte
}

func newNameBlob(data []byte) *nameBlob {
	nb := &nameBlob{}
	for _, name := range bytes.Split(data, []byte{0}) {
		if len(name) > 0 {
			nb.names = append(nb.names, name)
		}
	}
	return nb
}

func (nb *nameBlob) next() (string, bool) {
	if nb == nil || len(nb.names) == 0 {
		return "", false
	}
	name := string(nb.names[0])
	nb.names = nb.names[1:]
	return name, true
}

var extensionMagics = []struct {
	magic []byte
	ext   string
}{
	{[]byte("\x00PSF"), ".sfo"},
	{[]byte("\x7FELF"), ".elf"},
	{[]byte("SCE\x00"), ".self"},
	{[]byte{0x4F, 0x15, 0x3D, 0x1D}, ".self"},
	{[]byte("\x89PNG"), ".png"},
	{[]byte("DDS "), ".dds"},
	{[]byte("\x7FCNT"), ".pkg"},
	{[]byte("\x7FPKG"), ".pkg"},
	{[]byte("\x7FFIH"), ".pkg"},
	{[]byte("<?xm"), ".xml"},
	{[]byte("RIFF"), ".at9"},
	{[]byte{0xDC, 0xA2, 0x4D, 0x00}, ".trp"},
	{[]byte("SLB2"), ".slb2"},
}

// guessExtension maps the first bytes of a payload to a file extension.
func guessExtension(head []byte) string {
	for _, m := range extensionMagics {
		if bytes.HasPrefix(head, m.magic) {
			return m.ext
		}
	}
	return ".bin"
}

func syntheticName(id uint64, head []byte) string {
	return fmt.Sprintf("%08X%s", id, guessExtension(head))
}
