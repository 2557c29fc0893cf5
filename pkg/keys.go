package pkg

import "megpoid.xyz/go/go-psunpack/pkg/crypt"

var (
	KeyPS3 = []byte{0x2e, 0x7b, 0x71, 0xd7, 0xc9, 0xc9, 0xa1, 0x4e, 0xa3, 0x22, 0x1f, 0x18, 0x88, 0x28, 0xb8, 0xf8}
	KeyPSP = []byte{0x07, 0xf2, 0xc6, 0x82, 0x90, 0xb5, 0x0d, 0x2c, 0x33, 0x81, 0x8d, 0x70, 0x9b, 0x60, 0xe6, 0x2b}

	KeyVita2 = []byte{0xe3, 0x1a, 0x70, 0xc9, 0xce, 0x1d, 0xd7, 0x2b, 0xf3, 0xc0, 0x62, 0x29, 0x63, 0xf2, 0xec, 0xcb}
	KeyVita3 = []byte{0x42, 0x3a, 0xca, 0x3a, 0x2b, 0xd5, 0x64, 0x9f, 0x96, 0x86, 0xab, 0xad, 0x6f, 0xd8, 0x80, 0x1f}
	KeyVita4 = []byte{0xaf, 0x07, 0xfd, 0x59, 0x65, 0x25, 0x27, 0xba, 0xf1, 0x33, 0x89, 0x66, 0x8b, 0x17, 0xd9, 0xea}
)

// AESECBEncrypt encrypts a single block of src with key into dst.
func AESECBEncrypt(dst, src, key []byte) error {
	c, err := crypt.NewCipher(key)
	if err != nil {
		return err
	}

	c.Encrypt(dst, src)
	return nil
}
