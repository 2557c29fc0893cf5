package pkg

import (
	"log"

	"megpoid.xyz/go/go-psunpack/pkg/crypt"
)

const (
	keyBlobSize     = 0x180
	keyMaterialSize = 32
)

// The key blob has no header field pointing at it; these are the places it
// has been seen, tried in order.
var keyBlobOffsets = []int64{0x800, 0xA00, 0xC00, 0x1000, 0x2000}

// readKeyBlob copies the blob at the first candidate offset into blob for
// display. It reports false when the container is too short to hold one.
func readKeyBlob(src Source, blob *[keyBlobSize]byte) (bool, error) {
	off := keyBlobOffsets[0]
	if checkRange("key blob", src.Size(), off, keyBlobSize) != nil {
		return false, nil
	}

	buf, err := readAt("key blob", src, off, keyBlobSize)
	if err != nil {
		return false, err
	}

	copy(blob[:], buf)
	return true, nil
}

// unwrapKeyMaterial decrypts the per-package key material with key. Each
// candidate blob starts with an RSA ciphertext of the modulus size; the first
// one that unpads to at least 32 non-zero bytes wins.
func unwrapKeyMaterial(src Source, key *crypt.PrivateKey, logger *log.Logger) ([]byte, error) {
	if !key.Valid() {
		return nil, newError(CryptoFailure, "key material", "RSA key has no modulus or private exponent")
	}

	size := int64(key.Size())
	if size > keyBlobSize {
		return nil, newError(CryptoFailure, "key material", "RSA modulus of %d bytes does not fit the key blob", size)
	}

	for _, off := range keyBlobOffsets {
		if checkRange("key material", src.Size(), off, keyBlobSize) != nil {
			logger.Printf("key material: 0x%x past end of container", off)
			continue
		}

		blob, err := readAt("key material", src, off, keyBlobSize)
		if err != nil {
			return nil, err
		}

		m, err := key.DecryptPKCS1(blob[:size])
		if err != nil || !plausibleKeyMaterial(m) {
			logger.Printf("key material: candidate 0x%x rejected", off)
			continue
		}

		logger.Printf("key material: using blob at 0x%x", off)
		return m[:keyMaterialSize], nil
	}

	return nil, newError(CryptoFailure, "key material", "no candidate key blob decrypts to plausible key material")
}

func plausibleKeyMaterial(m []byte) bool {
	if len(m) < keyMaterialSize {
		return false
	}
	for _, b := range m {
		if b != 0 {
			return true
		}
	}
	return false
}

// entryKey derives the AES key and IV of one encrypted table entry from its
// raw record and the package key material.
func entryKey(record, keyMaterial []byte) (key, iv []byte) {
	seed := make([]byte, 0, len(record)+len(keyMaterial))
	seed = append(seed, record...)
	seed = append(seed, keyMaterial...)

	sum := crypt.Sum256(seed)
	return sum[16:32], sum[0:16]
}
