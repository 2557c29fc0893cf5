package crypt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
)

var (
	ErrDecryption   = errors.New("crypt: RSA decryption error")
	errInvalidKey   = errors.New("crypt: invalid RSA private key")
	errNoPEMKey     = errors.New("crypt: no RSA private key in PEM data")
	errUnsupportedK = errors.New("crypt: PEM key is not an RSA key")
)

// PrivateKey is the part of an RSA key needed to decrypt.
type PrivateKey struct {
	N *big.Int
	D *big.Int
}

// Valid reports whether k has a positive modulus and a private exponent.
func (k *PrivateKey) Valid() bool {
	return k != nil && k.N != nil && k.D != nil && k.N.Sign() > 0
}

// Size returns the modulus length in bytes, or 0 for an unusable key.
func (k *PrivateKey) Size() int {
	if !k.Valid() {
		return 0
	}
	return (k.N.BitLen() + 7) / 8
}

// DecryptPKCS1 decrypts ciphertext c and strips PKCS #1 v1.5 type 2 padding.
func (k *PrivateKey) DecryptPKCS1(c []byte) ([]byte, error) {
	if !k.Valid() {
		return nil, errInvalidKey
	}

	size := k.Size()
	if len(c) != size || size < 11 {
		return nil, ErrDecryption
	}

	ci := new(big.Int).SetBytes(c)
	if ci.Cmp(k.N) >= 0 {
		return nil, ErrDecryption
	}

	m := new(big.Int).Exp(ci, k.D, k.N)
	em := m.FillBytes(make([]byte, size))

	// 0x00 0x02 PS(>= 8 nonzero bytes) 0x00 M
	if em[0] != 0x00 || em[1] != 0x02 {
		return nil, ErrDecryption
	}

	sep := -1
	for i := 2; i < len(em); i++ {
		if em[i] == 0 {
			sep = i
			break
		}
	}

	if sep < 10 {
		return nil, ErrDecryption
	}

	return em[sep+1:], nil
}

// LoadPrivateKey reads a PEM encoded RSA private key (PKCS #1 or PKCS #8).
func LoadPrivateKey(name string) (*PrivateKey, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}

	return ParsePrivateKeyPEM(data)
}

// ParsePrivateKeyPEM parses the first RSA private key block in data.
func ParsePrivateKeyPEM(data []byte) (*PrivateKey, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errNoPEMKey
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return FromRSA(key), nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			rk, ok := key.(*rsa.PrivateKey)
			if !ok {
				return nil, errUnsupportedK
			}
			return FromRSA(rk), nil
		}
	}
}

// FromRSA keeps the modulus and private exponent of key.
func FromRSA(key *rsa.PrivateKey) *PrivateKey {
	return &PrivateKey{
		N: new(big.Int).Set(key.N),
		D: new(big.Int).Set(key.D),
	}
}
