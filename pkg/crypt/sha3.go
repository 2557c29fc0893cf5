package crypt

import (
	"encoding/binary"
	"hash"
	"math/bits"
)

const (
	// SHA3Size is the size of a SHA3-256 digest in bytes.
	SHA3Size = 32

	sha3Rate = 136 // 1088 bits
)

var keccakRC = [24]uint64{
	0x0000000000000001, 0x0000000000008082, 0x800000000000808a, 0x8000000080008000,
	0x000000000000808b, 0x0000000080000001, 0x8000000080008081, 0x8000000000008009,
	0x000000000000008a, 0x0000000000000088, 0x0000000080008009, 0x000000008000000a,
	0x000000008000808b, 0x800000000000008b, 0x8000000000008089, 0x8000000000008003,
	0x8000000000008002, 0x8000000000000080, 0x000000000000800a, 0x800000008000000a,
	0x8000000080008081, 0x8000000000008080, 0x0000000080000001, 0x8000000080008008,
}

// rho offsets and pi lane order, walked as a single cycle starting at lane 1
var (
	keccakRot = [24]int{1, 3, 6, 10, 15, 21, 28, 36, 45, 55, 2, 14, 27, 41, 56, 8, 25, 43, 62, 18, 39, 61, 20, 44}
	keccakPi  = [24]int{10, 7, 11, 17, 18, 3, 5, 16, 8, 21, 24, 4, 15, 23, 19, 13, 12, 2, 20, 14, 22, 9, 6, 1}
)

func keccakF1600(a *[25]uint64) {
	var bc [5]uint64

	for round := 0; round < 24; round++ {
		// theta
		for i := 0; i < 5; i++ {
			bc[i] = a[i] ^ a[i+5] ^ a[i+10] ^ a[i+15] ^ a[i+20]
		}
		for i := 0; i < 5; i++ {
			t := bc[(i+4)%5] ^ bits.RotateLeft64(bc[(i+1)%5], 1)
			for j := 0; j < 25; j += 5 {
				a[j+i] ^= t
			}
		}

		// rho and pi
		t := a[1]
		for i := 0; i < 24; i++ {
			j := keccakPi[i]
			next := a[j]
			a[j] = bits.RotateLeft64(t, keccakRot[i])
			t = next
		}

		// chi
		for j := 0; j < 25; j += 5 {
			for i := 0; i < 5; i++ {
				bc[i] = a[j+i]
			}
			for i := 0; i < 5; i++ {
				a[j+i] ^= ^bc[(i+1)%5] & bc[(i+2)%5]
			}
		}

		// iota
		a[0] ^= keccakRC[round]
	}
}

type sha3Digest struct {
	a   [25]uint64
	buf [sha3Rate]byte
	n   int
}

// NewSHA3 returns a streaming SHA3-256 hash.
func NewSHA3() hash.Hash {
	return new(sha3Digest)
}

// Sum256 returns the SHA3-256 digest of data.
func Sum256(data []byte) [SHA3Size]byte {
	var d sha3Digest
	d.Write(data)

	var out [SHA3Size]byte
	d.finish(out[:])
	return out
}

func (d *sha3Digest) Reset() {
	*d = sha3Digest{}
}

func (d *sha3Digest) Size() int { return SHA3Size }

func (d *sha3Digest) BlockSize() int { return sha3Rate }

func (d *sha3Digest) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		c := copy(d.buf[d.n:], p)
		d.n += c
		p = p[c:]
		if d.n == sha3Rate {
			d.absorb()
		}
	}
	return n, nil
}

func (d *sha3Digest) absorb() {
	for i := 0; i < sha3Rate/8; i++ {
		d.a[i] ^= binary.LittleEndian.Uint64(d.buf[8*i:])
	}
	keccakF1600(&d.a)
	d.n = 0
}

func (d *sha3Digest) Sum(in []byte) []byte {
	c := *d
	var out [SHA3Size]byte
	c.finish(out[:])
	return append(in, out[:]...)
}

func (d *sha3Digest) finish(out []byte) {
	for i := d.n; i < sha3Rate; i++ {
		d.buf[i] = 0
	}
	d.buf[d.n] ^= 0x06
	d.buf[sha3Rate-1] ^= 0x80
	d.absorb()

	for i := 0; i < SHA3Size/8; i++ {
		binary.LittleEndian.PutUint64(out[8*i:], d.a[i])
	}
}
