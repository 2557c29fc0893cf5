package crypt

import (
	"encoding/binary"
	"hash"
	"math/bits"
)

// SHA1Size is the size of a SHA-1 digest in bytes.
const SHA1Size = 20

const sha1Block = 64

type sha1Digest struct {
	h   [5]uint32
	x   [sha1Block]byte
	nx  int
	len uint64
}

// NewSHA1 returns a streaming SHA-1 hash.
func NewSHA1() hash.Hash {
	d := new(sha1Digest)
	d.Reset()
	return d
}

// SumSHA1 returns the SHA-1 digest of data.
func SumSHA1(data []byte) [SHA1Size]byte {
	var d sha1Digest
	d.Reset()
	d.Write(data)

	var out [SHA1Size]byte
	d.checkSum(out[:])
	return out
}

func (d *sha1Digest) Reset() {
	d.h = [5]uint32{0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476, 0xc3d2e1f0}
	d.nx = 0
	d.len = 0
}

func (d *sha1Digest) Size() int { return SHA1Size }

func (d *sha1Digest) BlockSize() int { return sha1Block }

func (d *sha1Digest) Write(p []byte) (int, error) {
	n := len(p)
	d.len += uint64(n)

	if d.nx > 0 {
		c := copy(d.x[d.nx:], p)
		d.nx += c
		p = p[c:]
		if d.nx == sha1Block {
			d.block(d.x[:])
			d.nx = 0
		}
	}

	for len(p) >= sha1Block {
		d.block(p[:sha1Block])
		p = p[sha1Block:]
	}

	if len(p) > 0 {
		d.nx = copy(d.x[:], p)
	}

	return n, nil
}

func (d *sha1Digest) Sum(in []byte) []byte {
	// work on a copy so the caller can keep writing
	c := *d
	var out [SHA1Size]byte
	c.checkSum(out[:])
	return append(in, out[:]...)
}

func (d *sha1Digest) checkSum(out []byte) {
	bitLen := d.len << 3

	var pad [sha1Block + 8]byte
	pad[0] = 0x80
	padLen := 56 - int(d.len%sha1Block)
	if padLen <= 0 {
		padLen += sha1Block
	}
	binary.BigEndian.PutUint64(pad[padLen:], bitLen)
	d.Write(pad[:padLen+8])

	if d.nx != 0 {
		panic("crypt: sha1 padding left a partial block")
	}

	for i, v := range d.h {
		binary.BigEndian.PutUint32(out[4*i:], v)
	}
}

func (d *sha1Digest) block(p []byte) {
	var w [80]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(p[4*i:])
	}
	for i := 16; i < 80; i++ {
		w[i] = bits.RotateLeft32(w[i-3]^w[i-8]^w[i-14]^w[i-16], 1)
	}

	a, b, c, dd, e := d.h[0], d.h[1], d.h[2], d.h[3], d.h[4]

	for i := 0; i < 80; i++ {
		var f, k uint32
		switch {
		case i < 20:
			f = b&c | ^b&dd
			k = 0x5a827999
		case i < 40:
			f = b ^ c ^ dd
			k = 0x6ed9eba1
		case i < 60:
			f = b&c | b&dd | c&dd
			k = 0x8f1bbcdc
		default:
			f = b ^ c ^ dd
			k = 0xca62c1d6
		}

		t := bits.RotateLeft32(a, 5) + f + e + k + w[i]
		e = dd
		dd = c
		c = bits.RotateLeft32(b, 30)
		b = a
		a = t
	}

	d.h[0] += a
	d.h[1] += b
	d.h[2] += c
	d.h[3] += dd
	d.h[4] += e
}
