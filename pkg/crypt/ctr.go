package crypt

// A KeyStream XORs a position dependent keystream into a buffer. Applying it
// twice at the same offset restores the input.
type KeyStream interface {
	XORKeyStreamAt(dst, src []byte, offset int64)
}

// Increment adds one to ctr, read as a big-endian number. The carry runs
// from the last byte to the first and is dropped past the first, so a
// counter of all 0xff wraps to all zeros.
func Increment(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			return
		}
	}
}

// Add adds value to ctr, read as a big-endian number of any width.
func Add(ctr []byte, value uint64) {
	for n := len(ctr) - 1; n >= 0 && value > 0; n-- {
		sum := uint64(ctr[n]) + value&0xff
		ctr[n] = byte(sum)
		value = value>>8 + sum>>8
	}
}

// counterStream turns a counter -> block function into a keystream. The
// counter is advanced with Increment after every 16 bytes of output.
type counterStream struct {
	base []byte
	ctr  []byte
	gen  func(dst, ctr []byte)
	ks   [BlockSize]byte
	used int
}

func newCounterStream(base []byte, gen func(dst, ctr []byte)) *counterStream {
	s := &counterStream{
		base: dup(base),
		ctr:  dup(base),
		gen:  gen,
		used: BlockSize,
	}
	return s
}

// Seek repositions the sequential stream to byte offset off.
func (s *counterStream) Seek(off int64) {
	if off < 0 {
		panic("crypt: negative keystream offset")
	}

	copy(s.ctr, s.base)
	Add(s.ctr, uint64(off/BlockSize))
	s.used = BlockSize

	if rem := int(off % BlockSize); rem != 0 {
		s.refill()
		s.used = rem
	}
}

func (s *counterStream) refill() {
	s.gen(s.ks[:], s.ctr)
	Increment(s.ctr)
	s.used = 0
}

// XORKeyStream implements cipher.Stream.
func (s *counterStream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("crypt: output smaller than input")
	}

	for len(src) > 0 {
		if s.used == BlockSize {
			s.refill()
		}

		n := BlockSize - s.used
		if n > len(src) {
			n = len(src)
		}

		ks := s.ks[s.used : s.used+n]
		for i, b := range ks {
			dst[i] = src[i] ^ b
		}

		s.used += n
		dst = dst[n:]
		src = src[n:]
	}
}

// XORKeyStreamAt applies the keystream as it stands at byte offset off. It
// does not disturb the sequential position.
func (s *counterStream) XORKeyStreamAt(dst, src []byte, off int64) {
	at := newCounterStream(s.base, s.gen)
	at.Seek(off)
	at.XORKeyStream(dst, src)
}

// CTR is AES-128 in counter mode with a 16 byte big-endian counter.
type CTR struct {
	*counterStream
}

// NewCTR returns a counter mode stream whose first block is E(iv).
func NewCTR(block *Cipher, iv []byte) *CTR {
	if len(iv) != BlockSize {
		panic("crypt: IV length must equal block size")
	}

	return &CTR{newCounterStream(iv, func(dst, ctr []byte) {
		block.Encrypt(dst, ctr)
	})}
}

// SHA1CTR is the legacy digest keystream: a 64 byte key is hashed for every
// 16 bytes of output and the first 16 bytes of the SHA-1 digest are used.
type SHA1CTR struct {
	*counterStream
}

// NewSHA1CTR builds the 64 byte key from the first 16 bytes of digest: each
// 8 byte half is written twice, the remaining 32 bytes start at zero.
func NewSHA1CTR(digest []byte) *SHA1CTR {
	if len(digest) < 16 {
		panic("crypt: digest too short for keystream key")
	}

	key := make([]byte, 64)
	copy(key[0x00:], digest[0:8])
	copy(key[0x08:], digest[0:8])
	copy(key[0x10:], digest[8:16])
	copy(key[0x18:], digest[8:16])

	return &SHA1CTR{newCounterStream(key, func(dst, ctr []byte) {
		sum := SumSHA1(ctr)
		copy(dst, sum[:BlockSize])
	})}
}

func dup(p []byte) []byte {
	q := make([]byte, len(p))
	copy(q, p)
	return q
}
