package crypt

// CMAC computes the AES-CMAC tag of msg (RFC 4493).
func CMAC(block *Cipher, msg []byte) [BlockSize]byte {
	k1, k2 := cmacSubkeys(block)

	n := (len(msg) + BlockSize - 1) / BlockSize
	complete := n > 0 && len(msg)%BlockSize == 0
	if n == 0 {
		n = 1
	}

	var last [BlockSize]byte
	tail := msg[(n-1)*BlockSize:]
	if complete {
		for i := range last {
			last[i] = tail[i] ^ k1[i]
		}
	} else {
		copy(last[:], tail)
		last[len(tail)] = 0x80
		for i := range last {
			last[i] ^= k2[i]
		}
	}

	var x [BlockSize]byte
	for i := 0; i < n-1; i++ {
		blk := msg[i*BlockSize : (i+1)*BlockSize]
		for j := range x {
			x[j] ^= blk[j]
		}
		block.Encrypt(x[:], x[:])
	}

	for j := range x {
		x[j] ^= last[j]
	}
	block.Encrypt(x[:], x[:])

	return x
}

func cmacSubkeys(block *Cipher) (k1, k2 [BlockSize]byte) {
	var l [BlockSize]byte
	block.Encrypt(l[:], l[:])

	k1 = shiftXor(l)
	k2 = shiftXor(k1)
	return
}

// shiftXor doubles b in GF(2^128).
func shiftXor(b [BlockSize]byte) [BlockSize]byte {
	var out [BlockSize]byte
	carry := b[0] >> 7
	for i := 0; i < BlockSize-1; i++ {
		out[i] = b[i]<<1 | b[i+1]>>7
	}
	out[BlockSize-1] = b[BlockSize-1] << 1
	if carry != 0 {
		out[BlockSize-1] ^= 0x87
	}
	return out
}
