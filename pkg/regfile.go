package pkg

import "io"

// payloadReader yields exactly nb bytes of one entry from r. A source that
// runs dry first is an IncompleteRead, never a silent short file.
type payloadReader struct {
	op string
	r  io.Reader
	nb int64
}

func (pr *payloadReader) Read(b []byte) (int, error) {
	if pr.nb == 0 {
		return 0, io.EOF
	}
	if int64(len(b)) > pr.nb {
		b = b[:pr.nb]
	}

	n, err := pr.r.Read(b)
	pr.nb -= int64(n)

	if err == io.EOF && pr.nb > 0 {
		err = newError(IncompleteRead, pr.op, "payload ended 0x%x bytes early", pr.nb)
	}
	return n, err
}

// remaining returns the number of payload bytes not yet read.
func (pr *payloadReader) remaining() int64 {
	return pr.nb
}

// copyPayload streams n bytes of r to w.
func copyPayload(op string, w io.Writer, r io.Reader, n int64) error {
	if _, err := io.Copy(w, &payloadReader{op: op, r: r, nb: n}); err != nil {
		return wrapError(IncompleteRead, op, err)
	}
	return nil
}
