package pkg

import (
	"io"
	"log"

	"megpoid.xyz/go/go-psunpack/pkg/crypt"
)

type openOptionData struct {
	rsaKey  *crypt.PrivateKey
	license string
	logger  *log.Logger
}

// OpenOption functions can be supplied to Open.
type OpenOption func(*openOptionData)

// WithRSAKey supplies the private key that unwraps the per-package key
// material of PS4 and PS5 packages. Without it encrypted entries of those
// formats cannot be extracted; everything else still works.
func WithRSAKey(key *crypt.PrivateKey) OpenOption {
	return func(o *openOptionData) {
		o.rsaKey = key
	}
}

// WithLicense supplies a zRIF license for Vita packages. Its content ID must
// match the package.
func WithLicense(zrif string) OpenOption {
	return func(o *openOptionData) {
		o.license = zrif
	}
}

// WithLogger sends parse decisions (detected format, keystream trials, key
// blob offsets, skipped entries) to l.
func WithLogger(l *log.Logger) OpenOption {
	return func(o *openOptionData) {
		o.logger = l
	}
}

func newOpenOptions(options []OpenOption) *openOptionData {
	o := &openOptionData{}
	for _, opt := range options {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	return o
}
