package pkg

// Format identifies one of the supported container variants.
type Format int

const (
	FormatUnknown Format = iota
	FormatPS3PKG
	FormatPS4PKG
	FormatPS5PKG
	FormatPS3PUP
	FormatPS4PUP
	FormatPS5PUP
)

func (f Format) String() string {
	switch f {
	case FormatPS3PKG:
		return "PS3_PKG"
	case FormatPS4PKG:
		return "PS4_PKG"
	case FormatPS5PKG:
		return "PS5_PKG"
	case FormatPS3PUP:
		return "PS3_PUP"
	case FormatPS4PUP:
		return "PS4_PUP"
	case FormatPS5PUP:
		return "PS5_PUP"
	default:
		return "UNKNOWN"
	}
}

// IsPUP reports whether f is a firmware update bundle.
func (f Format) IsPUP() bool {
	switch f {
	case FormatPS3PUP, FormatPS4PUP, FormatPS5PUP:
		return true
	default:
		return false
	}
}
