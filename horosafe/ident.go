package horosafe

import (
	"errors"
	"fmt"
	"io"
)

// MaxIdentifier bounds ValidateIdentifier.
const MaxIdentifier = 256

// MaxResponseBody is the default cap for reading a remote body (1 MiB).
const MaxResponseBody int64 = 1 << 20

// ValidateIdentifier accepts names safe to use as content keys, element
// names and URL path segments: ASCII letters, digits, '_', '-' and '.'.
func ValidateIdentifier(s string) error {
	switch {
	case s == "":
		return errors.New("horosafe: identifier must not be empty")
	case len(s) > MaxIdentifier:
		return fmt.Errorf("horosafe: identifier longer than %d bytes", MaxIdentifier)
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; !identByte(c) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", c)
		}
	}
	return nil
}

func identByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '_' || c == '-' || c == '.'
}

// LimitedReadAll reads r to the end and fails once more than maxBytes arrive.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}
