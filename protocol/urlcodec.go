package protocol

import (
	"net/url"
	"strings"
)

const upperHex = "0123456789ABCDEF"

// URLEncode escapes friendly names and group names for use as a single
// parameter. Spaces become %20, never '+'.
func URLEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&15])
			continue
		}

		b.WriteByte(c)
	}

	return b.String()
}

// URLDecode reverses URLEncode. Malformed escapes leave s untouched.
func URLDecode(s string) string {
	out, err := url.PathUnescape(s)
	if err != nil {
		return s
	}

	return out
}

func shouldEscape(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return false
	case c == '-' || c == '_' || c == '.' || c == '~' || c == '@':
		return false
	}

	return true
}
