package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
)

// keyLength is the number of hex characters kept from the digest.
const keyLength = 12

// Key derives the cache key for a synthesis request. The digest covers
// {"f": format, "m": model, "t": text, "v": voice} rendered with sorted keys,
// ", " and ": " separators and non-ASCII characters escaped as \uXXXX, so the
// same parameters always map to the same file.
func Key(text, model, voice, format string) string {
	payload := fmt.Sprintf(`{"f": %s, "m": %s, "t": %s, "v": %s}`,
		quoteASCII(format), quoteASCII(model), quoteASCII(text), quoteASCII(voice))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:keyLength]
}

// FileName is the cache file name for key and format.
func FileName(key, format string) string {
	return key + "." + format
}

// quoteASCII renders s as a JSON string literal using only ASCII.
func quoteASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20, r >= 0x80 && r < 0x10000:
				fmt.Fprintf(&b, `\u%04x`, r)
			case r >= 0x10000:
				r1, r2 := utf16.EncodeRune(r)
				fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
