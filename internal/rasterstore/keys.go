package rasterstore

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// BlockKey addresses one block of a channel:
// raster:{product}:{channel}:{bx}:{by}.
func BlockKey(product, channel string, bx, by int) string {
	return fmt.Sprintf("raster:%s:%s:%d:%d", segment(product), segment(channel), bx, by)
}

func metaKey(product string) string {
	return fmt.Sprintf("raster:%s:meta", segment(product))
}

// segment makes a name safe for use between ':' separators. A name that had
// to be rewritten carries a hash of the original so distinct names never
// share a key.
func segment(s string) string {
	clean := sanitize(strings.TrimSpace(s))
	if clean == s && clean != "" {
		return clean
	}
	return fmt.Sprintf("%s~%08x", clean, uint32(xxhash.Sum64String(s)))
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// ':' and any non-ASCII rune
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
