// Package text loads optional lyric and tag sources and normalizes them for
// the generation pipeline.
//
// Missing sources are not errors here. A path that is empty, absent or
// unreadable yields empty text, and the caller decides whether an empty
// result is acceptable for the field it fills.
package text

import (
	"os"
	"strings"
	"unicode"
)

const (
	byteOrderMark  = "\ufeff"
	carriageReturn = "\r\n"
	lineFeed       = "\n"
)

// Load reads the file at path and returns its text content.
//
// Invalid UTF-8 sequences are dropped rather than reported, a leading byte
// order mark is removed and Windows line endings are folded to "\n". An empty
// path, a missing file or any read failure returns "".
func Load(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}

	// #nosec G304 -- the path is an optional user-provided text source
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	content := strings.ToValidUTF8(string(data), "")
	content = strings.TrimPrefix(content, byteOrderMark)

	return strings.ReplaceAll(content, carriageReturn, lineFeed)
}

// NormalizeTags trims the tag list and removes every whitespace character,
// leaving a strict comma-separated token list.
func NormalizeTags(tags string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, strings.TrimSpace(tags))
}
