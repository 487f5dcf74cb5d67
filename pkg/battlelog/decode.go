package battlelog

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"unicode/utf8"

	"tzlogs/pkg/failures"

	"golang.org/x/text/encoding/charmap"
)

// normalize decompresses, decodes and cleans a payload.
func normalize(payload []byte) (string, error) {
	data := payload
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", failures.Newf(failures.KindParse, "battlelog.normalize", "bad gzip header: %v", err)
		}
		// A truncated stream still yields the bytes read so far.
		data, err = io.ReadAll(zr)
		if err != nil && len(data) == 0 {
			return "", failures.Newf(failures.KindParse, "battlelog.normalize", "couldn't decompress: %v", err)
		}
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var text string
	if utf8.Valid(data) {
		text = string(data)
	} else {
		decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
		if err != nil {
			return "", failures.Newf(failures.KindParse, "battlelog.normalize", "couldn't decode payload: %v", err)
		}
		text = string(decoded)
	}

	return stripControl(text), nil
}

// stripControl drops NUL and other control characters, keeping whitespace.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// equalFoldASCII compares an ASCII lowercase needle against s without allocating.
func equalFoldASCII(s, lowerNeedle string) bool {
	if len(s) != len(lowerNeedle) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lowerNeedle[i] {
			return false
		}
	}
	return true
}

// indexFold finds lowerNeedle in s starting at from, ignoring ASCII case.
func indexFold(s, lowerNeedle string, from int) int {
	n := len(lowerNeedle)
	for i := from; i+n <= len(s); i++ {
		if equalFoldASCII(s[i:i+n], lowerNeedle) {
			return i
		}
	}
	return -1
}

// indexTag finds the next opening tag with the given lowercase name.
func indexTag(s, name string, from int) int {
	needle := "<" + name
	for {
		i := indexFold(s, needle, from)
		if i < 0 {
			return -1
		}
		next := i + len(needle)
		if next >= len(s) {
			return i
		}
		switch s[next] {
		case ' ', '\t', '\n', '\r', '>', '/':
			return i
		}
		from = i + 1
	}
}

// canonicalBlock truncates at the second BATTLE tag and returns the first BATTLE element.
func canonicalBlock(text string) (string, error) {
	first := indexTag(text, "battle", 0)
	if first < 0 {
		return "", failures.Newf(failures.KindEmpty, "battlelog.Parse", "no BATTLE element in payload")
	}

	if second := indexTag(text, "battle", first+1); second >= 0 {
		text = text[:second]
	}

	if end := indexFold(text, "</battle>", first); end >= 0 {
		return text[first : end+len("</battle>")], nil
	}
	return text[first:], nil
}

// headerEnd returns the index of the '>' closing the tag that starts at start, honoring quotes.
func headerEnd(s string, start int) int {
	var quote byte
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '<':
			return -1
		case c == '>':
			return i
		}
	}
	return -1
}
