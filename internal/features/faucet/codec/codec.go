// Package codec implements the digit-group wire encoding used to carry
// challenge secrets and redemption payloads past naive scrapers. Each
// character becomes its zero-padded 3-digit code point; the digit stream
// is chunked into hyphen-joined groups of fixed width.
package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupWidth is the digit width of one wire group; one group carries
// eight encoded characters.
const GroupWidth = 24

// Encode transforms text into the hyphen-delimited digit-group form.
func Encode(text string) string {
	var digits strings.Builder
	for _, r := range text {
		digits.WriteString(fmt.Sprintf("%03d", r))
	}

	s := digits.String()
	groups := make([]string, 0, (len(s)+GroupWidth-1)/GroupWidth)
	for len(s) > GroupWidth {
		groups = append(groups, s[:GroupWidth])
		s = s[GroupWidth:]
	}
	if s != "" {
		groups = append(groups, s)
	}
	return strings.Join(groups, "-")
}

// Decode reverses Encode. Each group is consumed as leading runs of
// 3-digit codes plus any left-over digits as a final partial code.
// Codes that are zero or unparsable are dropped silently, which is how
// all-zero padding groups collapse to empty output.
func Decode(token string) string {
	if token == "" {
		return ""
	}

	var out strings.Builder
	for _, group := range strings.Split(token, "-") {
		n := len(group) - len(group)%3
		for i := 0; i < n; i += 3 {
			writeCode(&out, group[i:i+3])
		}
		if rest := group[n:]; rest != "" {
			writeCode(&out, rest)
		}
	}
	return out.String()
}

func writeCode(out *strings.Builder, s string) {
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return
	}
	out.WriteRune(rune(code))
}
