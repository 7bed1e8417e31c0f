package delivery

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage breaks text into units of at most size characters.
// Lines are accumulated until the next one would overflow; a single line longer
// than size is word-wrapped, and a word longer than size is cut.
// Joining the units with "\n" reproduces text except where a long line was wrapped.
func SplitMessage(text string, size int) []string {
	if size <= 0 || text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	var units []string
	var cur strings.Builder
	curLen, open := 0, false

	flush := func() {
		if open {
			units = append(units, cur.String())
			cur.Reset()
			curLen, open = 0, false
		}
	}

	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)

		switch {
		case n > size:
			flush()
			units = append(units, wrapLine(line, size)...)
		case !open:
			cur.WriteString(line)
			curLen, open = n, true
		case curLen+1+n > size:
			flush()
			cur.WriteString(line)
			curLen, open = n, true
		default:
			cur.WriteByte('\n')
			cur.WriteString(line)
			curLen += 1 + n
		}
	}
	flush()

	return units
}

// wrapLine breaks one over-long line at spaces. Each break consumes exactly
// one space; other whitespace stays attached to the word that follows it.
func wrapLine(line string, size int) []string {
	var out []string
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}

	rs := []rune(line)
	for i := 0; i < len(rs); {
		j := i
		for j < len(rs) && rs[j] == ' ' {
			j++
		}
		for j < len(rs) && rs[j] != ' ' {
			j++
		}
		piece := rs[i:j]
		i = j

		if len(cur) > 0 && len(cur)+len(piece) > size {
			flush()
			piece = piece[1:]
		}
		for len(piece) > size {
			flush()
			out = append(out, string(piece[:size]))
			piece = piece[size:]
		}
		cur = append(cur, piece...)
	}
	flush()

	return out
}
