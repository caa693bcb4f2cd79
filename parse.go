package canfilter

import (
	"fmt"
	"strconv"
)

// Parse interprets a textual list of CAN IDs and ID ranges and feeds
// them to b. Items are separated by whitespace and/or commas; a range is
// two numbers joined by '-'. Numbers follow C strtoul base-0 rules:
// leading 0x/0X is hex, leading 0 is octal, otherwise decimal.
//
// A number up to 0x7FF is standard, up to 0x1FFFFFFF extended, anything
// larger fails. On error the builder may already hold the items parsed
// so far; discard it.
func Parse(b Builder, input string) error {
	pos := 0
	for pos < len(input) {
		pos = skipSep(input, pos)
		if pos >= len(input) {
			break
		}

		id1, next, err := scanNumber(input, pos)
		if err != nil {
			return err
		}
		pos = skipSpace(input, next)

		if pos < len(input) && input[pos] == '-' {
			pos = skipSpace(input, pos+1)
			var id2 uint32
			id2, pos, err = scanNumber(input, pos)
			if err != nil {
				return err
			}

			switch {
			case id1 <= MaxStdID && id2 <= MaxStdID:
				err = b.AddStdRange(id1, id2)
			case id1 <= MaxExtID && id2 <= MaxExtID:
				err = b.AddExtRange(id1, id2)
			default:
				err = fmt.Errorf("%w: range 0x%X-0x%X", ErrParam, id1, id2)
			}
		} else {
			switch {
			case id1 <= MaxStdID:
				err = b.AddStdID(id1)
			case id1 <= MaxExtID:
				err = b.AddExtID(id1)
			default:
				err = fmt.Errorf("%w: id 0x%X", ErrParam, id1)
			}
		}
		if err != nil {
			return err
		}

		pos = skipSep(input, pos)
	}
	return nil
}

// ParseStrings parses each argument in order, stopping at the first
// failure.
func ParseStrings(b Builder, args []string) error {
	for _, arg := range args {
		if err := Parse(b, arg); err != nil {
			return err
		}
	}
	return nil
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && isSpace(s[pos]) {
		pos++
	}
	return pos
}

func skipSep(s string, pos int) int {
	for pos < len(s) && (isSpace(s[pos]) || s[pos] == ',') {
		pos++
	}
	return pos
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// scanNumber reads one integer literal starting at pos and returns its
// value and the position past it.
func scanNumber(s string, pos int) (uint32, int, error) {
	end := pos
	for end < len(s) && isNumberChar(s[end]) {
		end++
	}
	if end == pos {
		return 0, pos, fmt.Errorf("%w: expected number at %q", ErrSyntax, tail(s, pos))
	}
	if end-pos > 1 && s[pos] == '0' && (s[pos+1] == 'b' || s[pos+1] == 'B') {
		// strtoul has no binary prefix; ParseUint would accept one.
		return 0, pos, fmt.Errorf("%w: bad number %q", ErrSyntax, s[pos:end])
	}
	v, err := strconv.ParseUint(s[pos:end], 0, 32)
	if err != nil {
		return 0, pos, fmt.Errorf("%w: bad number %q", ErrSyntax, s[pos:end])
	}
	return uint32(v), end, nil
}

func isNumberChar(c byte) bool {
	return c >= '0' && c <= '9' ||
		c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' ||
		c == 'x' || c == 'X'
}

func tail(s string, pos int) string {
	if len(s)-pos > 16 {
		return s[pos:pos+16] + "..."
	}
	return s[pos:]
}
