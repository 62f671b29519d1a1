package export

import (
	"fmt"
	"strings"
)

// FormatKeywords renders keywords as a bracketed literal list: ['a', 'b'].
// Backslashes and single quotes inside a keyword are backslash-escaped.
func FormatKeywords(keywords []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, k := range keywords {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('\'')
		for _, r := range k {
			if r == '\\' || r == '\'' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('\'')
	}
	b.WriteByte(']')
	return b.String()
}

// ParseKeywords reads a list written by FormatKeywords. Double-quoted items
// and a bare comma separated list are accepted too, since spreadsheet users
// edit this column by hand.
func ParseKeywords(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return []string{}, nil
	}
	if !strings.HasPrefix(s, "[") {
		return splitBare(s), nil
	}
	if !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("unterminated keyword list")
	}

	body := []rune(s[1 : len(s)-1])
	out := []string{}
	i := 0
	for {
		for i < len(body) && (body[i] == ' ' || body[i] == '\t') {
			i++
		}
		if i >= len(body) {
			return out, nil
		}
		quote := body[i]
		if quote != '\'' && quote != '"' {
			return nil, fmt.Errorf("expected quoted keyword at position %d", i+1)
		}
		i++

		var item strings.Builder
		closed := false
		for i < len(body) {
			r := body[i]
			i++
			if r == '\\' && i < len(body) {
				item.WriteRune(body[i])
				i++
				continue
			}
			if r == quote {
				closed = true
				break
			}
			item.WriteRune(r)
		}
		if !closed {
			return nil, fmt.Errorf("unterminated keyword")
		}
		out = append(out, item.String())

		for i < len(body) && (body[i] == ' ' || body[i] == '\t') {
			i++
		}
		if i >= len(body) {
			return out, nil
		}
		if body[i] != ',' {
			return nil, fmt.Errorf("expected ',' at position %d", i+1)
		}
		i++
	}
}

func splitBare(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
