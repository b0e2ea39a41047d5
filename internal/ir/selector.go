package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Selector is a CSS selector optionally narrowed by visible text and an
// index into the matches.
//
//	button:has-text("Export CSV")
//	.treemap-block >> nth=0
type Selector struct {
	CSS     string `json:"css"`
	HasText string `json:"has_text,omitempty"`
	Nth     int    `json:"nth,omitempty"`
}

const hasTextPrefix = `:has-text(`

// ParseSelector parses the selector grammar used in suite files.
func ParseSelector(raw string) (Selector, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Selector{}, fmt.Errorf("empty selector")
	}
	var sel Selector

	if i := strings.LastIndex(s, ">>"); i >= 0 {
		suffix := strings.TrimSpace(s[i+2:])
		if !strings.HasPrefix(suffix, "nth=") {
			return Selector{}, fmt.Errorf("selector %q: unsupported chain %q", raw, suffix)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(suffix, "nth="))
		if err != nil || n < 0 {
			return Selector{}, fmt.Errorf("selector %q: bad nth index", raw)
		}
		sel.Nth = n
		s = strings.TrimSpace(s[:i])
	}

	if i := strings.Index(s, hasTextPrefix); i >= 0 {
		if !strings.HasSuffix(s, ")") {
			return Selector{}, fmt.Errorf("selector %q: unterminated :has-text", raw)
		}
		arg := strings.TrimSpace(s[i+len(hasTextPrefix) : len(s)-1])
		text, err := strconv.Unquote(arg)
		if err != nil {
			// single quotes are common in hand-written suites
			if len(arg) >= 2 && arg[0] == '\'' && arg[len(arg)-1] == '\'' {
				text = arg[1 : len(arg)-1]
			} else {
				return Selector{}, fmt.Errorf("selector %q: :has-text argument must be quoted", raw)
			}
		}
		sel.HasText = text
		s = strings.TrimSpace(s[:i])
	}

	if s == "" {
		s = "*"
	}
	sel.CSS = s
	return sel, nil
}

// MustSelector is ParseSelector for literals known to be valid.
func MustSelector(raw string) Selector {
	sel, err := ParseSelector(raw)
	if err != nil {
		panic(err)
	}
	return sel
}

func (s Selector) String() string {
	var b strings.Builder
	b.WriteString(s.CSS)
	if s.HasText != "" {
		b.WriteString(hasTextPrefix)
		b.WriteString(strconv.Quote(s.HasText))
		b.WriteByte(')')
	}
	if s.Nth > 0 {
		b.WriteString(" >> nth=")
		b.WriteString(strconv.Itoa(s.Nth))
	}
	return b.String()
}
