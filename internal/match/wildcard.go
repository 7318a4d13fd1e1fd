package match

import "strings"

// Pattern matches names against a '*' wildcard expression.
type Pattern struct {
	raw   string
	parts []string
}

// Compile parses pattern; '*' matches any run of characters, including none.
// Params: pattern text.
// Returns: compiled pattern and false when pattern is blank.
func Compile(pattern string) (Pattern, bool) {
	raw := strings.TrimSpace(pattern)
	if raw == "" {
		return Pattern{}, false
	}
	return Pattern{raw: raw, parts: strings.Split(raw, "*")}, true
}

// String returns the trimmed source pattern.
func (p Pattern) String() string {
	return p.raw
}

// Literal reports whether pattern has no wildcard.
func (p Pattern) Literal() bool {
	return len(p.parts) == 1
}

// Match reports whether value matches the whole pattern.
// Params: value compared text.
// Returns: true on match.
func (p Pattern) Match(value string) bool {
	if len(p.parts) == 0 {
		return false
	}
	if p.Literal() {
		return value == p.raw
	}

	head, tail := p.parts[0], p.parts[len(p.parts)-1]
	if len(value) < len(head)+len(tail) || !strings.HasPrefix(value, head) || !strings.HasSuffix(value, tail) {
		return false
	}

	rest := value[len(head) : len(value)-len(tail)]
	for _, middle := range p.parts[1 : len(p.parts)-1] {
		idx := strings.Index(rest, middle)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(middle):]
	}
	return true
}

// Select filters names by patterns, keeping the order of names.
// Params: patterns selection expressions; names candidate names.
// Returns: matched names without duplicates and patterns that matched nothing.
func Select(patterns []string, names []string) (selected []string, unmatched []string) {
	compiled := make([]Pattern, 0, len(patterns))
	hits := make([]bool, 0, len(patterns))
	for _, raw := range patterns {
		pattern, ok := Compile(raw)
		if !ok {
			unmatched = append(unmatched, raw)
			continue
		}
		compiled = append(compiled, pattern)
		hits = append(hits, false)
	}

	for _, name := range names {
		matched := false
		for idx, pattern := range compiled {
			if pattern.Match(name) {
				hits[idx] = true
				matched = true
			}
		}
		if matched {
			selected = append(selected, name)
		}
	}

	for idx, hit := range hits {
		if !hit {
			unmatched = append(unmatched, compiled[idx].String())
		}
	}
	return selected, unmatched
}
