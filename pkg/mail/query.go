package mail

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Query is the parsed form of a mailbox search expression. All conditions
// are conjunctive: a thread matches when every one holds.
type Query struct {
	// HasAttachment requires at least one message with an attachment.
	HasAttachment bool
	// From matches threads with a message whose From header contains the
	// value, case-insensitively.
	From string
	// Terms are bare words matched against message subjects.
	Terms []string
	// IncludeLabels must all be present on the thread.
	IncludeLabels []string
	// ExcludeLabels must all be absent.
	ExcludeLabels []string
	// After and Before bound the thread's last message date.
	After  *time.Time
	Before *time.Time
}

// ParseError reports where in the expression parsing failed.
type ParseError struct {
	Message  string
	Position int
	Context  string
}

func (e *ParseError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("parse error at position %d: %s (near '%s')", e.Position, e.Message, e.Context)
	}
	return fmt.Sprintf("parse error at position %d: %s", e.Position, e.Message)
}

var queryDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	time.RFC3339,
}

// ParseQuery parses a mailbox search expression. The dialect is Gmail-like:
// bare words match subjects, "field:value" terms filter, a leading '-' or a
// NOT word negates the following term, and AND is accepted as a no-op
// connective. Quoted values may contain spaces.
func ParseQuery(input string) (*Query, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &ParseError{Message: "empty query", Position: 0}
	}

	tokens, err := tokenizeQuery(input)
	if err != nil {
		return nil, err
	}

	q := &Query{}
	for _, tok := range tokens {
		if !tok.isFilter {
			if tok.negated {
				// Negated bare words have no field to invert against.
				return nil, &ParseError{
					Message:  "negation requires a field term",
					Position: tok.position,
					Context:  tok.value,
				}
			}
			q.Terms = append(q.Terms, tok.value)
			continue
		}

		switch tok.key {
		case "has":
			if !strings.EqualFold(tok.value, "attachment") {
				return nil, &ParseError{
					Message:  fmt.Sprintf("unsupported has: value %q", tok.value),
					Position: tok.position,
					Context:  "has:" + tok.value,
				}
			}
			q.HasAttachment = !tok.negated
		case "label":
			if tok.value == "" {
				return nil, &ParseError{
					Message:  "label: requires a value",
					Position: tok.position,
					Context:  "label:",
				}
			}
			if tok.negated {
				q.ExcludeLabels = append(q.ExcludeLabels, tok.value)
			} else {
				q.IncludeLabels = append(q.IncludeLabels, tok.value)
			}
		case "from", "sender":
			q.From = tok.value
		case "subject":
			q.Terms = append(q.Terms, tok.value)
		case "after", "before":
			date, err := parseQueryDate(tok.value)
			if err != nil {
				return nil, &ParseError{
					Message:  fmt.Sprintf("invalid date for '%s': %s", tok.key, tok.value),
					Position: tok.position,
					Context:  tok.key + ":" + tok.value,
				}
			}
			if tok.key == "after" {
				q.After = &date
			} else {
				q.Before = &date
			}
		default:
			return nil, &ParseError{
				Message:  fmt.Sprintf("unknown field %q", tok.key),
				Position: tok.position,
				Context:  tok.key + ":" + tok.value,
			}
		}
	}
	return q, nil
}

// queryToken is one parsed token from a search expression.
type queryToken struct {
	value    string
	position int
	isFilter bool
	key      string
	negated  bool
}

// tokenizeQuery breaks the expression into tokens, handling quoted strings,
// '-' negation prefixes, and "key:value" filters. AND is dropped; NOT
// negates the next token.
func tokenizeQuery(input string) ([]queryToken, error) {
	var tokens []queryToken
	runes := []rune(input)
	n := len(runes)
	pos := 0
	negateNext := false

	for pos < n {
		for pos < n && unicode.IsSpace(runes[pos]) {
			pos++
		}
		if pos >= n {
			break
		}

		startPos := pos

		if runes[pos] == '"' {
			value, next, err := readQuoted(runes, pos)
			if err != nil {
				return nil, &ParseError{
					Message:  "unclosed quoted string",
					Position: startPos,
					Context:  string(runes[startPos:minInt(startPos+20, n)]),
				}
			}
			pos = next
			tokens = append(tokens, queryToken{value: value, position: startPos, negated: negateNext})
			negateNext = false
			continue
		}

		negated := negateNext
		negateNext = false
		if runes[pos] == '-' && pos+1 < n && !unicode.IsSpace(runes[pos+1]) {
			negated = true
			pos++
			startPos = pos
		}

		var sb strings.Builder
		for pos < n && !unicode.IsSpace(runes[pos]) && runes[pos] != '"' {
			sb.WriteRune(runes[pos])
			pos++
		}
		word := sb.String()
		if word == "" {
			continue
		}

		if colonIdx := strings.Index(word, ":"); colonIdx > 0 {
			key := strings.ToLower(word[:colonIdx])
			value := word[colonIdx+1:]

			// A quoted value may follow the colon directly.
			if value == "" && pos < n && runes[pos] == '"' {
				quoted, next, err := readQuoted(runes, pos)
				if err != nil {
					return nil, &ParseError{
						Message:  "unclosed quoted string in filter value",
						Position: startPos,
						Context:  key + ":",
					}
				}
				pos = next
				value = quoted
			}

			tokens = append(tokens, queryToken{
				value:    value,
				position: startPos,
				isFilter: true,
				key:      key,
				negated:  negated,
			})
			continue
		}

		switch strings.ToUpper(word) {
		case "AND":
			// Conjunction is implicit.
		case "NOT":
			negateNext = true
		default:
			tokens = append(tokens, queryToken{value: word, position: startPos, negated: negated})
		}
	}

	return tokens, nil
}

// readQuoted reads a double-quoted string starting at runes[start], honoring
// backslash escapes. Returns the value and the index past the closing quote.
func readQuoted(runes []rune, start int) (string, int, error) {
	pos := start + 1
	n := len(runes)
	var sb strings.Builder
	for pos < n && runes[pos] != '"' {
		if runes[pos] == '\\' && pos+1 < n {
			pos++
		}
		sb.WriteRune(runes[pos])
		pos++
	}
	if pos >= n {
		return "", pos, fmt.Errorf("unclosed quote")
	}
	return sb.String(), pos + 1, nil
}

func parseQueryDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range queryDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
