package mail

import (
	"regexp"
	"strings"
)

// UnknownDomain is returned when no domain-shaped substring can be found in
// a From header. Malformed input never produces an error, only this sentinel.
const UnknownDomain = "unknown"

// addressPattern matches a permissive user@domain form. It deliberately
// accepts more than RFC 5322 so that odd but real-world senders still
// resolve to a usable domain.
var addressPattern = regexp.MustCompile(`([a-zA-Z0-9._%+\-]+)@([a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})`)

// ExtractDomain parses "Name <user@domain>" or bare "user@domain" forms and
// returns the lowercased domain, or UnknownDomain if none is found.
func ExtractDomain(fromHeader string) string {
	_, domain := ExtractAddress(fromHeader)
	return domain
}

// ExtractAddress returns the lowercased local part and domain from a From
// header. Either may be UnknownDomain when the header has no address-shaped
// substring.
func ExtractAddress(fromHeader string) (local, domain string) {
	header := DecodeHeader(fromHeader)

	// Prefer the angle-bracket form when present.
	if start := strings.LastIndex(header, "<"); start >= 0 {
		if end := strings.Index(header[start:], ">"); end > 0 {
			header = header[start+1 : start+end]
		}
	}

	m := addressPattern.FindStringSubmatch(header)
	if m == nil {
		return UnknownDomain, UnknownDomain
	}
	return strings.ToLower(m[1]), strings.ToLower(m[2])
}
