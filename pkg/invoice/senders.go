package invoice

import (
	"context"
	"strings"

	"github.com/petalo/mailsift/pkg/mail"
)

// SenderListDetector matches the sender against a registered-sender list.
// Entries may be exact addresses, bare domains, or wildcard patterns on the
// local part: "*@acme.com", "billing*@acme.com", "*-noreply@acme.com",
// "inv*bot@acme.com". The domain must match before any local-part wildcard
// is evaluated.
type SenderListDetector struct {
	entries []senderEntry
}

type senderEntry struct {
	raw    string
	domain string // empty for bare-domain entries matched via raw
	local  string // local-part pattern, may contain one '*'
}

// NewSenderListDetector builds the detector from the configured list.
func NewSenderListDetector(list []string) *SenderListDetector {
	entries := make([]senderEntry, 0, len(list))
	for _, raw := range list {
		raw = strings.ToLower(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		entry := senderEntry{raw: raw}
		if at := strings.LastIndex(raw, "@"); at >= 0 {
			entry.local = raw[:at]
			entry.domain = raw[at+1:]
		}
		entries = append(entries, entry)
	}
	return &SenderListDetector{entries: entries}
}

// Name identifies the detector in logs.
func (d *SenderListDetector) Name() string { return "sender_list" }

// Detect normalizes the sender address and tests it against every entry.
func (d *SenderListDetector) Detect(_ context.Context, sig Signal) (bool, bool, error) {
	local, domain := mail.ExtractAddress(sig.From)
	if domain == mail.UnknownDomain {
		return false, true, nil
	}

	for _, entry := range d.entries {
		if entry.domain == "" {
			// Bare-domain entry.
			if entry.raw == domain {
				return true, true, nil
			}
			continue
		}
		if entry.domain != domain {
			continue
		}
		if matchLocalPart(entry.local, local) {
			return true, true, nil
		}
	}
	return false, true, nil
}

// matchLocalPart matches a local-part pattern with at most one '*' against
// the sender's local part.
func matchLocalPart(pattern, local string) bool {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return pattern == local
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(local) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(local, prefix) &&
		strings.HasSuffix(local, suffix)
}

// Verify interface compliance
var _ Detector = (*SenderListDetector)(nil)
