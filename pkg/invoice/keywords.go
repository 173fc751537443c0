package invoice

import (
	"context"
	"strings"
)

// DefaultKeywords returns the stock invoice vocabulary. Multilingual on
// purpose: billing mail rarely arrives in one language.
func DefaultKeywords() []string {
	return []string{
		"invoice", "receipt", "bill", "billing", "payment due",
		"factura", "recibo",
		"facture",
		"rechnung",
		"fattura",
		"faktura",
	}
}

// KeywordDetector matches a keyword list against the subject, then the
// body. Case-insensitive substring semantics; always applicable.
type KeywordDetector struct {
	keywords []string
}

// NewKeywordDetector builds the detector from a keyword list.
func NewKeywordDetector(keywords []string) *KeywordDetector {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordDetector{keywords: lowered}
}

// Name identifies the detector in logs.
func (d *KeywordDetector) Name() string { return "keywords" }

// Detect checks the subject first, so a keyword-bearing subject short-
// circuits without scanning a potentially large body.
func (d *KeywordDetector) Detect(_ context.Context, sig Signal) (bool, bool, error) {
	subject := strings.ToLower(sig.Subject)
	for _, k := range d.keywords {
		if strings.Contains(subject, k) {
			return true, true, nil
		}
	}
	body := strings.ToLower(sig.Body)
	for _, k := range d.keywords {
		if strings.Contains(body, k) {
			return true, true, nil
		}
	}
	return false, true, nil
}

// Verify interface compliance
var _ Detector = (*KeywordDetector)(nil)
