package invoice

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/petalo/mailsift/pkg/logging"
)

// HistoryEntry is one prior confirmed-invoice message from a sender.
type HistoryEntry struct {
	Subject string
	Date    time.Time
}

// HistorySource looks up messages from a sender that carry the manually
// applied confirmed-invoice label.
type HistorySource interface {
	ConfirmedInvoices(ctx context.Context, sender string, limit int) ([]HistoryEntry, error)
}

// Send-frequency buckets derived from average inter-arrival days.
const (
	FrequencyWeekly    = "weekly"
	FrequencyBiweekly  = "biweekly"
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyBiannual  = "biannual"
	FrequencyAnnual    = "annual"
	FrequencyIrregular = "irregular"
)

// historyLookback caps how many prior messages feed the summary.
const historyLookback = 24

// HistorySummarizer turns a sender's confirmed-invoice history into a short
// description for the AI prompt. It describes, it never decides.
type HistorySummarizer struct {
	source   HistorySource
	keywords []string
	logger   logging.Logger
}

// NewHistorySummarizer creates a summarizer over the given source.
func NewHistorySummarizer(source HistorySource, keywords []string, logger logging.Logger) *HistorySummarizer {
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HistorySummarizer{source: source, keywords: keywords, logger: logger}
}

// Summarize describes the sender's invoice history, or returns "" when
// there is none or the lookup fails. Lookup failures only cost the prompt
// its context, never the classification.
func (h *HistorySummarizer) Summarize(ctx context.Context, sender string) string {
	entries, err := h.source.ConfirmedInvoices(ctx, sender, historyLookback)
	if err != nil {
		h.logger.Debug("invoice history lookup failed", logging.Err(err))
		return ""
	}
	if len(entries) < 2 {
		return ""
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })

	var parts []string
	parts = append(parts, fmt.Sprintf("%d prior confirmed invoices from this sender", len(entries)))

	subjects := make([]string, len(entries))
	for i, e := range entries {
		subjects[i] = e.Subject
	}
	if prefix := commonPrefix(subjects); len(prefix) >= 4 {
		parts = append(parts, fmt.Sprintf("subjects start with %q", prefix))
	}
	if suffix := commonSuffix(subjects); len(suffix) >= 4 {
		parts = append(parts, fmt.Sprintf("subjects end with %q", suffix))
	}
	if h.subjectsHaveKeywords(subjects) {
		parts = append(parts, "subjects contain invoice keywords")
	}
	if subjectsHaveNumbers(subjects) {
		parts = append(parts, "subjects contain numeric tokens")
	}

	parts = append(parts, fmt.Sprintf("send frequency looks %s", classifyFrequency(entries)))
	if day, ok := sameDayOfMonth(entries); ok {
		parts = append(parts, fmt.Sprintf("always sent on day %d of the month", day))
	}

	return strings.Join(parts, "; ")
}

func (h *HistorySummarizer) subjectsHaveKeywords(subjects []string) bool {
	for _, s := range subjects {
		lower := strings.ToLower(s)
		for _, k := range h.keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
	}
	return false
}

func subjectsHaveNumbers(subjects []string) bool {
	for _, s := range subjects {
		for _, r := range s {
			if unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}

// classifyFrequency buckets the average inter-arrival gap in days.
func classifyFrequency(entries []HistoryEntry) string {
	if len(entries) < 2 {
		return FrequencyIrregular
	}
	var totalDays float64
	for i := 1; i < len(entries); i++ {
		totalDays += entries[i].Date.Sub(entries[i-1].Date).Hours() / 24
	}
	avg := totalDays / float64(len(entries)-1)

	switch {
	case avg <= 9:
		return FrequencyWeekly
	case avg <= 18:
		return FrequencyBiweekly
	case avg <= 45:
		return FrequencyMonthly
	case avg <= 135:
		return FrequencyQuarterly
	case avg <= 240:
		return FrequencyBiannual
	case avg <= 400:
		return FrequencyAnnual
	default:
		return FrequencyIrregular
	}
}

func sameDayOfMonth(entries []HistoryEntry) (int, bool) {
	day := entries[0].Date.Day()
	for _, e := range entries[1:] {
		if e.Date.Day() != day {
			return 0, false
		}
	}
	return day, true
}

func commonPrefix(values []string) string {
	prefix := values[0]
	for _, v := range values[1:] {
		for !strings.HasPrefix(v, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return strings.TrimSpace(prefix)
}

func commonSuffix(values []string) string {
	suffix := values[0]
	for _, v := range values[1:] {
		for !strings.HasSuffix(v, suffix) {
			suffix = suffix[1:]
			if suffix == "" {
				return ""
			}
		}
	}
	return strings.TrimSpace(suffix)
}
