// Package invoice decides whether a message carries an invoice. Detection is
// an ordered fallback chain: an AI scorer when configured, degrading to a
// keyword check, with a plain sender-list mode for setups without any AI
// provider. The chain never fails a run; any internal error degrades toward
// "not an invoice" or the next strategy.
package invoice

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/petalo/mailsift/pkg/logging"
	"github.com/petalo/mailsift/pkg/mail"
)

// Detection methods.
const (
	MethodEmail  = "email"
	MethodGemini = "gemini"
	MethodOpenAI = "openai"
)

// DefaultConfidenceThreshold biases toward precision: a second invoice copy
// in the wrong folder is worse than a missed one.
const DefaultConfidenceThreshold = 0.9

// Signal is the message evidence a detector sees.
type Signal struct {
	From        string
	FromDomain  string
	Subject     string
	Body        string
	Date        time.Time
	Attachments []mail.Attachment

	// History is descriptive context about the sender's confirmed-invoice
	// history, filled in before the AI scorers run. It informs the prompt
	// but never decides the classification itself.
	History string
}

// Detector is one strategy in the chain. applicable=false means the
// detector could not produce an answer (provider down, not configured) and
// the chain should move on; matched is only meaningful when applicable.
type Detector interface {
	Name() string
	Detect(ctx context.Context, sig Signal) (matched bool, applicable bool, err error)
}

// Config controls the decision chain.
type Config struct {
	Enabled             bool     `yaml:"enabled"`
	Method              string   `yaml:"method"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	FallbackToKeywords  bool     `yaml:"fallback_to_keywords"`
	OnlyAnalyzePDFs     bool     `yaml:"only_analyze_pdfs"`
	StrictPDFCheck      bool     `yaml:"strict_pdf_check"`
	SkipAIForDomains    []string `yaml:"skip_ai_for_domains"`
	Keywords            []string `yaml:"keywords"`
	RegisteredSenders   []string `yaml:"registered_senders"`
}

// DefaultConfig returns the chain defaults: keyword detection only.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Method:              MethodEmail,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		FallbackToKeywords:  true,
		Keywords:            DefaultKeywords(),
	}
}

// SenderCache caches sender-list answers so repeated messages from the same
// sender skip the list scan. Implementations need not be concurrency-safe;
// the chain is called from a single goroutine.
type SenderCache interface {
	Checked(email string) (registered bool, ok bool)
	MarkChecked(email string, registered bool)
}

// Chain evaluates the configured strategies in order.
type Chain struct {
	cfg      Config
	ai       []Detector // scorers in preference order
	keywords *KeywordDetector
	senders  *SenderListDetector
	history  *HistorySummarizer
	cache    SenderCache
	logger   logging.Logger

	skipDomains map[string]struct{}
}

// NewChain builds the decision chain. Scorers may be empty; history may be
// nil when historical-pattern augmentation is disabled.
func NewChain(cfg Config, scorers []Detector, history *HistorySummarizer, logger logging.Logger) *Chain {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	skip := make(map[string]struct{}, len(cfg.SkipAIForDomains))
	for _, d := range cfg.SkipAIForDomains {
		skip[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return &Chain{
		cfg:         cfg,
		ai:          scorers,
		keywords:    NewKeywordDetector(cfg.Keywords),
		senders:     NewSenderListDetector(cfg.RegisteredSenders),
		history:     history,
		logger:      logger,
		skipDomains: skip,
	}
}

// IsInvoice runs the chain. It never returns an error: failures degrade to
// the next strategy or to false.
func (c *Chain) IsInvoice(ctx context.Context, sig Signal) bool {
	if !c.cfg.Enabled {
		return false
	}

	if c.cfg.OnlyAnalyzePDFs && !hasPDF(sig.Attachments, c.cfg.StrictPDFCheck) {
		if c.cfg.FallbackToKeywords {
			return c.keywordCheck(ctx, sig)
		}
		return false
	}

	if _, skip := c.skipDomains[strings.ToLower(sig.FromDomain)]; skip {
		return c.keywordCheck(ctx, sig)
	}

	switch c.cfg.Method {
	case MethodEmail:
		return c.senderCheck(ctx, sig)
	case MethodGemini, MethodOpenAI:
		return c.aiCheck(ctx, sig)
	default:
		c.logger.Warn("unknown invoice detection method, using keywords",
			logging.F("method", c.cfg.Method))
		return c.keywordCheck(ctx, sig)
	}
}

// aiCheck tries each scorer in order; the first that produces an answer is
// terminal. When every scorer fails the keyword fallback (if enabled) takes
// over.
func (c *Chain) aiCheck(ctx context.Context, sig Signal) bool {
	if c.history != nil {
		sig.History = c.history.Summarize(ctx, sig.From)
	}
	for _, scorer := range c.ai {
		matched, applicable, err := scorer.Detect(ctx, sig)
		if err != nil {
			c.logger.Warn("invoice scorer failed, trying next strategy",
				logging.F("scorer", scorer.Name()), logging.Err(err))
			continue
		}
		if applicable {
			return matched
		}
	}
	if c.cfg.FallbackToKeywords {
		return c.keywordCheck(ctx, sig)
	}
	return false
}

// UseSenderCache attaches a cache for sender-list answers.
func (c *Chain) UseSenderCache(cache SenderCache) {
	c.cache = cache
}

// senderCheck consults the cache before scanning the registered-sender list.
func (c *Chain) senderCheck(ctx context.Context, sig Signal) bool {
	if c.cache != nil {
		if registered, ok := c.cache.Checked(sig.From); ok {
			return registered
		}
	}
	matched, _, _ := c.senders.Detect(ctx, sig)
	if c.cache != nil {
		c.cache.MarkChecked(sig.From, matched)
	}
	return matched
}

func (c *Chain) keywordCheck(ctx context.Context, sig Signal) bool {
	matched, _, _ := c.keywords.Detect(ctx, sig)
	return matched
}

// hasPDF reports whether any attachment looks like a PDF: by extension, or
// by extension plus MIME type under the strict check.
func hasPDF(attachments []mail.Attachment, strict bool) bool {
	for _, att := range attachments {
		if !strings.EqualFold(filepath.Ext(att.Name), ".pdf") {
			continue
		}
		if !strict {
			return true
		}
		if strings.EqualFold(strings.TrimSpace(att.MimeType), "application/pdf") {
			return true
		}
	}
	return false
}
