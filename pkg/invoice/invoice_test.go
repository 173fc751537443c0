package invoice

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/petalo/mailsift/pkg/mail"
)

func TestKeywordDetector(t *testing.T) {
	d := NewKeywordDetector(DefaultKeywords())

	tests := []struct {
		name    string
		subject string
		body    string
		want    bool
	}{
		{"subject match", "Your invoice for August", "", true},
		{"subject match spanish", "FACTURA 2026-081", "", true},
		{"body match", "Monthly summary", "Please find your receipt attached.", true},
		{"case insensitive", "ReCHnUng 42", "", true},
		{"no match", "Team lunch on Friday", "See you at noon", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applicable, err := d.Detect(context.Background(), Signal{Subject: tt.subject, Body: tt.body})
			if err != nil || !applicable {
				t.Fatalf("Detect() applicable=%v err=%v", applicable, err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSenderListDetector(t *testing.T) {
	d := NewSenderListDetector([]string{
		"billing@acme.com",
		"stripe.com",
		"*@paypal.com",
		"invoice*@vendor.io",
		"*-noreply@vendor.io",
		"inv*bot@vendor.io",
	})

	tests := []struct {
		name string
		from string
		want bool
	}{
		{"exact match", "billing@acme.com", true},
		{"exact match with display name", "ACME Billing <billing@acme.com>", true},
		{"exact mismatch same domain", "sales@acme.com", false},
		{"bare domain matches any local part", "receipts+2026@stripe.com", true},
		{"star local part", "anything@paypal.com", true},
		{"prefix wildcard", "invoice-august@vendor.io", true},
		{"prefix wildcard miss", "statement@vendor.io", false},
		{"suffix wildcard", "billing-noreply@vendor.io", true},
		{"infix wildcard", "inv2026bot@vendor.io", true},
		{"infix wildcard needs both ends", "inv2026@vendor.io", false},
		{"wildcard never crosses domains", "invoice-august@other.io", false},
		{"unparseable sender", "not an address", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applicable, err := d.Detect(context.Background(), Signal{From: tt.from})
			if err != nil || !applicable {
				t.Fatalf("Detect() applicable=%v err=%v", applicable, err)
			}
			if got != tt.want {
				t.Errorf("Detect(%q) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func pdfAttachment() mail.Attachment {
	return mail.Attachment{Name: "invoice.pdf", SizeBytes: 1000, MimeType: "application/pdf"}
}

func TestChain_Disabled(t *testing.T) {
	chain := NewChain(Config{Enabled: false}, nil, nil, nil)
	sig := Signal{Subject: "Invoice 42", Attachments: []mail.Attachment{pdfAttachment()}}
	if chain.IsInvoice(context.Background(), sig) {
		t.Error("disabled chain must never match")
	}
}

func TestChain_PDFGating(t *testing.T) {
	ctx := context.Background()
	noPDF := Signal{Subject: "Invoice 42", Attachments: []mail.Attachment{
		{Name: "photo.jpg", SizeBytes: 1000, MimeType: "image/jpeg"},
	}}

	t.Run("no pdf without fallback", func(t *testing.T) {
		chain := NewChain(Config{Enabled: true, Method: MethodEmail, OnlyAnalyzePDFs: true}, nil, nil, nil)
		if chain.IsInvoice(ctx, noPDF) {
			t.Error("should not match without a PDF")
		}
	})

	t.Run("no pdf falls back to keywords", func(t *testing.T) {
		chain := NewChain(Config{Enabled: true, Method: MethodEmail, OnlyAnalyzePDFs: true, FallbackToKeywords: true}, nil, nil, nil)
		if !chain.IsInvoice(ctx, noPDF) {
			t.Error("keyword fallback should match the subject")
		}
	})

	t.Run("strict check rejects pdf extension with wrong mime", func(t *testing.T) {
		chain := NewChain(Config{Enabled: true, Method: MethodEmail, OnlyAnalyzePDFs: true, StrictPDFCheck: true}, nil, nil, nil)
		sig := Signal{Subject: "hello", Attachments: []mail.Attachment{
			{Name: "fake.pdf", SizeBytes: 1000, MimeType: "application/octet-stream"},
		}}
		if chain.IsInvoice(ctx, sig) {
			t.Error("strict check should reject a mislabeled PDF")
		}
	})
}

// stubScorer is a controllable AI detector.
type stubScorer struct {
	name       string
	matched    bool
	applicable bool
	err        error
	calls      int
}

func (s *stubScorer) Name() string { return s.name }
func (s *stubScorer) Detect(context.Context, Signal) (bool, bool, error) {
	s.calls++
	return s.matched, s.applicable, s.err
}

func TestChain_AIFallback(t *testing.T) {
	ctx := context.Background()
	sig := Signal{
		From:        "billing@acme.com",
		FromDomain:  "acme.com",
		Subject:     "Your invoice",
		Attachments: []mail.Attachment{pdfAttachment()},
	}

	t.Run("first scorer is terminal", func(t *testing.T) {
		primary := &stubScorer{name: "a", matched: true, applicable: true}
		secondary := &stubScorer{name: "b", applicable: true}
		chain := NewChain(Config{Enabled: true, Method: MethodGemini, FallbackToKeywords: true},
			[]Detector{primary, secondary}, nil, nil)
		if !chain.IsInvoice(ctx, sig) {
			t.Error("primary scorer answer should be terminal")
		}
		if secondary.calls != 0 {
			t.Error("secondary scorer should not be consulted")
		}
	})

	t.Run("provider failure falls to next scorer", func(t *testing.T) {
		primary := &stubScorer{name: "a", err: fmt.Errorf("HTTP 500")}
		secondary := &stubScorer{name: "b", matched: true, applicable: true}
		chain := NewChain(Config{Enabled: true, Method: MethodGemini},
			[]Detector{primary, secondary}, nil, nil)
		if !chain.IsInvoice(ctx, sig) {
			t.Error("secondary scorer should decide after primary failure")
		}
	})

	t.Run("all providers down falls to keywords", func(t *testing.T) {
		broken := &stubScorer{name: "a", err: fmt.Errorf("connection refused")}
		chain := NewChain(Config{Enabled: true, Method: MethodGemini, FallbackToKeywords: true},
			[]Detector{broken}, nil, nil)
		if !chain.IsInvoice(ctx, sig) {
			t.Error("keyword fallback should match the subject")
		}
	})

	t.Run("all providers down without fallback", func(t *testing.T) {
		broken := &stubScorer{name: "a", err: fmt.Errorf("connection refused")}
		chain := NewChain(Config{Enabled: true, Method: MethodGemini},
			[]Detector{broken}, nil, nil)
		if chain.IsInvoice(ctx, sig) {
			t.Error("no fallback configured: must degrade to false")
		}
	})

	t.Run("skip domain bypasses AI entirely", func(t *testing.T) {
		scorer := &stubScorer{name: "a", matched: false, applicable: true}
		chain := NewChain(Config{
			Enabled: true, Method: MethodGemini, SkipAIForDomains: []string{"acme.com"},
		}, []Detector{scorer}, nil, nil)
		if !chain.IsInvoice(ctx, sig) {
			t.Error("keyword check should match for skipped domain")
		}
		if scorer.calls != 0 {
			t.Error("scorer must not run for a skipped domain")
		}
	})
}

func TestChain_EmailMethodIsTerminal(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(Config{
		Enabled:           true,
		Method:            MethodEmail,
		RegisteredSenders: []string{"billing@acme.com"},
	}, nil, nil, nil)

	match := Signal{From: "billing@acme.com", Subject: "no keywords here",
		Attachments: []mail.Attachment{pdfAttachment()}}
	if !chain.IsInvoice(ctx, match) {
		t.Error("registered sender should match")
	}

	// Subject has a keyword, but email mode never consults keywords.
	miss := Signal{From: "other@acme.com", Subject: "Your invoice",
		Attachments: []mail.Attachment{pdfAttachment()}}
	if chain.IsInvoice(ctx, miss) {
		t.Error("sender-list mode is terminal; keywords must not rescue a miss")
	}
}

// mapSenderCache is an in-memory SenderCache.
type mapSenderCache struct {
	answers map[string]bool
	marks   int
}

func (c *mapSenderCache) Checked(email string) (bool, bool) {
	v, ok := c.answers[email]
	return v, ok
}

func (c *mapSenderCache) MarkChecked(email string, registered bool) {
	c.answers[email] = registered
	c.marks++
}

func TestChain_SenderCache(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(Config{
		Enabled:           true,
		Method:            MethodEmail,
		RegisteredSenders: []string{"billing@acme.com"},
	}, nil, nil, nil)
	cache := &mapSenderCache{answers: map[string]bool{}}
	chain.UseSenderCache(cache)

	sig := Signal{From: "billing@acme.com", Attachments: []mail.Attachment{pdfAttachment()}}
	if !chain.IsInvoice(ctx, sig) {
		t.Fatal("registered sender should match")
	}
	if cache.marks != 1 {
		t.Fatalf("marks = %d, want 1", cache.marks)
	}

	// A cached answer wins over the list.
	cache.answers["billing@acme.com"] = false
	if chain.IsInvoice(ctx, sig) {
		t.Error("cached negative answer should short-circuit the list")
	}
	if cache.marks != 1 {
		t.Errorf("cache hit must not re-mark, marks = %d", cache.marks)
	}
}

func TestGeminiScorer_Detect(t *testing.T) {
	ctx := context.Background()
	sig := Signal{From: "billing@acme.com", Subject: "Invoice", Body: "total due"}

	newServer := func(status int, body string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			fmt.Fprint(w, body)
		}))
	}
	wrap := func(content string) string {
		return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, content)
	}

	t.Run("high confidence matches", func(t *testing.T) {
		srv := newServer(200, wrap(`{"confidence": 0.97}`))
		defer srv.Close()
		s := NewGeminiScorer(ScorerConfig{APIKey: "k", BaseURL: srv.URL})
		matched, applicable, err := s.Detect(ctx, sig)
		if err != nil || !applicable || !matched {
			t.Fatalf("Detect() = %v, %v, %v", matched, applicable, err)
		}
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		srv := newServer(200, wrap(`{"confidence": 0.9}`))
		defer srv.Close()
		s := NewGeminiScorer(ScorerConfig{APIKey: "k", BaseURL: srv.URL})
		matched, _, err := s.Detect(ctx, sig)
		if err != nil || !matched {
			t.Fatalf("confidence == threshold should match, got %v, %v", matched, err)
		}
	})

	t.Run("below threshold", func(t *testing.T) {
		srv := newServer(200, wrap("```json\n{\"confidence\": 0.4}\n```"))
		defer srv.Close()
		s := NewGeminiScorer(ScorerConfig{APIKey: "k", BaseURL: srv.URL})
		matched, applicable, err := s.Detect(ctx, sig)
		if err != nil || !applicable {
			t.Fatalf("Detect() err = %v", err)
		}
		if matched {
			t.Error("0.4 must not clear a 0.9 threshold")
		}
	})

	t.Run("server error is a provider failure", func(t *testing.T) {
		srv := newServer(500, "internal")
		defer srv.Close()
		s := NewGeminiScorer(ScorerConfig{APIKey: "k", BaseURL: srv.URL})
		if _, _, err := s.Detect(ctx, sig); err == nil {
			t.Error("HTTP 500 should surface as an error")
		}
	})

	t.Run("malformed confidence is a provider failure", func(t *testing.T) {
		srv := newServer(200, wrap("probably an invoice"))
		defer srv.Close()
		s := NewGeminiScorer(ScorerConfig{APIKey: "k", BaseURL: srv.URL})
		if _, _, err := s.Detect(ctx, sig); err == nil {
			t.Error("prose response should surface as an error")
		}
	})

	t.Run("missing api key is inapplicable, not an error", func(t *testing.T) {
		s := NewGeminiScorer(ScorerConfig{})
		matched, applicable, err := s.Detect(ctx, sig)
		if matched || applicable || err != nil {
			t.Errorf("Detect() = %v, %v, %v", matched, applicable, err)
		}
	})
}

func TestOpenAIScorer_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(401)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"confidence\": 0.95}"}}]}`)
	}))
	defer srv.Close()

	s := NewOpenAIScorer(ScorerConfig{APIKey: "k", BaseURL: srv.URL})
	matched, applicable, err := s.Detect(context.Background(), Signal{Subject: "Invoice"})
	if err != nil || !applicable || !matched {
		t.Fatalf("Detect() = %v, %v, %v", matched, applicable, err)
	}
}

// stubHistory returns a fixed history.
type stubHistory struct {
	entries []HistoryEntry
	err     error
}

func (s *stubHistory) ConfirmedInvoices(context.Context, string, int) ([]HistoryEntry, error) {
	return s.entries, s.err
}

func TestHistorySummarizer(t *testing.T) {
	ctx := context.Background()
	day := func(year int, month time.Month, d int) time.Time {
		return time.Date(year, month, d, 9, 0, 0, 0, time.UTC)
	}

	t.Run("monthly same day of month", func(t *testing.T) {
		h := NewHistorySummarizer(&stubHistory{entries: []HistoryEntry{
			{Subject: "Invoice #101", Date: day(2026, 1, 15)},
			{Subject: "Invoice #102", Date: day(2026, 2, 15)},
			{Subject: "Invoice #103", Date: day(2026, 3, 15)},
		}}, nil, nil)

		summary := h.Summarize(ctx, "billing@acme.com")
		for _, want := range []string{"3 prior confirmed invoices", FrequencyMonthly, "day 15", "invoice keywords", "numeric tokens", `subjects start with "Invoice #10"`} {
			if !contains(summary, want) {
				t.Errorf("summary %q missing %q", summary, want)
			}
		}
	})

	t.Run("irregular cadence", func(t *testing.T) {
		h := NewHistorySummarizer(&stubHistory{entries: []HistoryEntry{
			{Subject: "a", Date: day(2023, 1, 1)},
			{Subject: "b", Date: day(2026, 6, 12)},
		}}, nil, nil)
		if summary := h.Summarize(ctx, "x@y.com"); !contains(summary, FrequencyIrregular) {
			t.Errorf("summary %q should classify irregular", summary)
		}
	})

	t.Run("lookup failure yields empty summary", func(t *testing.T) {
		h := NewHistorySummarizer(&stubHistory{err: fmt.Errorf("db down")}, nil, nil)
		if summary := h.Summarize(ctx, "x@y.com"); summary != "" {
			t.Errorf("summary = %q, want empty", summary)
		}
	})

	t.Run("single message is no history", func(t *testing.T) {
		h := NewHistorySummarizer(&stubHistory{entries: []HistoryEntry{
			{Subject: "Invoice", Date: day(2026, 1, 1)},
		}}, nil, nil)
		if summary := h.Summarize(ctx, "x@y.com"); summary != "" {
			t.Errorf("summary = %q, want empty", summary)
		}
	})
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
