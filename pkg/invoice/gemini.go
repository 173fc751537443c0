package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/petalo/mailsift/pkg/errors"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiScorer asks the Gemini API for an invoice confidence score.
type GeminiScorer struct {
	config     ScorerConfig
	httpClient *http.Client
}

// NewGeminiScorer creates a Gemini-backed scorer.
func NewGeminiScorer(config ScorerConfig) *GeminiScorer {
	config.applyDefaults("gemini-2.0-flash")
	if config.BaseURL == "" {
		config.BaseURL = defaultGeminiBaseURL
	}
	return &GeminiScorer{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the scorer identifier.
func (s *GeminiScorer) Name() string {
	return fmt.Sprintf("gemini-%s", s.config.Model)
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Detect scores the message. Provider errors (transport, non-2xx, malformed
// payloads) are reported so the chain can fall through to the next strategy.
func (s *GeminiScorer) Detect(ctx context.Context, sig Signal) (bool, bool, error) {
	if s.config.APIKey == "" {
		return false, false, nil
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(sig)}}}},
	})
	if err != nil {
		return false, false, fmt.Errorf("%w: marshal request: %v", errors.ErrProviderFailure, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", s.config.BaseURL, s.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, false, fmt.Errorf("%w: create request: %v", errors.ErrProviderFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, false, fmt.Errorf("%w: %v", errors.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, false, fmt.Errorf("%w: read response: %v", errors.ErrProviderFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, false, fmt.Errorf("%w: HTTP %d: %s", errors.ErrProviderFailure, resp.StatusCode, respBody)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return false, false, fmt.Errorf("%w: parse response: %v", errors.ErrProviderFailure, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return false, false, fmt.Errorf("%w: empty response", errors.ErrProviderFailure)
	}

	confidence, err := parseConfidence(parsed.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return false, false, fmt.Errorf("%w: %v", errors.ErrProviderFailure, err)
	}
	return confidence >= s.config.Threshold, true, nil
}

// Verify interface compliance
var _ Detector = (*GeminiScorer)(nil)
