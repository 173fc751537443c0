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

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIScorer asks an OpenAI-compatible chat API for an invoice confidence
// score.
type OpenAIScorer struct {
	config     ScorerConfig
	httpClient *http.Client
}

// NewOpenAIScorer creates an OpenAI-backed scorer.
func NewOpenAIScorer(config ScorerConfig) *OpenAIScorer {
	config.applyDefaults("gpt-4o-mini")
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	return &OpenAIScorer{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the scorer identifier.
func (s *OpenAIScorer) Name() string {
	return fmt.Sprintf("openai-%s", s.config.Model)
}

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *openaiFormat   `json:"response_format,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiFormat struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

// Detect scores the message. Provider errors are reported so the chain can
// fall through to the next strategy.
func (s *OpenAIScorer) Detect(ctx context.Context, sig Signal) (bool, bool, error) {
	if s.config.APIKey == "" {
		return false, false, nil
	}

	body, err := json.Marshal(openaiRequest{
		Model:          s.config.Model,
		Messages:       []openaiMessage{{Role: "user", Content: buildPrompt(sig)}},
		ResponseFormat: &openaiFormat{Type: "json_object"},
	})
	if err != nil {
		return false, false, fmt.Errorf("%w: marshal request: %v", errors.ErrProviderFailure, err)
	}

	url := s.config.BaseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, false, fmt.Errorf("%w: create request: %v", errors.ErrProviderFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

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

	var parsed openaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return false, false, fmt.Errorf("%w: parse response: %v", errors.ErrProviderFailure, err)
	}
	if len(parsed.Choices) == 0 {
		return false, false, fmt.Errorf("%w: empty response", errors.ErrProviderFailure)
	}

	confidence, err := parseConfidence(parsed.Choices[0].Message.Content)
	if err != nil {
		return false, false, fmt.Errorf("%w: %v", errors.ErrProviderFailure, err)
	}
	return confidence >= s.config.Threshold, true, nil
}

// Verify interface compliance
var _ Detector = (*OpenAIScorer)(nil)
