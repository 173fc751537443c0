package invoice

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScorerConfig configures an AI invoice scorer.
type ScorerConfig struct {
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Threshold float64       `yaml:"threshold"`
}

// scorerConfigYAML mirrors ScorerConfig with the timeout as a string so
// config files can say "30s".
type scorerConfigYAML struct {
	APIKey    string  `yaml:"api_key,omitempty"`
	Model     string  `yaml:"model,omitempty"`
	BaseURL   string  `yaml:"base_url,omitempty"`
	Timeout   string  `yaml:"timeout,omitempty"`
	Threshold float64 `yaml:"threshold,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *ScorerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw scorerConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.APIKey != "" {
		c.APIKey = raw.APIKey
	}
	if raw.Model != "" {
		c.Model = raw.Model
	}
	if raw.BaseURL != "" {
		c.BaseURL = raw.BaseURL
	}
	if raw.Threshold != 0 {
		c.Threshold = raw.Threshold
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c ScorerConfig) MarshalYAML() (interface{}, error) {
	raw := scorerConfigYAML{
		APIKey:    c.APIKey,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		Threshold: c.Threshold,
	}
	if c.Timeout > 0 {
		raw.Timeout = c.Timeout.String()
	}
	return raw, nil
}

func (c *ScorerConfig) applyDefaults(model string) {
	if c.Model == "" {
		c.Model = model
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultConfidenceThreshold
	}
}

// scoreResult is the JSON shape both scorers ask the model for.
type scoreResult struct {
	Confidence float64 `json:"confidence"`
}

// buildPrompt assembles the classification prompt. The body is truncated:
// invoice cues live in the opening lines, and short prompts keep per-run
// token cost flat.
func buildPrompt(sig Signal) string {
	var b strings.Builder
	b.WriteString("You are classifying an email. Decide how likely it is that this email carries an invoice ")
	b.WriteString("(a bill, receipt, or payment request). Respond with valid JSON only, in the form ")
	b.WriteString(`{"confidence": <number between 0.0 and 1.0>}.` + "\n\n")
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n", sig.From, sig.Subject)
	if len(sig.Attachments) > 0 {
		b.WriteString("Attachments:")
		for _, att := range sig.Attachments {
			fmt.Fprintf(&b, " %s (%s, %d bytes);", att.Name, att.MimeType, att.SizeBytes)
		}
		b.WriteString("\n")
	}
	if sig.History != "" {
		fmt.Fprintf(&b, "Sender history: %s\n", sig.History)
	}
	body := sig.Body
	if len(body) > 2000 {
		body = body[:2000]
	}
	fmt.Fprintf(&b, "\nBody:\n%s\n", body)
	return b.String()
}

// parseConfidence extracts the confidence from a model response, tolerating
// markdown-fenced JSON.
func parseConfidence(content string) (float64, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result scoreResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return 0, fmt.Errorf("failed to parse confidence from %q: %w", content, err)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return 0, fmt.Errorf("confidence %v out of range", result.Confidence)
	}
	return result.Confidence, nil
}
