package classify

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Reason identifies which rule decided an attachment's fate.
type Reason string

const (
	ReasonMimeWhitelisted      Reason = "mime_whitelisted"
	ReasonInlineDisposition    Reason = "inline_disposition"
	ReasonEmbeddedURLPattern   Reason = "embedded_url_pattern"
	ReasonEmbeddedNamePattern  Reason = "embedded_name_pattern"
	ReasonEmbeddedRegexPattern Reason = "embedded_regex_pattern"
	ReasonNoExtensionSmall     Reason = "no_extension_small"
	ReasonSkippedExtension     Reason = "skipped_extension"
	ReasonSmallImage           Reason = "small_image"
	ReasonKept                 Reason = "kept"
)

// Decision is the outcome of classifying one attachment.
type Decision struct {
	Skip   bool
	Reason Reason
}

// Metadata is the attachment metadata the classifier evaluates.
type Metadata struct {
	Name               string
	SizeBytes          int64
	MimeType           string
	ContentDisposition string
}

// Classifier applies the ordered classification rules. It is a pure
// deterministic function of its input: no I/O, no side effects, and no
// failure mode — any internal lookup miss degrades to evaluating the next
// rule, never to aborting the decision.
type Classifier struct {
	rules     Rules
	mimeKeep  map[string]struct{}
	extKeep   map[string]struct{}
	extSkip   map[string]struct{}
	extImage  map[string]struct{}
	namedSkip map[string]struct{}
	patterns  []*regexp.Regexp
}

// NewClassifier builds a classifier from the given rules, falling back to
// defaults for any section left empty.
func NewClassifier(rules Rules) *Classifier {
	defaults := DefaultRules()
	if len(rules.MimeWhitelist) == 0 {
		rules.MimeWhitelist = defaults.MimeWhitelist
	}
	if len(rules.KeepExtensions) == 0 {
		rules.KeepExtensions = defaults.KeepExtensions
	}
	if len(rules.SkipExtensions) == 0 {
		rules.SkipExtensions = defaults.SkipExtensions
	}
	if len(rules.ImageExtensions) == 0 {
		rules.ImageExtensions = defaults.ImageExtensions
	}
	if rules.SmallImageMaxSize <= 0 {
		rules.SmallImageMaxSize = defaults.SmallImageMaxSize
	}
	if len(rules.EmbeddedURLFragments) == 0 {
		rules.EmbeddedURLFragments = defaults.EmbeddedURLFragments
	}
	if len(rules.EmbeddedNames) == 0 {
		rules.EmbeddedNames = defaults.EmbeddedNames
	}
	if len(rules.EmbeddedPatterns) == 0 {
		rules.EmbeddedPatterns = defaults.EmbeddedPatterns
	}

	c := &Classifier{
		rules:     rules,
		mimeKeep:  lowerSet(rules.MimeWhitelist),
		extKeep:   lowerSet(rules.KeepExtensions),
		extSkip:   lowerSet(rules.SkipExtensions),
		extImage:  lowerSet(rules.ImageExtensions),
		namedSkip: lowerSet(rules.EmbeddedNames),
	}
	c.patterns = compilePatterns(rules.EmbeddedPatterns)
	return c
}

// Classify runs the ordered rules against one attachment. First match wins;
// the ordering is a correctness decision, not incidental.
func (c *Classifier) Classify(meta Metadata) Decision {
	mimeType := strings.ToLower(strings.TrimSpace(meta.MimeType))
	name := strings.TrimSpace(meta.Name)
	ext := strings.ToLower(filepath.Ext(name))

	// 1. MIME whitelist overrides everything after it: "logo.pdf" with an
	// application/pdf MIME type is kept no matter what its name says.
	if _, ok := c.mimeKeep[mimeType]; ok {
		return Decision{Skip: false, Reason: ReasonMimeWhitelisted}
	}

	// 2. Inline images are embedded in the HTML body, not attached content.
	if strings.Contains(strings.ToLower(meta.ContentDisposition), "inline") &&
		strings.HasPrefix(mimeType, "image/") {
		return Decision{Skip: true, Reason: ReasonInlineDisposition}
	}

	// 3. Some mail clients surface inline images as pseudo-attachments whose
	// "name" is a tracking or embed URL.
	lowerName := strings.ToLower(name)
	for _, frag := range c.rules.EmbeddedURLFragments {
		if strings.Contains(lowerName, strings.ToLower(frag)) {
			return Decision{Skip: true, Reason: ReasonEmbeddedURLPattern}
		}
	}

	// 4. Common embedded element names: exact or underscore-suffixed.
	if c.matchesEmbeddedName(lowerName) {
		return Decision{Skip: true, Reason: ReasonEmbeddedNamePattern}
	}

	// 5. Generated embedded filenames (image001.png, Outlook-xyz, UUIDs...).
	for _, re := range c.patterns {
		if re.MatchString(name) {
			return Decision{Skip: true, Reason: ReasonEmbeddedRegexPattern}
		}
	}

	// 6. Recognized document extensions are kept regardless of size.
	if _, ok := c.extKeep[ext]; ok {
		return Decision{Skip: false, Reason: ReasonKept}
	}

	// 7. Unnamed embedded binary content is almost always small. The 50KiB
	// cutoff is fixed, independent of SmallImageMaxSize.
	if ext == "" && meta.SizeBytes < noExtensionMaxSize {
		return Decision{Skip: true, Reason: ReasonNoExtensionSmall}
	}

	// 8. Configured skip extensions (calendar invites, vcards).
	if _, ok := c.extSkip[ext]; ok {
		return Decision{Skip: true, Reason: ReasonSkippedExtension}
	}

	// 9. Small images are signatures and logos.
	if _, ok := c.extImage[ext]; ok && meta.SizeBytes <= c.rules.SmallImageMaxSize {
		return Decision{Skip: true, Reason: ReasonSmallImage}
	}

	// 10. Default: keep.
	return Decision{Skip: false, Reason: ReasonKept}
}

// matchesEmbeddedName checks the fixed vocabulary against the filename stem:
// an exact match ("logo", "logo.png") or an underscore-suffixed one
// ("logo_2", "signature_small.jpg").
func (c *Classifier) matchesEmbeddedName(lowerName string) bool {
	stem := strings.TrimSuffix(lowerName, strings.ToLower(filepath.Ext(lowerName)))
	if stem == "" {
		return false
	}
	if _, ok := c.namedSkip[stem]; ok {
		return true
	}
	if idx := strings.Index(stem, "_"); idx > 0 {
		if _, ok := c.namedSkip[stem[:idx]]; ok {
			return true
		}
	}
	return false
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}
