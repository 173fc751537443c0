// Package classify implements the attachment classification rules engine.
// It decides which email attachments are real content worth keeping versus
// embedded signatures, logos and tracking pixels.
package classify

import (
	"regexp"
)

// noExtensionMaxSize is the cutoff below which an extension-less attachment
// is treated as embedded binary content. Deliberately a fixed constant,
// independent of the configurable small-image threshold in Rules.
const noExtensionMaxSize = 50 * 1024

// Rules configures the classifier behavior. Zero values are filled in by
// DefaultRules; construct through NewClassifier.
type Rules struct {
	// MimeWhitelist lists MIME types that are always kept, overriding every
	// later rule.
	MimeWhitelist []string `yaml:"mime_whitelist"`

	// KeepExtensions lists document extensions kept regardless of size.
	KeepExtensions []string `yaml:"keep_extensions"`

	// SkipExtensions lists extensions always skipped (calendar/vcard formats).
	SkipExtensions []string `yaml:"skip_extensions"`

	// ImageExtensions lists extensions subject to the small-image threshold.
	ImageExtensions []string `yaml:"image_extensions"`

	// SmallImageMaxSize is the size at or below which an image attachment is
	// treated as an embedded element (bytes).
	SmallImageMaxSize int64 `yaml:"small_image_max_size"`

	// EmbeddedURLFragments are substrings that mark a "filename" as actually
	// being a provider-specific embedded-image URL.
	EmbeddedURLFragments []string `yaml:"embedded_url_fragments"`

	// EmbeddedNames is the vocabulary of common embedded element names,
	// matched exactly or with an underscore suffix, case-insensitively.
	EmbeddedNames []string `yaml:"embedded_names"`

	// EmbeddedPatterns are regex patterns for generated embedded filenames.
	EmbeddedPatterns []string `yaml:"embedded_patterns"`
}

// DefaultRules returns the rules the engine ships with.
func DefaultRules() Rules {
	return Rules{
		MimeWhitelist: []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.ms-powerpoint",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
			"application/zip",
			"application/x-zip-compressed",
			"application/x-7z-compressed",
			"application/x-rar-compressed",
			"text/csv",
			"text/plain",
			"application/json",
		},
		KeepExtensions: []string{
			".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
			".zip", ".rar", ".7z", ".csv", ".txt",
		},
		SkipExtensions: []string{
			".ics", ".vcf", ".vcs",
		},
		ImageExtensions: []string{
			".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tiff", ".tif", ".svg",
		},
		SmallImageMaxSize: 20 * 1024,
		EmbeddedURLFragments: []string{
			"view=fimg",
			"disp=emb",
			"cid=",
			"cid:",
			"googleusercontent.com",
			"gstatic.com",
			"mailfoogae.appspot.com",
		},
		EmbeddedNames: []string{
			"logo", "icon", "banner", "signature", "sig", "avatar", "badge",
			"header", "footer", "spacer", "pixel", "divider",
			"facebook", "twitter", "instagram", "linkedin", "youtube",
		},
		EmbeddedPatterns: []string{
			`(?i)^image\d+\.(png|jpg|gif|jpeg)$`,
			`(?i)^inline-`,
			`^Outlook-`,
			`(?i)^emb_(image|embed)\d+`,
			`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.(png|jpg|jpeg|gif))?$`,
			`^part_\d+\.\d+\.\d+`,
			`(?i)^att\d+\.\d+`,
		},
	}
}

// compilePatterns compiles the embedded-filename patterns. Invalid patterns
// are dropped rather than failing the whole engine; classification must
// always be able to proceed.
func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}
