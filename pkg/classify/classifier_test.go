package classify

import "testing"

func TestClassify_MimeWhitelistPrecedence(t *testing.T) {
	c := NewClassifier(Rules{})

	tests := []struct {
		name string
		meta Metadata
	}{
		{
			// The name alone would be skipped as an embedded element.
			name: "logo.pdf with pdf mime is kept",
			meta: Metadata{Name: "logo.pdf", SizeBytes: 1000, MimeType: "application/pdf"},
		},
		{
			name: "inline disposition loses to whitelist",
			meta: Metadata{Name: "report.docx", SizeBytes: 100,
				MimeType:           "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				ContentDisposition: "inline"},
		},
		{
			name: "tiny csv is kept",
			meta: Metadata{Name: "x.csv", SizeBytes: 12, MimeType: "text/csv"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Classify(tt.meta)
			if d.Skip {
				t.Errorf("Classify() skipped, want kept (reason: %s)", d.Reason)
			}
			if d.Reason != ReasonMimeWhitelisted {
				t.Errorf("reason = %s, want %s", d.Reason, ReasonMimeWhitelisted)
			}
		})
	}
}

func TestClassify_SkipRules(t *testing.T) {
	c := NewClassifier(Rules{})

	tests := []struct {
		name       string
		meta       Metadata
		wantReason Reason
	}{
		{
			name:       "inline image",
			meta:       Metadata{Name: "photo.png", SizeBytes: 500000, MimeType: "image/png", ContentDisposition: "inline; filename=photo.png"},
			wantReason: ReasonInlineDisposition,
		},
		{
			name:       "gmail embed url as filename",
			meta:       Metadata{Name: "https://mail.example.com/mail/u/0?view=fimg&th=18", SizeBytes: 4000, MimeType: "image/jpeg"},
			wantReason: ReasonEmbeddedURLPattern,
		},
		{
			name:       "cid reference",
			meta:       Metadata{Name: "cid:part1.ABC@example.com", SizeBytes: 4000, MimeType: "image/png"},
			wantReason: ReasonEmbeddedURLPattern,
		},
		{
			name:       "common embedded name exact",
			meta:       Metadata{Name: "signature.jpg", SizeBytes: 300000, MimeType: "image/jpeg"},
			wantReason: ReasonEmbeddedNamePattern,
		},
		{
			name:       "common embedded name underscore suffix",
			meta:       Metadata{Name: "logo_2.png", SizeBytes: 300000, MimeType: "image/png"},
			wantReason: ReasonEmbeddedNamePattern,
		},
		{
			name:       "social network name",
			meta:       Metadata{Name: "linkedin.png", SizeBytes: 90000, MimeType: "image/png"},
			wantReason: ReasonEmbeddedNamePattern,
		},
		{
			name:       "outlook generated image",
			meta:       Metadata{Name: "image001.png", SizeBytes: 400000, MimeType: "image/png"},
			wantReason: ReasonEmbeddedRegexPattern,
		},
		{
			name:       "inline- prefix",
			meta:       Metadata{Name: "inline-chart.gif", SizeBytes: 400000, MimeType: "image/gif"},
			wantReason: ReasonEmbeddedRegexPattern,
		},
		{
			name:       "Outlook- prefix",
			meta:       Metadata{Name: "Outlook-dkfj3kd.png", SizeBytes: 400000, MimeType: "image/png"},
			wantReason: ReasonEmbeddedRegexPattern,
		},
		{
			name:       "uuid shaped name with extension",
			meta:       Metadata{Name: "550e8400-e29b-41d4-a716-446655440000.png", SizeBytes: 400000, MimeType: "image/png"},
			wantReason: ReasonEmbeddedRegexPattern,
		},
		{
			name:       "uuid shaped name bare",
			meta:       Metadata{Name: "550e8400-e29b-41d4-a716-446655440000", SizeBytes: 400000, MimeType: "application/octet-stream"},
			wantReason: ReasonEmbeddedRegexPattern,
		},
		{
			name:       "mime part name",
			meta:       Metadata{Name: "part_1.2.3", SizeBytes: 400000, MimeType: "application/octet-stream"},
			wantReason: ReasonEmbeddedRegexPattern,
		},
		{
			name:       "att numbered part",
			meta:       Metadata{Name: "att00001.1", SizeBytes: 400000, MimeType: "application/octet-stream"},
			wantReason: ReasonEmbeddedRegexPattern,
		},
		{
			name:       "calendar invite",
			meta:       Metadata{Name: "meeting.ics", SizeBytes: 80000, MimeType: "text/calendar"},
			wantReason: ReasonSkippedExtension,
		},
		{
			name:       "vcard",
			meta:       Metadata{Name: "contact.vcf", SizeBytes: 2000, MimeType: "text/vcard"},
			wantReason: ReasonSkippedExtension,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Classify(tt.meta)
			if !d.Skip {
				t.Fatalf("Classify() kept, want skipped")
			}
			if d.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestClassify_SmallImageBoundary(t *testing.T) {
	const threshold = 20 * 1024
	c := NewClassifier(Rules{SmallImageMaxSize: threshold})

	at := c.Classify(Metadata{Name: "chart.jpg", SizeBytes: threshold, MimeType: "image/jpeg"})
	if !at.Skip || at.Reason != ReasonSmallImage {
		t.Errorf("size == threshold should skip as small image, got %+v", at)
	}

	above := c.Classify(Metadata{Name: "chart.jpg", SizeBytes: threshold + 1, MimeType: "image/jpeg"})
	if above.Skip {
		t.Errorf("size == threshold+1 should be kept, got %+v", above)
	}
	if above.Reason != ReasonKept {
		t.Errorf("reason = %s, want %s", above.Reason, ReasonKept)
	}
}

func TestClassify_NoExtensionBoundary(t *testing.T) {
	c := NewClassifier(Rules{})

	below := c.Classify(Metadata{Name: "abc123", SizeBytes: 50*1024 - 1, MimeType: "application/octet-stream"})
	if !below.Skip || below.Reason != ReasonNoExtensionSmall {
		t.Errorf("just under 50KiB without extension should skip, got %+v", below)
	}

	// Exactly 50KiB: the strict < comparison keeps it, and rules 8-10 don't
	// fire for an extension-less name.
	at := c.Classify(Metadata{Name: "abc123", SizeBytes: 50 * 1024, MimeType: "application/octet-stream"})
	if at.Skip {
		t.Errorf("exactly 50KiB without extension should be kept, got %+v", at)
	}
}

func TestClassify_DocumentExtensionsKeptRegardlessOfSize(t *testing.T) {
	c := NewClassifier(Rules{})

	for _, name := range []string{"a.pdf", "b.docx", "c.xlsx", "d.zip", "e.7z", "f.txt"} {
		d := c.Classify(Metadata{Name: name, SizeBytes: 1, MimeType: "application/octet-stream"})
		if d.Skip {
			t.Errorf("%s should be kept by extension allow-list, got %+v", name, d)
		}
	}
}

func TestClassify_Idempotent(t *testing.T) {
	c := NewClassifier(Rules{})
	meta := Metadata{Name: "scan_0042.jpg", SizeBytes: 123456, MimeType: "image/jpeg"}

	first := c.Classify(meta)
	for i := 0; i < 10; i++ {
		if got := c.Classify(meta); got != first {
			t.Fatalf("classification not idempotent: %+v vs %+v", got, first)
		}
	}
}

func TestClassify_DefaultKeep(t *testing.T) {
	c := NewClassifier(Rules{})
	d := c.Classify(Metadata{Name: "dataset.parquet", SizeBytes: 9000000, MimeType: "application/octet-stream"})
	if d.Skip || d.Reason != ReasonKept {
		t.Errorf("unmatched attachment should default to kept, got %+v", d)
	}
}

func TestNewClassifier_InvalidPatternDropped(t *testing.T) {
	c := NewClassifier(Rules{EmbeddedPatterns: []string{`([`, `^inline-`}})
	d := c.Classify(Metadata{Name: "inline-x.png", SizeBytes: 999999, MimeType: "image/png"})
	if !d.Skip {
		t.Error("valid pattern should survive an invalid sibling")
	}
}
