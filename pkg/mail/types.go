// Package mail defines the mailbox collaborator port and the message and
// attachment types the run controller operates on. The real mailbox client
// lives outside this module; tests substitute in-memory fakes.
package mail

import (
	"context"
	"time"
)

// Attachment is the metadata the classifier needs, plus access to content.
// Metadata is derived once per attachment per run and never persisted.
type Attachment struct {
	// Name is the attachment filename as reported by the mailbox. Some
	// clients surface inline images with a tracking URL here instead of a
	// real filename.
	Name string

	// SizeBytes is the attachment size.
	SizeBytes int64

	// MimeType is the declared content type.
	MimeType string

	// ContentDisposition is the raw Content-Disposition header value, if any.
	ContentDisposition string

	// Content loads the attachment bytes. Called only for kept attachments.
	Content func(ctx context.Context) ([]byte, error)
}

// Message is one message within a thread.
type Message interface {
	// From returns the raw From header ("Name <user@domain>" or bare address).
	From() string

	// Subject returns the decoded subject line.
	Subject() string

	// PlainBody returns the plain-text body.
	PlainBody() string

	// Date returns the message date.
	Date() time.Time

	// Attachments returns the message's attachments in listed order.
	Attachments(ctx context.Context) ([]Attachment, error)
}

// Thread is a conversation thread.
type Thread interface {
	// ID returns a stable thread identifier.
	ID() string

	// Messages returns the thread's messages.
	Messages(ctx context.Context) ([]Message, error)

	// Labels returns the labels currently applied to the thread.
	Labels(ctx context.Context) ([]string, error)

	// AddLabel applies a label to the thread. At-least-once application is
	// acceptable; re-applying an existing label is a no-op.
	AddLabel(ctx context.Context, label string) error

	// LastMessageDate returns the date of the newest message, used for
	// oldest-first ordering of the backlog.
	LastMessageDate() time.Time
}

// Mailbox is the mailbox collaborator port.
type Mailbox interface {
	// Search returns threads matching the query, paged by offset/limit.
	Search(ctx context.Context, query string, offset, limit int) ([]Thread, error)
}
