package mail

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/petalo/mailsift/pkg/errors"
	"github.com/petalo/mailsift/pkg/logging"
)

// labelsFileName is the sidecar file recording thread labels inside a
// mailbox directory.
const labelsFileName = ".mailsift-labels.json"

// DirMailbox is a Mailbox backed by a directory of RFC 5322 .eml files.
// Messages sharing a References/In-Reply-To chain form one thread. Labels
// are persisted in a sidecar JSON file so processed threads stay processed
// across runs.
type DirMailbox struct {
	dir    string
	logger logging.Logger

	mu      sync.Mutex
	threads []*dirThread
	labels  map[string][]string // thread ID -> labels
	loaded  bool
}

// NewDirMailbox creates a mailbox over the given directory. Files are
// parsed lazily on the first Search.
func NewDirMailbox(dir string, logger logging.Logger) *DirMailbox {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DirMailbox{
		dir:    dir,
		logger: logger.With(logging.F("component", "dirmailbox")),
		labels: map[string][]string{},
	}
}

var _ Mailbox = (*DirMailbox)(nil)

// Search returns threads matching the query, paged by offset/limit. The
// query dialect is described on ParseQuery; the run controller emits
// "has:attachment AND NOT label:<name>".
func (m *DirMailbox) Search(ctx context.Context, query string, offset, limit int) ([]Thread, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}

	q, err := ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid search query: %w", err)
	}

	m.mu.Lock()
	var matched []Thread
	for _, t := range m.threads {
		if m.threadMatchesLocked(t, q) {
			matched = append(matched, t)
		}
	}
	m.mu.Unlock()

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m *DirMailbox) threadMatchesLocked(t *dirThread, q *Query) bool {
	if q.HasAttachment && !t.hasAttachment {
		return false
	}

	labels := m.labels[t.id]
	for _, want := range q.IncludeLabels {
		if !containsString(labels, want) {
			return false
		}
	}
	for _, banned := range q.ExcludeLabels {
		if containsString(labels, banned) {
			return false
		}
	}

	if q.From != "" && !t.anyFromContains(q.From) {
		return false
	}
	for _, term := range q.Terms {
		if !t.anySubjectContains(term) {
			return false
		}
	}

	last := t.LastMessageDate()
	if q.After != nil && !last.After(*q.After) {
		return false
	}
	if q.Before != nil && !last.Before(*q.Before) {
		return false
	}
	return true
}

func containsString(haystack []string, want string) bool {
	for _, have := range haystack {
		if have == want {
			return true
		}
	}
	return false
}

// load parses every .eml file in the directory and groups messages into
// threads. Unparseable files are logged and skipped.
func (m *DirMailbox) load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: mailbox directory %s: %v", errors.ErrPermission, m.dir, err)
		}
		return fmt.Errorf("failed to read mailbox directory %s: %w", m.dir, err)
	}

	if err := m.loadLabelsLocked(); err != nil {
		m.logger.Warn("could not read labels sidecar, starting fresh", logging.Err(err))
	}

	byThread := map[string]*dirThread{}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".eml") {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		msg, threadKey, err := parseEmlFile(path)
		if err != nil {
			m.logger.Warn("skipping unparseable message file",
				logging.F("file", entry.Name()), logging.Err(err))
			continue
		}

		t, ok := byThread[threadKey]
		if !ok {
			t = &dirThread{id: threadKey, mailbox: m}
			byThread[threadKey] = t
		}
		t.messages = append(t.messages, msg)
		if msg.hasAttachment() {
			t.hasAttachment = true
		}
	}

	m.threads = m.threads[:0]
	for _, t := range byThread {
		sort.Slice(t.messages, func(i, j int) bool {
			return t.messages[i].date.Before(t.messages[j].date)
		})
		m.threads = append(m.threads, t)
	}
	sort.Slice(m.threads, func(i, j int) bool {
		a, b := m.threads[i], m.threads[j]
		if !a.LastMessageDate().Equal(b.LastMessageDate()) {
			return a.LastMessageDate().Before(b.LastMessageDate())
		}
		return a.id < b.id
	})

	m.loaded = true
	return nil
}

func (m *DirMailbox) loadLabelsLocked() error {
	data, err := os.ReadFile(filepath.Join(m.dir, labelsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &m.labels)
}

// addLabel records a label for a thread and persists the sidecar file.
func (m *DirMailbox) addLabel(threadID, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, have := range m.labels[threadID] {
		if have == label {
			return nil
		}
	}
	m.labels[threadID] = append(m.labels[threadID], label)

	data, err := json.MarshalIndent(m.labels, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, labelsFileName), data, 0600); err != nil {
		return fmt.Errorf("failed to write labels sidecar: %w", err)
	}
	return nil
}

func (m *DirMailbox) threadLabels(threadID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.labels[threadID]...)
}

// dirThread groups the messages of one conversation.
type dirThread struct {
	id            string
	mailbox       *DirMailbox
	messages      []*dirMessage
	hasAttachment bool
}

var _ Thread = (*dirThread)(nil)

func (t *dirThread) ID() string { return t.id }

func (t *dirThread) Messages(ctx context.Context) ([]Message, error) {
	out := make([]Message, len(t.messages))
	for i, msg := range t.messages {
		out[i] = msg
	}
	return out, nil
}

func (t *dirThread) Labels(ctx context.Context) ([]string, error) {
	return t.mailbox.threadLabels(t.id), nil
}

func (t *dirThread) AddLabel(ctx context.Context, label string) error {
	return t.mailbox.addLabel(t.id, label)
}

func (t *dirThread) LastMessageDate() time.Time {
	if len(t.messages) == 0 {
		return time.Time{}
	}
	return t.messages[len(t.messages)-1].date
}

func (t *dirThread) anyFromContains(want string) bool {
	want = strings.ToLower(want)
	for _, msg := range t.messages {
		if strings.Contains(strings.ToLower(msg.from), want) {
			return true
		}
	}
	return false
}

func (t *dirThread) anySubjectContains(term string) bool {
	term = strings.ToLower(term)
	for _, msg := range t.messages {
		if strings.Contains(strings.ToLower(msg.subject), term) {
			return true
		}
	}
	return false
}

// dirMessage is one parsed .eml file.
type dirMessage struct {
	from        string
	subject     string
	body        string
	date        time.Time
	attachments []Attachment
}

var _ Message = (*dirMessage)(nil)

func (m *dirMessage) From() string      { return m.from }
func (m *dirMessage) Subject() string   { return m.subject }
func (m *dirMessage) PlainBody() string { return m.body }
func (m *dirMessage) Date() time.Time   { return m.date }

func (m *dirMessage) Attachments(ctx context.Context) ([]Attachment, error) {
	return append([]Attachment(nil), m.attachments...), nil
}

func (m *dirMessage) hasAttachment() bool { return len(m.attachments) > 0 }

// parseEmlFile parses one .eml file and returns the message plus the key
// grouping it into a thread: the root of its References chain, falling back
// to In-Reply-To, then its own Message-ID, then a content hash.
func parseEmlFile(path string) (*dirMessage, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read message file: %w", err)
	}

	parsed, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &dirMessage{
		from:    DecodeHeader(parsed.Header.Get("From")),
		subject: DecodeHeader(parsed.Header.Get("Subject")),
	}

	msg.date, err = mail.ParseDate(parsed.Header.Get("Date"))
	if err != nil {
		if stat, statErr := os.Stat(path); statErr == nil {
			msg.date = stat.ModTime()
		} else {
			msg.date = time.Now()
		}
	}

	if err := parseEmlBody(parsed, msg); err != nil {
		return nil, "", err
	}

	threadKey := ""
	if refs := strings.Fields(parsed.Header.Get("References")); len(refs) > 0 {
		threadKey = refs[0]
	}
	if threadKey == "" {
		threadKey = strings.TrimSpace(parsed.Header.Get("In-Reply-To"))
	}
	if threadKey == "" {
		threadKey = strings.TrimSpace(parsed.Header.Get("Message-Id"))
	}
	if threadKey == "" {
		threadKey = strings.TrimSpace(parsed.Header.Get("Message-ID"))
	}
	if threadKey == "" {
		sum := sha256.Sum256(data)
		threadKey = hex.EncodeToString(sum[:16])
	}
	threadKey = strings.Trim(threadKey, "<>")

	return msg, threadKey, nil
}

// parseEmlBody walks the MIME structure collecting the plain-text body and
// attachments.
func parseEmlBody(parsed *mail.Message, msg *dirMessage) error {
	contentType := parsed.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		body, _ := io.ReadAll(parsed.Body)
		msg.body = string(body)
		return nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return walkMultipart(parsed.Body, params["boundary"], msg)
	}

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	body, _ = decodeTransferEncoding(body, parsed.Header.Get("Content-Transfer-Encoding"))
	if strings.HasPrefix(mediaType, "text/plain") || !strings.HasPrefix(mediaType, "text/") {
		msg.body = string(decodePartCharset(body, params["charset"]))
	}
	return nil
}

func walkMultipart(body io.Reader, boundary string, msg *dirMessage) error {
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read MIME part: %w", err)
		}

		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if err := walkMultipart(part, params["boundary"], msg); err != nil {
				return err
			}
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		dispType, dispParams, _ := mime.ParseMediaType(disposition)

		filename := dispParams["filename"]
		if filename == "" {
			filename = part.FileName()
		}

		isAttachment := dispType == "attachment" ||
			(dispType == "inline" && filename != "") ||
			(filename != "" && !strings.HasPrefix(mediaType, "text/"))

		if isAttachment {
			content, readErr := io.ReadAll(part)
			if readErr != nil {
				continue
			}
			content, _ = decodeTransferEncoding(content, part.Header.Get("Content-Transfer-Encoding"))
			blob := content
			msg.attachments = append(msg.attachments, Attachment{
				Name:               DecodeHeader(filename),
				SizeBytes:          int64(len(blob)),
				MimeType:           mediaType,
				ContentDisposition: disposition,
				Content: func(ctx context.Context) ([]byte, error) {
					return blob, nil
				},
			})
			continue
		}

		if strings.HasPrefix(mediaType, "text/plain") && msg.body == "" {
			content, readErr := io.ReadAll(part)
			if readErr != nil {
				continue
			}
			content, _ = decodeTransferEncoding(content, part.Header.Get("Content-Transfer-Encoding"))
			msg.body = string(decodePartCharset(content, params["charset"]))
		}
	}
}

// decodeTransferEncoding undoes base64 and quoted-printable transfer
// encodings. Unknown encodings pass through unchanged.
func decodeTransferEncoding(data []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := bytes.ReplaceAll(data, []byte("\r\n"), nil)
		cleaned = bytes.ReplaceAll(cleaned, []byte("\n"), nil)
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
		n, err := base64.StdEncoding.Decode(decoded, cleaned)
		if err != nil {
			return data, fmt.Errorf("failed to decode base64 part: %w", err)
		}
		return decoded[:n], nil
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(data)))
		if err != nil {
			return data, fmt.Errorf("failed to decode quoted-printable part: %w", err)
		}
		return decoded, nil
	default:
		return data, nil
	}
}

// decodePartCharset converts a body part to UTF-8 using the same charset
// table as header decoding. Unknown charsets pass through unchanged.
func decodePartCharset(data []byte, charset string) []byte {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "us-ascii") {
		return data
	}
	reader, err := charsetReader(charset, bytes.NewReader(data))
	if err != nil {
		return data
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return data
	}
	return decoded
}
