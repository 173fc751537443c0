// Package run drives one engine invocation: acquire the execution lock,
// drain the unprocessed backlog in bounded batches, and file every kept
// attachment into its sender-domain folder (with a second copy for
// invoices). The controller is single-threaded; all synchronization with
// overlapping invocations happens through the locks.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/petalo/mailsift/pkg/classify"
	"github.com/petalo/mailsift/pkg/errors"
	"github.com/petalo/mailsift/pkg/folders"
	"github.com/petalo/mailsift/pkg/invoice"
	"github.com/petalo/mailsift/pkg/journal"
	"github.com/petalo/mailsift/pkg/kvstore"
	"github.com/petalo/mailsift/pkg/locker"
	"github.com/petalo/mailsift/pkg/logging"
	"github.com/petalo/mailsift/pkg/mail"
)

// Defaults for the run configuration.
const (
	DefaultBatchSize      = 10
	DefaultProcessedLabel = "mailsift/processed"
	DefaultPageSize       = 100
)

// Config controls one run.
type Config struct {
	// BatchSize bounds how many threads with kept attachments one run may
	// process before stopping.
	BatchSize int `yaml:"batch_size"`

	// ProcessedLabel marks threads the engine has already evaluated.
	ProcessedLabel string `yaml:"processed_label"`

	// PageSize is the mailbox search page size.
	PageSize int `yaml:"page_size"`

	// DryRun classifies and logs without writing files or labels.
	DryRun bool `yaml:"dry_run"`
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ProcessedLabel == "" {
		c.ProcessedLabel = DefaultProcessedLabel
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
}

// Query returns the mailbox search query for unprocessed threads.
func (c Config) Query() string {
	return fmt.Sprintf("has:attachment AND NOT label:%s", c.ProcessedLabel)
}

// Result is the aggregate outcome of one run.
type Result struct {
	RunID              string        `json:"run_id"`
	Skipped            bool          `json:"skipped"`
	ThreadsExamined    int           `json:"threads_examined"`
	ThreadsProcessed   int           `json:"threads_processed"`
	AttachmentsKept    int           `json:"attachments_kept"`
	AttachmentsSkipped int           `json:"attachments_skipped"`
	Duplicates         int           `json:"duplicates"`
	InvoiceCopies      int           `json:"invoice_copies"`
	Errors             int           `json:"errors"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
}

// Controller wires the engine's collaborators into the batch algorithm.
type Controller struct {
	cfg        Config
	mailboxes  []mail.Mailbox
	classifier *classify.Classifier
	resolver   *folders.Resolver
	invoices   *folders.Resolver // nil disables invoice second copies
	chain      *invoice.Chain
	lock       *locker.ExecutionLock
	store      kvstore.Store     // nil-safe; holds the last-run summary
	registry   *SenderRegistry   // nil-safe
	journal    *journal.Journal  // nil-safe
	metrics    *Metrics
	tracer     *Tracer
	logger     logging.Logger

	invoiceNameKeywords []string
}

// ControllerOptions carries the collaborator set for NewController.
type ControllerOptions struct {
	Config  Config
	Mailbox mail.Mailbox

	// Mailboxes are additional mailboxes drained in the same run, after
	// Mailbox. A permission failure on one isolates it; the rest continue.
	Mailboxes []mail.Mailbox

	Classifier      *classify.Classifier
	Resolver        *folders.Resolver
	InvoiceResolver *folders.Resolver
	Chain           *invoice.Chain
	Lock            *locker.ExecutionLock
	Store           kvstore.Store
	Registry        *SenderRegistry
	Journal         *journal.Journal
	Metrics         *Metrics
	Tracer          *Tracer
	Logger          logging.Logger
}

// NewController validates the collaborator set and builds a controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	var mailboxes []mail.Mailbox
	if opts.Mailbox != nil {
		mailboxes = append(mailboxes, opts.Mailbox)
	}
	mailboxes = append(mailboxes, opts.Mailboxes...)
	if len(mailboxes) == 0 {
		return nil, fmt.Errorf("%w: mailbox client is required", errors.ErrConfiguration)
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("%w: folder resolver is required", errors.ErrConfiguration)
	}
	if opts.Lock == nil {
		return nil, fmt.Errorf("%w: execution lock is required", errors.ErrConfiguration)
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.NewClassifier(classify.Rules{})
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = NewTracer()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	opts.Config.applyDefaults()

	return &Controller{
		cfg:                 opts.Config,
		mailboxes:           mailboxes,
		classifier:          opts.Classifier,
		resolver:            opts.Resolver,
		invoices:            opts.InvoiceResolver,
		chain:               opts.Chain,
		lock:                opts.Lock,
		store:               opts.Store,
		registry:            opts.Registry,
		journal:             opts.Journal,
		metrics:             opts.Metrics,
		tracer:              opts.Tracer,
		logger:              opts.Logger,
		invoiceNameKeywords: invoice.DefaultKeywords(),
	}, nil
}

// Run executes one engine invocation. A held lock elsewhere yields
// Result{Skipped: true} with a nil error: another active run is a normal
// outcome, not a failure.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	result := Result{RunID: uuid.New().String(), StartedAt: time.Now()}
	logger := c.logger.With(logging.F("run_id", result.RunID))

	ctx, span := c.tracer.StartRunSpan(ctx, result.RunID)
	var runErr error
	defer func() { EndSpan(span, runErr) }()

	if err := c.lock.Acquire(ctx); err != nil {
		if errors.IsLockUnavailable(err) {
			logger.Info("another run holds the execution lock, skipping")
			result.Skipped = true
			result.Duration = time.Since(result.StartedAt)
			c.metrics.RunsTotal.WithLabelValues("skipped").Inc()
			c.finishRun(context.WithoutCancel(ctx), &result, nil)
			return result, nil
		}
		runErr = fmt.Errorf("failed to acquire execution lock: %w", err)
		c.metrics.RunsTotal.WithLabelValues("failed").Inc()
		return result, runErr
	}
	defer func() {
		// Release must run on every exit path, even after cancellation.
		releaseCtx := context.WithoutCancel(ctx)
		if err := c.lock.Release(releaseCtx); err != nil {
			logger.Error("failed to release execution lock", logging.Err(err))
		}
		if c.registry != nil {
			c.registry.Flush(releaseCtx)
		}
		c.finishRun(releaseCtx, &result, runErr)
	}()

	keptThreads := 0
	for i, mailbox := range c.mailboxes {
		if keptThreads >= c.cfg.BatchSize {
			break
		}

		threads, err := c.fetchCandidates(ctx, mailbox)
		if err != nil {
			// A mailbox this run may not read is isolated; the others
			// still drain. Anything else aborts the run.
			if errors.IsPermission(err) {
				logger.Warn("mailbox not authorized, skipping it",
					logging.F("mailbox", i), logging.Err(err))
				result.Errors++
				continue
			}
			runErr = err
			return result, runErr
		}
		logger.Info("candidate threads fetched",
			logging.F("mailbox", i), logging.F("count", len(threads)))

		for _, thread := range threads {
			if keptThreads >= c.cfg.BatchSize {
				logger.Info("batch size reached, draining",
					logging.F("kept_threads", keptThreads))
				break
			}
			if ctx.Err() != nil {
				runErr = ctx.Err()
				return result, runErr
			}
			result.ThreadsExamined++

			hadAttachment, keptAny := c.processThread(ctx, logger, thread, &result)
			if hadAttachment {
				// Label even when everything was filtered, so noisy threads are
				// not re-scanned every run.
				if !c.cfg.DryRun {
					if err := thread.AddLabel(ctx, c.cfg.ProcessedLabel); err != nil {
						logger.Warn("failed to label thread processed",
							logging.F("thread_id", thread.ID()), logging.Err(err))
						result.Errors++
					}
				}
				result.ThreadsProcessed++
				c.metrics.ThreadsTotal.WithLabelValues("processed").Inc()
			} else {
				c.metrics.ThreadsTotal.WithLabelValues("no_attachments").Inc()
			}
			if keptAny {
				keptThreads++
			}
		}
	}

	result.Duration = time.Since(result.StartedAt)
	c.metrics.RunsTotal.WithLabelValues("completed").Inc()
	c.metrics.RunSeconds.Observe(result.Duration.Seconds())
	logger.Info("run complete",
		logging.F("threads_processed", result.ThreadsProcessed),
		logging.F("attachments_kept", result.AttachmentsKept),
		logging.F("invoice_copies", result.InvoiceCopies),
		logging.F("errors", result.Errors),
		logging.F("duration", result.Duration.String()))
	return result, nil
}

// fetchCandidates pages through one mailbox's search and sorts oldest-first.
func (c *Controller) fetchCandidates(ctx context.Context, mailbox mail.Mailbox) ([]mail.Thread, error) {
	var threads []mail.Thread
	query := c.cfg.Query()
	for offset := 0; ; offset += c.cfg.PageSize {
		page, err := mailbox.Search(ctx, query, offset, c.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("mailbox search failed: %w", err)
		}
		threads = append(threads, page...)
		if len(page) < c.cfg.PageSize {
			break
		}
	}
	// Oldest first: a large backlog drains chronologically instead of
	// starving old mail.
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastMessageDate().Before(threads[j].LastMessageDate())
	})
	return threads, nil
}

// processThread evaluates every attachment in a thread. Failures are logged
// and counted, never propagated: one bad thread must not abort the batch.
func (c *Controller) processThread(ctx context.Context, logger logging.Logger, thread mail.Thread, result *Result) (hadAttachment, keptAny bool) {
	ctx, span := c.tracer.StartThreadSpan(ctx, thread.ID())
	defer span.End()

	tlog := logger.With(logging.F("thread_id", thread.ID()))

	labels, err := thread.Labels(ctx)
	if err == nil {
		for _, l := range labels {
			if l == c.cfg.ProcessedLabel {
				// Raced with another run that labeled it after our search.
				return false, false
			}
		}
	}

	messages, err := thread.Messages(ctx)
	if err != nil {
		tlog.Warn("failed to read thread messages", logging.Err(err))
		result.Errors++
		return false, false
	}

	for _, msg := range messages {
		attachments, err := msg.Attachments(ctx)
		if err != nil {
			tlog.Warn("failed to list attachments", logging.Err(err))
			result.Errors++
			continue
		}
		if len(attachments) > 0 {
			hadAttachment = true
		}
		for _, att := range attachments {
			if c.processAttachment(ctx, tlog, msg, att, attachments, result) {
				keptAny = true
			}
		}
	}
	return hadAttachment, keptAny
}

// processAttachment classifies and, when kept, persists one attachment.
// Returns whether the attachment was kept.
func (c *Controller) processAttachment(ctx context.Context, logger logging.Logger, msg mail.Message, att mail.Attachment, siblings []mail.Attachment, result *Result) bool {
	ctx, span := c.tracer.StartAttachmentSpan(ctx, att.Name)
	defer span.End()

	name := mail.DecodeHeader(att.Name)
	decision := c.classifier.Classify(classify.Metadata{
		Name:               name,
		SizeBytes:          att.SizeBytes,
		MimeType:           att.MimeType,
		ContentDisposition: att.ContentDisposition,
	})
	c.metrics.AttachmentsTotal.WithLabelValues(string(decision.Reason)).Inc()
	span.SetAttributes(attribute.String(AttrReason, string(decision.Reason)))
	if decision.Skip {
		result.AttachmentsSkipped++
		logger.Debug("attachment skipped",
			logging.F("name", name), logging.F("reason", string(decision.Reason)))
		return false
	}

	domain := mail.ExtractDomain(msg.From())
	alog := logger.With(logging.F("name", name), logging.F("domain", domain))

	if c.cfg.DryRun {
		result.AttachmentsKept++
		alog.Info("attachment kept (dry run)")
		return true
	}

	folder, err := c.resolver.Resolve(ctx, domain)
	if err != nil {
		alog.Warn("failed to resolve destination folder", logging.Err(err))
		result.Errors++
		c.metrics.AttachmentErrors.Inc()
		return false
	}

	content, err := att.Content(ctx)
	if err != nil {
		alog.Warn("failed to load attachment content", logging.Err(err))
		result.Errors++
		c.metrics.AttachmentErrors.Inc()
		return false
	}

	_, created, err := c.resolver.SaveFile(ctx, folder, name, content)
	if err != nil {
		alog.Warn("failed to save attachment", logging.Err(err))
		result.Errors++
		c.metrics.AttachmentErrors.Inc()
		return false
	}
	result.AttachmentsKept++
	if !created {
		result.Duplicates++
		alog.Debug("duplicate attachment, save skipped")
	} else {
		c.metrics.SavedBytesTotal.Add(float64(len(content)))
		alog.Info("attachment saved", logging.F("size", att.SizeBytes))
	}

	isInvoice := c.isInvoice(ctx, msg, att, siblings, name, domain)
	span.SetAttributes(attribute.Bool(AttrInvoice, isInvoice))
	if isInvoice && c.invoices != nil {
		if err := c.fileInvoiceCopy(ctx, alog, domain, name, content, result); err == nil {
			result.InvoiceCopies++
			c.metrics.InvoiceCopies.Inc()
		}
	}

	c.journal.RecordFile(ctx, journal.SavedFile{
		RunID:     uuid.MustParse(result.RunID),
		Domain:    domain,
		Sender:    msg.From(),
		Subject:   msg.Subject(),
		Name:      name,
		SizeBytes: int64(len(content)),
		Invoice:   isInvoice,
		SentAt:    msg.Date(),
	})
	return true
}

// isInvoice consults the decision chain, plus the legacy filename trigger:
// a PDF whose own name carries an invoice keyword is filed as an invoice
// even when the chain is disabled or says no.
func (c *Controller) isInvoice(ctx context.Context, msg mail.Message, att mail.Attachment, siblings []mail.Attachment, name, domain string) bool {
	if c.looksLikeInvoiceFile(name, att.MimeType) {
		return true
	}
	if c.chain == nil {
		return false
	}
	attachments := siblings
	if len(attachments) == 0 {
		attachments = []mail.Attachment{att}
	}
	return c.chain.IsInvoice(ctx, invoice.Signal{
		From:        msg.From(),
		FromDomain:  domain,
		Subject:     msg.Subject(),
		Body:        msg.PlainBody(),
		Date:        msg.Date(),
		Attachments: attachments,
	})
}

func (c *Controller) looksLikeInvoiceFile(name, mimeType string) bool {
	isPDF := strings.EqualFold(filepath.Ext(name), ".pdf") ||
		strings.EqualFold(strings.TrimSpace(mimeType), "application/pdf")
	if !isPDF {
		return false
	}
	lower := strings.ToLower(name)
	for _, k := range c.invoiceNameKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (c *Controller) fileInvoiceCopy(ctx context.Context, logger logging.Logger, domain, name string, content []byte, result *Result) error {
	folder, err := c.invoices.Resolve(ctx, domain)
	if err != nil {
		logger.Warn("failed to resolve invoice folder", logging.Err(err))
		result.Errors++
		return err
	}
	if _, _, err := c.invoices.SaveFile(ctx, folder, name, content); err != nil {
		logger.Warn("failed to file invoice copy", logging.Err(err))
		result.Errors++
		return err
	}
	return nil
}

// finishRun persists the run summary to the property store and the journal.
func (c *Controller) finishRun(ctx context.Context, result *Result, runErr error) {
	if result.Duration == 0 {
		result.Duration = time.Since(result.StartedAt)
	}
	if c.store != nil {
		if data, err := json.Marshal(result); err == nil {
			if err := c.store.Set(ctx, kvstore.KeyLastRun, data, 0); err != nil {
				c.logger.Warn("failed to persist run summary", logging.Err(err))
			}
		}
	}
	if c.journal != nil {
		rec := journal.RunRecord{
			ID:                 uuid.MustParse(result.RunID),
			StartedAt:          result.StartedAt,
			FinishedAt:         result.StartedAt.Add(result.Duration),
			Skipped:            result.Skipped,
			Success:            runErr == nil,
			ThreadsExamined:    result.ThreadsExamined,
			ThreadsProcessed:   result.ThreadsProcessed,
			AttachmentsKept:    result.AttachmentsKept,
			AttachmentsSkipped: result.AttachmentsSkipped,
			Duplicates:         result.Duplicates,
			InvoiceCopies:      result.InvoiceCopies,
			Errors:             result.Errors,
		}
		if err := c.journal.RecordRun(ctx, rec); err != nil {
			c.logger.Warn("failed to journal run", logging.Err(err))
		}
	}
}
