// Package cmd provides CLI commands for the mailsift tool.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petalo/mailsift/config"
	"github.com/petalo/mailsift/pkg/classify"
	"github.com/petalo/mailsift/pkg/folders"
	"github.com/petalo/mailsift/pkg/invoice"
	"github.com/petalo/mailsift/pkg/journal"
	"github.com/petalo/mailsift/pkg/kvstore"
	"github.com/petalo/mailsift/pkg/locker"
	"github.com/petalo/mailsift/pkg/logging"
	"github.com/petalo/mailsift/pkg/mail"
	"github.com/petalo/mailsift/pkg/run"
)

// newLogger builds the logger the commands share.
func newLogger(cfg *config.Config) logging.Logger {
	logCfg := logging.DefaultConfig()
	if cfg.Debug {
		logCfg.Level = logging.LevelDebug
	}
	if cfg.OutputFormat == config.OutputFormatJSON {
		logCfg.JSONFormat = true
	}
	return logging.NewLogger(logCfg)
}

// newStore opens the coordination store: Redis when configured, otherwise
// an in-process store that only protects against overlap within this
// process.
func newStore(cfg *config.Config, logger logging.Logger) kvstore.Store {
	if cfg.Redis.IsConfigured() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return kvstore.NewRedisStore(client)
	}
	logger.Warn("no redis configured, using in-process coordination store")
	return kvstore.NewMemoryStore()
}

// newClassifier builds the classifier from the configured rules; zero-value
// sections fall back to the defaults.
func newClassifier(cfg *config.Config) *classify.Classifier {
	return classify.NewClassifier(cfg.Rules)
}

// lockHolder returns the configured holder id, or a hostname-scoped one.
func lockHolder(cfg *config.Config) string {
	if cfg.Lock.Holder != "" {
		return cfg.Lock.Holder
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "mailsift"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
}

// journalHistory adapts the run journal to the invoice history source. It
// surfaces only rows confirmed through the confirm command, never the
// chain's own past verdicts.
type journalHistory struct {
	journal *journal.Journal
}

func (h *journalHistory) ConfirmedInvoices(ctx context.Context, sender string, limit int) ([]invoice.HistoryEntry, error) {
	sightings, err := h.journal.InvoiceSightings(ctx, sender, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]invoice.HistoryEntry, len(sightings))
	for i, s := range sightings {
		entries[i] = invoice.HistoryEntry{Subject: s.Subject, Date: s.SentAt}
	}
	return entries, nil
}

// buildChain assembles the invoice decision chain from configuration.
func buildChain(cfg *config.Config, registry *run.SenderRegistry, jrnl *journal.Journal, logger logging.Logger) *invoice.Chain {
	chainCfg := cfg.Invoice

	// The configured sender list is merged with the registry persisted in
	// the coordination store.
	if registry != nil {
		chainCfg.RegisteredSenders = append(
			append([]string(nil), chainCfg.RegisteredSenders...),
			registry.Senders()...)
	}

	var scorers []invoice.Detector
	switch chainCfg.Method {
	case invoice.MethodGemini:
		scorers = append(scorers, invoice.NewGeminiScorer(cfg.Gemini))
		if cfg.OpenAI.APIKey != "" {
			scorers = append(scorers, invoice.NewOpenAIScorer(cfg.OpenAI))
		}
	case invoice.MethodOpenAI:
		scorers = append(scorers, invoice.NewOpenAIScorer(cfg.OpenAI))
	}

	var history *invoice.HistorySummarizer
	if jrnl != nil {
		history = invoice.NewHistorySummarizer(&journalHistory{journal: jrnl}, chainCfg.Keywords, logger)
	}

	chain := invoice.NewChain(chainCfg, scorers, history, logger)
	if registry != nil {
		chain.UseSenderCache(registry)
	}
	return chain
}

// executeRun is the production wiring for one controller invocation.
func executeRun(ctx context.Context, cfg *config.Config) (*run.Result, error) {
	if cfg.MailDir == "" && len(cfg.MailDirs) == 0 {
		return nil, fmt.Errorf("mail_dir is required (config file or --mail-dir)")
	}

	logger := newLogger(cfg)
	store := newStore(cfg, logger)

	var jrnl *journal.Journal
	if cfg.JournalDSN != "" {
		var err error
		jrnl, err = journal.Open(ctx, cfg.JournalDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("opening run journal: %w", err)
		}
		defer jrnl.Close()
	}

	storage, rootID, err := folders.NewFSStorage(cfg.RootFolderID)
	if err != nil {
		return nil, fmt.Errorf("opening attachment store: %w", err)
	}
	folderLocks := locker.NewFolderLock(store, 0)
	resolver := folders.NewResolver(storage, folderLocks, rootID, cfg.Retry, logger)

	var invoiceResolver *folders.Resolver
	if cfg.InvoiceRootFolderID != "" {
		invStorage, invRootID, err := folders.NewFSStorage(cfg.InvoiceRootFolderID)
		if err != nil {
			return nil, fmt.Errorf("opening invoice store: %w", err)
		}
		invoiceResolver = folders.NewResolver(invStorage, folderLocks, invRootID, cfg.Retry, logger)
	}

	registry := run.LoadSenderRegistry(ctx, store, logger)

	var mailboxes []mail.Mailbox
	if cfg.MailDir != "" {
		mailboxes = append(mailboxes, mail.NewDirMailbox(cfg.MailDir, logger))
	}
	for _, dir := range cfg.MailDirs {
		mailboxes = append(mailboxes, mail.NewDirMailbox(dir, logger))
	}

	controller, err := run.NewController(run.ControllerOptions{
		Config:          cfg.Run,
		Mailbox:         mailboxes[0],
		Mailboxes:       mailboxes[1:],
		Classifier:      newClassifier(cfg),
		Resolver:        resolver,
		InvoiceResolver: invoiceResolver,
		Chain:           buildChain(cfg, registry, jrnl, logger),
		Lock:            locker.NewExecutionLock(store, lockHolder(cfg), cfg.Lock.MaxHold, logger),
		Store:           store,
		Registry:        registry,
		Journal:         jrnl,
		Metrics:         run.DefaultMetrics(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	result, err := controller.Run(ctx)
	if err != nil {
		return &result, err
	}
	return &result, nil
}

// confirmSender is the production wiring for the confirm command.
func confirmSender(ctx context.Context, cfg *config.Config, sender string) (int64, error) {
	logger := newLogger(cfg)
	jrnl, err := journal.Open(ctx, cfg.JournalDSN, logger)
	if err != nil {
		return 0, fmt.Errorf("opening run journal: %w", err)
	}
	defer jrnl.Close()
	return jrnl.ConfirmSender(ctx, sender)
}

// fetchStatus is the production wiring for the status command.
func fetchStatus(ctx context.Context, cfg *config.Config) (*Status, error) {
	logger := newLogger(cfg)
	store := newStore(cfg, logger)

	status := &Status{}

	if data, err := store.Get(ctx, kvstore.KeyExecutionLock); err == nil {
		var rec locker.Record
		if err := json.Unmarshal(data, &rec); err == nil {
			status.LockHeld = true
			status.LockHolder = rec.Holder
			status.LockAcquiredAt = time.UnixMilli(rec.AcquiredAtMs)
		}
	} else if !kvstore.IsNotFound(err) {
		return nil, fmt.Errorf("reading execution lock: %w", err)
	}

	if data, err := store.Get(ctx, kvstore.KeyLastRun); err == nil {
		var last run.Result
		if jsonErr := json.Unmarshal(data, &last); jsonErr == nil {
			status.LastRun = &last
		}
	} else if !kvstore.IsNotFound(err) {
		return nil, fmt.Errorf("reading last run summary: %w", err)
	}

	// The journal carries a longer memory when configured.
	if status.LastRun == nil && cfg.JournalDSN != "" {
		jrnl, err := journal.Open(ctx, cfg.JournalDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("opening run journal: %w", err)
		}
		defer jrnl.Close()
		rec, err := jrnl.LastRun(ctx)
		if err == nil && rec != nil {
			status.LastRun = &run.Result{
				RunID:              rec.ID.String(),
				Skipped:            rec.Skipped,
				ThreadsExamined:    rec.ThreadsExamined,
				ThreadsProcessed:   rec.ThreadsProcessed,
				AttachmentsKept:    rec.AttachmentsKept,
				AttachmentsSkipped: rec.AttachmentsSkipped,
				Duplicates:         rec.Duplicates,
				InvoiceCopies:      rec.InvoiceCopies,
				Errors:             rec.Errors,
				StartedAt:          rec.StartedAt,
				Duration:           rec.FinishedAt.Sub(rec.StartedAt),
			}
		}
	}

	return status, nil
}
