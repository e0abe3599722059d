package announce

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"herald/internal/storage"
	"herald/internal/types"
)

// Publisher is the external posting collaborator. It returns the URL of
// the published post.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

// Generator is the black-box content generation collaborator.
type Generator interface {
	Generate(ctx context.Context, cfg types.AnnouncementConfig, item types.ContentItem) (string, error)
}

// Correlator records the full internal error behind a failure and hands
// back an opaque reference a support operator can look up.
type Correlator interface {
	Record(ctx context.Context, ref types.ConfigRef, err error) string
}

const genericFailureMessage = "The announcement could not be posted. Quote the correlation reference when contacting support."

// Pipeline posts one announcement per recipient config, at most once.
// Both the scheduler and the manual "post now" surface funnel through
// PostForRecipient so the two paths cannot diverge.
type Pipeline struct {
	store      storage.Store
	publisher  Publisher
	generator  Generator
	correlator Correlator
	textLimit  int
	logger     *slog.Logger
}

func NewPipeline(store storage.Store, publisher Publisher, generator Generator, correlator Correlator, textLimit int, logger *slog.Logger) *Pipeline {
	if textLimit <= 0 {
		textLimit = 280
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		store:      store,
		publisher:  publisher,
		generator:  generator,
		correlator: correlator,
		textLimit:  textLimit,
		logger:     logger,
	}
}

// PostForRecipient runs the full posting state machine for one config:
// lock, re-validate, build text, publish, commit a terminal transition.
// The row lock is held across the generation and publish calls; slow
// collaborators extend the hold, which is the accepted price of the
// at-most-once guarantee.
func (p *Pipeline) PostForRecipient(ctx context.Context, ref types.ConfigRef) types.Result {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return p.fail(ctx, nil, ref, types.ReasonStorageError,
			types.E(types.KindStorage, "begin transaction", err))
	}

	// Re-validation under the lock closes the window between the earlier
	// eligibility read and lock acquisition: whoever locked first has
	// already moved the row out of pending, or disabled it.
	cfg, err := tx.LockConfig(ctx, ref)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, storage.ErrNotFound) {
			return types.Result{Reason: types.ReasonNotFound, Message: "no announcement configuration found"}
		}
		return p.fail(ctx, nil, ref, types.ReasonStorageError,
			types.E(types.KindStorage, "lock config", err))
	}

	if cfg.Status != types.StatusPending {
		tx.Rollback()
		return types.Result{Reason: types.ReasonNotPending, URL: cfg.PublishedURL, Message: "announcement already handled"}
	}

	if !cfg.Enabled {
		tx.Rollback()
		return types.Result{Reason: types.ReasonDisabled, Message: "announcement disabled by recipient"}
	}

	item, err := tx.ContentItem(ctx, cfg.ContentItemID)
	if err != nil {
		return p.fail(ctx, tx, ref, types.ReasonStorageError,
			types.E(types.KindStorage, "fetch content item", err))
	}

	text, err := p.buildText(ctx, &cfg, item)
	if err != nil {
		return p.fail(ctx, tx, ref, types.ReasonGenerateError, err)
	}

	final := ComposeText(text, item.URL, cfg.IncludeLink, p.textLimit)

	start := time.Now()
	url, err := p.publisher.Publish(ctx, final)
	elapsed := time.Since(start)
	if err != nil {
		return p.fail(ctx, tx, ref, types.ReasonPublishError,
			types.E(types.KindPublish, "publish announcement", err))
	}

	now := time.Now().UTC()
	cfg.Status = types.StatusPosted
	cfg.PublishedURL = url
	cfg.ErrorMessage = ""
	cfg.PostedAt = &now

	if err := tx.UpdateConfig(ctx, cfg); err != nil {
		return p.fail(ctx, tx, ref, types.ReasonStorageError,
			types.E(types.KindStorage, "commit posted transition", err))
	}

	if err := tx.AppendPostLog(ctx, types.PostLogEntry{
		RecipientID:    cfg.RecipientID,
		ContentItemID:  cfg.ContentItemID,
		PublishedURL:   url,
		PostedText:     final,
		ResponseTimeMS: elapsed.Milliseconds(),
	}); err != nil {
		return p.fail(ctx, tx, ref, types.ReasonStorageError,
			types.E(types.KindStorage, "append post log", err))
	}

	if err := tx.Commit(); err != nil {
		return p.fail(ctx, nil, ref, types.ReasonStorageError,
			types.E(types.KindStorage, "commit transaction", err))
	}

	p.logger.Info("announcement posted",
		"content_item", cfg.ContentItemID,
		"recipient", cfg.RecipientID,
		"url", url,
		"publish_ms", elapsed.Milliseconds())

	return types.Result{Success: true, Reason: types.ReasonPosted, URL: url}
}

// buildText resolves the announcement text through the fallback chain:
// recipient's custom text, then previously generated text, then a fresh
// generation, then the content item's title.
func (p *Pipeline) buildText(ctx context.Context, cfg *types.AnnouncementConfig, item types.ContentItem) (string, error) {
	if text := strings.TrimSpace(cfg.CustomText); text != "" {
		return text, nil
	}

	if text := strings.TrimSpace(cfg.GeneratedText); text != "" {
		return text, nil
	}

	if p.generator != nil {
		text, err := p.generator.Generate(ctx, *cfg, item)
		if err != nil {
			return "", types.E(types.KindGeneration, "generate announcement text", err)
		}
		if text = strings.TrimSpace(text); text != "" {
			cfg.GeneratedText = text
			return text, nil
		}
	}

	if title := strings.TrimSpace(item.Title); title != "" {
		return title, nil
	}

	return "", types.E(types.KindGeneration, "build announcement text", errors.New("no content to post"))
}

// fail is the single failure exit: roll back the active transaction,
// record the failed transition in a fresh one, and return a result whose
// message never exposes error internals.
func (p *Pipeline) fail(ctx context.Context, tx storage.Tx, ref types.ConfigRef, reason types.Reason, cause error) types.Result {
	if tx != nil {
		// Discard partially-applied state before touching storage again.
		tx.Rollback()
	}

	p.markFailed(ctx, ref, cause)

	correlationID := ""
	if p.correlator != nil {
		correlationID = p.correlator.Record(ctx, ref, cause)
	}

	p.logger.Error("announcement failed",
		"content_item", ref.ContentItemID,
		"recipient", ref.RecipientID,
		"reason", reason,
		"correlation_id", correlationID,
		"error", cause)

	return types.Result{
		Reason:        reason,
		Message:       genericFailureMessage,
		CorrelationID: correlationID,
	}
}

// markFailed commits the failed transition in its own transaction scope,
// fully separate from the rolled-back one. If this cleanup commit itself
// fails it is logged and abandoned; there is no third attempt.
func (p *Pipeline) markFailed(ctx context.Context, ref types.ConfigRef, cause error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		p.logger.Error("failed to open cleanup transaction, giving up",
			"content_item", ref.ContentItemID, "recipient", ref.RecipientID, "error", err)
		return
	}

	cfg, err := tx.LockConfig(ctx, ref)
	if err != nil {
		tx.Rollback()
		p.logger.Error("failed to re-fetch config for cleanup, giving up",
			"content_item", ref.ContentItemID, "recipient", ref.RecipientID, "error", err)
		return
	}

	if cfg.Status != types.StatusPending {
		// Someone else reached a terminal state in the meantime.
		tx.Rollback()
		return
	}

	cfg.Status = types.StatusFailed
	cfg.ErrorMessage = SanitizeError(cause)
	cfg.RetryCount++

	if err := tx.UpdateConfig(ctx, cfg); err != nil {
		tx.Rollback()
		p.logger.Error("cleanup update failed, giving up",
			"content_item", ref.ContentItemID, "recipient", ref.RecipientID, "error", err)
		return
	}

	if err := tx.Commit(); err != nil {
		p.logger.Error("cleanup commit failed, giving up",
			"content_item", ref.ContentItemID, "recipient", ref.RecipientID, "error", err)
	}
}
