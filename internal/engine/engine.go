package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"seohub/internal/config"
	"seohub/internal/domain"
	"seohub/internal/events"
	"seohub/internal/notify"
	"seohub/internal/repo"
	"seohub/internal/webhook"
)

// Engine applies vendor webhook events to request aggregates. Each handler is
// one read-modify-write transaction on the aggregate plus best-effort side
// effects (usage accounting, notifications) that run after the commit and are
// allowed to fail independently.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier notify.Dispatcher
	Log      *zap.Logger
	Now      func() time.Time

	locks *keyedMutex
}

func New(db *sql.DB, cfg *config.Config, dispatcher notify.Dispatcher, log *zap.Logger) Engine {
	if dispatcher == nil {
		dispatcher = notify.Drop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Notifier: dispatcher,
		Log:      log,
		Now:      time.Now,
		locks:    newKeyedMutex(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// applyTaskCompleted applies one task.completed event: record the deliverable,
// bump the matching counter, and flip the request to completed when the
// package quota is satisfied. Returns applied=false for duplicate deliveries.
func (e Engine) applyTaskCompleted(ctx context.Context, req domain.Request, p webhook.Payload, record domain.CompletedTask, usageKey string, known bool) (bool, bool, error) {
	e.locks.Lock(req.ExternalID)
	defer e.locks.Unlock(req.ExternalID)

	nowStr := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback()

	applied, err := e.Repo.MarkEventProcessedTx(ctx, tx, req.ID, p.EventKey(), p.EventType, nowStr)
	if err != nil {
		return false, false, fmt.Errorf("record processed event: %w", err)
	}
	if !applied {
		e.Log.Info("duplicate task.completed delivery skipped",
			zap.String("request_id", req.ID),
			zap.String("event_key", p.EventKey()))
		return false, false, nil
	}

	if known {
		if err := e.Repo.IncrementRequestCounterTx(ctx, tx, req.ID, usageKey, nowStr); err != nil {
			return false, false, fmt.Errorf("increment %s: %w", usageKey, err)
		}
	}
	if err := e.Repo.AppendCompletedTaskTx(ctx, tx, record); err != nil {
		return false, false, fmt.Errorf("append completed task: %w", err)
	}

	// Re-read inside the transaction so the completion check sees post-increment counters.
	fresh, err := e.Repo.GetRequestTx(ctx, tx, req.ID)
	if err != nil {
		return false, false, fmt.Errorf("reload request: %w", err)
	}

	completedNow := false
	if fresh.Status != domain.StatusCompleted && ShouldComplete(fresh, e.Config) {
		if err := e.Repo.SetRequestStatusTx(ctx, tx, req.ID, domain.StatusCompleted, &nowStr, nowStr); err != nil {
			return false, false, fmt.Errorf("set status completed: %w", err)
		}
		completedNow = true
	}

	if err := e.Events.Append(ctx, tx, "task.completed", req.ID, "request", req.ID, "seoworks", events.EventPayload{
		"task_type": p.Data.TaskType,
		"title":     record.Title,
		"usage_key": usageKey,
	}); err != nil {
		return false, false, err
	}
	if completedNow {
		if err := e.Events.Append(ctx, tx, "request.status_changed", req.ID, "request", req.ID, "seoworks", events.EventPayload{
			"from": fresh.Status,
			"to":   domain.StatusCompleted,
		}); err != nil {
			return false, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, false, err
	}
	return true, completedNow, nil
}

// HandleTaskCompleted is the task.completed orchestrator. Persistence failures
// are logged with context and re-thrown so the webhook endpoint returns non-2xx
// and the vendor retries; everything after the commit is best-effort.
func (e Engine) HandleTaskCompleted(ctx context.Context, req domain.Request, p webhook.Payload) (bool, error) {
	deliverables, ok := webhook.ParseDeliverables(p.Data.Deliverables)
	if !ok {
		e.Log.Warn("malformed deliverables; continuing with none",
			zap.String("request_id", req.ID),
			zap.String("task_type", p.Data.TaskType))
		deliverables = nil
	}

	usageKey, known := UsageKeyForTaskType(p.Data.TaskType)
	if !known {
		e.Log.Warn("unknown task type; no counter increment",
			zap.String("request_id", req.ID),
			zap.String("task_type", p.Data.TaskType))
	}

	record := domain.CompletedTask{
		RequestID:   req.ID,
		Title:       p.Data.TaskType,
		Type:        p.Data.TaskType,
		CompletedAt: completionDate(p.Data.CompletionDate, e.now().UTC().Format(time.RFC3339)),
	}
	if len(deliverables) > 0 {
		if deliverables[0].Title != "" {
			record.Title = deliverables[0].Title
		}
		record.URL = deliverables[0].URL
	}

	applied, completedNow, err := e.applyTaskCompleted(ctx, req, p, record, usageKey, known)
	if err != nil {
		e.Log.Error("task.completed processing failed",
			zap.String("request_id", req.ID),
			zap.String("external_id", req.ExternalID),
			zap.String("task_type", p.Data.TaskType),
			zap.Error(err))
		return false, err
	}
	if !applied {
		return false, nil
	}

	if known {
		e.recordUsage(ctx, req, usageKey)
	}
	e.notifyTaskCompleted(ctx, req, record, p.Data.ClientEmail, completedNow)
	return true, nil
}

// HandleTaskUpdated is an observability no-op kept as an extension point.
func (e Engine) HandleTaskUpdated(ctx context.Context, req domain.Request, p webhook.Payload) error {
	e.Log.Info("task.updated received",
		zap.String("request_id", req.ID),
		zap.String("task_type", p.Data.TaskType),
		zap.String("vendor_status", p.Data.Status))
	return nil
}

// HandleTaskCancelled moves a pending or in-progress request to cancelled.
// Completed is terminal: a cancellation arriving afterwards is absorbed with
// no write and no notification. The terminal check runs against a re-read
// inside the transaction, under the per-externalId lock: the snapshot the
// router resolved may predate a completion that committed in the meantime.
func (e Engine) HandleTaskCancelled(ctx context.Context, req domain.Request, p webhook.Payload) (bool, error) {
	e.locks.Lock(req.ExternalID)
	defer e.locks.Unlock(req.ExternalID)

	nowStr := e.now().UTC().Format(time.RFC3339)
	oldStatus := req.Status
	applied, err := func() (bool, error) {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return false, err
		}
		defer tx.Rollback()
		fresh, err := e.Repo.GetRequestTx(ctx, tx, req.ID)
		if err != nil {
			return false, fmt.Errorf("reload request: %w", err)
		}
		if fresh.Status == domain.StatusCompleted {
			e.Log.Info("cancellation ignored for completed request",
				zap.String("request_id", req.ID),
				zap.String("external_id", req.ExternalID))
			return false, nil
		}
		oldStatus = fresh.Status
		applied, err := e.Repo.MarkEventProcessedTx(ctx, tx, req.ID, p.EventKey(), p.EventType, nowStr)
		if err != nil {
			return false, fmt.Errorf("record processed event: %w", err)
		}
		if !applied {
			return false, nil
		}
		if err := e.Repo.SetRequestStatusTx(ctx, tx, req.ID, domain.StatusCancelled, nil, nowStr); err != nil {
			return false, fmt.Errorf("set status cancelled: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "request.status_changed", req.ID, "request", req.ID, "seoworks", events.EventPayload{
			"from": fresh.Status,
			"to":   domain.StatusCancelled,
		}); err != nil {
			return false, err
		}
		return true, tx.Commit()
	}()
	if err != nil {
		e.Log.Error("task.cancelled processing failed",
			zap.String("request_id", req.ID),
			zap.String("external_id", req.ExternalID),
			zap.Error(err))
		return false, err
	}
	if !applied {
		return false, nil
	}

	e.notifyStatusChanged(ctx, req, p.Data.ClientEmail, oldStatus, domain.StatusCancelled)
	return true, nil
}

// recordUsage bumps the monthly dealership- or user-scope tally. Best-effort:
// a store failure here never unwinds the committed request mutation.
func (e Engine) recordUsage(ctx context.Context, req domain.Request, usageKey string) {
	scopeKind, scopeID := repo.ScopeUser, req.UserID
	if req.DealershipID != nil && *req.DealershipID != "" {
		scopeKind, scopeID = repo.ScopeDealership, *req.DealershipID
	}
	if scopeID == "" {
		e.Log.Warn("no usage scope resolvable; skipping increment",
			zap.String("request_id", req.ID),
			zap.String("usage_key", usageKey))
		return
	}
	period := e.now().UTC().Format("2006-01")
	if err := e.Repo.IncrementUsage(ctx, scopeKind, scopeID, usageKey, period); err != nil {
		e.Log.Warn("usage increment failed",
			zap.String("request_id", req.ID),
			zap.String("scope_kind", scopeKind),
			zap.String("scope_id", scopeID),
			zap.String("usage_key", usageKey),
			zap.Error(err))
	}
}

// notifyTaskCompleted emails the record this event committed. No re-read: a
// concurrent event could have appended another row in the meantime.
func (e Engine) notifyTaskCompleted(ctx context.Context, req domain.Request, record domain.CompletedTask, fallbackEmail string, completedNow bool) {
	to := e.recipientFor(ctx, req, fallbackEmail)
	if to == "" {
		e.Log.Warn("no recipient resolvable; skipping notification",
			zap.String("request_id", req.ID))
		return
	}
	from := e.Config.Notifications.From
	if err := e.Notifier.Enqueue(ctx, notify.TaskCompletedEmail(to, from, req, record)); err != nil {
		e.Log.Warn("enqueue taskCompleted notification failed",
			zap.String("request_id", req.ID),
			zap.Error(err))
	}
	if completedNow {
		if err := e.Notifier.Enqueue(ctx, notify.StatusChangedEmail(to, from, req, req.Status, domain.StatusCompleted)); err != nil {
			e.Log.Warn("enqueue statusChanged notification failed",
				zap.String("request_id", req.ID),
				zap.Error(err))
		}
	}
}

func (e Engine) notifyStatusChanged(ctx context.Context, req domain.Request, fallbackEmail, oldStatus, newStatus string) {
	to := e.recipientFor(ctx, req, fallbackEmail)
	if to == "" {
		return
	}
	job := notify.StatusChangedEmail(to, e.Config.Notifications.From, req, oldStatus, newStatus)
	if err := e.Notifier.Enqueue(ctx, job); err != nil {
		e.Log.Warn("enqueue statusChanged notification failed",
			zap.String("request_id", req.ID),
			zap.Error(err))
	}
}

func (e Engine) recipientFor(ctx context.Context, req domain.Request, fallbackEmail string) string {
	if u, err := e.Repo.GetUser(ctx, req.UserID); err == nil && u.Email != "" {
		return u.Email
	}
	return fallbackEmail
}

// completionDate keeps the vendor timestamp when it parses, otherwise falls
// back to receipt time.
func completionDate(vendor, receipt string) string {
	if vendor == "" {
		return receipt
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, vendor); err == nil {
			return ts.UTC().Format(time.RFC3339)
		}
	}
	return receipt
}
