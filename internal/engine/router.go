package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"seohub/internal/repo"
	"seohub/internal/webhook"
)

// Webhook processing outcomes, all acknowledged to the vendor with 2xx.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeOrphaned  = "orphaned"
	OutcomeIgnored   = "ignored"
)

// WebhookOutcome reports what happened to one delivery.
type WebhookOutcome struct {
	Status    string `json:"status" enum:"processed,duplicate,orphaned,ignored"`
	RequestID string `json:"request_id,omitempty"`
}

// HandleWebhook routes one inbound vendor event: resolve the target request by
// external id, then dispatch on the exact event-type string. Orphaned events
// and unknown event types are logged and acknowledged; only a strict-boundary
// persistence failure surfaces as an error, which the HTTP layer turns into a
// non-2xx so the vendor retries.
func (e Engine) HandleWebhook(ctx context.Context, p webhook.Payload) (WebhookOutcome, error) {
	externalID := strings.TrimSpace(p.Data.ExternalID)
	if externalID == "" {
		e.Log.Warn("webhook without externalId ignored",
			zap.String("event_type", p.EventType))
		return WebhookOutcome{Status: OutcomeIgnored}, nil
	}

	req, err := e.Repo.FindRequestByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Log.Warn("orphaned webhook event; no matching request",
				zap.String("external_id", externalID),
				zap.String("event_type", p.EventType))
			return WebhookOutcome{Status: OutcomeOrphaned}, nil
		}
		return WebhookOutcome{}, err
	}

	switch p.EventType {
	case webhook.EventTaskCompleted:
		applied, err := e.HandleTaskCompleted(ctx, req, p)
		if err != nil {
			return WebhookOutcome{}, err
		}
		if !applied {
			return WebhookOutcome{Status: OutcomeDuplicate, RequestID: req.ID}, nil
		}
		return WebhookOutcome{Status: OutcomeProcessed, RequestID: req.ID}, nil
	case webhook.EventTaskUpdated:
		if err := e.HandleTaskUpdated(ctx, req, p); err != nil {
			return WebhookOutcome{}, err
		}
		return WebhookOutcome{Status: OutcomeProcessed, RequestID: req.ID}, nil
	case webhook.EventTaskCancelled:
		applied, err := e.HandleTaskCancelled(ctx, req, p)
		if err != nil {
			return WebhookOutcome{}, err
		}
		if !applied {
			return WebhookOutcome{Status: OutcomeIgnored, RequestID: req.ID}, nil
		}
		return WebhookOutcome{Status: OutcomeProcessed, RequestID: req.ID}, nil
	default:
		e.Log.Warn("unknown webhook event type ignored",
			zap.String("event_type", p.EventType),
			zap.String("external_id", externalID))
		return WebhookOutcome{Status: OutcomeIgnored, RequestID: req.ID}, nil
	}
}
