// Package webhook turns one raw platform update into classified, resolved and
// dispatched work.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwizi/fixfox-bot/internal/dispatch"
	"github.com/dwizi/fixfox-bot/internal/identity"
	"github.com/dwizi/fixfox-bot/internal/inbound"
	"github.com/dwizi/fixfox-bot/internal/metrics"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/worker"
)

var tracer = otel.Tracer("fixfox-bot/webhook")

type AuditStore interface {
	CreateTelegramLog(ctx context.Context, input store.CreateTelegramLogInput) (store.TelegramLog, error)
}

type Resolver interface {
	Resolve(ctx context.Context, event inbound.Event) (identity.Resolution, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) error
}

// Queue hands work to the background pool; false means it already ran inline.
type Queue interface {
	Submit(ctx context.Context, job worker.Job) bool
}

type Processor struct {
	audit      AuditStore
	resolver   Resolver
	dispatcher Dispatcher
	queue      Queue
	logger     *slog.Logger
}

// New builds a processor. A nil queue handles every update inline.
func New(audit AuditStore, resolver Resolver, dispatcher Dispatcher, queue Queue, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		audit:      audit,
		resolver:   resolver,
		dispatcher: dispatcher,
		queue:      queue,
		logger:     logger.With("component", "webhook"),
	}
}

// Accept classifies raw, audits the receipt and schedules handling. The
// returned status is the acknowledgement body for the platform.
func (p *Processor) Accept(ctx context.Context, raw []byte) string {
	event := inbound.Classify(raw)
	if event.Ignored() {
		metrics.RecordWebhookUpdate(string(event.Kind), "ignored")
		p.logger.Debug("update ignored", "update_id", event.UpdateID, "reason", event.Reason)
		return event.Status()
	}

	if p.audit != nil {
		if _, err := p.audit.CreateTelegramLog(ctx, store.CreateTelegramLogInput{
			ChatID:    event.ChatID,
			Direction: store.DirectionReceived,
			Method:    "webhook",
			Payload:   string(raw),
		}); err != nil {
			p.logger.Warn("webhook audit failed", "update_id", event.UpdateID, "error", err)
		}
	}

	detached := context.WithoutCancel(ctx)
	if p.queue == nil {
		metrics.RecordWebhookUpdate(string(event.Kind), "inline")
		if err := p.Handle(detached, event); err != nil {
			p.logger.Warn("update handling failed", "update_id", event.UpdateID, "chat_id", event.ChatID, "error", err)
		}
		return event.Status()
	}

	queued := p.queue.Submit(detached, worker.Job{
		Kind:   string(event.Kind),
		ChatID: event.ChatID,
		Run: func(ctx context.Context) error {
			return p.Handle(ctx, event)
		},
	})
	if queued {
		metrics.RecordWebhookUpdate(string(event.Kind), "async")
		return "accepted"
	}
	metrics.RecordWebhookUpdate(string(event.Kind), "inline")
	return event.Status()
}

// Handle resolves the sender and dispatches the event.
func (p *Processor) Handle(ctx context.Context, event inbound.Event) error {
	ctx, span := tracer.Start(ctx, "webhook.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(event.Kind)),
		attribute.Int64("chat_id", event.ChatID),
		attribute.Int64("update_id", event.UpdateID),
	)

	resolution, err := p.resolver.Resolve(ctx, event)
	if errors.Is(err, identity.ErrNoIdentity) {
		p.logger.Info("update without sender dropped", "update_id", event.UpdateID, "kind", event.Kind)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("resolve identity: %w", err)
	}

	err = p.dispatcher.Dispatch(ctx, dispatch.Request{
		Event:          event,
		Conversation:   resolution.Conversation,
		Account:        resolution.Account,
		ProfileChanged: resolution.ProfileChanged,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dispatch %s: %w", event.Kind, err)
	}
	return nil
}
