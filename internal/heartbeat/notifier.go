package heartbeat

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/fixfox-bot/internal/telegram"
)

const notificationTag = "heartbeat"

// AdminSender fans a message out to the admin chats.
type AdminSender interface {
	SendToAdmins(ctx context.Context, message telegram.Message) error
}

// Notifier tells the admins when a component degrades or recovers.
type Notifier struct {
	sender  AdminSender
	enabled bool
	logger  *slog.Logger
	now     func() time.Time
}

func NewNotifier(sender AdminSender, enabled bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender:  sender,
		enabled: enabled,
		logger:  logger.With("component", "heartbeat-notifier"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleTransition matches MonitorConfig.OnTransition.
func (n *Notifier) HandleTransition(ctx context.Context, transition Transition, snapshot Snapshot) {
	if n == nil || n.sender == nil || !n.enabled {
		return
	}
	eventType := transitionType(transition)
	if eventType == "" {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	message := telegram.Message{
		Text: html.EscapeString(buildTransitionMessage(eventType, transition, snapshot, n.now())),
		Tag:  notificationTag,
	}
	if err := n.sender.SendToAdmins(sendCtx, message); err != nil {
		n.logger.Error("heartbeat admin notification failed", "error", err, "name", transition.Component, "event", eventType)
	}
}

func transitionType(transition Transition) string {
	fromDegraded := IsDegradedState(transition.FromState)
	toDegraded := IsDegradedState(transition.ToState)
	switch {
	case !fromDegraded && toDegraded:
		return "degraded"
	case fromDegraded && transition.ToState == StateHealthy:
		return "recovered"
	default:
		return ""
	}
}

func buildTransitionMessage(eventType string, transition Transition, snapshot Snapshot, at time.Time) string {
	title := "FixFox component recovered"
	if eventType == "degraded" {
		title = "FixFox component degraded"
	}
	var builder strings.Builder
	builder.WriteString(title)
	builder.WriteString("\ncomponent: ")
	builder.WriteString(transition.Component)
	builder.WriteString("\nstate: ")
	builder.WriteString(transition.FromState)
	builder.WriteString(" -> ")
	builder.WriteString(transition.ToState)
	builder.WriteString("\noverall: ")
	builder.WriteString(snapshot.Overall)
	if detail := singleLine(transition.Message, 300); detail != "" {
		builder.WriteString("\ndetail: ")
		builder.WriteString(detail)
	}
	if errorText := singleLine(transition.Error, 300); errorText != "" {
		builder.WriteString("\nerror: ")
		builder.WriteString(errorText)
	}
	builder.WriteString("\nat: ")
	builder.WriteString(at.Format(time.RFC3339))
	return builder.String()
}

func singleLine(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
