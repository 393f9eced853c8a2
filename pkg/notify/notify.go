// Package notify delivers invitation, plan-expiry and usage-threshold
// messages. Delivery is fire-and-forget from the caller's perspective: a
// Notifier returns an error for the caller to log, and nothing here retries.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/orgkit/pkg/observability"
)

// Kind identifies a notification template.
type Kind string

const (
	KindInvitation     Kind = "organization_invitation"
	KindPlanExpiring   Kind = "plan_expiring"
	KindUsageThreshold Kind = "usage_approaching_limit"
)

// Recipient is a registered user, a raw email address, or both.
type Recipient struct {
	UserID *int64 `json:"user_id,omitempty"`
	Email  string `json:"email"`
}

// ToUser addresses a registered user.
func ToUser(userID int64, email string) Recipient {
	return Recipient{UserID: &userID, Email: email}
}

// ToEmail addresses an email that has no account yet.
func ToEmail(email string) Recipient {
	return Recipient{Email: email}
}

// Message is the payload handed to a notifier.
type Message struct {
	Kind    Kind                   `json:"kind"`
	Subject string                 `json:"subject"`
	Data    map[string]interface{} `json:"data"`
	// DedupeKey identifies messages that scheduled scans must send at most
	// once. Empty for interactive messages.
	DedupeKey string `json:"dedupe_key,omitempty"`
}

// Notifier delivers a message to a recipient.
type Notifier interface {
	Notify(ctx context.Context, to Recipient, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, to Recipient, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, to Recipient, msg Message) error {
	return f(ctx, to, msg)
}

// Fanout delivers to every notifier and joins the failures.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, to Recipient, msg Message) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, to, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes every message to the structured log. It is the
// default channel when no mail or webhook transport is configured.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	fields := map[string]interface{}{
		"kind":    string(msg.Kind),
		"email":   to.Email,
		"subject": msg.Subject,
	}
	if to.UserID != nil {
		fields["user_id"] = *to.UserID
	}
	n.logger.WithFields(fields).Info("notification")
	return nil
}

// Instrumented counts deliveries by kind and result.
type Instrumented struct {
	next    Notifier
	metrics *observability.Metrics
}

// WithMetrics wraps n with delivery counters.
func WithMetrics(n Notifier, metrics *observability.Metrics) Notifier {
	if metrics == nil {
		return n
	}
	return &Instrumented{next: n, metrics: metrics}
}

func (n *Instrumented) Notify(ctx context.Context, to Recipient, msg Message) error {
	err := n.next.Notify(ctx, to, msg)
	result := "sent"
	if err != nil {
		result = "failed"
	}
	n.metrics.NotificationsSentTotal.WithLabelValues(string(msg.Kind), result).Inc()
	if err != nil {
		return fmt.Errorf("failed to deliver %s notification: %w", msg.Kind, err)
	}
	return nil
}
