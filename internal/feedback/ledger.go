// Package feedback records user acknowledgements on anomaly alerts and
// exposes them as a damping signal for later detection runs.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cloud-cost-guardian/internal/storage"
)

// Damper is the detector-facing view of the ledger.
type Damper interface {
	IsDamped(ctx context.Context, service string, asOf time.Time) (bool, error)
}

// Ledger validates and persists feedback via the snapshot store.
type Ledger struct {
	store  storage.FeedbackStore
	window time.Duration
	logger zerolog.Logger
}

// NewLedger constructs a ledger with the given damping recency window.
func NewLedger(store storage.FeedbackStore, dampingWindowDays int, logger zerolog.Logger) *Ledger {
	if dampingWindowDays <= 0 {
		dampingWindowDays = 7
	}
	return &Ledger{
		store:  store,
		window: time.Duration(dampingWindowDays) * 24 * time.Hour,
		logger: logger.With().Str("component", "feedback_ledger").Logger(),
	}
}

// Record validates and stores one feedback entry, returning the stored record.
func (l *Ledger) Record(ctx context.Context, alertID string, fb storage.AnomalyFeedback) (storage.AnomalyFeedback, error) {
	if !storage.ValidFeedbackKind(fb.Kind) {
		return storage.AnomalyFeedback{}, fmt.Errorf("%w: unknown feedback kind %q", storage.ErrValidation, fb.Kind)
	}
	fb.AlertID = alertID

	stored, err := l.store.PutFeedback(ctx, fb)
	if err != nil {
		return storage.AnomalyFeedback{}, err
	}

	l.logger.Info().Str("alert_id", alertID).
		Str("kind", stored.Kind).
		Str("user", stored.UserID).
		Msg("feedback recorded")
	return stored, nil
}

// History lists all feedback referencing an alert.
func (l *Ledger) History(ctx context.Context, alertID string) ([]storage.AnomalyFeedback, error) {
	return l.store.QueryFeedbackByAlert(ctx, alertID)
}

// IsDamped reports whether the most recent feedback naming the service within
// the recency window marks it expected. Later feedback supersedes earlier
// feedback on the same alert.
func (l *Ledger) IsDamped(ctx context.Context, service string, asOf time.Time) (bool, error) {
	since := asOf.Add(-l.window)
	entries, err := l.store.QueryFeedbackSince(ctx, since)
	if err != nil {
		return false, err
	}

	var latest *storage.AnomalyFeedback
	for i := range entries {
		fb := entries[i]
		if fb.CreatedAt.After(asOf) || !mentionsService(fb, service) {
			continue
		}
		if latest == nil || fb.CreatedAt.After(latest.CreatedAt) {
			latest = &entries[i]
		}
	}
	if latest == nil {
		return false, nil
	}
	return latest.Kind == storage.FeedbackExpected, nil
}

func mentionsService(fb storage.AnomalyFeedback, service string) bool {
	for _, s := range fb.Services {
		if s == service {
			return true
		}
	}
	return false
}

var _ Damper = (*Ledger)(nil)
