// Package review implements the admin review workflow on top of the
// record lifecycle: the review queue, approve and reject decisions, and
// reopening decided records.
package review

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kycdesk/kycdesk/internal/metrics"
	"github.com/kycdesk/kycdesk/internal/traces"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// DefaultQueueLimit caps the queue when the caller gives no limit.
const DefaultQueueLimit = 100

// Decision outcome labels.
const (
	ResultOK                = "ok"
	ResultNotFound          = "not_found"
	ResultInvalidTransition = "invalid_transition"
	ResultInvalid           = "invalid"
	ResultReopenLimit       = "reopen_limit"
	ResultError             = "error"
)

// DecisionListener is told about successful review actions.
type DecisionListener interface {
	BroadcastDecision(r *verification.Record, action string, actor string)
}

// Listeners fans decisions out to several listeners in order.
type Listeners []DecisionListener

func (ls Listeners) BroadcastDecision(r *verification.Record, action string, actor string) {
	for _, l := range ls {
		l.BroadcastDecision(r.Clone(), action, actor)
	}
}

// Controller performs review actions on behalf of an admin.
type Controller struct {
	records  *verification.Service
	listener DecisionListener
	logger   *slog.Logger
}

// NewController creates a review controller.
func NewController(records *verification.Service) *Controller {
	return &Controller{records: records, logger: slog.Default()}
}

// WithListener attaches a listener for completed decisions.
func (c *Controller) WithListener(l DecisionListener) *Controller {
	c.listener = l
	return c
}

// WithLogger sets the controller logger.
func (c *Controller) WithLogger(l *slog.Logger) *Controller {
	c.logger = l
	return c
}

// Queue returns reviewable records, oldest first.
func (c *Controller) Queue(ctx context.Context, limit int) ([]*verification.Record, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return c.records.ReviewQueue(ctx, limit)
}

// Decide approves or rejects a reviewable record. Only one of several
// concurrent decisions on the same record succeeds; the others get an
// InvalidTransitionError.
func (c *Controller) Decide(ctx context.Context, id string, action verification.Action, actor string) (*verification.Record, error) {
	ctx, span := traces.StartSpan(ctx, "review.Decide",
		traces.RecordID(id),
		traces.Action(string(action)),
		traces.Actor(actor),
	)
	defer span.End()

	rec, err := c.records.Decide(ctx, id, action, actor)
	metrics.ReviewDecisionsTotal.WithLabelValues(string(action), resultLabel(err)).Inc()
	if err != nil {
		return nil, traces.Fail(span, err, "decision failed")
	}
	if rec.DecidedAt != nil {
		metrics.ReviewLatency.WithLabelValues(string(action)).Observe(rec.DecidedAt.Sub(rec.CreatedAt).Seconds())
	}

	c.logger.Info("review decision recorded",
		"record_id", id,
		"action", action,
		"status", rec.Status,
		"actor", actor,
	)
	if c.listener != nil {
		c.listener.BroadcastDecision(rec, string(action), actor)
	}
	return rec, nil
}

// Reopen returns a decided record to the review queue.
func (c *Controller) Reopen(ctx context.Context, id, actor, reason string) (*verification.Record, error) {
	ctx, span := traces.StartSpan(ctx, "review.Reopen",
		traces.RecordID(id),
		traces.Actor(actor),
	)
	defer span.End()

	rec, err := c.records.Reopen(ctx, id, actor, reason)
	metrics.ReviewDecisionsTotal.WithLabelValues("reopen", resultLabel(err)).Inc()
	if err != nil {
		return nil, traces.Fail(span, err, "reopen failed")
	}
	if c.listener != nil {
		c.listener.BroadcastDecision(rec, "reopen", actor)
	}
	return rec, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, verification.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, verification.ErrReopenLimit):
		return ResultReopenLimit
	case errors.Is(err, verification.ErrInvalidTransition):
		return ResultInvalidTransition
	case errors.Is(err, verification.ErrValidation):
		return ResultInvalid
	}
	return ResultError
}
