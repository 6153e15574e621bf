package verification

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/kycdesk/kycdesk/internal/idgen"
	"github.com/kycdesk/kycdesk/internal/metrics"
	"github.com/kycdesk/kycdesk/internal/risk"
	"github.com/kycdesk/kycdesk/internal/syncutil"
	"github.com/kycdesk/kycdesk/internal/traces"
)

// DefaultMaxReopens bounds how often a decided record may be reopened.
// Zero means unlimited.
const DefaultMaxReopens = 0

const maxFilenameLength = 255

// Service implements the record lifecycle.
type Service struct {
	store      Store
	classifier *risk.Classifier
	alerts     AlertSync
	observer   Observer
	logger     *slog.Logger
	locks      syncutil.ShardedMutex
	maxReopens int
	now        func() time.Time
}

// NewService creates a new verification service.
func NewService(store Store, classifier *risk.Classifier) *Service {
	if classifier == nil {
		classifier = risk.NewClassifier()
	}
	return &Service{
		store:      store,
		classifier: classifier,
		logger:     slog.Default(),
		maxReopens: DefaultMaxReopens,
		now:        time.Now,
	}
}

// WithAlertSync attaches the alert hook run after every mutation.
func (s *Service) WithAlertSync(a AlertSync) *Service {
	s.alerts = a
	return s
}

// WithObserver attaches a listener for committed record changes.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithMaxReopens sets the reopen bound. Zero means unlimited.
func (s *Service) WithMaxReopens(n int) *Service {
	s.maxReopens = n
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Classifier returns the risk classifier in use.
func (s *Service) Classifier() *risk.Classifier {
	return s.classifier
}

// Create stores a reviewable record built from a completed extraction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	ctx, span := traces.StartSpan(ctx, "verification.Create",
		traces.DocumentType(string(req.DocumentType)),
	)
	defer span.End()

	if err := validateDocument(req.DocumentType, req.Filename); err != nil {
		return nil, err
	}
	if req.FraudScore == nil {
		return nil, &ValidationError{Field: "fraud_score", Message: "is required"}
	}
	cls, err := s.classify(*req.FraudScore, req.RiskFactors)
	if err != nil {
		return nil, err
	}

	now := s.now()
	score := cls.Score
	rec := &Record{
		ID:              idgen.WithPrefix("rec_"),
		DocumentType:    req.DocumentType,
		Filename:        strings.TrimSpace(req.Filename),
		ExtractedFields: cloneFields(req.ExtractedFields),
		UserEnteredName: req.UserEnteredName,
		VerifiedName:    req.VerifiedName,
		FraudScore:      &score,
		RiskCategory:    cls.Category,
		RiskFactors:     cls.Factors,
		Status:          StatusReviewable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	span.SetAttributes(traces.RecordID(rec.ID), traces.RiskCategory(string(rec.RiskCategory)))

	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, traces.Fail(span, fmt.Errorf("failed to create record: %w", err), "store create failed")
	}
	if err := s.syncAlerts(ctx, rec); err != nil {
		if rbErr := s.store.Delete(ctx, rec.ID); rbErr != nil {
			s.logger.Error("failed to remove record after alert sync failure",
				"record_id", rec.ID, "error", rbErr)
		}
		return nil, traces.Fail(span, err, "alert sync failed")
	}

	s.logger.Info("verification record created",
		"record_id", rec.ID,
		"document_type", rec.DocumentType,
		"fraud_score", score,
		"risk_category", rec.RiskCategory,
	)
	observeScored(rec)
	s.notifySaved(rec)
	return rec.Clone(), nil
}

// Submit stores a pending record awaiting extraction.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	if err := validateDocument(req.DocumentType, req.Filename); err != nil {
		return nil, err
	}

	now := s.now()
	rec := &Record{
		ID:              idgen.WithPrefix("rec_"),
		DocumentType:    req.DocumentType,
		Filename:        strings.TrimSpace(req.Filename),
		UserEnteredName: req.UserEnteredName,
		RiskFactors:     []string{},
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to submit record: %w", err)
	}
	s.notifySaved(rec)
	return rec.Clone(), nil
}

// StartProcessing moves a pending record to processing.
func (s *Service) StartProcessing(ctx context.Context, id string) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) error {
		if !CanTransition(rec.Status, StatusProcessing) {
			return &InvalidTransitionError{RecordID: id, From: rec.Status, To: StatusProcessing}
		}
		rec.Status = StatusProcessing
		return nil
	})
}

// CompleteExtraction attaches the extraction output and fraud score to a
// pending or processing record and makes it reviewable. The score can only
// be set once.
func (s *Service) CompleteExtraction(ctx context.Context, id string, res ExtractionResult) (*Record, error) {
	cls, err := s.classify(res.FraudScore, res.RiskFactors)
	if err != nil {
		return nil, err
	}

	rec, err := s.mutate(ctx, id, func(rec *Record) error {
		if rec.IsScored() || !CanTransition(rec.Status, StatusReviewable) {
			return &InvalidTransitionError{RecordID: id, From: rec.Status, To: StatusReviewable}
		}
		score := cls.Score
		rec.FraudScore = &score
		rec.RiskCategory = cls.Category
		rec.RiskFactors = cls.Factors
		rec.ExtractedFields = cloneFields(res.ExtractedFields)
		rec.VerifiedName = res.VerifiedName
		rec.Status = StatusReviewable
		return nil
	})
	if err != nil {
		return nil, err
	}
	observeScored(rec)
	return rec, nil
}

// Decide approves or rejects a reviewable record. Deciding an already
// decided record is an InvalidTransitionError, not a no-op.
func (s *Service) Decide(ctx context.Context, id string, action Action, decidedBy string) (*Record, error) {
	if !action.Valid() {
		return nil, &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", action)}
	}
	target := action.Target()

	return s.mutate(ctx, id, func(rec *Record) error {
		if !CanTransition(rec.Status, target) {
			return &InvalidTransitionError{RecordID: id, From: rec.Status, To: target}
		}
		now := s.now()
		rec.Status = target
		rec.DecidedAt = &now
		rec.DecidedBy = decidedBy
		return nil
	})
}

// Reopen returns a decided record to reviewable. Each reopen is counted and
// logged; the count is bounded by the configured maximum.
func (s *Service) Reopen(ctx context.Context, id, reopenedBy, reason string) (*Record, error) {
	var previous Status
	rec, err := s.mutate(ctx, id, func(rec *Record) error {
		if !CanReopen(rec.Status) {
			return &InvalidTransitionError{RecordID: id, From: rec.Status, To: StatusReviewable}
		}
		if s.maxReopens > 0 && rec.ReopenCount >= s.maxReopens {
			return &InvalidTransitionError{
				RecordID: id,
				From:     rec.Status,
				To:       StatusReviewable,
				Reason:   fmt.Errorf("%w after %d reopens", ErrReopenLimit, rec.ReopenCount),
			}
		}
		previous = rec.Status
		rec.Status = StatusReviewable
		rec.ReopenCount++
		rec.DecidedAt = nil
		rec.DecidedBy = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("verification record reopened",
		"record_id", id,
		"previous_status", previous,
		"reopen_count", rec.ReopenCount,
		"reopened_by", reopenedBy,
		"reason", reason,
	)
	return rec, nil
}

// Delete removes a record from any state and resolves its alerts.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := traces.StartSpan(ctx, "verification.Delete", traces.RecordID(id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	prev, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return traces.Fail(span, fmt.Errorf("failed to delete record: %w", err), "store delete failed")
	}
	if s.alerts != nil {
		if err := s.alerts.RecordDeleted(ctx, id); err != nil {
			// Restore so the record and its alerts stay consistent.
			if rbErr := s.store.Create(ctx, prev); rbErr != nil {
				s.logger.Error("failed to restore record after alert cascade failure",
					"record_id", id, "error", rbErr)
			}
			return traces.Fail(span, fmt.Errorf("failed to resolve alerts for deleted record: %w", err), "alert cascade failed")
		}
	}

	s.logger.Info("verification record deleted", "record_id", id, "status", prev.Status)
	if s.observer != nil {
		s.observer.RecordRemoved(id)
	}
	return nil
}

// Discard removes a record that never finished extraction. Observers are not
// told: they never saw the record. Reviewable and decided records must go
// through Delete.
func (s *Service) Discard(ctx context.Context, id string) error {
	ctx, span := traces.StartSpan(ctx, "verification.Discard", traces.RecordID(id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !rec.inFlight() {
		return traces.Fail(span, &InvalidTransitionError{
			RecordID: id, From: rec.Status, To: "discarded",
		}, "record already reviewable")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return traces.Fail(span, fmt.Errorf("failed to discard record: %w", err), "store delete failed")
	}
	s.logger.Info("unfinished record discarded", "record_id", id, "status", rec.Status)
	return nil
}

// ResyncAlerts re-runs alert sync for one record under its lock without
// modifying it. A record that no longer exists has its alerts resolved.
func (s *Service) ResyncAlerts(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if s.alerts == nil {
		return nil
	}
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return s.alerts.RecordDeleted(ctx, id)
	}
	if err != nil {
		return err
	}
	return s.syncAlerts(ctx, rec)
}

// Get returns a record by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// List returns all records, newest first.
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	return s.store.Query(ctx, Filter{})
}

// Query returns a lazy sequence over the records matching f. The sequence
// iterates a snapshot taken when Query is called, so later mutations are not
// observed mid-iteration.
func (s *Service) Query(ctx context.Context, f Filter) (iter.Seq[*Record], error) {
	records, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return func(yield func(*Record) bool) {
		for _, r := range records {
			if !yield(r) {
				return
			}
		}
	}, nil
}

// ReviewQueue returns reviewable records, oldest first.
func (s *Service) ReviewQueue(ctx context.Context, limit int) ([]*Record, error) {
	records, err := s.store.Query(ctx, Filter{Statuses: []Status{StatusReviewable}})
	if err != nil {
		return nil, err
	}
	// Store order is newest first.
	queue := make([]*Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		queue = append(queue, records[i])
		if limit > 0 && len(queue) >= limit {
			break
		}
	}
	return queue, nil
}

// mutate runs fn against a copy of the record under the record's lock,
// persists it, and synchronizes alerts. If alert sync fails the previous
// version is restored.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	prev, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := prev.Clone()
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now()

	if err := s.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	if err := s.syncAlerts(ctx, rec); err != nil {
		if rbErr := s.store.Update(ctx, prev); rbErr != nil {
			s.logger.Error("failed to restore record after alert sync failure",
				"record_id", id, "error", rbErr)
		}
		return nil, err
	}
	s.notifySaved(rec)
	return rec.Clone(), nil
}

// notifySaved reports a committed record. Pending and processing records stay
// private to intake until extraction lands.
func (s *Service) notifySaved(rec *Record) {
	if s.observer != nil && !rec.inFlight() {
		s.observer.RecordSaved(rec.Clone())
	}
}

func (s *Service) syncAlerts(ctx context.Context, rec *Record) error {
	if s.alerts == nil {
		return nil
	}
	if err := s.alerts.SyncRecord(ctx, rec.Clone()); err != nil {
		return fmt.Errorf("failed to sync alerts: %w", err)
	}
	return nil
}

func (s *Service) classify(score int, factors []string) (risk.Classification, error) {
	cls, err := s.classifier.Classify(score, factors)
	if err != nil {
		if errors.Is(err, risk.ErrInvalidScore) {
			return cls, &ValidationError{Field: "fraud_score", Message: err.Error()}
		}
		return cls, err
	}
	return cls, nil
}

func validateDocument(dt DocumentType, filename string) error {
	if !dt.Valid() {
		return &ValidationError{Field: "document_type", Message: fmt.Sprintf("unknown document type %q", dt)}
	}
	name := strings.TrimSpace(filename)
	if name == "" {
		return &ValidationError{Field: "filename", Message: "is required"}
	}
	if len(name) > maxFilenameLength {
		return &ValidationError{Field: "filename", Message: fmt.Sprintf("must be at most %d characters", maxFilenameLength)}
	}
	return nil
}

func cloneFields(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}

func observeScored(rec *Record) {
	metrics.RecordsCreatedTotal.WithLabelValues(string(rec.RiskCategory)).Inc()
	if rec.FraudScore != nil {
		metrics.FraudScores.Observe(float64(*rec.FraudScore))
	}
}
