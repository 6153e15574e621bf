package stats

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// RecordLister returns every verification record.
type RecordLister interface {
	List(ctx context.Context) ([]*verification.Record, error)
}

// AlertLister returns every compliance alert.
type AlertLister interface {
	ListAll(ctx context.Context) ([]*compliance.Alert, error)
}

// Service computes statistics from live record and alert snapshots.
type Service struct {
	records RecordLister
	alerts  AlertLister
	now     func() time.Time
}

// NewService creates a stats service.
func NewService(records RecordLister, alerts AlertLister) *Service {
	return &Service{records: records, alerts: alerts, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Aggregate loads both snapshots concurrently and computes the aggregate.
func (s *Service) Aggregate(ctx context.Context) (AggregateStats, error) {
	var (
		records []*verification.Record
		alerts  []*compliance.Alert
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if records, err = s.records.List(gctx); err != nil {
			return fmt.Errorf("failed to load records: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if alerts, err = s.alerts.ListAll(gctx); err != nil {
			return fmt.Errorf("failed to load alerts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return AggregateStats{}, err
	}
	return Compute(records, alerts, s.now().UTC()), nil
}

// Trends returns the daily series over [from, to].
func (s *Service) Trends(ctx context.Context, from, to time.Time) ([]TrendPoint, error) {
	records, err := s.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	return Trends(records, from, to)
}

// RecentTrends returns the series for the last n days, ending today.
func (s *Service) RecentTrends(ctx context.Context, days int) ([]TrendPoint, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInvalidRange)
	}
	to := s.now().UTC()
	return s.Trends(ctx, to.AddDate(0, 0, -(days-1)), to)
}
