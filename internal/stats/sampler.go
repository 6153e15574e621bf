package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/kycdesk/kycdesk/internal/metrics"
	"github.com/kycdesk/kycdesk/internal/syncutil"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// DefaultSampleInterval is how often the sampler refreshes gauges.
const DefaultSampleInterval = 30 * time.Second

// Sampler periodically exports aggregate statistics as Prometheus gauges.
type Sampler struct {
	*syncutil.Periodic
	service *Service
}

// NewSampler creates a gauge sampler that samples once on Start and then on
// every tick. A non-positive interval uses the default.
func NewSampler(service *Service, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	s := &Sampler{service: service}
	s.Periodic = syncutil.NewPeriodic("stats_sampler", interval, logger, s.Sample).RunImmediately()
	return s
}

// Sample computes the aggregate once and updates the gauges.
func (s *Sampler) Sample(ctx context.Context) error {
	agg, err := s.service.Aggregate(ctx)
	if err != nil {
		return err
	}
	for _, st := range verification.AllStatuses {
		metrics.RecordsByStatus.WithLabelValues(string(st)).Set(float64(agg.ByStatus[st]))
	}
	metrics.ActiveAlerts.Set(float64(agg.ActiveAlerts))
	metrics.ComplianceScore.Set(float64(agg.ComplianceScore))
	metrics.AverageFraudScore.Set(agg.AverageConfidenceScore)
	return nil
}
