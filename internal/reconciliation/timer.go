package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/kycdesk/kycdesk/internal/syncutil"
)

// DefaultInterval is how often the timer runs reconciliation.
const DefaultInterval = 5 * time.Minute

// Timer runs reconciliation periodically. The first run happens one
// interval after Start so it does not race startup traffic.
type Timer struct {
	*syncutil.Periodic
}

// NewTimer creates a reconciliation timer. A non-positive interval uses
// DefaultInterval.
func NewTimer(runner *Runner, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timer{syncutil.NewPeriodic("reconciliation", interval, logger, func(ctx context.Context) error {
		_, err := runner.Run(ctx)
		return err
	})}
}
