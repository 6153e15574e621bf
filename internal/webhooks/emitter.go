package webhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/idgen"
	"github.com/kycdesk/kycdesk/internal/review"
	"github.com/kycdesk/kycdesk/internal/verification"
)

var (
	_ compliance.Notifier     = (*Emitter)(nil)
	_ review.DecisionListener = (*Emitter)(nil)
	_ verification.Observer   = (*Emitter)(nil)
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kycdesk",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Events handed to the webhook dispatcher by type.",
	}, []string{"event_type"})

	dispatchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kycdesk",
		Subsystem: "webhook",
		Name:      "dispatch_errors_total",
		Help:      "Events that could not be dispatched by type.",
	}, []string{"event_type"})

	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kycdesk",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kycdesk",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent on one delivery including retries.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
)

func init() {
	prometheus.MustRegister(emitTotal, dispatchErrors, deliveriesTotal, deliveryDuration)
}

// Emitter turns alert, decision and deletion notifications into webhook
// events. Every method returns immediately.
type Emitter struct {
	d   *Dispatcher
	now func() time.Time
}

// NewEmitter creates an emitter. A nil dispatcher makes every method a no-op.
func NewEmitter(d *Dispatcher) *Emitter {
	return &Emitter{d: d, now: time.Now}
}

// AlertRaised implements compliance.Notifier.
func (e *Emitter) AlertRaised(a *compliance.Alert) {
	e.emit(EventAlertRaised, a)
}

// AlertResolved implements compliance.Notifier.
func (e *Emitter) AlertResolved(a *compliance.Alert) {
	e.emit(EventAlertResolved, a)
}

// DecisionPayload is the data of record.decided and record.reopened events.
type DecisionPayload struct {
	Action string               `json:"action"`
	Actor  string               `json:"actor"`
	Record *verification.Record `json:"record"`
}

// BroadcastDecision implements review.DecisionListener.
func (e *Emitter) BroadcastDecision(r *verification.Record, action, actor string) {
	t := EventRecordDecided
	if action == "reopen" {
		t = EventRecordReopened
	}
	e.emit(t, DecisionPayload{Action: action, Actor: actor, Record: r})
}

// RecordSaved implements verification.Observer. Saves are not delivered;
// decisions arrive through BroadcastDecision.
func (e *Emitter) RecordSaved(*verification.Record) {}

// RecordRemoved implements verification.Observer.
func (e *Emitter) RecordRemoved(recordID string) {
	e.emit(EventRecordDeleted, map[string]string{"record_id": recordID})
}

func (e *Emitter) emit(t EventType, data any) {
	if e == nil || e.d == nil {
		return
	}
	emitTotal.WithLabelValues(string(t)).Inc()
	e.d.DispatchAsync(&Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      t,
		Timestamp: e.now().UTC(),
		Data:      data,
	})
}
