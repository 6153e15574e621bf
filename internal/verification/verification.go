// Package verification owns identity-document verification records and their
// lifecycle.
//
// Flow:
//  1. A document is submitted (pending) or created from a finished extraction.
//  2. Extraction attaches a fraud score exactly once and the record becomes
//     reviewable. The risk category is derived from the score.
//  3. An admin approves or rejects a reviewable record.
//  4. An admin may reopen a decided record, a bounded number of times.
//
// Every mutation of a record runs inside a per-record critical section and
// synchronizes the record's compliance alerts before the lock is released.
package verification

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/kycdesk/kycdesk/internal/pagination"
	"github.com/kycdesk/kycdesk/internal/risk"
)

var (
	ErrNotFound          = errors.New("verification record not found")
	ErrValidation        = errors.New("invalid verification record")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReopenLimit       = errors.New("reopen limit reached")
	ErrAlreadyExists     = errors.New("verification record already exists")
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReviewable Status = "reviewable"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusReviewable, StatusApproved, StatusRejected}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReviewable, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// IsTerminal returns true for decided records.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// DocumentType is the kind of identity document.
type DocumentType string

const (
	DocumentAadhaar DocumentType = "aadhaar"
	DocumentPAN     DocumentType = "pan"
	DocumentOther   DocumentType = "other"
)

// AllDocumentTypes lists the supported document types.
var AllDocumentTypes = []DocumentType{DocumentAadhaar, DocumentPAN, DocumentOther}

// Valid reports whether d is a known document type.
func (d DocumentType) Valid() bool {
	switch d {
	case DocumentAadhaar, DocumentPAN, DocumentOther:
		return true
	}
	return false
}

// Action is an admin review decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionReject
}

// Target returns the status an action moves a record to.
func (a Action) Target() Status {
	switch a {
	case ActionApprove:
		return StatusApproved
	case ActionReject:
		return StatusRejected
	}
	return ""
}

// Record is a single identity-document verification.
type Record struct {
	ID              string            `json:"id"`
	DocumentType    DocumentType      `json:"document_type"`
	Filename        string            `json:"filename"`
	ExtractedFields map[string]string `json:"extracted_fields"`
	UserEnteredName string            `json:"user_entered_name,omitempty"`
	VerifiedName    string            `json:"verified_name,omitempty"`

	// FraudScore is nil until extraction completes and is never overwritten.
	FraudScore   *int          `json:"fraud_score"`
	RiskCategory risk.Category `json:"risk_category,omitempty"`
	RiskFactors  []string      `json:"risk_factors"`

	Status      Status     `json:"status"`
	ReopenCount int        `json:"reopen_count"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsScored returns true once a fraud score has been attached.
func (r *Record) IsScored() bool {
	return r.FraudScore != nil
}

// Score returns the fraud score, or 0 when unscored.
func (r *Record) Score() int {
	if r.FraudScore == nil {
		return 0
	}
	return *r.FraudScore
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (r *Record) Clone() *Record {
	cp := *r
	if r.ExtractedFields != nil {
		cp.ExtractedFields = maps.Clone(r.ExtractedFields)
	}
	cp.RiskFactors = slices.Clone(r.RiskFactors)
	if r.FraudScore != nil {
		s := *r.FraudScore
		cp.FraudScore = &s
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

// ExtractionResult is the output of the external extraction and scoring step.
type ExtractionResult struct {
	ExtractedFields map[string]string `json:"extracted_fields"`
	VerifiedName    string            `json:"verified_name"`
	FraudScore      int               `json:"fraud_score"`
	RiskFactors     []string          `json:"risk_factors"`
}

// SubmitRequest starts a record before extraction has run.
type SubmitRequest struct {
	DocumentType    DocumentType `json:"document_type" validate:"required,oneof=aadhaar pan other"`
	Filename        string       `json:"filename" validate:"required,max=255"`
	UserEnteredName string       `json:"user_entered_name" validate:"max=200"`
}

// CreateRequest creates a reviewable record from a completed extraction.
type CreateRequest struct {
	DocumentType    DocumentType      `json:"document_type" validate:"required,oneof=aadhaar pan other"`
	Filename        string            `json:"filename" validate:"required,max=255"`
	UserEnteredName string            `json:"user_entered_name" validate:"max=200"`
	ExtractedFields map[string]string `json:"extracted_fields"`
	VerifiedName    string            `json:"verified_name" validate:"max=200"`
	FraudScore      *int              `json:"fraud_score" validate:"required,min=0,max=100"`
	RiskFactors     []string          `json:"risk_factors" validate:"max=50,dive,max=100"`
}

// DecideRequest is the body of an admin decision.
type DecideRequest struct {
	Action Action `json:"action" validate:"required,oneof=approve reject"`
}

// ReopenRequest is the body of an admin reopen.
type ReopenRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Filter selects records for Query. Zero fields match everything.
type Filter struct {
	Statuses      []Status
	Categories    []risk.Category
	DocumentType  DocumentType
	CreatedFrom   time.Time
	CreatedBefore time.Time
	// Cursor restricts results to records strictly after it in newest-first order.
	Cursor *pagination.Cursor
	Limit  int
}

// Matches reports whether r satisfies every set field of f except Limit.
func (f Filter) Matches(r *Record) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, r.RiskCategory) {
		return false
	}
	if f.DocumentType != "" && r.DocumentType != f.DocumentType {
		return false
	}
	if !f.CreatedFrom.IsZero() && r.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.Cursor != nil && !f.Cursor.Before(r.CreatedAt, r.ID) {
		return false
	}
	return true
}

// newestFirst orders records by created_at desc, id desc.
func newestFirst(a, b *Record) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

// inFlight reports whether the record is still inside intake.
func (r *Record) inFlight() bool {
	return r.Status == StatusPending || r.Status == StatusProcessing
}

// Store persists verification records. Implementations return copies.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
	// Query returns matching records newest first.
	Query(ctx context.Context, f Filter) ([]*Record, error)
}

// AlertSync keeps compliance alerts in step with record state. It is called
// inside the record's critical section.
type AlertSync interface {
	SyncRecord(ctx context.Context, r *Record) error
	RecordDeleted(ctx context.Context, recordID string) error
}

// Observer is told about committed record changes. Calls happen after the
// store and alert sync have succeeded and must not block.
type Observer interface {
	RecordSaved(r *Record)
	RecordRemoved(recordID string)
}

// Observers fans committed changes out to several observers in order.
type Observers []Observer

func (obs Observers) RecordSaved(r *Record) {
	for _, o := range obs {
		o.RecordSaved(r.Clone())
	}
}

func (obs Observers) RecordRemoved(recordID string) {
	for _, o := range obs {
		o.RecordRemoved(recordID)
	}
}

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidTransitionError reports an illegal lifecycle move. Reason, when
// set, names the policy that refused an otherwise legal move.
type InvalidTransitionError struct {
	RecordID string
	From     Status
	To       Status
	Reason   error
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("record %s: cannot move from %s to %s", e.RecordID, e.From, e.To)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() []error {
	if e.Reason != nil {
		return []error{ErrInvalidTransition, e.Reason}
	}
	return []error{ErrInvalidTransition}
}
