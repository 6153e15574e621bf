package compliance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, a *Alert) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO compliance_alerts (
			id, record_id, rule, severity, message, confidence_score,
			status, resolution, resolved_by, created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		a.ID, a.RecordID, a.Rule, string(a.Severity), a.Message, a.ConfidenceScore,
		string(a.Status), string(a.Resolution), a.ResolvedBy, a.CreatedAt, a.UpdatedAt, nullTimePtr(a.ResolvedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateActive
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	a, err := scanAlert(p.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) Update(ctx context.Context, a *Alert) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE compliance_alerts SET
			severity         = $2,
			message          = $3,
			confidence_score = $4,
			status           = $5,
			resolution       = $6,
			resolved_by      = $7,
			updated_at       = $8,
			resolved_at      = $9
		WHERE id = $1
	`,
		a.ID, string(a.Severity), a.Message, a.ConfidenceScore,
		string(a.Status), string(a.Resolution), a.ResolvedBy, a.UpdatedAt, nullTimePtr(a.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (p *PostgresStore) FindActive(ctx context.Context, recordID, rule string) (*Alert, error) {
	a, err := scanAlert(p.db.QueryRowContext(ctx,
		selectColumns+" WHERE record_id = $1 AND rule = $2 AND status = 'active' LIMIT 1", recordID, rule))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Severity != nil {
		args = append(args, string(*f.Severity))
		where = append(where, fmt.Sprintf("severity = $%d", len(args)))
	}
	if f.RecordID != "" {
		args = append(args, f.RecordID)
		where = append(where, fmt.Sprintf("record_id = $%d", len(args)))
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// --- scanning helpers ---

const selectColumns = `
	SELECT id, record_id, rule, severity, message, confidence_score,
		status, resolution, resolved_by, created_at, updated_at, resolved_at
	FROM compliance_alerts`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scannable) (*Alert, error) {
	var (
		a                            Alert
		severity, status, resolution string
		resolvedAt                   sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.RecordID, &a.Rule, &severity, &a.Message, &a.ConfidenceScore,
		&status, &resolution, &a.ResolvedBy, &a.CreatedAt, &a.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Severity = Severity(severity)
	a.Status = Status(status)
	a.Resolution = Resolution(resolution)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
