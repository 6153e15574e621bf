package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/kycdesk/kycdesk/internal/risk"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	fields, err := json.Marshal(nonNilFields(r.ExtractedFields))
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO verification_records (
			id, document_type, filename, extracted_fields,
			user_entered_name, verified_name,
			fraud_score, risk_category, risk_factors,
			status, reopen_count, decided_by, decided_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		r.ID, string(r.DocumentType), r.Filename, fields,
		r.UserEnteredName, r.VerifiedName,
		nullScore(r.FraudScore), string(r.RiskCategory), pq.Array(nonNilFactors(r.RiskFactors)),
		string(r.Status), r.ReopenCount, r.DecidedBy, nullTimePtr(r.DecidedAt),
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) Update(ctx context.Context, r *Record) error {
	fields, err := json.Marshal(nonNilFields(r.ExtractedFields))
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE verification_records SET
			extracted_fields = $2,
			verified_name    = $3,
			fraud_score      = $4,
			risk_category    = $5,
			risk_factors     = $6,
			status           = $7,
			reopen_count     = $8,
			decided_by       = $9,
			decided_at       = $10,
			updated_at       = $11
		WHERE id = $1
	`,
		r.ID, fields, r.VerifiedName,
		nullScore(r.FraudScore), string(r.RiskCategory), pq.Array(nonNilFactors(r.RiskFactors)),
		string(r.Status), r.ReopenCount, r.DecidedBy, nullTimePtr(r.DecidedAt),
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM verification_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Query(ctx context.Context, f Filter) ([]*Record, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(pq.Array(ss))+")")
	}
	if len(f.Categories) > 0 {
		cs := make([]string, len(f.Categories))
		for i, c := range f.Categories {
			cs[i] = string(c)
		}
		where = append(where, "risk_category = ANY("+arg(pq.Array(cs))+")")
	}
	if f.DocumentType != "" {
		where = append(where, "document_type = "+arg(string(f.DocumentType)))
	}
	if !f.CreatedFrom.IsZero() {
		where = append(where, "created_at >= "+arg(f.CreatedFrom))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(f.CreatedBefore))
	}
	if f.Cursor != nil {
		where = append(where, "(created_at, id) < ("+arg(f.Cursor.CreatedAt)+", "+arg(f.Cursor.ID)+")")
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Ping reports whether the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// --- scanning helpers ---

const selectColumns = `
	SELECT id, document_type, filename, extracted_fields,
		user_entered_name, verified_name,
		fraud_score, risk_category, risk_factors,
		status, reopen_count, decided_by, decided_at,
		created_at, updated_at
	FROM verification_records`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*Record, error) {
	var (
		r                   Record
		docType, status     string
		category            string
		fields              []byte
		score               sql.NullInt64
		decidedAt           sql.NullTime
		factors             pq.StringArray
		createdAt, updateAt time.Time
	)
	err := row.Scan(
		&r.ID, &docType, &r.Filename, &fields,
		&r.UserEnteredName, &r.VerifiedName,
		&score, &category, &factors,
		&status, &r.ReopenCount, &r.DecidedBy, &decidedAt,
		&createdAt, &updateAt,
	)
	if err != nil {
		return nil, err
	}

	r.DocumentType = DocumentType(docType)
	r.Status = Status(status)
	r.RiskCategory = risk.Category(category)
	r.RiskFactors = []string(factors)
	if r.RiskFactors == nil {
		r.RiskFactors = []string{}
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &r.ExtractedFields); err != nil {
			return nil, fmt.Errorf("unmarshal extracted fields: %w", err)
		}
	}
	if score.Valid {
		s := int(score.Int64)
		r.FraudScore = &s
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		r.DecidedAt = &t
	}
	r.CreatedAt = createdAt
	r.UpdatedAt = updateAt
	return &r, nil
}

func nullScore(s *int) sql.NullInt64 {
	if s == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*s), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNilFields(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilFactors(f []string) []string {
	if f == nil {
		return []string{}
	}
	return f
}
