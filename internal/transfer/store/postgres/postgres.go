package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bloodledger/internal/transfer/models"
	"bloodledger/internal/transfer/store"
	"bloodledger/pkg/domain"
	"bloodledger/pkg/platform/sentinel"
	"bloodledger/pkg/platform/tx"
	"bloodledger/pkg/requestcontext"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfer_requests (
	id                      UUID PRIMARY KEY,
	code                    TEXT NOT NULL UNIQUE,
	destination_hospital_id UUID NOT NULL,
	source_hospital_id      UUID,
	blood_group             TEXT NOT NULL,
	component               TEXT NOT NULL,
	units                   INT NOT NULL,
	status                  TEXT NOT NULL,
	preferred_date          TIMESTAMPTZ,
	note                    TEXT NOT NULL DEFAULT '',
	created_by              UUID NOT NULL,
	approved_by             UUID,
	approved_at             TIMESTAMPTZ,
	rejected_by             UUID,
	rejected_at             TIMESTAMPTZ,
	cancelled_by            UUID,
	cancelled_at            TIMESTAMPTZ,
	fulfilled_by            UUID,
	fulfilled_at            TIMESTAMPTZ,
	version                 BIGINT NOT NULL DEFAULT 1,
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_requests_destination ON transfer_requests (destination_hospital_id);
CREATE INDEX IF NOT EXISTS idx_transfer_requests_source ON transfer_requests (source_hospital_id);
CREATE INDEX IF NOT EXISTS idx_transfer_requests_status ON transfer_requests (status);
`

// PostgresStore persists transfer requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the backing table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure transfer_requests schema: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if dbtx, ok := tx.From(ctx); ok {
		return dbtx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, r *models.TransferRequest) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO transfer_requests (
			id, code, destination_hospital_id, blood_group, component, units,
			status, preferred_date, note, created_by, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (code) DO NOTHING`,
		uuid.UUID(r.ID), r.Code, uuid.UUID(r.DestinationHospitalID),
		r.BloodGroup.String(), r.Component.String(), r.Units,
		r.Status.String(), r.PreferredDate, r.Note, r.CreatedBy, r.Version, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer request: %w", err)
	}

	// ON CONFLICT DO NOTHING swallows the duplicate; detect it by row count.
	var stored uuid.UUID
	err = s.q(ctx).QueryRowContext(ctx, `SELECT id FROM transfer_requests WHERE code = $1`, r.Code).Scan(&stored)
	if err != nil {
		return fmt.Errorf("verify transfer request insert: %w", err)
	}
	if stored != uuid.UUID(r.ID) {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error) {
	row := s.q(ctx).QueryRowContext(ctx, selectRequest+` WHERE id = $1`+s.lockClause(ctx), uuid.UUID(id))
	return scanRequest(row)
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (*models.TransferRequest, error) {
	row := s.q(ctx).QueryRowContext(ctx, selectRequest+` WHERE code = $1`+s.lockClause(ctx), code)
	return scanRequest(row)
}

func (s *PostgresStore) lockClause(ctx context.Context) string {
	if _, ok := tx.From(ctx); ok {
		return " FOR UPDATE"
	}
	return ""
}

func (s *PostgresStore) List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.TransferRequest, int, error) {
	where, args := buildFilter(filter)

	var total int
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM transfer_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transfer requests: %w", err)
	}

	query := selectRequest + where + orderClause(page.Sort) +
		fmt.Sprintf(" LIMIT %d OFFSET %d", page.Size, (page.Number-1)*page.Size)
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transfer requests: %w", err)
	}
	defer rows.Close()

	out := []*models.TransferRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transfer requests: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) Update(ctx context.Context, r *models.TransferRequest) error {
	now := requestcontext.Now(ctx)

	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE transfer_requests
		SET source_hospital_id = $1, status = $2, note = $3,
		    approved_by = $4, approved_at = $5,
		    rejected_by = $6, rejected_at = $7,
		    cancelled_by = $8, cancelled_at = $9,
		    fulfilled_by = $10, fulfilled_at = $11,
		    version = version + 1, updated_at = $12
		WHERE id = $13 AND version = $14`,
		nullableID(r.SourceHospitalID), r.Status.String(), r.Note,
		r.ApprovedBy, r.ApprovedAt,
		r.RejectedBy, r.RejectedAt,
		r.CancelledBy, r.CancelledAt,
		r.FulfilledBy, r.FulfilledAt,
		now, uuid.UUID(r.ID), r.Version)
	if err != nil {
		return fmt.Errorf("update transfer request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transfer request: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transfer_requests WHERE id = $1)`, uuid.UUID(r.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("update transfer request: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrVersionMismatch
	}
	r.Version++
	r.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Execute(ctx context.Context, id domain.RequestRecordID,
	validate func(r *models.TransferRequest) error,
	mutate func(r *models.TransferRequest)) (*models.TransferRequest, error) {

	run := func(txCtx context.Context) (*models.TransferRequest, error) {
		r, err := s.GetByID(txCtx, id)
		if err != nil {
			return nil, err
		}
		if err := validate(r); err != nil {
			return nil, err
		}
		mutate(r)
		if err := s.Update(txCtx, r); err != nil {
			return nil, err
		}
		return r, nil
	}

	if _, ok := tx.From(ctx); ok {
		return run(ctx)
	}

	var out *models.TransferRequest
	runner := tx.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		out, err = run(txCtx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.RequestRecordID) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM transfer_requests WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete transfer request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transfer request: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const selectRequest = `
	SELECT id, code, destination_hospital_id, source_hospital_id, blood_group, component,
	       units, status, preferred_date, note, created_by,
	       approved_by, approved_at, rejected_by, rejected_at,
	       cancelled_by, cancelled_at, fulfilled_by, fulfilled_at,
	       version, created_at, updated_at
	FROM transfer_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.TransferRequest, error) {
	var (
		r             models.TransferRequest
		id            uuid.UUID
		destination   uuid.UUID
		source        *uuid.UUID
		group, status string
		component     string
		preferred     sql.NullTime
		approvedAt    sql.NullTime
		rejectedAt    sql.NullTime
		cancelledAt   sql.NullTime
		fulfilledAt   sql.NullTime
	)
	err := row.Scan(&id, &r.Code, &destination, &source, &group, &component,
		&r.Units, &status, &preferred, &r.Note, &r.CreatedBy,
		&r.ApprovedBy, &approvedAt, &r.RejectedBy, &rejectedAt,
		&r.CancelledBy, &cancelledAt, &r.FulfilledBy, &fulfilledAt,
		&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transfer request: %w", err)
	}

	r.ID = domain.RequestRecordID(id)
	r.DestinationHospitalID = domain.HospitalID(destination)
	if source != nil {
		r.SourceHospitalID = domain.HospitalID(*source)
	}
	r.BloodGroup = domain.BloodGroup(group)
	r.Component = domain.Component(component)
	r.Status = models.Status(status)
	r.PreferredDate = timePtr(preferred)
	r.ApprovedAt = timePtr(approvedAt)
	r.RejectedAt = timePtr(rejectedAt)
	r.CancelledAt = timePtr(cancelledAt)
	r.FulfilledAt = timePtr(fulfilledAt)
	return &r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableID(id domain.HospitalID) any {
	if id.IsZero() {
		return nil
	}
	return uuid.UUID(id)
}

func buildFilter(f store.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.InvolvedHospital != nil {
		add("(destination_hospital_id = $%[1]d OR source_hospital_id = $%[1]d)", uuid.UUID(*f.InvolvedHospital))
	}
	if f.DestinationID != nil {
		add("destination_hospital_id = $%d", uuid.UUID(*f.DestinationID))
	}
	if f.SourceID != nil {
		add("source_hospital_id = $%d", uuid.UUID(*f.SourceID))
	}
	if f.Status != nil {
		add("status = $%d", f.Status.String())
	}
	if f.BloodGroup != nil {
		add("blood_group = $%d", f.BloodGroup.String())
	}
	if f.Component != nil {
		add("component = $%d", f.Component.String())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func orderClause(sort string) string {
	desc := strings.HasPrefix(sort, "-")
	col := strings.TrimPrefix(sort, "-")
	switch col {
	case "created_at", "updated_at", "status", "units":
	default:
		return " ORDER BY created_at DESC"
	}
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	return " ORDER BY " + col + dir
}
