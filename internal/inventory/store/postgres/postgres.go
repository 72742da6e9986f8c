package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bloodledger/internal/inventory/models"
	"bloodledger/internal/inventory/store"
	"bloodledger/pkg/domain"
	"bloodledger/pkg/platform/sentinel"
	"bloodledger/pkg/platform/tx"
	"bloodledger/pkg/requestcontext"
)

const schema = `
CREATE TABLE IF NOT EXISTS blood_stocks (
	id          UUID PRIMARY KEY,
	hospital_id UUID NOT NULL,
	blood_group TEXT NOT NULL,
	component   TEXT NOT NULL,
	batches     JSONB NOT NULL DEFAULT '[]',
	version     BIGINT NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (hospital_id, blood_group, component)
);
CREATE INDEX IF NOT EXISTS idx_blood_stocks_hospital ON blood_stocks (hospital_id);
`

// PostgresStore persists ledgers in PostgreSQL. Batches live in a JSONB
// column: the batch set is always read and written with its ledger, matching
// the one-document-per-triple model.
//
// Writes participate in an ambient transaction when one is present in ctx
// (pkg/platform/tx), which is how fulfillment gets its single transactional
// boundary.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the backing table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure blood_stocks schema: %w", err)
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

func (s *PostgresStore) FindOrCreate(ctx context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*models.Ledger, error) {
	now := requestcontext.Now(ctx)
	q := s.q(ctx)

	// Atomic upsert guards the unique key; a concurrent creator simply
	// loses the insert and reads the winner's row.
	_, err := q.ExecContext(ctx, `
		INSERT INTO blood_stocks (id, hospital_id, blood_group, component, batches, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '[]', 1, $5, $5)
		ON CONFLICT (hospital_id, blood_group, component) DO NOTHING`,
		uuid.New(), uuid.UUID(hospitalID), group.String(), component.String(), now)
	if err != nil {
		return nil, fmt.Errorf("upsert ledger: %w", err)
	}
	return s.GetByKey(ctx, hospitalID, group, component)
}

func (s *PostgresStore) GetByID(ctx context.Context, id domain.LedgerID) (*models.Ledger, error) {
	row := s.q(ctx).QueryRowContext(ctx, selectLedger+` WHERE id = $1`+s.lockClause(ctx), uuid.UUID(id))
	return scanLedger(row)
}

func (s *PostgresStore) GetByKey(ctx context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*models.Ledger, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		selectLedger+` WHERE hospital_id = $1 AND blood_group = $2 AND component = $3`+s.lockClause(ctx),
		uuid.UUID(hospitalID), group.String(), component.String())
	return scanLedger(row)
}

// lockClause adds FOR UPDATE inside a transaction so fulfillment holds row
// locks across its read-check-write cycle.
func (s *PostgresStore) lockClause(ctx context.Context) string {
	if _, ok := tx.From(ctx); ok {
		return " FOR UPDATE"
	}
	return ""
}

func (s *PostgresStore) List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.Ledger, int, error) {
	where, args := buildFilter(filter)

	var total int
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM blood_stocks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledgers: %w", err)
	}

	query := selectLedger + where + orderClause(page.Sort) +
		fmt.Sprintf(" LIMIT %d OFFSET %d", page.Size, (page.Number-1)*page.Size)
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledgers: %w", err)
	}
	defer rows.Close()

	ledgers, err := scanLedgers(rows)
	if err != nil {
		return nil, 0, err
	}
	return ledgers, total, nil
}

func (s *PostgresStore) ListAll(ctx context.Context, hospitalID *domain.HospitalID) ([]*models.Ledger, error) {
	query := selectLedger
	var args []any
	if hospitalID != nil {
		query += ` WHERE hospital_id = $1`
		args = append(args, uuid.UUID(*hospitalID))
	}
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list all ledgers: %w", err)
	}
	defer rows.Close()
	return scanLedgers(rows)
}

func (s *PostgresStore) Update(ctx context.Context, ledger *models.Ledger) error {
	batches, err := json.Marshal(ledger.Batches)
	if err != nil {
		return fmt.Errorf("marshal batches: %w", err)
	}
	now := requestcontext.Now(ctx)

	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE blood_stocks
		SET batches = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		batches, now, uuid.UUID(ledger.ID), ledger.Version)
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or someone committed ahead of us.
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM blood_stocks WHERE id = $1)`, uuid.UUID(ledger.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrVersionMismatch
	}
	ledger.Version++
	ledger.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.LedgerID) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM blood_stocks WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete ledger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ledger: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ApplyTransfer(ctx context.Context, src, dst *models.Ledger) error {
	if _, ok := tx.From(ctx); ok {
		// Already inside the caller's transaction; both updates commit or
		// roll back together with it.
		if err := s.Update(ctx, src); err != nil {
			return err
		}
		return s.Update(ctx, dst)
	}

	runner := tx.NewSQLRunner(s.db)
	return runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.Update(txCtx, src); err != nil {
			return err
		}
		return s.Update(txCtx, dst)
	})
}

const selectLedger = `
	SELECT id, hospital_id, blood_group, component, batches, version, created_at, updated_at
	FROM blood_stocks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedger(row rowScanner) (*models.Ledger, error) {
	var (
		l          models.Ledger
		id         uuid.UUID
		hospitalID uuid.UUID
		group      string
		component  string
		batches    []byte
	)
	err := row.Scan(&id, &hospitalID, &group, &component, &batches, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	l.ID = domain.LedgerID(id)
	l.HospitalID = domain.HospitalID(hospitalID)
	l.BloodGroup = domain.BloodGroup(group)
	l.Component = domain.Component(component)
	if err := json.Unmarshal(batches, &l.Batches); err != nil {
		return nil, fmt.Errorf("unmarshal batches: %w", err)
	}
	if l.Batches == nil {
		l.Batches = []models.Batch{}
	}
	return &l, nil
}

func scanLedgers(rows *sql.Rows) ([]*models.Ledger, error) {
	out := []*models.Ledger{}
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledgers: %w", err)
	}
	return out, nil
}

func buildFilter(f store.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.HospitalID != nil {
		add("hospital_id = $%d", uuid.UUID(*f.HospitalID))
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

// orderClause whitelists sort columns; anything else falls back to
// updated_at descending.
func orderClause(sort string) string {
	desc := strings.HasPrefix(sort, "-")
	col := strings.TrimPrefix(sort, "-")
	switch col {
	case "created_at", "updated_at", "blood_group", "component":
	default:
		return " ORDER BY updated_at DESC"
	}
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	return " ORDER BY " + col + dir
}
