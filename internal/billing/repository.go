// Package billing serves and reads the active billing lines of an
// encounter.
package billing

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinassist/platform/internal/adapters/health"
	"github.com/clinassist/platform/internal/shared/errors"
	"github.com/clinassist/platform/internal/shared/metrics"
	"github.com/clinassist/platform/internal/shared/types"
)

// Repository reads billing lines from the billing store
type Repository interface {
	// Rows returns the active lines of one encounter ordered by code type
	// and entry date. An encounter without lines yields an empty slice.
	Rows(ctx context.Context, encounterID, patientID int64) ([]health.BillingRow, error)
}

// --- PostgreSQL ---

// PostgresRepository reads billing lines with pgx
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL billing repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Rows implements Repository
func (r *PostgresRepository) Rows(ctx context.Context, encounterID, patientID int64) ([]health.BillingRow, error) {
	query := `
		SELECT COALESCE(code_type, ''), COALESCE(code, ''), COALESCE(code_text, ''),
			COALESCE(fee::text, ''), COALESCE(modifier, ''), COALESCE(units::text, '')
		FROM billing
		WHERE encounter = $1 AND pid = $2 AND activity = 1
		ORDER BY code_type, date ASC`

	start := time.Now()
	defer func() { metrics.RecordDBQuery("billing_rows", time.Since(start)) }()

	rows, err := r.pool.Query(ctx, query, encounterID, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query billing")
	}
	defer rows.Close()

	result := []health.BillingRow{}
	for rows.Next() {
		var codeType, code, codeText, fee, modifier, units string
		if err := rows.Scan(&codeType, &code, &codeText, &fee, &modifier, &units); err != nil {
			return nil, errors.Wrap(err, "failed to scan billing row")
		}
		result = append(result, billingRow(codeType, code, codeText, fee, modifier, units))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read billing rows")
	}

	return result, nil
}

// --- SQL Server ---

// SQLServerRepository reads billing lines from a SQL Server billing table
type SQLServerRepository struct {
	db *sql.DB
}

// NewSQLServerRepository creates a new SQL Server billing repository
func NewSQLServerRepository(db *sql.DB) *SQLServerRepository {
	return &SQLServerRepository{db: db}
}

// Rows implements Repository
func (r *SQLServerRepository) Rows(ctx context.Context, encounterID, patientID int64) ([]health.BillingRow, error) {
	query := `
		SELECT code_type, code, code_text,
			CAST(fee AS VARCHAR(32)), modifier, CAST(units AS VARCHAR(16))
		FROM billing
		WHERE encounter = @encounter AND pid = @pid AND activity = 1
		ORDER BY code_type, date ASC`

	start := time.Now()
	defer func() { metrics.RecordDBQuery("billing_rows", time.Since(start)) }()

	rows, err := r.db.QueryContext(ctx, query,
		sql.Named("encounter", encounterID),
		sql.Named("pid", patientID),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query billing")
	}
	defer rows.Close()

	result := []health.BillingRow{}
	for rows.Next() {
		var codeType, code, codeText, fee, modifier, units sql.NullString
		if err := rows.Scan(&codeType, &code, &codeText, &fee, &modifier, &units); err != nil {
			return nil, errors.Wrap(err, "failed to scan billing row")
		}
		result = append(result, billingRow(
			codeType.String, code.String, codeText.String,
			fee.String, modifier.String, units.String,
		))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read billing rows")
	}

	return result, nil
}

func billingRow(codeType, code, codeText, fee, modifier, units string) health.BillingRow {
	return health.BillingRow{
		CodeType: types.FlexString(codeType),
		Code:     types.FlexString(code),
		CodeText: types.FlexString(codeText),
		Fee:      types.FlexString(fee),
		Modifier: types.FlexString(modifier),
		Units:    types.FlexString(units),
	}
}
