package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"onboarding-gateway/internal/onboarding/models"
	id "onboarding-gateway/pkg/domain"
	"onboarding-gateway/pkg/platform/sentinel"
	txcontext "onboarding-gateway/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists onboarding records in PostgreSQL. Writes join a
// context-carried transaction when present.
//
// Uniqueness is enforced by the schema: request_id is unique, and a partial
// unique index on customer_id covers records that are not failed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `
	reference_id, request_id, customer_id,
	full_name, email, mobile, tax_id, date_of_birth,
	address_line, city, state, postal_code,
	identity_status, residence_status, overall_status,
	identity_reference, residence_reference, risk_score, confidence,
	created_at, updated_at
`

func (s *PostgresStore) CreatePending(ctx context.Context, record *models.OnboardingRecord) (*models.OnboardingRecord, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	// A retry of an aborted attempt adopts its existing pending row.
	row := exec.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM onboarding_records WHERE request_id = $1 FOR UPDATE`,
		record.RequestID.String(),
	)
	existing, err := scanRecord(row)
	switch {
	case err == nil:
		if existing.IsTerminal() {
			return nil, fmt.Errorf("record for request %s already finalized: %w", record.RequestID, sentinel.ErrInvalidState)
		}
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("find record by request id: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO onboarding_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		uuid.UUID(record.ReferenceID),
		record.RequestID.String(),
		record.CustomerID.String(),
		record.FullName,
		record.Email,
		record.Mobile,
		record.TaxID,
		record.DateOfBirth,
		record.AddressLine,
		record.City,
		record.State,
		record.PostalCode,
		string(record.IdentityStatus),
		string(record.ResidenceStatus),
		string(record.OverallStatus),
		record.IdentityReference,
		record.ResidenceReference,
		record.RiskScore,
		record.Confidence,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("customer %s already has an active onboarding: %w", record.CustomerID, sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("insert onboarding record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Finalize(ctx context.Context, record *models.OnboardingRecord) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	// The pending guard makes finalization first-writer-wins.
	result, err := exec.ExecContext(ctx, `
		UPDATE onboarding_records
		SET identity_status = $2,
			residence_status = $3,
			overall_status = $4,
			identity_reference = $5,
			residence_reference = $6,
			risk_score = $7,
			confidence = $8,
			updated_at = $9
		WHERE reference_id = $1 AND overall_status = 'pending'
	`,
		uuid.UUID(record.ReferenceID),
		string(record.IdentityStatus),
		string(record.ResidenceStatus),
		string(record.OverallStatus),
		record.IdentityReference,
		record.ResidenceReference,
		record.RiskScore,
		record.Confidence,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize onboarding record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize onboarding record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record %s is not pending: %w", record.ReferenceID, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) FindByReference(ctx context.Context, referenceID id.ReferenceID) (*models.OnboardingRecord, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	row := exec.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM onboarding_records WHERE reference_id = $1`,
		uuid.UUID(referenceID),
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find record by reference: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) FindByRequest(ctx context.Context, requestID id.RequestID) (*models.OnboardingRecord, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	row := exec.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM onboarding_records WHERE request_id = $1`,
		requestID.String(),
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find record by request: %w", err)
	}
	return record, nil
}

func scanRecord(row *sql.Row) (*models.OnboardingRecord, error) {
	var (
		record      models.OnboardingRecord
		referenceID uuid.UUID
		requestID   string
		customerID  string
		identity    string
		residence   string
		overall     string
	)
	err := row.Scan(
		&referenceID,
		&requestID,
		&customerID,
		&record.FullName,
		&record.Email,
		&record.Mobile,
		&record.TaxID,
		&record.DateOfBirth,
		&record.AddressLine,
		&record.City,
		&record.State,
		&record.PostalCode,
		&identity,
		&residence,
		&overall,
		&record.IdentityReference,
		&record.ResidenceReference,
		&record.RiskScore,
		&record.Confidence,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ReferenceID = id.ReferenceID(referenceID)
	record.RequestID = id.RequestID(requestID)
	record.CustomerID = id.CustomerID(customerID)
	record.IdentityStatus = models.IdentityStatus(identity)
	record.ResidenceStatus = models.ResidenceStatus(residence)
	record.OverallStatus = models.OverallStatus(overall)
	return &record, nil
}
