package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/medrex/consent-ledger/pkg/encryption"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/types"
)

// PatientRecordRepository stores encrypted patient records in PostgreSQL
type PatientRecordRepository struct {
	db        *sql.DB
	encryptor encryption.Cipher
	logger    *logger.Logger
}

// NewPatientRecordRepository creates a new patient record repository. A nil
// encryptor stores records as plain JSON.
func NewPatientRecordRepository(db *sql.DB, encryptor encryption.Cipher, log *logger.Logger) *PatientRecordRepository {
	if encryptor == nil {
		encryptor = encryption.Plaintext{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &PatientRecordRepository{
		db:        db,
		encryptor: encryptor,
		logger:    log,
	}
}

// Get retrieves and decrypts the record for patientID
func (r *PatientRecordRepository) Get(ctx context.Context, patientID string) (*types.PatientRecord, error) {
	start := time.Now()
	query := `
		SELECT record, data_hash
		FROM patient_records
		WHERE patient_id = $1`

	var sealed []byte
	var dataHash string
	err := r.db.QueryRowContext(ctx, query, patientID).Scan(&sealed, &dataHash)
	r.logger.DatabaseOperation(ctx, "select", "patient_records", time.Since(start).Milliseconds(), err == nil || errors.Is(err, sql.ErrNoRows))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewLedgerError(types.KindRecordsNotFound, "records not found off-chain for %s", patientID)
		}
		return nil, fmt.Errorf("failed to get patient record: %w", err)
	}

	plaintext, err := r.encryptor.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt patient record: %w", err)
	}
	if encryption.HashData(plaintext) != dataHash {
		return nil, types.NewInternalError("patient record failed integrity check", nil).
			WithDetail("patient_id", patientID)
	}

	var record types.PatientRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patient record: %w", err)
	}
	return &record, nil
}

// Put inserts or replaces the record for record.PatientInfo.ID
func (r *PatientRecordRepository) Put(ctx context.Context, record *types.PatientRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	plaintext, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal patient record: %w", err)
	}
	sealed, err := r.encryptor.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt patient record: %w", err)
	}

	start := time.Now()
	query := `
		INSERT INTO patient_records (patient_id, record, data_hash, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (patient_id)
		DO UPDATE SET record = EXCLUDED.record, data_hash = EXCLUDED.data_hash, updated_at = NOW()`

	_, err = r.db.ExecContext(ctx, query, record.PatientInfo.ID, sealed, encryption.HashData(plaintext))
	r.logger.DatabaseOperation(ctx, "upsert", "patient_records", time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return fmt.Errorf("failed to store patient record: %w", err)
	}
	return nil
}
