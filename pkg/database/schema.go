package database

import (
	"context"
	"fmt"
)

const createPatientRecordsTable = `
CREATE TABLE IF NOT EXISTS patient_records (
    patient_id VARCHAR(255) PRIMARY KEY,
    record BYTEA NOT NULL,
    data_hash VARCHAR(64) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);`

const createPatientRecordsIndexes = `
CREATE INDEX IF NOT EXISTS idx_patient_records_updated_at ON patient_records(updated_at);`

// CreateSchema creates the off-ledger record tables
func (db *DB) CreateSchema(ctx context.Context) error {
	log := db.logger.WithComponent("database")
	log.Info("Creating database schema...")

	for _, stmt := range []string{createPatientRecordsTable, createPatientRecordsIndexes} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	log.Info("Database schema created successfully")
	return nil
}
