package repository

import (
	"context"
	"sync"

	"github.com/medrex/consent-ledger/pkg/types"
)

// MemoryRecordRepository keeps patient records in process memory
type MemoryRecordRepository struct {
	mu      sync.RWMutex
	records map[string]*types.PatientRecord
}

// NewMemoryRecordRepository creates an empty repository
func NewMemoryRecordRepository() *MemoryRecordRepository {
	return &MemoryRecordRepository{records: make(map[string]*types.PatientRecord)}
}

func (m *MemoryRecordRepository) Get(ctx context.Context, patientID string) (*types.PatientRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[patientID]
	if !ok {
		return nil, types.NewLedgerError(types.KindRecordsNotFound, "records not found off-chain for %s", patientID)
	}
	return record.Clone(), nil
}

func (m *MemoryRecordRepository) Put(ctx context.Context, record *types.PatientRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.PatientInfo.ID] = record.Clone()
	return nil
}

// DemoRecord returns the seed record for the demo patient
func DemoRecord() *types.PatientRecord {
	return &types.PatientRecord{
		PatientInfo: types.PatientInfo{ID: "patient-123", Name: "Alex Johnson", DOB: "1985-04-12"},
		Allergies:   []string{"Peanuts", "Penicillin"},
		Medications: []types.Medication{{Name: "Lisinopril", Dosage: "10mg"}},
		RecentVisits: []types.Visit{
			{Date: "2025-10-01", Reason: "Annual Checkup", Provider: "Dr. Ada Lovelace"},
		},
	}
}
