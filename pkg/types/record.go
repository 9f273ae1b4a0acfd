package types

// PatientRecord represents clinical content held by the off-ledger record store
type PatientRecord struct {
	PatientInfo  PatientInfo  `json:"patient_info"`
	Allergies    []string     `json:"allergies"`
	Medications  []Medication `json:"medications"`
	RecentVisits []Visit      `json:"recent_visits"`
}

// PatientInfo holds patient demographics
type PatientInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	DOB  string `json:"dob"`
}

// Medication represents a current medication
type Medication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
}

// Visit represents a recent encounter
type Visit struct {
	Date     string `json:"date"`
	Reason   string `json:"reason"`
	Provider string `json:"provider"`
}

// Clone returns a deep copy of the record
func (r *PatientRecord) Clone() *PatientRecord {
	c := *r
	c.Allergies = append([]string(nil), r.Allergies...)
	c.Medications = append([]Medication(nil), r.Medications...)
	c.RecentVisits = append([]Visit(nil), r.RecentVisits...)
	return &c
}

// Validate checks required fields
func (r *PatientRecord) Validate() error {
	if r.PatientInfo.ID == "" {
		return NewValidationError("patient_info.id", "is required")
	}
	return nil
}
