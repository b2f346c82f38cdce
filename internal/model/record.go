package model

// Missing tracks which non-identifying source fields were absent on ingest.
// The feature builder turns these into imputation indicator features instead
// of dropping the record.
type Missing struct {
	SignDate    bool
	PublishDate bool
	Duration    bool
	AddedDays   bool
	Category    bool
	Sector      bool
	Department  bool
	Modality    bool
}

// RawRecord pairs an ingested contract with its field-presence information.
type RawRecord struct {
	Contract Contract
	Missing  Missing
}
