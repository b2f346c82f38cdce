// Package ingest parses the contract-record CSV handed off by the ingestion
// collaborator. It applies type coercion and the schema rules: records missing
// an identifying field are excluded with a SchemaError and counted; missing
// non-identifying fields are recorded for downstream imputation, never
// silently dropped.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/auditlens/auditlens/internal/model"
)

// SchemaError reports a record that lacks a required identifying field.
type SchemaError struct {
	Line  int
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("ingest: line %d missing required field %q", e.Line, e.Field)
}

// Stats summarizes an ingest pass.
type Stats struct {
	Read     int            `json:"read"`
	Accepted int            `json:"accepted"`
	Excluded int            `json:"excluded"`
	Reasons  map[string]int `json:"reasons"`
}

// Columns is the expected CSV header, in the ingestion collaborator's order.
// Only the first five are required; the rest are imputable.
var Columns = []string{
	"id", "agency_id", "vendor_id", "value",
	"award_date", "sign_date", "publish_date",
	"direct_award", "modified", "category",
	"sector", "department", "duration_days", "added_days",
}

// ReadFile parses the CSV at path.
func ReadFile(path string) ([]model.RawRecord, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return Read(f)
}

// Read parses contract records from r.
func Read(r io.Reader) ([]model.RawRecord, Stats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, Stats{}, eris.Wrap(err, "ingest: read header")
	}
	idx, err := headerIndex(header)
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{Reasons: map[string]int{}}
	var records []model.RawRecord
	line := 1

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, stats, eris.Wrapf(err, "ingest: read line %d", line)
		}
		stats.Read++

		rec, parseErr := parseRow(row, idx, line)
		if parseErr != nil {
			stats.Excluded++
			var se *SchemaError
			if errors.As(parseErr, &se) {
				stats.Reasons["missing_"+se.Field]++
			} else {
				stats.Reasons["malformed"]++
			}
			zap.L().Debug("ingest: record excluded",
				zap.Int("line", line),
				zap.Error(parseErr),
			)
			continue
		}

		stats.Accepted++
		records = append(records, rec)
	}

	zap.L().Info("ingest: complete",
		zap.Int("read", stats.Read),
		zap.Int("accepted", stats.Accepted),
		zap.Int("excluded", stats.Excluded),
	)

	return records, stats, nil
}

// headerIndex maps expected column names to positions in the header row.
func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, required := range []string{"id", "agency_id", "vendor_id", "value", "award_date"} {
		if _, ok := idx[required]; !ok {
			return nil, eris.Errorf("ingest: header missing required column %q", required)
		}
	}
	return idx, nil
}

func field(row []string, idx map[string]int, name string) (string, bool) {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return "", false
	}
	v := strings.TrimSpace(row[i])
	return v, v != ""
}

// parseRow converts a CSV row into a RawRecord, enforcing identity fields.
func parseRow(row []string, idx map[string]int, line int) (model.RawRecord, error) {
	var rec model.RawRecord
	c := &rec.Contract
	m := &rec.Missing

	var ok bool
	if c.ID, ok = field(row, idx, "id"); !ok {
		return rec, &SchemaError{Line: line, Field: "id"}
	}
	if c.AgencyID, ok = field(row, idx, "agency_id"); !ok {
		return rec, &SchemaError{Line: line, Field: "agency_id"}
	}
	if c.VendorID, ok = field(row, idx, "vendor_id"); !ok {
		return rec, &SchemaError{Line: line, Field: "vendor_id"}
	}

	rawValue, ok := field(row, idx, "value")
	if !ok {
		return rec, &SchemaError{Line: line, Field: "value"}
	}
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil || value <= 0 {
		return rec, &SchemaError{Line: line, Field: "value"}
	}
	c.Value = value

	rawDate, ok := field(row, idx, "award_date")
	if !ok {
		return rec, &SchemaError{Line: line, Field: "award_date"}
	}
	c.AwardDate, err = parseDate(rawDate)
	if err != nil {
		return rec, &SchemaError{Line: line, Field: "award_date"}
	}

	// Non-identifying fields: absence is recorded, not fatal.
	if raw, ok := field(row, idx, "sign_date"); ok {
		if c.SignDate, err = parseDate(raw); err != nil {
			m.SignDate = true
		}
	} else {
		m.SignDate = true
	}
	if raw, ok := field(row, idx, "publish_date"); ok {
		if c.PublishDate, err = parseDate(raw); err != nil {
			m.PublishDate = true
		}
	} else {
		m.PublishDate = true
	}
	if raw, ok := field(row, idx, "direct_award"); ok {
		c.DirectAward = parseBool(raw)
	} else {
		m.Modality = true
	}
	if raw, ok := field(row, idx, "modified"); ok {
		c.Modified = parseBool(raw)
	} else {
		m.Modality = true
	}
	if c.Category, ok = field(row, idx, "category"); !ok {
		m.Category = true
	}
	if c.Sector, ok = field(row, idx, "sector"); !ok {
		m.Sector = true
	}
	if c.Department, ok = field(row, idx, "department"); !ok {
		m.Department = true
	}
	if raw, ok := field(row, idx, "duration_days"); ok {
		if c.DurationDays, err = strconv.Atoi(raw); err != nil {
			m.Duration = true
		}
	} else {
		m.Duration = true
	}
	if raw, ok := field(row, idx, "added_days"); ok {
		if c.AddedDays, err = strconv.Atoi(raw); err != nil {
			m.AddedDays = true
		}
	} else {
		m.AddedDays = true
	}

	return rec, nil
}

var dateLayouts = []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("ingest: unparseable date %q", s)
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y", "si", "sí":
		return true
	default:
		return false
	}
}
