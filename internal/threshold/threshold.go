// Package threshold resolves the minimum-wage-indexed audit threshold that
// applies to a contract. The legal threshold is a step function of the award
// year: each calendar year has its own SMMLV (statutory monthly minimum wage)
// and the audit threshold is a fixed multiple of it.
package threshold

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ConfigError reports a contract year with no threshold-table entry. A missing
// entry is fatal for the whole run: defaulting would misclassify splitting
// behavior.
type ConfigError struct {
	Year int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("threshold: no SMMLV entry for year %d", e.Year)
}

// Table maps calendar years to audit thresholds.
type Table struct {
	smmlv      map[int]float64
	multiplier float64
}

// tableFile is the on-disk YAML shape of the threshold table.
type tableFile struct {
	SMMLV      map[int]float64 `yaml:"smmlv"`
	Multiplier float64         `yaml:"multiplier"`
}

// New builds a table from a year->SMMLV map and the threshold multiplier.
func New(smmlv map[int]float64, multiplier float64) (*Table, error) {
	if len(smmlv) == 0 {
		return nil, eris.New("threshold: empty SMMLV table")
	}
	if multiplier <= 0 {
		return nil, eris.Errorf("threshold: multiplier must be positive (got %g)", multiplier)
	}
	m := make(map[int]float64, len(smmlv))
	for year, wage := range smmlv {
		if wage <= 0 {
			return nil, eris.Errorf("threshold: non-positive SMMLV for year %d", year)
		}
		m[year] = wage
	}
	return &Table{smmlv: m, multiplier: multiplier}, nil
}

// LoadFile reads a threshold table from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "threshold: read %s", path)
	}
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, eris.Wrapf(err, "threshold: parse %s", path)
	}
	return New(tf.SMMLV, tf.Multiplier)
}

// ForYear returns the audit threshold for the given calendar year.
func (t *Table) ForYear(year int) (float64, error) {
	wage, ok := t.smmlv[year]
	if !ok {
		return 0, &ConfigError{Year: year}
	}
	return wage * t.multiplier, nil
}

// ForDate returns the audit threshold valid on the given date. The lookup is
// keyed by the date's own calendar year; callers comparing contracts across a
// year boundary must resolve each contract's threshold separately.
func (t *Table) ForDate(d time.Time) (float64, error) {
	return t.ForYear(d.Year())
}

// SMMLVForYear returns the raw statutory minimum wage for the year.
func (t *Table) SMMLVForYear(year int) (float64, error) {
	wage, ok := t.smmlv[year]
	if !ok {
		return 0, &ConfigError{Year: year}
	}
	return wage, nil
}

// Years returns the covered years in ascending order.
func (t *Table) Years() []int {
	years := make([]int, 0, len(t.smmlv))
	for y := range t.smmlv {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
