package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrNoStandards is returned when no standards table was configured.
var ErrNoStandards = errors.New("no standards table: pass one with -standards or set the standards key in the config file")

// ActivityTable is the known-activity reference table, built once per run
// and shared read-only between subjects.
type ActivityTable struct {
	values map[string][]float64
}

// NewActivityTable drops missing (nil) entries from every isotope column.
func NewActivityTable(raw map[string][]*float64) *ActivityTable {
	values := make(map[string][]float64, len(raw))
	for isotope, column := range raw {
		var kept []float64
		for _, v := range column {
			if v != nil {
				kept = append(kept, *v)
			}
		}
		values[isotope] = kept
	}
	return &ActivityTable{values: values}
}

// LoadActivityTable reads a standalone YAML mapping of isotope to activities.
func LoadActivityTable(path string) (*ActivityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading standards table: %w", err)
	}
	raw := make(map[string][]*float64)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing standards table: %w", err)
	}
	return NewActivityTable(raw), nil
}

// Activities returns a copy of the activities known for isotope, in
// standard-image order.
func (t *ActivityTable) Activities(isotope string) ([]float64, error) {
	if len(t.values) == 0 {
		return nil, ErrNoStandards
	}
	column, ok := t.values[isotope]
	if !ok {
		return nil, fmt.Errorf("isotope %q not in standards table (have %v)", isotope, t.Isotopes())
	}
	out := make([]float64, len(column))
	copy(out, column)
	return out, nil
}

// Isotopes lists the isotopes in the table.
func (t *ActivityTable) Isotopes() []string {
	names := make([]string, 0, len(t.values))
	for k := range t.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
