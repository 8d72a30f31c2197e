// Package config loads the table configuration file that maps each
// history table to its primary keys and order key.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is used when no --config is given.
	DefaultPath = "tables_and_keys.yaml"
	// DefaultUpdatedKey is the update timestamp column shared by all history tables.
	DefaultUpdatedKey = "updated_at"
)

var ErrInvalidConfig = errors.New("invalid table configuration")

// TableSpec describes one history table. It is immutable once loaded.
type TableSpec struct {
	Name        string
	PrimaryKeys []string
	OrderKey    string
	UpdatedKey  string
}

// rawSpec is the on-disk shape of a table entry.
type rawSpec struct {
	PrimaryKeys []string `yaml:"primary_keys"`
	OrderKey    string   `yaml:"order_key"`
	UpdatedKey  string   `yaml:"updated_at,omitempty"`
}

// Load reads the configuration at path.
func Load(path string) ([]TableSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a configuration document. Table names are lower-cased and
// the result is sorted by name.
func Parse(r io.Reader) ([]TableSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	raw := make(map[string]rawSpec)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no tables defined", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no tables defined", ErrInvalidConfig)
	}
	specs := make([]TableSpec, 0, len(raw))
	seen := make(map[string]string, len(raw))
	for name, r := range raw {
		lower := strings.ToLower(strings.TrimSpace(name))
		if prev, ok := seen[lower]; ok {
			return nil, fmt.Errorf("%w: tables %q and %q collide after lower-casing", ErrInvalidConfig, prev, name)
		}
		seen[lower] = name
		spec := TableSpec{
			Name:        lower,
			PrimaryKeys: r.PrimaryKeys,
			OrderKey:    strings.TrimSpace(r.OrderKey),
			UpdatedKey:  strings.TrimSpace(r.UpdatedKey),
		}
		if spec.UpdatedKey == "" {
			spec.UpdatedKey = DefaultUpdatedKey
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// Validate checks the shape of a single spec. Deeper eligibility rules are
// enforced by the preflight checks.
func (s TableSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidConfig)
	}
	if len(s.PrimaryKeys) == 0 {
		return fmt.Errorf("%w: table %q has no primary_keys", ErrInvalidConfig, s.Name)
	}
	for _, pk := range s.PrimaryKeys {
		if strings.TrimSpace(pk) == "" {
			return fmt.Errorf("%w: table %q has an empty primary key", ErrInvalidConfig, s.Name)
		}
	}
	if s.OrderKey == "" {
		return fmt.Errorf("%w: table %q has no order_key", ErrInvalidConfig, s.Name)
	}
	return nil
}

// Select returns the specs named in names, in configuration order. An
// empty names list selects every spec. Naming an unknown table is an error.
func Select(specs []TableSpec, names []string) ([]TableSpec, error) {
	if len(names) == 0 {
		return specs, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	var selected []TableSpec
	for _, s := range specs {
		if want[s.Name] {
			selected = append(selected, s)
			delete(want, s.Name)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for n := range want {
			missing = append(missing, n)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: tables not in configuration: %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return selected, nil
}
