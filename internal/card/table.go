package card

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTable is the abbreviation table used when no table file is
// configured. Order matters: "AN" runs before every other rule.
func DefaultTable() []Substitution {
	return []Substitution{
		{Pattern: "AN", Replacement: "유진"},
		{Pattern: "WON", Replacement: "원영"},
		{Pattern: "GA", Replacement: "가을"},
		{Pattern: "REI", Replacement: "레이"},
		{Pattern: "LIZ", Replacement: "리즈"},
		{Pattern: "LEE", Replacement: "이서"},
		{Pattern: "II", Replacement: "I've IVE"},
		{Pattern: "LD", Replacement: "LOVE DIVE"},
	}
}

// tableFile is the on-disk layout of a substitution table:
//
//	substitutions:
//	  - pattern: AN
//	    replacement: 유진
//	  - pattern: WON
//	    replacement: 원영
type tableFile struct {
	Substitutions []Substitution `yaml:"substitutions"`
}

// LoadTable reads an ordered substitution table from a YAML file.
func LoadTable(path string) ([]Substitution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read substitution table %q: %w", path, err)
	}
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse substitution table %q: %w", path, err)
	}
	for i, s := range tf.Substitutions {
		if s.Pattern == "" {
			return nil, fmt.Errorf("substitution table %q: entry %d has an empty pattern", path, i)
		}
	}
	return tf.Substitutions, nil
}
