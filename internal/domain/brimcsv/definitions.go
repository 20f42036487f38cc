// Package brimcsv holds the versioned variable and decision definitions and
// assembles the three CSV files consumed by the abstraction engine.
package brimcsv

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VariableType is the declared value type of a variable or decision.
type VariableType string

const (
	TypeText    VariableType = "text"
	TypeBoolean VariableType = "boolean"
	TypeInteger VariableType = "integer"
	TypeFloat   VariableType = "float"
)

func (t VariableType) valid() bool {
	switch t {
	case TypeText, TypeBoolean, TypeInteger, TypeFloat:
		return true
	}
	return false
}

// Scope is the cardinality of a variable.
type Scope string

const (
	ScopeOnePerPatient Scope = "one_per_patient"
	ScopeOnePerNote    Scope = "one_per_note"
	ScopeManyPerNote   Scope = "many_per_note"
)

func (s Scope) valid() bool {
	switch s {
	case ScopeOnePerPatient, ScopeOnePerNote, ScopeManyPerNote:
		return true
	}
	return false
}

// PerNote reports whether values are extracted per document, in which case
// a patient may legitimately yield several values.
func (s Scope) PerNote() bool {
	return s == ScopeOnePerNote || s == ScopeManyPerNote
}

// VariableDefinition is one row of variables.csv.
type VariableDefinition struct {
	Name                          string       `yaml:"name" json:"name" jsonschema:"pattern=^[a-z][a-z0-9_]*$"`
	Instruction                   string       `yaml:"instruction" json:"instruction"`
	PromptTemplate                string       `yaml:"prompt_template,omitempty" json:"prompt_template,omitempty"`
	AggregationInstruction        string       `yaml:"aggregation_instruction,omitempty" json:"aggregation_instruction,omitempty"`
	AggregationPromptTemplate     string       `yaml:"aggregation_prompt_template,omitempty" json:"aggregation_prompt_template,omitempty"`
	Type                          VariableType `yaml:"type" json:"type" jsonschema:"enum=text,enum=boolean,enum=integer,enum=float"`
	Scope                         Scope        `yaml:"scope" json:"scope" jsonschema:"enum=one_per_patient,enum=one_per_note,enum=many_per_note"`
	Options                       []string     `yaml:"options,omitempty" json:"options,omitempty"`
	AggregationOptions            []string     `yaml:"aggregation_options,omitempty" json:"aggregation_options,omitempty"`
	OnlyUseTrueValueInAggregation bool         `yaml:"only_use_true_value_in_aggregation,omitempty" json:"only_use_true_value_in_aggregation,omitempty"`
	Default                       string       `yaml:"default" json:"default"`
}

// Enumerated reports whether the variable declares a closed value set.
func (v VariableDefinition) Enumerated() bool {
	return len(v.Options) > 0
}

// DecisionRule is one row of decisions.csv.
type DecisionRule struct {
	Name               string       `yaml:"name" json:"name" jsonschema:"pattern=^[a-z][a-z0-9_]*$"`
	Instruction        string       `yaml:"instruction" json:"instruction"`
	Type               VariableType `yaml:"type" json:"type" jsonschema:"enum=text,enum=boolean,enum=integer,enum=float"`
	PromptTemplate     string       `yaml:"prompt_template,omitempty" json:"prompt_template,omitempty"`
	Variables          []string     `yaml:"variables" json:"variables"`
	DependentVariables []string     `yaml:"dependent_variables,omitempty" json:"dependent_variables,omitempty"`
	Default            string       `yaml:"default" json:"default"`
}

// Definitions is the versioned variable and decision set.
type Definitions struct {
	Version   string               `yaml:"version" json:"version"`
	Variables []VariableDefinition `yaml:"variables" json:"variables"`
	Decisions []DecisionRule       `yaml:"decisions" json:"decisions"`
}

// Variable returns the definition named name.
func (d *Definitions) Variable(name string) (VariableDefinition, bool) {
	for _, v := range d.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return VariableDefinition{}, false
}

//go:embed defaults.yaml
var defaultDefinitions []byte

// DefaultDefinitions returns the embedded definitions.
func DefaultDefinitions() (*Definitions, error) {
	return ParseDefinitions(defaultDefinitions)
}

// LoadDefinitions reads definitions from path, or the embedded defaults
// when path is empty. Definitions are checked before they are returned.
func LoadDefinitions(path string) (*Definitions, error) {
	if path == "" {
		return DefaultDefinitions()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions decodes and checks YAML definitions.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var d Definitions
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	if d.Version == "" {
		return nil, fmt.Errorf("decode definitions: version is required")
	}
	if err := d.Check(); err != nil {
		return nil, err
	}
	return &d, nil
}
