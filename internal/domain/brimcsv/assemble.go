package brimcsv

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/domain/corpus"
)

// Engine input file names.
const (
	VariablesFile = "variables.csv"
	DecisionsFile = "decisions.csv"
	ProjectFile   = "project.csv"
)

// Column names of the engine input files.
const (
	ColVariableName                 = "variable_name"
	ColInstruction                  = "instruction"
	ColPromptTemplate               = "prompt_template"
	ColAggregationInstruction       = "aggregation_instruction"
	ColAggregationPromptTemplate    = "aggregation_prompt_template"
	ColVariableType                 = "variable_type"
	ColScope                        = "scope"
	ColOptionDefinitions            = "option_definitions"
	ColAggregationOptionDefinitions = "aggregation_option_definitions"
	ColOnlyUseTrueValue             = "only_use_true_value_in_aggregation"
	ColDefaultValue                 = "default_value_for_empty_response"

	ColDecisionName       = "decision_name"
	ColDecisionType       = "decision_type"
	ColVariables          = "variables"
	ColDependentVariables = "dependent_variables"

	ColNoteID       = "NOTE_ID"
	ColPersonID     = "PERSON_ID"
	ColNoteDatetime = "NOTE_DATETIME"
	ColNoteText     = "NOTE_TEXT"
	ColNoteTitle    = "NOTE_TITLE"
)

var (
	VariableColumns = []string{
		ColVariableName, ColInstruction, ColPromptTemplate, ColAggregationInstruction,
		ColAggregationPromptTemplate, ColVariableType, ColScope, ColOptionDefinitions,
		ColAggregationOptionDefinitions, ColOnlyUseTrueValue, ColDefaultValue,
	}
	DecisionColumns = []string{
		ColDecisionName, ColInstruction, ColDecisionType, ColPromptTemplate,
		ColVariables, ColDependentVariables, ColDefaultValue,
	}
	ProjectColumns = []string{ColNoteID, ColPersonID, ColNoteDatetime, ColNoteText, ColNoteTitle}
)

// NoteDatetimeLayout formats NOTE_DATETIME.
const NoteDatetimeLayout = "2006-01-02T15:04:05Z"

// Package is the assembled engine input.
type Package struct {
	Variables []byte
	Decisions []byte
	Project   []byte
}

// Files returns the package keyed by file name.
func (p *Package) Files() map[string][]byte {
	return map[string][]byte{
		VariablesFile: p.Variables,
		DecisionsFile: p.Decisions,
		ProjectFile:   p.Project,
	}
}

// Write stores the three files in dir.
func (p *Package) Write(dir string) error {
	for _, name := range []string{VariablesFile, DecisionsFile, ProjectFile} {
		if err := os.WriteFile(filepath.Join(dir, name), p.Files()[name], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// ReadPackage loads a previously written package from dir.
func ReadPackage(dir string) (*Package, error) {
	var p Package
	for name, dst := range map[string]*[]byte{VariablesFile: &p.Variables, DecisionsFile: &p.Decisions, ProjectFile: &p.Project} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		*dst = data
	}
	return &p, nil
}

// Assembler renders definitions and corpus documents to CSV. Rows with a
// blank required column are rejected rather than emitted.
type Assembler struct {
	logger zerolog.Logger
}

// NewAssembler returns an Assembler.
func NewAssembler(logger zerolog.Logger) *Assembler {
	return &Assembler{logger: logger}
}

// Assemble produces the three engine input files. Every violation across
// the three tables is reported in one error.
func (a *Assembler) Assemble(defs *Definitions, docs []corpus.Document) (*Package, error) {
	var errs []error
	if err := defs.Check(); err != nil {
		errs = append(errs, err)
	}
	projectRows, err := ProjectRows(docs)
	if err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		for _, v := range Violations(err) {
			a.logger.Error().
				Str("table", v.Table).
				Int("row", v.Row).
				Str("name", v.Name).
				Str("column", v.Column).
				Msg(v.Reason)
		}
		return nil, err
	}

	vars, err := VariableRows(defs)
	if err != nil {
		return nil, err
	}
	decisions := DecisionRows(defs)

	var p Package
	if p.Variables, err = encode(VariableColumns, vars); err != nil {
		return nil, fmt.Errorf("encode %s: %w", VariablesFile, err)
	}
	if p.Decisions, err = encode(DecisionColumns, decisions); err != nil {
		return nil, fmt.Errorf("encode %s: %w", DecisionsFile, err)
	}
	if p.Project, err = encode(ProjectColumns, projectRows); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ProjectFile, err)
	}
	return &p, nil
}

// OptionMap serializes a closed value set as a JSON object whose keys
// equal their values. Keys are sorted. An empty set renders as "".
func OptionMap(opts []string) (string, error) {
	if len(opts) == 0 {
		return "", nil
	}
	m := make(map[string]string, len(opts))
	for _, o := range opts {
		m[o] = o
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// VariableRows renders variable definitions in declaration order.
func VariableRows(defs *Definitions) ([][]string, error) {
	rows := make([][]string, 0, len(defs.Variables))
	for _, v := range defs.Variables {
		opts, err := OptionMap(v.Options)
		if err != nil {
			return nil, fmt.Errorf("variable %s options: %w", v.Name, err)
		}
		aggOpts, err := OptionMap(v.AggregationOptions)
		if err != nil {
			return nil, fmt.Errorf("variable %s aggregation options: %w", v.Name, err)
		}
		rows = append(rows, []string{
			v.Name,
			v.Instruction,
			v.PromptTemplate,
			v.AggregationInstruction,
			v.AggregationPromptTemplate,
			string(v.Type),
			string(v.Scope),
			opts,
			aggOpts,
			strconv.FormatBool(v.OnlyUseTrueValueInAggregation),
			v.Default,
		})
	}
	return rows, nil
}

// DecisionRows renders decision rules in declaration order. Variable lists
// are semicolon separated.
func DecisionRows(defs *Definitions) [][]string {
	rows := make([][]string, 0, len(defs.Decisions))
	for _, r := range defs.Decisions {
		rows = append(rows, []string{
			r.Name,
			r.Instruction,
			string(r.Type),
			r.PromptTemplate,
			strings.Join(r.Variables, ";"),
			strings.Join(r.DependentVariables, ";"),
			r.Default,
		})
	}
	return rows
}

// ProjectRows renders corpus documents in order. Documents must already be
// deduplicated; a repeated id or a blank required column is a violation.
func ProjectRows(docs []corpus.Document) ([][]string, error) {
	var errs []error
	rows := make([][]string, 0, len(docs))
	seen := make(map[string]int, len(docs))
	for i, d := range docs {
		c := &rowCheck{table: ProjectFile, row: i + 1, name: d.ID}
		c.require(ColNoteID, d.ID)
		c.require(ColPersonID, d.PersonID)
		c.require(ColNoteText, d.Text)
		c.require(ColNoteTitle, d.Title)
		if first, ok := seen[d.ID]; ok && d.ID != "" {
			c.fail(ColNoteID, fmt.Sprintf("duplicate document id, first seen at row %d", first))
		} else {
			seen[d.ID] = i + 1
		}
		errs = append(errs, c.errs...)
		date := ""
		if d.Date != nil {
			date = d.Date.UTC().Format(NoteDatetimeLayout)
		}
		rows = append(rows, []string{d.ID, d.PersonID, date, d.Text, d.Title})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rows, nil
}

func encode(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
