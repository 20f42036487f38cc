package brimcsv

import (
	"errors"
	"strings"
)

type rowCheck struct {
	table string
	row   int
	name  string
	errs  []error
}

func (c *rowCheck) fail(column, reason string) {
	c.errs = append(c.errs, &SchemaViolation{Table: c.table, Row: c.row, Name: c.name, Column: column, Reason: reason})
}

func (c *rowCheck) require(column, value string) {
	if strings.TrimSpace(value) == "" {
		c.fail(column, "required value is blank")
	}
}

// Check verifies every variable and decision row is complete and that
// decisions only reference defined names. All violations are returned
// together.
func (d *Definitions) Check() error {
	var errs []error
	vars := make(map[string]bool, len(d.Variables))
	for i, v := range d.Variables {
		c := &rowCheck{table: VariablesFile, row: i + 1, name: v.Name}
		c.require(ColVariableName, v.Name)
		c.require(ColInstruction, v.Instruction)
		c.require(ColVariableType, string(v.Type))
		c.require(ColScope, string(v.Scope))
		c.require(ColDefaultValue, v.Default)
		if v.Type != "" && !v.Type.valid() {
			c.fail(ColVariableType, "unknown type "+string(v.Type))
		}
		if v.Scope != "" && !v.Scope.valid() {
			c.fail(ColScope, "unknown scope "+string(v.Scope))
		}
		if vars[v.Name] && v.Name != "" {
			c.fail(ColVariableName, "duplicate variable name")
		}
		vars[v.Name] = true
		checkOptions(c, ColOptionDefinitions, v.Options)
		checkOptions(c, ColAggregationOptionDefinitions, v.AggregationOptions)
		for _, opt := range v.Options {
			if opt != "" && !strings.Contains(v.Instruction, opt) {
				c.fail(ColInstruction, "instruction does not state permitted value \""+opt+"\" verbatim")
			}
		}
		errs = append(errs, c.errs...)
	}

	decisions := make(map[string]bool, len(d.Decisions))
	for _, r := range d.Decisions {
		decisions[r.Name] = true
	}
	seen := make(map[string]bool, len(d.Decisions))
	for i, r := range d.Decisions {
		c := &rowCheck{table: DecisionsFile, row: i + 1, name: r.Name}
		c.require(ColDecisionName, r.Name)
		c.require(ColInstruction, r.Instruction)
		c.require(ColDecisionType, string(r.Type))
		c.require(ColDefaultValue, r.Default)
		if r.Type != "" && !r.Type.valid() {
			c.fail(ColDecisionType, "unknown type "+string(r.Type))
		}
		if seen[r.Name] && r.Name != "" {
			c.fail(ColDecisionName, "duplicate decision name")
		}
		seen[r.Name] = true
		if vars[r.Name] && r.Name != "" {
			c.fail(ColDecisionName, "decision name collides with a variable")
		}
		if len(r.Variables) == 0 {
			c.fail(ColVariables, "required value is blank")
		}
		for _, name := range r.Variables {
			if !vars[name] {
				c.fail(ColVariables, "references undefined variable \""+name+"\"")
			}
		}
		for _, name := range r.DependentVariables {
			if name == r.Name {
				c.fail(ColDependentVariables, "decision depends on itself")
				continue
			}
			if !vars[name] && !decisions[name] {
				c.fail(ColDependentVariables, "references undefined variable or decision \""+name+"\"")
			}
		}
		errs = append(errs, c.errs...)
	}
	return errors.Join(errs...)
}

func checkOptions(c *rowCheck, column string, opts []string) {
	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		if strings.TrimSpace(o) == "" {
			c.fail(column, "blank permitted value")
			continue
		}
		if seen[o] {
			c.fail(column, "duplicate permitted value \""+o+"\"")
		}
		seen[o] = true
	}
}
