package brimcsv

import (
	"errors"
	"fmt"
	"strings"
)

var ErrSchemaViolation = errors.New("schema violation")

// SchemaViolation names the row and column that would produce an
// incomplete or dangling row in an engine input file.
type SchemaViolation struct {
	Table  string `json:"table"`
	Row    int    `json:"row"`
	Name   string `json:"name,omitempty"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason"`
}

func (v *SchemaViolation) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s row %d", v.Table, v.Row)
	if v.Name != "" {
		fmt.Fprintf(&sb, " (%s)", v.Name)
	}
	if v.Column != "" {
		fmt.Fprintf(&sb, ": column %s", v.Column)
	}
	sb.WriteString(": " + v.Reason)
	return sb.String()
}

func (v *SchemaViolation) Unwrap() error { return ErrSchemaViolation }

// Violations returns every SchemaViolation in err.
func Violations(err error) []*SchemaViolation {
	var out []*SchemaViolation
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if v, ok := e.(*SchemaViolation); ok {
			out = append(out, v)
			return
		}
		if j, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range j.Unwrap() {
				walk(inner)
			}
			return
		}
		walk(errors.Unwrap(e))
	}
	walk(err)
	return out
}
