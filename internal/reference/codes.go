package reference

import (
	"strconv"
	"strings"

	"github.com/ehr/abstractor/internal/domain/clinical"
)

// CodeTable answers range-membership questions over the surgery code ranges.
type CodeTable struct {
	ranges []CodeRange
}

// NewCodeTable builds a lookup over validated tables.
func NewCodeTable(t *Tables) *CodeTable {
	ranges := make([]CodeRange, len(t.SurgeryCodes))
	copy(ranges, t.SurgeryCodes)
	return &CodeTable{ranges: ranges}
}

// Lookup returns the label of the range containing code. Ranges never
// overlap, so at most one range can match. Non-numeric codes never match.
func (c *CodeTable) Lookup(code string) (clinical.SurgeryType, CodeRange, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return clinical.SurgeryOther, CodeRange{}, false
	}
	for _, r := range c.ranges {
		if r.Contains(n) {
			return r.Label, r, true
		}
	}
	return clinical.SurgeryOther, CodeRange{}, false
}

// Labels returns every label some range maps code to. Used to verify the
// no-overlap property; a valid table never returns more than one.
func (c *CodeTable) Labels(code int) []clinical.SurgeryType {
	var out []clinical.SurgeryType
	for _, r := range c.ranges {
		if r.Contains(code) {
			out = append(out, r.Label)
		}
	}
	return out
}
