package classify

import (
	"strings"

	"github.com/ehr/abstractor/internal/domain/clinical"
)

// IDHWildtype is the inferred IDH status when a BRAF fusion is reported
// without any IDH finding.
const IDHWildtype = "wildtype"

func findingText(f clinical.MolecularFindingEvent) string {
	return strings.ToUpper(f.Gene + " " + f.Display + " " + f.Result)
}

func mentionsBRAFFusion(f clinical.MolecularFindingEvent) bool {
	text := findingText(f)
	return strings.Contains(text, "BRAF") && (strings.Contains(text, "FUSION") || strings.Contains(text, "KIAA1549"))
}

// isBRAFFusion reports a BRAF fusion that is present. A finding that names
// the fusion but reports it absent ("No BRAF fusion detected") is not one.
func (c *Classifier) isBRAFFusion(f clinical.MolecularFindingEvent) bool {
	if !mentionsBRAFFusion(f) {
		return false
	}
	if term, neg := c.polarity.Negative(f.Display + " " + f.Result); neg {
		c.logger.Debug().
			Str("finding_id", f.ID).
			Str("term", term).
			Msg("BRAF fusion reported absent; no IDH inference")
		return false
	}
	return true
}

func isIDH(f clinical.MolecularFindingEvent) bool {
	return strings.Contains(findingText(f), "IDH")
}

// InferMolecular labels observed findings and appends the single allowed
// inference: a present BRAF fusion with no IDH finding in the same set
// implies IDH wildtype. The inferred finding is marked Derived and logged.
func (c *Classifier) InferMolecular(findings []clinical.MolecularFindingEvent) []clinical.MolecularFindingEvent {
	out := make([]clinical.MolecularFindingEvent, 0, len(findings)+1)
	fusionIdx := -1
	hasIDH := false
	for _, f := range findings {
		if f.Label == "" {
			f.Label = f.Gene
		}
		f.Provenance.Rule = "observed"
		out = append(out, f)
		if isIDH(f) {
			hasIDH = true
		}
		if fusionIdx < 0 && c.isBRAFFusion(f) {
			fusionIdx = len(out) - 1
		}
	}
	if fusionIdx < 0 || hasIDH {
		return out
	}
	fusion := out[fusionIdx]

	basis := "BRAF fusion reported in " + fusion.ID + " with no IDH finding"
	derived := clinical.MolecularFindingEvent{
		Event: clinical.Event{
			ID:        "derived-idh-" + fusion.ID,
			PatientID: fusion.PatientID,
			Date:      fusion.Date,
			Display:   "IDH status",
			Label:     "IDH",
			Provenance: clinical.Provenance{
				Table:       fusion.Provenance.Table,
				SourceField: fusion.Provenance.SourceField,
				Rule:        "braf_fusion_excludes_idh",
			},
		},
		Gene:    "IDH",
		Result:  IDHWildtype,
		Derived: true,
		Basis:   basis,
	}
	c.logger.Info().
		Str("patient_id", fusion.PatientID).
		Str("source_finding", fusion.ID).
		Bool("derived", true).
		Str("basis", basis).
		Msg("inferred IDH wildtype")
	return append(out, derived)
}
