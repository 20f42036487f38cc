package validation

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/domain/brimcsv"
)

// Validator compares results against a gold standard.
type Validator struct {
	dateWindowDays int
	logger         zerolog.Logger
}

// NewValidator returns a Validator. A wrong date within dateWindowDays of
// the gold date is attributed to the wrong date field rather than to the
// wrong event.
func NewValidator(dateWindowDays int, logger zerolog.Logger) *Validator {
	return &Validator{dateWindowDays: dateWindowDays, logger: logger}
}

type target struct {
	name       string
	kind       string
	scope      brimcsv.Scope
	defaultVal string
}

func targets(defs *brimcsv.Definitions) []target {
	out := make([]target, 0, len(defs.Variables)+len(defs.Decisions))
	for _, v := range defs.Variables {
		out = append(out, target{name: v.Name, kind: "variable", scope: v.Scope, defaultVal: v.Default})
	}
	for _, d := range defs.Decisions {
		out = append(out, target{name: d.Name, kind: "decision", scope: brimcsv.ScopeOnePerPatient, defaultVal: d.Default})
	}
	return out
}

// Validate compares every defined variable and decision that has a gold
// value. Names without gold values are not compared.
func (v *Validator) Validate(defs *brimcsv.Definitions, res *Results, gold *GoldStandard, label string) *Report {
	rep := &Report{
		ID:                 uuid.NewString(),
		PatientID:          gold.PatientID,
		Label:              label,
		DefinitionsVersion: defs.Version,
		CreatedAt:          time.Now().UTC(),
	}
	allGold := gold.All()
	for _, t := range targets(defs) {
		goldValues := gold.Values[t.name]
		if len(goldValues) == 0 {
			continue
		}
		o := v.compare(t, goldValues, res.Values[t.name], allGold)
		o.Sources = res.Sources[t.name]
		rep.Outcomes = append(rep.Outcomes, o)
		rep.Compared++
		if o.Match {
			rep.Matched++
		} else {
			v.logger.Debug().
				Str("patient_id", gold.PatientID).
				Str("name", t.name).
				Str("reason", string(o.Reason)).
				Msg("validation mismatch")
		}
	}
	if rep.Compared > 0 {
		rep.Accuracy = math.Round(float64(rep.Matched)/float64(rep.Compared)*10000) / 100
	}
	return rep
}

func (v *Validator) compare(t target, gold, extracted, allGold []string) Outcome {
	o := Outcome{Name: t.name, Kind: t.kind, Scope: string(t.scope), Gold: gold, Extracted: extracted}
	got := normalizeAll(extracted, "")
	want := normalizeAll(gold, "")

	if t.scope.PerNote() {
		o.Match = containsAll(got, want)
	} else {
		o.Match = sameSet(got, want)
	}
	if !o.Match {
		o.Reason = v.reason(normalizeAll(extracted, t.defaultVal), want, normalizeAll(allGold, ""))
	}
	return o
}

// reason classifies a mismatch. got excludes default values.
func (v *Validator) reason(got, want, allGold map[string]bool) Reason {
	if len(got) == 0 {
		return ReasonMissingValue
	}
	for w := range want {
		if got[w] {
			continue
		}
		if wd, ok := parseDate(w); ok {
			if nearest, ok := nearestDays(wd, got); ok {
				if nearest <= v.dateWindowDays {
					return ReasonWrongDateField
				}
				return ReasonWrongSourceEvent
			}
		}
	}
	for g := range got {
		if !want[g] && allGold[g] {
			return ReasonWrongSourceEvent
		}
	}
	return ReasonSemanticConfusion
}

func nearestDays(d time.Time, values map[string]bool) (int, bool) {
	best, found := 0, false
	for val := range values {
		vd, ok := parseDate(val)
		if !ok {
			continue
		}
		diff := int(math.Abs(vd.Sub(d).Hours() / 24))
		if !found || diff < best {
			best, found = diff, true
		}
	}
	return best, found
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006", "1/2/2006"}

func parseDate(s string) (time.Time, bool) {
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// normalize folds case, collapses whitespace and rewrites dates as
// YYYY-MM-DD. Values are compared after normalization only.
func normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if d, ok := parseDate(s); ok {
		return d.Format("2006-01-02")
	}
	return strings.ToLower(s)
}

// normalizeAll splits semicolon lists, normalizes every element and drops
// blanks and the default value.
func normalizeAll(values []string, defaultVal string) map[string]bool {
	def := normalize(defaultVal)
	out := make(map[string]bool)
	for _, v := range values {
		for _, part := range strings.Split(v, ";") {
			n := normalize(part)
			if n == "" || (def != "" && n == def) {
				continue
			}
			out[n] = true
		}
	}
	return out
}

func containsAll(got, want map[string]bool) bool {
	for w := range want {
		if !got[w] {
			return false
		}
	}
	return true
}

func sameSet(a, b map[string]bool) bool {
	return len(a) == len(b) && containsAll(a, b)
}

// Diff lists names whose match status or reason changed between reports,
// sorted by name.
func Diff(from, to *Report) []Change {
	names := make(map[string]bool)
	for _, o := range from.Outcomes {
		names[o.Name] = true
	}
	for _, o := range to.Outcomes {
		names[o.Name] = true
	}
	var changes []Change
	for name := range names {
		a, _ := from.Outcome(name)
		b, _ := to.Outcome(name)
		if a.Match == b.Match && a.Reason == b.Reason {
			continue
		}
		changes = append(changes, Change{Name: name, FromMatch: a.Match, ToMatch: b.Match, FromReason: a.Reason, ToReason: b.Reason})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}
