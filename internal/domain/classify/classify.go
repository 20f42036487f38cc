// Package classify assigns closed-vocabulary labels to extracted events and
// applies the few cross-record rules the pipeline allows. Classification
// never fails: unmapped input is labelled Other and logged.
package classify

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/domain/clinical"
	"github.com/ehr/abstractor/internal/reference"
)

// Classifier holds compiled reference tables. It is immutable and safe for
// concurrent use by independent patient runs.
type Classifier struct {
	codes    *reference.CodeTable
	chemo    *reference.ChemoMatcher
	polarity *reference.ResultPolarity
	logger   zerolog.Logger
}

// New compiles a Classifier from validated reference tables.
func New(tables *reference.Tables, logger zerolog.Logger) *Classifier {
	return &Classifier{
		codes:    reference.NewCodeTable(tables),
		chemo:    reference.NewChemoMatcher(tables),
		polarity: reference.NewResultPolarity(tables),
		logger:   logger,
	}
}

// ClassifySurgery labels one procedure by code-range membership. Extent and
// location are always deferred to narrative extraction.
func (c *Classifier) ClassifySurgery(ev clinical.SurgeryEvent) clinical.SurgeryEvent {
	label, r, ok := c.codes.Lookup(ev.Code)
	if ok {
		ev.Provenance.Rule = "code_range:" + r.String()
	} else {
		ev.Provenance.Rule = "unmapped"
		c.logger.Warn().
			Str("procedure_id", ev.ID).
			Str("code", ev.Code).
			Str("code_system", ev.Provenance.CodeSystem).
			Msg("procedure code not in any reference range; classified as Other")
	}
	ev.SurgeryType = label
	ev.Label = string(label)
	ev.Extent = ResolveExtent(ev)
	ev.Location = ResolveLocation(ev)
	return ev
}

// ClassifySurgeries labels every procedure. The output has the same length
// and order as the input.
func (c *Classifier) ClassifySurgeries(events []clinical.SurgeryEvent) []clinical.SurgeryEvent {
	out := make([]clinical.SurgeryEvent, len(events))
	for i, ev := range events {
		out[i] = c.ClassifySurgery(ev)
	}
	return out
}

// SplitMedications partitions medications into chemotherapy and
// concomitant sets. Every input lands in exactly one set.
func (c *Classifier) SplitMedications(meds []clinical.MedicationEvent) clinical.MedicationSet {
	set := clinical.MedicationSet{
		Chemotherapy: []clinical.MedicationEvent{},
		Concomitant:  []clinical.MedicationEvent{},
	}
	for _, m := range meds {
		if match, ok := c.chemo.Match(m.Display, m.RxNorm); ok {
			m.Category = clinical.MedicationChemotherapy
			m.Provenance.Rule = match.Rule()
			set.Chemotherapy = append(set.Chemotherapy, m)
			continue
		}
		m.Category = clinical.MedicationConcomitant
		m.Provenance.Rule = "default"
		set.Concomitant = append(set.Concomitant, m)
	}
	label(set.Chemotherapy)
	label(set.Concomitant)
	return set
}

func label(meds []clinical.MedicationEvent) {
	for i := range meds {
		meds[i].Label = string(meds[i].Category)
	}
}

// ResolveExtent defers extent of resection to narrative extraction.
// Procedure codes do not encode it.
func ResolveExtent(ev clinical.SurgeryEvent) clinical.Resolution {
	return clinical.DeferToNarrative("extent of resection is not encoded in procedure code " + ev.Code)
}

// ResolveLocation defers tumor location to narrative extraction.
func ResolveLocation(ev clinical.SurgeryEvent) clinical.Resolution {
	return clinical.DeferToNarrative("tumor location is not encoded in procedure code " + ev.Code)
}

// TumorResections returns the classified events labelled Tumor Resection.
func TumorResections(events []clinical.SurgeryEvent) []clinical.SurgeryEvent {
	var out []clinical.SurgeryEvent
	for _, ev := range events {
		if ev.SurgeryType == clinical.SurgeryTumorResection {
			out = append(out, ev)
		}
	}
	return out
}

// CountTumorSurgeries counts distinct calendar dates among tumor resections.
// Undated resections cannot be merged and count once each.
func CountTumorSurgeries(events []clinical.SurgeryEvent) int {
	dates := make(map[string]bool)
	undated := 0
	for _, ev := range TumorResections(events) {
		if ev.Date == nil {
			undated++
			continue
		}
		dates[ev.DateString()] = true
	}
	return len(dates) + undated
}

// SurgicalEncounter groups procedures performed in one operative episode.
type SurgicalEncounter struct {
	Date          string                  `json:"date"`
	EncounterRefs []string                `json:"encounter_refs,omitempty"`
	Events        []clinical.SurgeryEvent `json:"events"`
}

// GroupSurgicalEncounters groups tumor resections that share an encounter
// reference or fall within windowDays of the first procedure of a group.
// A window of zero groups same-day procedures only.
func GroupSurgicalEncounters(events []clinical.SurgeryEvent, windowDays int) []SurgicalEncounter {
	resections := TumorResections(events)
	sort.SliceStable(resections, func(i, j int) bool {
		a, b := resections[i], resections[j]
		if (a.Date == nil) != (b.Date == nil) {
			return a.Date != nil
		}
		if a.Date != nil && !a.Date.Equal(*b.Date) {
			return a.Date.Before(*b.Date)
		}
		return a.ID < b.ID
	})

	var groups []SurgicalEncounter
	byRef := make(map[string]int)
	for _, ev := range resections {
		idx := -1
		if ev.EncounterRef != "" {
			if i, ok := byRef[ev.EncounterRef]; ok {
				idx = i
			}
		}
		if idx < 0 && ev.Date != nil && len(groups) > 0 {
			last := len(groups) - 1
			first := groups[last].Events[0]
			if first.Date != nil && int(ev.Date.Sub(*first.Date).Hours()/24) <= windowDays {
				idx = last
			}
		}
		if idx < 0 {
			groups = append(groups, SurgicalEncounter{Date: ev.DateString()})
			idx = len(groups) - 1
		}
		g := &groups[idx]
		g.Events = append(g.Events, ev)
		if ev.EncounterRef != "" {
			if _, ok := byRef[ev.EncounterRef]; !ok {
				byRef[ev.EncounterRef] = idx
				g.EncounterRefs = append(g.EncounterRefs, ev.EncounterRef)
			}
		}
	}
	return groups
}
