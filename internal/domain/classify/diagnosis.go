package classify

import (
	"fmt"
	"strings"
	"time"
)

// DiagnosisDateSource names one candidate source for the diagnosis date.
type DiagnosisDateSource string

const (
	DiagnosisFromPathology DiagnosisDateSource = "pathology"
	DiagnosisFromSurgery   DiagnosisDateSource = "surgery"
	DiagnosisFromOnset     DiagnosisDateSource = "condition_onset"
	DiagnosisFromRecorded  DiagnosisDateSource = "condition_recorded"
)

// DefaultDiagnosisPriority is used when no priority is configured.
var DefaultDiagnosisPriority = []DiagnosisDateSource{
	DiagnosisFromPathology,
	DiagnosisFromSurgery,
	DiagnosisFromOnset,
	DiagnosisFromRecorded,
}

// ParseDiagnosisPriority parses a comma separated priority list.
func ParseDiagnosisPriority(s string) ([]DiagnosisDateSource, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultDiagnosisPriority, nil
	}
	var out []DiagnosisDateSource
	seen := make(map[DiagnosisDateSource]bool)
	for _, part := range strings.Split(s, ",") {
		src := DiagnosisDateSource(strings.ToLower(strings.TrimSpace(part)))
		switch src {
		case DiagnosisFromPathology, DiagnosisFromSurgery, DiagnosisFromOnset, DiagnosisFromRecorded:
		default:
			return nil, fmt.Errorf("unknown diagnosis date source %q", part)
		}
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out, nil
}

// DiagnosisDateCandidates holds the earliest date seen per source.
type DiagnosisDateCandidates map[DiagnosisDateSource]*time.Time

// Offer records d for src when it is earlier than the current candidate.
func (c DiagnosisDateCandidates) Offer(src DiagnosisDateSource, d *time.Time) {
	if d == nil {
		return
	}
	if cur, ok := c[src]; !ok || cur == nil || d.Before(*cur) {
		c[src] = d
	}
}

// ResolveDiagnosisDate returns the first available candidate in priority
// order, and the source it came from. Both are zero when nothing is dated.
func ResolveDiagnosisDate(priority []DiagnosisDateSource, candidates DiagnosisDateCandidates) (*time.Time, DiagnosisDateSource) {
	for _, src := range priority {
		if d := candidates[src]; d != nil {
			return d, src
		}
	}
	return nil, ""
}
