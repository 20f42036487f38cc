package prioritize

import (
	"sort"
	"time"

	"github.com/ehr/abstractor/internal/domain/clinical"
)

// Anchors collects the distinct event dates used for temporal proximity.
// Undated events contribute nothing.
func Anchors(events ...[]clinical.Event) []time.Time {
	seen := make(map[string]bool)
	var out []time.Time
	for _, group := range events {
		for _, ev := range group {
			if ev.Date == nil {
				continue
			}
			key := ev.DateString()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, *ev.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
