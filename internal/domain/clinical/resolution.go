package clinical

// Resolution is either a confident structured value or an explicit
// deferral to narrative extraction. A deferred Resolution never carries a
// value.
type Resolution struct {
	Value    string `json:"value,omitempty"`
	Deferred bool   `json:"deferred"`
	Reason   string `json:"reason,omitempty"`
}

// NarrativeRequired is rendered in place of deferred values.
const NarrativeRequired = "requires narrative"

// Known returns a confident Resolution.
func Known(v string) Resolution {
	return Resolution{Value: v}
}

// DeferToNarrative returns the sentinel Resolution with a reason.
func DeferToNarrative(reason string) Resolution {
	return Resolution{Deferred: true, Reason: reason}
}

// String renders the value, or NarrativeRequired when deferred.
func (r Resolution) String() string {
	if r.Deferred {
		return NarrativeRequired
	}
	return r.Value
}
