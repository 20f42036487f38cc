package extraction

import (
	"testing"

	"github.com/ehr/abstractor/internal/domain/clinical"
)

func strp(s string) *string { return &s }

func TestResolveDate(t *testing.T) {
	tests := []struct {
		name        string
		pointInTime *string
		periodStart *string
		want        string
		source      clinical.DateSource
	}{
		{"blank point falls back to period", strp(""), strp("2021-03-10T12:00:00Z"), "2021-03-10", clinical.DateFromPeriodStart},
		{"point in time wins", strp("2020-01-02"), strp("2021-03-10"), "2020-01-02", clinical.DateFromPointInTime},
		{"whitespace is blank", strp("   "), nil, "", clinical.DateAbsent},
		{"both nil", nil, nil, "", clinical.DateAbsent},
		{"both blank", strp(""), strp(""), "", clinical.DateAbsent},
		{"unparseable point", strp("unknown"), strp("2019-07-04 08:00:00"), "2019-07-04", clinical.DateFromPeriodStart},
		{"offset keeps written date", strp("2021-03-10T23:30:00-05:00"), nil, "2021-03-10", clinical.DateFromPointInTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, src := ResolveDate(tt.pointInTime, tt.periodStart)
			if src != tt.source {
				t.Errorf("source = %q, want %q", src, tt.source)
			}
			if clinical.FormatDate(got) != tt.want {
				t.Errorf("date = %q, want %q", clinical.FormatDate(got), tt.want)
			}
		})
	}
}

func TestParseDate_Blank(t *testing.T) {
	if d, ok := ParseDate(""); ok || d != nil {
		t.Fatalf("expected blank string to be absent, got %v", d)
	}
}
