package overrides

import "testing"

func mustParse(t *testing.T, doc string) *Resolver {
	t.Helper()
	r, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return r
}

func TestResolver_MatchForFirstRuleWins(t *testing.T) {
	r := mustParse(t, sampleDocument)

	rule := r.MatchFor(9, "RFID Keypad")
	if rule == nil || rule.Index() != 1 {
		t.Fatalf("MatchFor() = %+v, want rule 1", rule)
	}
	if r.MatchFor(9, "rfid keypad") != nil {
		t.Error("name matching must be exact")
	}
	if r.MatchFor(42, "Unknown") != nil {
		t.Error("MatchFor() should return nil when nothing matches")
	}
}

func TestResolver_IncludeDecision(t *testing.T) {
	doc := `
defaults:
  include_all_if_no_filter: false
  global_generic_whitelist: [TEMPERATURE]
devices:
  - match: {eqlogic_id: 1}
    include:
      cmd_ids: [10]
      cmd_names: [Batterie]
  - match: {eqlogic_id: 2}
    device_name: no filter here
`
	r := mustParse(t, doc)
	withFilter := r.MatchFor(1, "")
	noFilter := r.MatchFor(2, "")

	tests := []struct {
		name       string
		cand       Candidate
		rule       *Rule
		want       bool
		wantReason Reason
	}{
		{"filter by id", Candidate{ID: 10, GenericType: "POWER"}, withFilter, true, ReasonFilter},
		{"filter by name", Candidate{ID: 11, Name: " Batterie "}, withFilter, true, ReasonFilter},
		{"filter is exclusive over whitelist", Candidate{ID: 12, GenericType: "TEMPERATURE"}, withFilter, false, ReasonFilter},
		{"no filter falls back to whitelist", Candidate{ID: 20, GenericType: "temperature"}, noFilter, true, ReasonWhitelist},
		{"whitelist rejects", Candidate{ID: 21, GenericType: "POWER"}, noFilter, false, ReasonWhitelist},
		{"no rule uses whitelist", Candidate{ID: 30, GenericType: ""}, nil, false, ReasonWhitelist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.IncludeDecision(tt.cand, tt.rule)
			if got.Include != tt.want || got.Reason != tt.wantReason {
				t.Errorf("IncludeDecision() = %+v, want include=%v reason=%s", got, tt.want, tt.wantReason)
			}
		})
	}

	if d := r.IncludeDecision(Candidate{ID: 12}, withFilter); !d.ExcludedByFilter() {
		t.Error("ExcludedByFilter() = false for a filter rejection")
	}
}

func TestResolver_IncludeAllWithoutFilter(t *testing.T) {
	r := mustParse(t, "devices:\n  - match: {eqlogic_id: 1}\n")

	for _, rule := range []*Rule{nil, r.MatchFor(1, "")} {
		d := r.IncludeDecision(Candidate{ID: 5, GenericType: "ANYTHING"}, rule)
		if !d.Include || d.Reason != ReasonIncludeAll {
			t.Errorf("IncludeDecision() = %+v, want include_all", d)
		}
	}
}

func TestResolver_OverrideForIndependentOfInclusion(t *testing.T) {
	r := mustParse(t, sampleDocument)

	// 5679 is outside the TEMPERATURE filter but its override still resolves.
	ov, ok := r.OverrideFor(1234, "", 5679)
	if !ok || ov.Inverted == nil || !*ov.Inverted {
		t.Errorf("OverrideFor() = %+v, %v", ov, ok)
	}
	if _, ok := r.OverrideFor(999, "", 5679); ok {
		t.Error("OverrideFor() on an unmatched device should report no override")
	}
}

func TestEmpty(t *testing.T) {
	r := Empty()
	d := r.IncludeDecision(Candidate{ID: 1}, r.MatchFor(1, "x"))
	if !d.Include {
		t.Error("Empty() must include everything")
	}
}
