package report

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		value []string
		want  Severity
	}{
		{[]string{"VIOLATION", "FAIL"}, Violation},
		{[]string{"VIOLATION", "POTENTIAL"}, NeedsReview},
		{[]string{"VIOLATION", "MANUAL"}, NeedsReview},
		{[]string{"RECOMMENDATION", "FAIL"}, Recommendation},
		{[]string{"RECOMMENDATION", "POTENTIAL"}, NeedsReview},
		{[]string{"VIOLATION", "PASS"}, Pass},
		{[]string{"INFORMATION", "FAIL"}, Pass},
		{nil, Pass},
	}
	for _, tt := range tests {
		if got := Classify(tt.value); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestReport_NumberedAndCounts(t *testing.T) {
	r := &Report{Results: []Item{
		{RuleID: "a", Value: []string{"VIOLATION", "FAIL"}, Index: 9},
		{RuleID: "b", Value: []string{"VIOLATION", "POTENTIAL"}},
		{RuleID: "c", Value: []string{"VIOLATION", "FAIL"}},
	}}
	n := r.Numbered()
	for i, it := range n.Results {
		if it.Index != i {
			t.Errorf("item %d: Index = %d", i, it.Index)
		}
	}
	if r.Results[0].Index != 9 {
		t.Fatal("Numbered mutated the source report")
	}
	want := map[Severity]int{Violation: 2, NeedsReview: 1}
	if diff := cmp.Diff(want, r.Counts()); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestReport_Clone(t *testing.T) {
	r := &Report{TabID: 3, TabURL: "https://a.test/", Results: []Item{
		{RuleID: "img_alt", Path: Path{DOM: "/html[1]/body[1]/img[1]"}, Value: []string{"VIOLATION", "FAIL"}},
	}}
	c := r.Clone()
	if diff := cmp.Diff(r, c); diff != "" {
		t.Fatalf("clone mismatch (-want +got):\n%s", diff)
	}
	c.Results[0].Value[0] = "PASS"
	if r.Results[0].Value[0] != "VIOLATION" {
		t.Fatal("clone shares item values with the source")
	}
	var nilReport *Report
	if nilReport.Clone() != nil {
		t.Fatal("nil clone should be nil")
	}
}

func TestCheckOptionFor(t *testing.T) {
	archives := []Archive{{
		ID: "latest", Name: "Latest deployment",
		Policies: []Policy{{ID: "IBM_Accessibility", Name: "IBM Accessibility"}},
	}}
	opt, err := CheckOptionFor(archives, "latest", "IBM_Accessibility")
	if err != nil {
		t.Fatal(err)
	}
	want := &CheckOption{
		Deployment: Ref{ID: "latest", Name: "Latest deployment"},
		Guideline:  Ref{ID: "IBM_Accessibility", Name: "IBM Accessibility"},
	}
	if diff := cmp.Diff(want, opt); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if _, err := CheckOptionFor(archives, "2020", "IBM_Accessibility"); err == nil {
		t.Fatal("expected unknown archive error")
	}
	if _, err := CheckOptionFor(archives, "latest", "WCAG_2_0"); err == nil {
		t.Fatal("expected unknown policy error")
	}
}

func TestCheckpointFor(t *testing.T) {
	rulesets := []Ruleset{
		{ID: "IBM_Accessibility", Checkpoints: []Checkpoint{
			{Num: "1.1.1", Rules: []RuleRef{{ID: "img_alt"}}},
			{Num: "4.1.2", Rules: []RuleRef{{ID: "aria_role"}}},
		}},
		{ID: "WCAG_2_1", Checkpoints: []Checkpoint{
			{Num: "9.9.9", Rules: []RuleRef{{ID: "img_alt"}}},
		}},
	}
	cp := CheckpointFor(rulesets, "IBM_Accessibility", "img_alt")
	if cp == nil || cp.Num != "1.1.1" {
		t.Fatalf("got %+v, want 1.1.1", cp)
	}
	if CheckpointFor(rulesets, "IBM_Accessibility", "nope") != nil {
		t.Fatal("want nil for unmapped rule")
	}
}
