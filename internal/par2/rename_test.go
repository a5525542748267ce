package par2

import (
	"errors"
	"strings"
	"testing"
)

func TestProposeRejects(t *testing.T) {
	tests := []struct {
		name     string
		original string
		newName  string
		rule     Rule
	}{
		{name: "empty", original: "a.txt", newName: "", rule: RuleEmpty},
		{name: "unchanged", original: "a.txt", newName: "a.txt", rule: RuleUnchanged},
		{name: "pending target", original: "a.txt", newName: "x.txt", rule: RuleCollision},
		{name: "existing name", original: "a.txt", newName: "c.txt", rule: RuleCollision},
		{name: "unknown original", original: "z.txt", newName: "q.txt", rule: RuleUnknownName},
		{name: "trailing nul", original: "a.txt", newName: "c.txt\x00", rule: RuleReservedChar},
		{name: "embedded nul", original: "a.txt", newName: "a\x00b.txt", rule: RuleReservedChar},
	}
	for _, ch := range ReservedChars {
		tests = append(tests, struct {
			name     string
			original string
			newName  string
			rule     Rule
		}{name: "reserved " + string(ch), original: "a.txt", newName: "a" + string(ch) + ".txt", rule: RuleReservedChar})
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewRenameMap([]string{"a.txt", "b.txt", "c.txt"})
			if err := m.Propose("b.txt", "x.txt"); err != nil {
				t.Fatalf("setup Propose: %v", err)
			}
			before := strings.Join(m.Current(), ",")

			err := m.Propose(tc.original, tc.newName)
			if !errors.Is(err, ErrInvalidRename) {
				t.Fatalf("err = %v, want ErrInvalidRename", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Rule != tc.rule {
				t.Fatalf("rule = %v, want %v", verr, tc.rule)
			}
			if after := strings.Join(m.Current(), ","); after != before {
				t.Fatalf("map changed: %s -> %s", before, after)
			}
		})
	}
}

func TestProposeReplacesEarlierEdit(t *testing.T) {
	m := NewRenameMap([]string{"report.txt", "data.bin"})
	if m.IsDirty() {
		t.Fatalf("new map is dirty")
	}
	if err := m.Propose("data.bin", "first.csv"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if err := m.Propose("data.bin", "dataset.csv"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if got := strings.Join(m.Current(), ","); got != "report.txt,dataset.csv" {
		t.Fatalf("Current = %s", got)
	}
	entries := m.Entries()
	if len(entries) != 1 || entries[0] != (RenameEntry{Original: "data.bin", New: "dataset.csv"}) {
		t.Fatalf("Entries = %+v", entries)
	}
	// the freed name can now be taken by another entry
	if err := m.Propose("report.txt", "first.csv"); err != nil {
		t.Fatalf("Propose freed name: %v", err)
	}
	if !m.IsDirty() {
		t.Fatalf("IsDirty = false, want true")
	}
}

func TestRevertAndSwap(t *testing.T) {
	m := NewRenameMap([]string{"a", "b"})
	if err := m.Propose("a", "b"); err == nil {
		t.Fatalf("renaming onto an existing name should fail")
	}
	if err := m.Propose("a", "tmp"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if err := m.Propose("b", "a"); err != nil {
		t.Fatalf("Propose onto a renamed name: %v", err)
	}
	err := m.Revert("a")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Rule != RuleCollision || verr.Conflict != "b" {
		t.Fatalf("Revert onto a taken name = %v, want collision with b", err)
	}
	if err := m.Revert("b"); err != nil {
		t.Fatalf("Revert b: %v", err)
	}
	if err := m.Revert("a"); err != nil {
		t.Fatalf("Revert a: %v", err)
	}
	if got := strings.Join(m.Current(), ","); got != "a,b" {
		t.Fatalf("Current = %s", got)
	}
	if m.IsDirty() {
		t.Fatalf("IsDirty = true after reverting everything")
	}
}

func TestPlanIsSnapshot(t *testing.T) {
	m := NewRenameMap([]string{"data.bin"})
	if err := m.Propose("data.bin", "dataset.csv"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	plan := m.Plan(testSet)
	if err := m.Revert("data.bin"); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if to, ok := plan.Lookup("data.bin"); !ok || to != "dataset.csv" {
		t.Fatalf("Lookup = %q,%v after Revert", to, ok)
	}
	if plan.Len() != 1 || plan.SetID != testSet {
		t.Fatalf("plan = %+v", plan)
	}
	if !plan.knows("data.bin") || plan.knows("other") {
		t.Fatalf("plan known names wrong")
	}
}

func TestNewRewritePlanDropsNoops(t *testing.T) {
	plan := NewRewritePlan(testSet, map[string]string{"a": "a", "b": "", "c": "d"})
	entries := plan.Entries()
	if len(entries) != 1 || entries[0].Original != "c" {
		t.Fatalf("Entries = %+v", entries)
	}
}
