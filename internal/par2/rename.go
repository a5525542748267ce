package par2

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ReservedChars may not appear in a new file name. NUL is rejected as
// well since names are NUL padded on disk.
const ReservedChars = `\:*?"<>|`

var ErrInvalidRename = errors.New("invalid rename")

// Rule names the check a rejected edit failed.
type Rule string

const (
	RuleUnknownName  Rule = "unknown-name"
	RuleEmpty        Rule = "empty"
	RuleUnchanged    Rule = "unchanged"
	RuleReservedChar Rule = "reserved-char"
	RuleCollision    Rule = "collision"
)

// ValidationError reports a rejected rename.
type ValidationError struct {
	Rule     Rule
	Original string
	New      string
	// Char is the offending character for RuleReservedChar.
	Char rune
	// Conflict is the entry whose name clashes for RuleCollision.
	Conflict string
}

func (e *ValidationError) Error() string {
	switch e.Rule {
	case RuleUnknownName:
		return fmt.Sprintf("%q is not a file of this set", e.Original)
	case RuleEmpty:
		return fmt.Sprintf("new name for %q is empty", e.Original)
	case RuleUnchanged:
		return fmt.Sprintf("new name for %q is unchanged", e.Original)
	case RuleReservedChar:
		return fmt.Sprintf("new name %q contains reserved character %q", e.New, e.Char)
	case RuleCollision:
		return fmt.Sprintf("new name %q is already used by %q", e.New, e.Conflict)
	default:
		return fmt.Sprintf("rename %q to %q rejected", e.Original, e.New)
	}
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRename
}

// RenameEntry is one pending edit.
type RenameEntry struct {
	Original string `json:"from" yaml:"from"`
	New      string `json:"to" yaml:"to"`
}

// RenameMap holds the pending edits against the names of one set. It is
// not safe for concurrent use.
type RenameMap struct {
	names   []string
	known   map[string]struct{}
	pending map[string]string
}

// NewRenameMap starts an empty map over the names of an index.
func NewRenameMap(names []string) *RenameMap {
	m := &RenameMap{
		names:   append([]string(nil), names...),
		known:   make(map[string]struct{}, len(names)),
		pending: make(map[string]string),
	}
	for _, n := range names {
		m.known[n] = struct{}{}
	}
	return m
}

func (m *RenameMap) current(name string) string {
	if to, ok := m.pending[name]; ok {
		return to
	}
	return name
}

// Propose validates and records original -> newName, replacing any earlier
// edit of original. A rejected edit leaves the map unchanged.
func (m *RenameMap) Propose(original, newName string) error {
	if _, ok := m.known[original]; !ok {
		return &ValidationError{Rule: RuleUnknownName, Original: original, New: newName}
	}
	if newName == "" {
		return &ValidationError{Rule: RuleEmpty, Original: original}
	}
	if newName == original {
		return &ValidationError{Rule: RuleUnchanged, Original: original, New: newName}
	}
	if strings.IndexByte(newName, 0) >= 0 {
		return &ValidationError{Rule: RuleReservedChar, Original: original, New: newName, Char: 0}
	}
	if i := strings.IndexAny(newName, ReservedChars); i >= 0 {
		r := []rune(newName[i:])[0]
		return &ValidationError{Rule: RuleReservedChar, Original: original, New: newName, Char: r}
	}
	for _, other := range m.names {
		if other == original {
			continue
		}
		if m.current(other) == newName {
			return &ValidationError{Rule: RuleCollision, Original: original, New: newName, Conflict: other}
		}
	}
	m.pending[original] = newName
	return nil
}

// Revert drops the pending edit of original. It fails when another entry
// has since been renamed to original.
func (m *RenameMap) Revert(original string) error {
	if _, ok := m.pending[original]; !ok {
		return nil
	}
	for _, other := range m.names {
		if other != original && m.current(other) == original {
			return &ValidationError{Rule: RuleCollision, Original: original, New: original, Conflict: other}
		}
	}
	delete(m.pending, original)
	return nil
}

// Current returns the names as they would read after the rewrite, in index
// order.
func (m *RenameMap) Current() []string {
	out := make([]string, len(m.names))
	for i, n := range m.names {
		out[i] = m.current(n)
	}
	return out
}

// Entries returns the pending edits in index order.
func (m *RenameMap) Entries() []RenameEntry {
	var out []RenameEntry
	for _, n := range m.names {
		if to, ok := m.pending[n]; ok {
			out = append(out, RenameEntry{Original: n, New: to})
		}
	}
	return out
}

// IsDirty reports whether any name differs from its original.
func (m *RenameMap) IsDirty() bool {
	return len(m.pending) > 0
}

// Plan snapshots the pending edits for a rewrite of setID. Later edits to
// the map do not affect the plan.
func (m *RenameMap) Plan(setID SetID) RewritePlan {
	p := NewRewritePlan(setID, m.pending)
	p.known = make(map[string]struct{}, len(m.known))
	for n := range m.known {
		p.known[n] = struct{}{}
	}
	return p
}

// RewritePlan is the read-only set of renames applied to packets of one set.
type RewritePlan struct {
	SetID   SetID
	renames map[string]string
	known   map[string]struct{}
}

// NewRewritePlan builds a plan from explicit renames.
func NewRewritePlan(setID SetID, renames map[string]string) RewritePlan {
	p := RewritePlan{SetID: setID, renames: make(map[string]string, len(renames))}
	for from, to := range renames {
		if from != to && to != "" {
			p.renames[from] = to
		}
	}
	return p
}

// Lookup returns the new name for name, if one is pending.
func (p RewritePlan) Lookup(name string) (string, bool) {
	to, ok := p.renames[name]
	return to, ok
}

// Len returns the number of renames.
func (p RewritePlan) Len() int {
	return len(p.renames)
}

// Entries returns the renames sorted by original name.
func (p RewritePlan) Entries() []RenameEntry {
	out := make([]RenameEntry, 0, len(p.renames))
	for from, to := range p.renames {
		out = append(out, RenameEntry{Original: from, New: to})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Original < out[j].Original })
	return out
}

// knows reports whether name was recorded by the index the plan came from.
// Plans built without an index know every name.
func (p RewritePlan) knows(name string) bool {
	if p.known == nil {
		return true
	}
	_, ok := p.known[name]
	return ok
}
