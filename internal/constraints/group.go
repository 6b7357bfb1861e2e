// Package constraints sequences replanning. Named constraints are grouped,
// each group carries a nominal and a recovery directive, and a Manager
// checks triggers, dispatches recovery routes and resets satisfied groups.
package constraints

import (
	"fmt"
	"strings"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
)

// Kind classifies a constraint by its temporal shape.
type Kind uint8

const (
	KindInit     Kind = iota // holds in the initial state
	KindSafety               // G(...)
	KindProgress             // GF(...) or F(...)
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindSafety:
		return "safety"
	case KindProgress:
		return "progress"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "init":
		*k = KindInit
	case "safety":
		*k = KindSafety
	case "progress":
		*k = KindProgress
	default:
		return fmt.Errorf("unknown constraint kind %q", b)
	}
	return nil
}

// Constraint is one named temporal formula.
type Constraint struct {
	Name    string `json:"name"`
	Formula string `json:"formula"`
	Kind    Kind   `json:"kind"`
}

// Directive is the conjunction a group is currently planning against.
type Directive struct {
	Name        string       `json:"name"`
	Constraints []Constraint `json:"constraints"`
	Relaxed     []string     `json:"relaxed,omitempty"` // constraint names dropped from the nominal set
}

// Formula renders the directive as one conjunction.
func (d Directive) Formula() string {
	parts := make([]string, len(d.Constraints))
	for i, c := range d.Constraints {
		parts[i] = c.Formula
	}
	return strings.Join(parts, " & ")
}

// Nominal is the "safe and progress" directive over every constraint.
func Nominal(cs []Constraint) Directive {
	return Directive{Name: "nominal", Constraints: append([]Constraint(nil), cs...)}
}

// Relax returns a recovery directive with every constraint of the given
// kinds removed. Safety constraints are never relaxed.
func Relax(name string, cs []Constraint, kinds ...Kind) Directive {
	d := Directive{Name: name}
	for _, c := range cs {
		drop := false
		for _, k := range kinds {
			if c.Kind == k && k != KindSafety {
				drop = true
				break
			}
		}
		if drop {
			d.Relaxed = append(d.Relaxed, c.Name)
			continue
		}
		d.Constraints = append(d.Constraints, c)
	}
	return d
}

// Group is an ordered set of constraints owned by agents of one role.
type Group struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	Owner        agents.Role  `json:"owner"`
	Constraints  []Constraint `json:"constraints"`
	ReplanFlag   bool         `json:"replan"`
	DispatchFlag bool         `json:"dispatch"`
	Current      Directive    `json:"current"`
	Original     Directive    `json:"original"`

	original []Constraint
}

// NewGroup builds a group whose current and original directives are the
// nominal conjunction of cs.
func NewGroup(id int, owner agents.Role, cs []Constraint) *Group {
	g := &Group{
		ID:          id,
		Owner:       owner,
		Constraints: append([]Constraint(nil), cs...),
		original:    append([]Constraint(nil), cs...),
	}
	g.Name = groupName(id, cs)
	g.Original = Nominal(cs)
	g.Current = g.Original
	return g
}

func groupName(id int, cs []Constraint) string {
	if len(cs) == 0 {
		return fmt.Sprintf("group-%d", id)
	}
	return fmt.Sprintf("group-%d:%s", id, cs[0].Name)
}

// Has reports whether the group's original constraints include name.
func (g *Group) Has(name string) bool {
	for _, c := range g.original {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Apply makes d the current directive.
func (g *Group) Apply(d Directive) {
	g.Current = d
	g.Constraints = append([]Constraint(nil), d.Constraints...)
}

// Reset restores the original directive and constraint list.
func (g *Group) Reset() {
	g.Current = g.Original
	g.Constraints = append([]Constraint(nil), g.original...)
	g.ReplanFlag = false
	g.DispatchFlag = false
}

// Relaxed reports whether the group is running something other than its
// original directive.
func (g *Group) Relaxed() bool { return g.Current.Name != g.Original.Name }

// Clone returns a deep copy.
func (g *Group) Clone() *Group {
	c := *g
	c.Constraints = append([]Constraint(nil), g.Constraints...)
	c.original = append([]Constraint(nil), g.original...)
	return &c
}

// Grouping selects how a flat constraint list is partitioned.
type Grouping string

const (
	// GroupGuard starts a new group at every safety constraint, so each
	// group is one guard followed by the progress goals it protects.
	GroupGuard Grouping = "guard"
	// GroupEach puts every constraint in its own group.
	GroupEach Grouping = "each"
)

// ParseGrouping validates a grouping name. Empty means GroupGuard.
func ParseGrouping(s string) (Grouping, error) {
	switch Grouping(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupGuard:
		return GroupGuard, nil
	case GroupEach:
		return GroupEach, nil
	}
	return "", fmt.Errorf("unknown grouping %q", s)
}

// BuildGroups partitions cs. Init constraints describe the starting state
// and are not grouped.
func BuildGroups(cs []Constraint, mode Grouping, owner agents.Role) []*Group {
	var out []*Group
	var cur []Constraint
	flush := func() {
		if len(cur) > 0 {
			out = append(out, NewGroup(len(out), owner, cur))
			cur = nil
		}
	}
	for _, c := range cs {
		if c.Kind == KindInit {
			continue
		}
		switch mode {
		case GroupEach:
			cur = []Constraint{c}
			flush()
		default:
			if c.Kind == KindSafety {
				flush()
			}
			cur = append(cur, c)
		}
	}
	flush()
	return out
}
