package constraints

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"
)

//go:embed specs/*.json
var builtinSpecs embed.FS

const specSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["ltl_formulation", "System_Player"],
  "properties": {
    "ltl_formulation": {"type": "string", "minLength": 1},
    "System_Player": {"$ref": "#/definitions/player"},
    "Environment_Player": {"$ref": "#/definitions/player"},
    "Inputs": {"type": "array", "items": {"type": "string"}},
    "Outputs": {"type": "array", "items": {"type": "string"}}
  },
  "definitions": {
    "formulas": {
      "anyOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}}
      ]
    },
    "player": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "init": {"$ref": "#/definitions/formulas"},
        "safety": {"$ref": "#/definitions/formulas"},
        "prog": {"$ref": "#/definitions/formulas"}
      }
    }
  }
}`

var schema = jsonschema.MustCompileString("spec.schema.json", specSchema)

// SpecError reports a specification that could not be read or validated.
type SpecError struct {
	Path string
	Err  error
}

func (e *SpecError) Error() string {
	if e.Path == "" {
		return "constraint spec: " + e.Err.Error()
	}
	return fmt.Sprintf("constraint spec %s: %v", e.Path, e.Err)
}

func (e *SpecError) Unwrap() error { return e.Err }

// Formulas is a list of formulas that may be written as a single string.
type Formulas []string

// UnmarshalJSON accepts either a string or an array of strings.
func (f *Formulas) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = SplitConjunction(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = list
	return nil
}

// Player is one side of the game.
type Player struct {
	Name   string   `json:"name"`
	Init   Formulas `json:"init,omitempty"`
	Safety Formulas `json:"safety,omitempty"`
	Prog   Formulas `json:"prog,omitempty"`
}

// Spec is a reactive-synthesis game description.
type Spec struct {
	Path        string   `json:"-"`
	Formulation string   `json:"ltl_formulation"`
	System      Player   `json:"System_Player"`
	Environment *Player  `json:"Environment_Player,omitempty"`
	Inputs      []string `json:"Inputs,omitempty"`
	Outputs     []string `json:"Outputs,omitempty"`
}

// ParseSpec validates data against the spec schema and decodes it. All
// formula text is NFC-normalised so that composed and decomposed negation
// signs compare equal.
func ParseSpec(data []byte) (*Spec, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &SpecError{Err: err}
	}
	if err := schema.Validate(raw); err != nil {
		return nil, &SpecError{Err: err}
	}
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &SpecError{Err: err}
	}
	s.normalize()
	if len(s.Constraints()) == 0 {
		return nil, &SpecError{Err: fmt.Errorf("ltl_formulation %q has no constraints", s.Formulation)}
	}
	return &s, nil
}

// LoadSpec reads and parses a spec file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SpecError{Path: path, Err: err}
	}
	s, err := ParseSpec(data)
	if err != nil {
		if se, ok := err.(*SpecError); ok {
			se.Path = path
		}
		return nil, err
	}
	s.Path = path
	return s, nil
}

// BuiltinSpec returns the spec bundled for a scenario.
func BuiltinSpec(scenario string) (*Spec, error) {
	data, err := builtinSpecs.ReadFile("specs/" + scenario + ".json")
	if err != nil {
		return nil, &SpecError{Path: scenario, Err: fmt.Errorf("no built-in spec")}
	}
	s, err := ParseSpec(data)
	if err != nil {
		return nil, err
	}
	s.Path = "builtin:" + scenario
	return s, nil
}

// DiscoverSpecs returns the files matching a doublestar pattern such as
// "specs/**/*.json", sorted.
func DiscoverSpecs(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("bad spec glob %q", pattern)
	}
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *Spec) normalize() {
	s.Formulation = normalizeFormula(s.Formulation)
	normPlayer := func(p *Player) {
		p.Name = strings.TrimSpace(p.Name)
		for _, fs := range []Formulas{p.Init, p.Safety, p.Prog} {
			for i := range fs {
				fs[i] = normalizeFormula(fs[i])
			}
		}
	}
	normPlayer(&s.System)
	if s.Environment != nil {
		normPlayer(s.Environment)
	}
}

func normalizeFormula(f string) string {
	f = norm.NFC.String(f)
	return strings.Join(strings.Fields(f), " ")
}

// Constraints splits the formulation into named constraints. When the
// formulation is empty the system player's init, safety and progress lists
// are used instead.
func (s *Spec) Constraints() []Constraint {
	var out []Constraint
	for _, f := range SplitConjunction(s.Formulation) {
		out = append(out, NewConstraint(f))
	}
	if len(out) > 0 {
		return out
	}
	for _, f := range s.System.Init {
		out = append(out, Constraint{Name: atomName(f), Formula: f, Kind: KindInit})
	}
	for _, f := range s.System.Safety {
		out = append(out, Constraint{Name: atomName(f), Formula: wrap("G", f), Kind: KindSafety})
	}
	for _, f := range s.System.Prog {
		out = append(out, Constraint{Name: atomName(f), Formula: wrap("GF", f), Kind: KindProgress})
	}
	return out
}

func wrap(op, f string) string {
	if strings.HasPrefix(f, op+"(") {
		return f
	}
	return op + "(" + f + ")"
}

// NewConstraint classifies a single formula and names it after its first
// proposition.
func NewConstraint(formula string) Constraint {
	f := strings.TrimSpace(formula)
	kind := KindInit
	switch {
	case strings.HasPrefix(f, "GF(") || strings.HasPrefix(f, "F("):
		kind = KindProgress
	case strings.HasPrefix(f, "G("):
		kind = KindSafety
	}
	return Constraint{Name: atomName(f), Formula: f, Kind: kind}
}

// atomName returns the first identifier inside the formula's operators,
// e.g. "collision" for "G(¬collision)".
func atomName(f string) string {
	body := f
	if i := strings.IndexByte(f, '('); i >= 0 && isOperator(f[:i]) {
		body = f[i+1:]
	}
	start := -1
	for i, r := range body {
		ident := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
		if ident && start < 0 {
			start = i
		}
		if !ident && start >= 0 {
			return body[start:i]
		}
	}
	if start >= 0 {
		return body[start:]
	}
	return f
}

func isOperator(s string) bool {
	switch strings.TrimSpace(s) {
	case "G", "F", "GF", "X", "FG":
		return true
	}
	return false
}

// SplitConjunction splits a formula on "&" at parenthesis depth zero.
func SplitConjunction(f string) []string {
	var out []string
	depth, start := 0, 0
	emit := func(end int) {
		if part := strings.TrimSpace(f[start:end]); part != "" {
			out = append(out, part)
		}
	}
	for i, r := range f {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case '&':
			if depth == 0 {
				emit(i)
				start = i + 1
			}
		}
	}
	emit(len(f))
	return out
}
