// Package scenario loads UI scenario manifests and runs their steps, in order,
// against one browser session.
package scenario

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mast-uitest/internal/browser"
)

// Manifest is an ordered list of steps plus the result region of each console
// tab.
type Manifest struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Regions maps a tab's link text to the element its forms render their
	// results into.
	Regions map[string]Target `yaml:"regions,omitempty"`
	Steps   []Step            `yaml:"steps"`
}

// Action selects the executor for a step.
type Action string

const (
	ActionTitle         Action = "title"
	ActionAddAppliances Action = "add_appliances"
	ActionPresent       Action = "present"
	ActionForm          Action = "form"
	ActionTerminal      Action = "terminal"
)

// Step is one named UI interaction and its expectations.
type Step struct {
	Name   string `yaml:"name"`
	Action Action `yaml:"action"`

	// Tab is the link text of the console tab clicked before the step.
	Tab    string  `yaml:"tab,omitempty"`
	Open   *Target `yaml:"open,omitempty"`
	Form   *Target `yaml:"form,omitempty"`
	Fields []Field `yaml:"fields,omitempty"`
	Submit *Target `yaml:"submit,omitempty"`
	// Region overrides the tab's result region.
	Region *Target `yaml:"region,omitempty"`
	// Close defaults to the output_close control inside the region.
	Close *Target `yaml:"close,omitempty"`

	Expect []string `yaml:"expect,omitempty"`
	Reject []string `yaml:"reject,omitempty"`
	// ExpectHostnames requires every configured appliance hostname.
	ExpectHostnames bool `yaml:"expect_hostnames,omitempty"`
	// SameAs names an earlier step whose result set this step must reproduce.
	SameAs string `yaml:"same_as,omitempty"`

	Elements []Target `yaml:"elements,omitempty"`
	Before   []Field  `yaml:"before,omitempty"`

	Commands         []string `yaml:"commands,omitempty"`
	Input            *Target  `yaml:"input,omitempty"`
	Button           *Target  `yaml:"button,omitempty"`
	TranscriptPrefix string   `yaml:"transcript_prefix,omitempty"`

	// Timeout overrides the result wait for this step (Go duration).
	Timeout string `yaml:"timeout,omitempty"`
}

// FieldOp is an interaction applied to one form control.
type FieldOp string

const (
	OpType     FieldOp = "type"
	OpFill     FieldOp = "fill"
	OpSelect   FieldOp = "select"
	OpClick    FieldOp = "click"
	OpCheck    FieldOp = "check"
	OpClickAll FieldOp = "click_all"
	OpCheckAll FieldOp = "check_all"
	OpAddEach  FieldOp = "add_each"
)

// ValuesFromAppliances makes add_each type every configured hostname.
const ValuesFromAppliances = "appliances"

// Field is one interaction with a control, scoped to the step's form. The
// target keys (id, name, ...) sit on the field itself.
type Field struct {
	Op     FieldOp `yaml:"op"`
	Target Target  `yaml:"-"`
	Value  string  `yaml:"value,omitempty"`

	Values     []string `yaml:"values,omitempty"`
	ValuesFrom string   `yaml:"values_from,omitempty"`
	// Button is clicked after each value of an add_each.
	Button *Target `yaml:"button,omitempty"`
}

// Target names an element by exactly one strategy. In YAML a bare scalar is
// an id.
type Target struct {
	ID    string `yaml:"id,omitempty"`
	Name  string `yaml:"name,omitempty"`
	CSS   string `yaml:"css,omitempty"`
	XPath string `yaml:"xpath,omitempty"`
	Class string `yaml:"class,omitempty"`
	Link  string `yaml:"link,omitempty"`
}

var (
	targetKeys = []string{"id", "name", "css", "xpath", "class", "link"}
	fieldKeys  = append([]string{"op", "value", "values", "values_from", "button"}, targetKeys...)
)

// plainTarget decodes a target mapping without the scalar shorthand.
type plainTarget Target

func (t *Target) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*t = Target{ID: n.Value}
		return nil
	}
	if err := knownKeys(n, "target", targetKeys); err != nil {
		return err
	}
	return n.Decode((*plainTarget)(t))
}

func (f *Field) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: field must be a mapping", n.Line)
	}
	if err := knownKeys(n, "field", fieldKeys); err != nil {
		return err
	}
	var rest struct {
		Op         FieldOp  `yaml:"op"`
		Value      string   `yaml:"value"`
		Values     []string `yaml:"values"`
		ValuesFrom string   `yaml:"values_from"`
		Button     *Target  `yaml:"button"`
	}
	if err := n.Decode(&rest); err != nil {
		return err
	}
	var t plainTarget
	if err := n.Decode(&t); err != nil {
		return err
	}
	*f = Field{
		Op:         rest.Op,
		Target:     Target(t),
		Value:      rest.Value,
		Values:     rest.Values,
		ValuesFrom: rest.ValuesFrom,
		Button:     rest.Button,
	}
	return nil
}

// knownKeys rejects mapping keys outside allowed. Decoding through a node
// does not inherit the decoder's KnownFields setting.
func knownKeys(n *yaml.Node, what string, allowed []string) error {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if !slices.Contains(allowed, k.Value) {
			return fmt.Errorf("line %d: field %s not found in %s", k.Line, k.Value, what)
		}
	}
	return nil
}

func (t Target) strategies() int {
	n := 0
	for _, s := range []string{t.ID, t.Name, t.CSS, t.XPath, t.Class, t.Link} {
		if s != "" {
			n++
		}
	}
	return n
}

// Locator converts t to a browser locator.
func (t Target) Locator() (browser.Locator, error) {
	if n := t.strategies(); n != 1 {
		return browser.Locator{}, fmt.Errorf("target must set exactly one of id, name, css, xpath, class, link (got %d)", n)
	}
	switch {
	case t.ID != "":
		return browser.ID(t.ID), nil
	case t.Name != "":
		return browser.Name(t.Name), nil
	case t.CSS != "":
		return browser.CSS(t.CSS), nil
	case t.XPath != "":
		return browser.XPath(t.XPath), nil
	case t.Class != "":
		return browser.Class(t.Class), nil
	default:
		return browser.LinkText(t.Link), nil
	}
}

func (t Target) String() string {
	loc, err := t.Locator()
	if err != nil {
		return "<invalid target>"
	}
	return loc.String()
}

// resultTimeout returns the step's override or def.
func (s *Step) resultTimeout(def time.Duration) time.Duration {
	if s.Timeout == "" {
		return def
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Expected returns the substrings the step's output must contain.
func (s *Step) Expected(hostnames []string) []string {
	var out []string
	if s.ExpectHostnames {
		out = append(out, hostnames...)
	}
	return append(out, s.Expect...)
}

// Missing returns the entries of want that text does not contain, in order.
func Missing(text string, want []string) []string {
	var out []string
	for _, w := range want {
		if !strings.Contains(text, w) {
			out = append(out, w)
		}
	}
	return out
}

// Present returns the entries of reject that text contains, in order.
func Present(text string, reject []string) []string {
	var out []string
	for _, r := range reject {
		if strings.Contains(text, r) {
			out = append(out, r)
		}
	}
	return out
}
