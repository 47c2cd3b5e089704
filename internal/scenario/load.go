package scenario

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios/datapower.yaml
var defaultManifest []byte

// Default returns the built-in console scenario.
func Default() (*Manifest, error) {
	return Parse(defaultManifest)
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest. Unknown keys are rejected so a
// misspelled field fails before the browser opens.
func Parse(b []byte) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the manifest statically, simulating tab changes so every
// form step has a result region.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("manifest.name is required")
	}
	if strings.TrimSpace(m.Description) == "" {
		return errors.New("manifest.description is required")
	}
	if len(m.Steps) == 0 {
		return errors.New("manifest.steps must not be empty")
	}
	for tab, t := range m.Regions {
		if _, err := t.Locator(); err != nil {
			return fmt.Errorf("regions[%s]: %w", tab, err)
		}
	}

	seen := make(map[string]Action, len(m.Steps))
	tab := ""
	for i := range m.Steps {
		s := &m.Steps[i]
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("steps[%d].name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("steps[%d]: duplicate step name %q", i, s.Name)
		}
		if s.Tab != "" {
			tab = s.Tab
		}
		if err := m.validateStep(s, tab, seen); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, s.Name, err)
		}
		seen[s.Name] = s.Action
	}
	return nil
}

func (m *Manifest) validateStep(s *Step, tab string, earlier map[string]Action) error {
	if s.Timeout != "" {
		if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("timeout %q must be a positive duration", s.Timeout)
		}
	}
	for _, t := range []*Target{s.Open, s.Form, s.Submit, s.Region, s.Close, s.Input, s.Button} {
		if t == nil {
			continue
		}
		if _, err := t.Locator(); err != nil {
			return err
		}
	}
	for j, f := range s.Before {
		if err := f.validate(); err != nil {
			return fmt.Errorf("before[%d]: %w", j, err)
		}
	}

	switch s.Action {
	case ActionTitle:
		if len(s.Expect) == 0 {
			return errors.New("title step needs expect")
		}
	case ActionAddAppliances:
	case ActionPresent:
		if len(s.Elements) == 0 {
			return errors.New("present step needs elements")
		}
		for j, t := range s.Elements {
			if _, err := t.Locator(); err != nil {
				return fmt.Errorf("elements[%d]: %w", j, err)
			}
		}
	case ActionForm:
		if s.Form == nil || s.Submit == nil {
			return errors.New("form step needs form and submit")
		}
		for j, f := range s.Fields {
			if err := f.validate(); err != nil {
				return fmt.Errorf("fields[%d]: %w", j, err)
			}
		}
		if s.Region == nil {
			if tab == "" {
				return errors.New("no region: no tab has been opened")
			}
			if _, ok := m.Regions[tab]; !ok {
				return fmt.Errorf("no region for tab %q", tab)
			}
		}
		if len(s.Expect) == 0 && len(s.Reject) == 0 && !s.ExpectHostnames && s.SameAs == "" {
			return errors.New("form step checks nothing (set expect, reject, expect_hostnames or same_as)")
		}
		if s.SameAs != "" {
			a, ok := earlier[s.SameAs]
			if !ok {
				return fmt.Errorf("same_as %q does not name an earlier step", s.SameAs)
			}
			if a != ActionForm {
				return fmt.Errorf("same_as %q is a %s step, not a form step", s.SameAs, a)
			}
		}
	case ActionTerminal:
		if len(s.Commands) == 0 {
			return errors.New("terminal step needs commands")
		}
		if s.Input == nil || s.Button == nil || s.TranscriptPrefix == "" {
			return errors.New("terminal step needs input, button and transcript_prefix")
		}
		if len(s.Expect) == 0 {
			return errors.New("terminal step needs expect")
		}
	case "":
		return errors.New("action is required")
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

func (f Field) validate() error {
	if _, err := f.Target.Locator(); err != nil {
		return err
	}
	switch f.Op {
	case OpType, OpFill, OpSelect:
		if f.Value == "" {
			return fmt.Errorf("%s on %s needs value", f.Op, f.Target)
		}
	case OpClick, OpCheck, OpClickAll, OpCheckAll:
	case OpAddEach:
		if f.Button == nil {
			return fmt.Errorf("add_each on %s needs button", f.Target)
		}
		if _, err := f.Button.Locator(); err != nil {
			return fmt.Errorf("add_each button: %w", err)
		}
		switch {
		case len(f.Values) > 0 && f.ValuesFrom != "":
			return errors.New("add_each takes values or values_from, not both")
		case len(f.Values) == 0 && f.ValuesFrom == "":
			return errors.New("add_each needs values or values_from")
		case f.ValuesFrom != "" && f.ValuesFrom != ValuesFromAppliances:
			return fmt.Errorf("unknown values_from %q", f.ValuesFrom)
		}
	case "":
		return fmt.Errorf("op is required for %s", f.Target)
	default:
		return fmt.Errorf("unknown op %q", f.Op)
	}
	return nil
}
