package scenario

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Status is the outcome of one step.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StepResult records the outcome of a single step.
type StepResult struct {
	Name       string        `yaml:"name"`
	Action     Action        `yaml:"action"`
	Status     Status        `yaml:"status"`
	Failures   []string      `yaml:"failures,omitempty"`
	Output     string        `yaml:"output,omitempty"`
	Duration   time.Duration `yaml:"duration"`
	Screenshot string        `yaml:"screenshot,omitempty"`
	// PageExceptions are uncaught page errors raised while the step ran.
	// They are recorded, not treated as failures.
	PageExceptions []string `yaml:"page_exceptions,omitempty"`
}

func (r *StepResult) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Error(msg)
	r.Failures = append(r.Failures, msg)
}

type Summary struct {
	Total   int `yaml:"total"`
	Passed  int `yaml:"passed"`
	Failed  int `yaml:"failed"`
	Skipped int `yaml:"skipped"`
}

// Report is the structured result of one run.
type Report struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Address     string       `yaml:"address"`
	Appliances  []string     `yaml:"appliances"`
	Generated   string       `yaml:"generated"`
	Steps       []StepResult `yaml:"steps"`
	Summary     Summary      `yaml:"summary"`
}

func newReport(m *Manifest, address string, hostnames []string) *Report {
	return &Report{
		Name:        m.Name,
		Description: m.Description,
		Address:     address,
		Appliances:  hostnames,
		Generated:   time.Now().Format(time.RFC3339),
		Steps:       make([]StepResult, 0, len(m.Steps)),
	}
}

func (r *Report) summarize() {
	r.Summary = Summary{Total: len(r.Steps)}
	for _, s := range r.Steps {
		switch s.Status {
		case StatusPassed:
			r.Summary.Passed++
		case StatusFailed:
			r.Summary.Failed++
		case StatusSkipped:
			r.Summary.Skipped++
		}
	}
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	return r.Summary.Failed > 0
}

// WriteYAML serializes the report with two-space indentation.
func WriteYAML(w io.Writer, r *Report) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		_ = enc.Close()
		return err
	}
	_ = enc.Close()
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(buf.Bytes()); err != nil {
		return err
	}
	return bw.Flush()
}
