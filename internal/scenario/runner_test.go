package scenario

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mast-uitest/internal/config"
)

const region = "xpath=/html/region"

func newTestRunner(d *fakeDriver, hosts ...string) (*Runner, *[]time.Duration) {
	var slept []time.Duration
	r := &Runner{
		Driver:         d,
		Address:        "http://console:5555/",
		Delay:          time.Second,
		ElementTimeout: 20 * time.Millisecond,
		ResultTimeout:  30 * time.Millisecond,
		PollInterval:   time.Millisecond,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	for _, h := range hosts {
		r.Appliances = append(r.Appliances, config.Appliance{Hostname: h, Username: "admin", Password: "pw"})
	}
	return r, &slept
}

func mustParse(t *testing.T, doc string) *Manifest {
	t.Helper()
	m, err := Parse([]byte("name: test\ndescription: test run\nregions:\n  system: {xpath: /html/region}\n" + doc))
	require.NoError(t, err)
	return m
}

// serveForm makes the form present and has its submit button render output
// into the result region.
func serveForm(d *fakeDriver, form, output string) {
	d.present["name="+form] = true
	d.onClick["name="+form+" > id=systemFormSubmit"] = func(d *fakeDriver) {
		d.present[region] = true
		d.texts[region] = output
	}
	d.onClick[region+" > class=output_close"] = func(d *fakeDriver) {
		d.present[region] = false
	}
}

const listDomains = `
  - name: list domains
    action: form
    tab: system
    open: list domains
    form: {name: list_domains}
    fields:
      - {op: check, name: no_check_hostname}
    submit: systemFormSubmit
    expect_hostnames: true
    expect: [All, default]
`

func TestRunner_FormStep_Passes(t *testing.T) {
	d := newFakeDriver()
	serveForm(d, "list_domains", "dp1\ndp2\nAll\ndefault\n")
	r, _ := newTestRunner(d, "dp1", "dp2")

	rep, err := r.Run(context.Background(), mustParse(t, "steps:"+listDomains))
	require.NoError(t, err)
	require.Equal(t, "http://console:5555/", d.navigated)
	require.Len(t, rep.Steps, 1)
	require.Equal(t, StatusPassed, rep.Steps[0].Status, rep.Steps[0].Failures)
	require.Equal(t, "dp1\ndp2\nAll\ndefault\n", rep.Steps[0].Output)
	require.Equal(t, Summary{Total: 1, Passed: 1}, rep.Summary)
	require.False(t, rep.Failed())

	require.True(t, d.called("click", "link=system"))
	require.True(t, d.called("click", "id=list domains"))
	require.True(t, d.called("check", "name=list_domains > name=no_check_hostname"))
	require.True(t, d.called("click", region+" > class=output_close"))
	require.False(t, d.present[region], "result region should be closed")
}

func TestRunner_FormStep_MissingSubstring(t *testing.T) {
	d := newFakeDriver()
	serveForm(d, "list_domains", "dp1\nAll\n")
	r, _ := newTestRunner(d, "dp1", "dp2")

	rep, err := r.Run(context.Background(), mustParse(t, "steps:"+listDomains))
	require.NoError(t, err)
	res := rep.Steps[0]
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, []string{"'dp2' not found in results", "'default' not found in results"}, res.Failures)
	// The region is closed even when the check fails.
	require.True(t, d.called("click", region+" > class=output_close"))
	require.True(t, rep.Failed())
}

func TestRunner_FormStep_NoResults(t *testing.T) {
	d := newFakeDriver()
	d.present["name=list_domains"] = true
	r, _ := newTestRunner(d, "dp1")

	rep, err := r.Run(context.Background(), mustParse(t, "steps:"+listDomains))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rep.Steps[0].Status)
	require.Len(t, rep.Steps[0].Failures, 1)
	require.Contains(t, rep.Steps[0].Failures[0], "no results")
	require.Contains(t, rep.Steps[0].Failures[0], ErrTimeout.Error())
	require.False(t, d.called("click", region+" > class=output_close"))
}

func TestRunner_FormStep_EmptyResultsClosesRegion(t *testing.T) {
	d := newFakeDriver()
	d.present["name=list_domains"] = true
	d.present[region] = true
	d.texts[region] = "  \n"
	d.present[region+" > class=output_close"] = true
	r, _ := newTestRunner(d, "dp1")

	rep, err := r.Run(context.Background(), mustParse(t, "steps:"+listDomains))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rep.Steps[0].Status)
	require.Contains(t, rep.Steps[0].Failures[0], "no results")
	require.True(t, d.called("click", region+" > class=output_close"))
}

func TestRunner_FormStep_Fields(t *testing.T) {
	d := newFakeDriver()
	d.present["name=add_group"] = true
	d.onClick["name=add_group > id=accountsFormSubmit"] = func(d *fakeDriver) {
		d.present[region] = true
		d.texts[region] = "dp1 Succeeded"
	}
	r, _ := newTestRunner(d, "dp1", "dp2")
	m := mustParse(t, `steps:
  - name: add group
    action: form
    tab: system
    open: add group
    form: {name: add_group}
    fields:
      - {op: type, name: name, value: demoRO}
      - {op: fill, name: location, value: "pubcert:"}
      - {op: select, class: multiSelect, value: demo}
      - {op: check_all, css: "input[type=checkbox]"}
      - {op: click_all, class: toggle}
      - op: add_each
        class: multiTextTextbox
        values_from: appliances
        button: {class: multiTextButton}
      - op: add_each
        xpath: /html/port
        values: ["22", "5550"]
        button: {xpath: /html/add}
    submit: accountsFormSubmit
    expect: [Succeeded]
`)
	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, rep.Steps[0].Status, rep.Steps[0].Failures)

	want := []string{
		"keys name=add_group > name=name demoRO",
		"clear name=add_group > name=location",
		"keys name=add_group > name=location pubcert:",
		"select name=add_group > class=multiSelect demo",
		"check_all name=add_group > css=input[type=checkbox]",
		"click_all name=add_group > class=toggle",
		"keys name=add_group > class=multiTextTextbox dp1",
		"click name=add_group > class=multiTextButton",
		"keys name=add_group > class=multiTextTextbox dp2",
		"click name=add_group > class=multiTextButton",
		"keys xpath=/html/port 22",
		"click xpath=/html/add",
		"keys xpath=/html/port 5550",
		"click xpath=/html/add",
		"click name=add_group > id=accountsFormSubmit",
	}
	var got []string
	for _, c := range d.calls {
		if strings.Contains(c, "add_group") || strings.Contains(c, "/html/port") || strings.Contains(c, "/html/add") {
			got = append(got, c)
		}
	}
	require.Equal(t, want, got)
}

func TestRunner_RejectAndSameAs(t *testing.T) {
	d := newFakeDriver()
	outputs := []string{"dp1\nAll\ndefault\ndemo\n", "dp1\nAll\ndefault\n"}
	d.present["name=list_domains"] = true
	d.onClick["name=list_domains > id=systemFormSubmit"] = func(d *fakeDriver) {
		d.present[region] = true
		d.texts[region] = outputs[0]
		outputs = outputs[1:]
	}
	r, _ := newTestRunner(d, "dp1")
	m := mustParse(t, `steps:
  - name: first
    action: form
    tab: system
    form: {name: list_domains}
    submit: systemFormSubmit
    expect: [All]
  - name: second
    action: form
    form: {name: list_domains}
    submit: systemFormSubmit
    expect: [All]
    reject: [demo]
    same_as: first
`)
	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, rep.Steps[0].Status)
	require.Equal(t, StatusFailed, rep.Steps[1].Status)
	require.Equal(t, []string{`"demo" was in "first" but not here`}, rep.Steps[1].Failures)
}

func TestRunner_SameAs_Identical(t *testing.T) {
	d := newFakeDriver()
	serveForm(d, "list_domains", "dp1\nAll\ndefault\ndemo\n")
	r, _ := newTestRunner(d, "dp1")
	m := mustParse(t, "steps:"+listDomains+`
  - name: again
    action: form
    open: list domains
    form: {name: list_domains}
    submit: systemFormSubmit
    same_as: list domains
`)
	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, Summary{Total: 2, Passed: 2}, rep.Summary)
}

const titleAndTabs = `steps:
  - name: page title
    action: title
    expect: [M.A.S.T. for DP]
  - name: tabs
    action: present
    elements: [{link: system}, {link: ssh}]
`

func TestRunner_ContinuesAfterFailure(t *testing.T) {
	d := newFakeDriver()
	d.title = "Welcome"
	d.present["link=system"] = true
	r, slept := newTestRunner(d, "dp1")

	rep, err := r.Run(context.Background(), mustParse(t, titleAndTabs))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rep.Steps[0].Status)
	require.Equal(t, []string{`Page title not valid! expected "M.A.S.T. for DP", got "Welcome"`}, rep.Steps[0].Failures)
	require.Equal(t, StatusFailed, rep.Steps[1].Status)
	require.Equal(t, []string{"link=ssh not found!"}, rep.Steps[1].Failures)
	require.Equal(t, "1 of 2 elements present", rep.Steps[1].Output)
	require.Equal(t, Summary{Total: 2, Failed: 2}, rep.Summary)
	require.Equal(t, []time.Duration{time.Second}, *slept)
}

func TestRunner_FailFast(t *testing.T) {
	d := newFakeDriver()
	d.title = "Welcome"
	r, _ := newTestRunner(d, "dp1")
	r.FailFast = true

	rep, err := r.Run(context.Background(), mustParse(t, titleAndTabs))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rep.Steps[0].Status)
	require.Equal(t, StatusSkipped, rep.Steps[1].Status)
	require.Equal(t, Summary{Total: 2, Failed: 1, Skipped: 1}, rep.Summary)
}

func TestRunner_AllTabsPresent(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)
	m.Steps = m.Steps[2:3]

	for _, hosts := range [][]string{{"dp1"}, {"dp1", "dp2", "dp3"}} {
		d := newFakeDriver()
		for _, tab := range []string{"accounts", "backups", "crypto", "deployment", "developer", "network", "ssh", "status", "system"} {
			d.present["link="+tab] = true
		}
		r, _ := newTestRunner(d, hosts...)
		rep, err := r.Run(context.Background(), m)
		require.NoError(t, err)
		require.Equal(t, StatusPassed, rep.Steps[0].Status)
		require.Equal(t, "9 of 9 elements present", rep.Steps[0].Output)
	}
}

func TestRunner_AddAppliances(t *testing.T) {
	d := newFakeDriver()
	// Only dp1 shows up in the appliance list after Add.
	d.onClick["id=addAppliance"] = func(d *fakeDriver) {
		if d.values["name=hostname"] == "dp1" {
			d.present["id=dp1"] = true
		}
	}
	r, _ := newTestRunner(d, "dp1", "dp2")
	m := mustParse(t, "steps:\n  - {name: add appliances, action: add_appliances}\n")

	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	res := rep.Steps[0]
	require.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Failures, 1)
	require.Contains(t, res.Failures[0], "appliance dp2")
	require.Contains(t, res.Failures[0], "id=dp2")
	require.Equal(t, "added 1 of 2 appliances", res.Output)

	require.True(t, d.called("clear", "name=hostname"))
	require.True(t, d.called("keys", "name=password"))
	require.True(t, d.called("check", "name=global_no_check_hostname"))
}

func TestRunner_Terminal(t *testing.T) {
	d := newFakeDriver()
	exits := 0
	d.onClick["name=sshCommandButton"] = func(d *fakeDriver) {
		cmd := d.values["name=sshCommand"]
		d.values["name=sshCommand"] = ""
		for _, h := range []string{"dp1", "dp2"} {
			key := "name=textarea_" + h
			d.present[key] = true
			d.values[key] += h + "# " + cmd + "\n"
		}
		if cmd == "exit" {
			exits++
			if exits == 2 {
				d.values["name=textarea_dp1"] += "Goodbye.\n"
				d.values["name=textarea_dp2"] += "Goodbye.\n"
			}
		}
	}
	r, _ := newTestRunner(d, "dp1", "dp2")
	m := mustParse(t, `steps:
  - name: ssh
    action: terminal
    tab: ssh
    input: {name: sshCommand}
    button: {name: sshCommandButton}
    transcript_prefix: textarea_
    commands: [show clock, config, exit, exit]
    expect: [show clock, config, exit, Goodbye.]
`)
	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	res := rep.Steps[0]
	require.Equal(t, StatusPassed, res.Status, res.Failures)
	require.Contains(t, res.Output, "== dp1 ==\ndp1# show clock\n")
	require.Contains(t, res.Output, "== dp2 ==\n")
	require.True(t, d.called("click", "link=ssh"))
}

func TestRunner_Terminal_WaitsForSlowAppliance(t *testing.T) {
	d := newFakeDriver()
	d.onClick["name=sshCommandButton"] = func(d *fakeDriver) {
		cmd := d.values["name=sshCommand"]
		d.values["name=sshCommand"] = ""
		for _, h := range []string{"dp1", "dp2"} {
			key := "name=textarea_" + h
			d.present[key] = true
			d.values[key] += h + "# " + cmd + "\n"
		}
	}
	// dp2 prints its farewell only on the second read after the script.
	reads := 0
	d.onValue["name=textarea_dp1"] = func(d *fakeDriver) {
		if strings.HasSuffix(d.values["name=textarea_dp1"], "exit\n") {
			d.values["name=textarea_dp1"] += "Goodbye.\n"
		}
	}
	d.onValue["name=textarea_dp2"] = func(d *fakeDriver) {
		reads++
		if reads == 2 {
			d.values["name=textarea_dp2"] += "Goodbye.\n"
		}
	}
	r, _ := newTestRunner(d, "dp1", "dp2")
	m := mustParse(t, `steps:
  - name: ssh
    action: terminal
    input: {name: sshCommand}
    button: {name: sshCommandButton}
    transcript_prefix: textarea_
    commands: [exit]
    expect: [exit, Goodbye.]
`)
	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	res := rep.Steps[0]
	require.Equal(t, StatusPassed, res.Status, res.Failures)
	require.Contains(t, res.Output, "== dp2 ==\ndp2# exit\nGoodbye.\n")
	require.GreaterOrEqual(t, reads, 2)
}

func TestRunner_Terminal_ReportsMissingAfterBound(t *testing.T) {
	d := newFakeDriver()
	d.onClick["name=sshCommandButton"] = func(d *fakeDriver) {
		d.present["name=textarea_dp1"] = true
		d.values["name=textarea_dp1"] += "dp1# exit\n"
	}
	r, _ := newTestRunner(d, "dp1", "dp2")
	m := mustParse(t, `steps:
  - name: ssh
    action: terminal
    input: {name: sshCommand}
    button: {name: sshCommandButton}
    transcript_prefix: textarea_
    commands: [exit]
    expect: [Goodbye.]
`)
	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	res := rep.Steps[0]
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, []string{
		"dp1: 'Goodbye.' not found in transcript",
		"no transcript for appliance dp2",
	}, res.Failures)
}

func TestRunner_RecordsPageExceptions(t *testing.T) {
	d := newFakeDriver()
	d.title = "M.A.S.T. for DP"
	d.exceptions = []string{"old: before the step"}
	d.onClick["link=status"] = func(d *fakeDriver) {
		d.exceptions = append(d.exceptions, "TypeError: x is undefined")
	}
	d.present["id=pane"] = true
	r, _ := newTestRunner(d, "dp1")
	m := mustParse(t, `steps:
  - {name: page title, action: title, expect: [M.A.S.T.]}
  - {name: pane, action: present, tab: status, elements: [pane]}
`)
	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	require.Empty(t, rep.Steps[0].PageExceptions)
	require.Equal(t, []string{"TypeError: x is undefined"}, rep.Steps[1].PageExceptions)
	require.Equal(t, StatusPassed, rep.Steps[1].Status)
}

func TestRunner_Terminal_NoAnswer(t *testing.T) {
	d := newFakeDriver()
	r, _ := newTestRunner(d, "dp1")
	m := mustParse(t, `steps:
  - name: ssh
    action: terminal
    input: {name: sshCommand}
    button: {name: sshCommandButton}
    transcript_prefix: textarea_
    commands: [show clock, exit]
    expect: [Goodbye.]
`)
	rep, err := r.Run(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rep.Steps[0].Status)
	require.Contains(t, rep.Steps[0].Failures[0], "terminal never answered")
}

func TestRunner_ScreenshotOnFailure(t *testing.T) {
	d := newFakeDriver()
	d.title = "Other"
	r, _ := newTestRunner(d, "dp1")
	r.ScreenshotDir = t.TempDir()

	rep, err := r.Run(context.Background(), mustParse(t, "steps:\n  - {name: page title, action: title, expect: [M.A.S.T.]}\n"))
	require.NoError(t, err)
	p := rep.Steps[0].Screenshot
	require.NotEmpty(t, p)
	require.True(t, strings.HasSuffix(p, "01-page_title.png"), p)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "\x89PNG fake", string(b))
}

func TestRunner_InteractionErrorFailsStep(t *testing.T) {
	d := newFakeDriver()
	d.failOn["link=system"] = errors.New("element not interactable")
	r, _ := newTestRunner(d, "dp1")

	rep, err := r.Run(context.Background(), mustParse(t, "steps:"+listDomains))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rep.Steps[0].Status)
	require.Equal(t, []string{"element not interactable"}, rep.Steps[0].Failures)
}

func TestRunner_NavigateError(t *testing.T) {
	d := newFakeDriver()
	d.navigateErr = errors.New("net::ERR_CONNECTION_REFUSED")
	r, _ := newTestRunner(d, "dp1")

	_, err := r.Run(context.Background(), mustParse(t, titleAndTabs))
	require.Error(t, err)
	require.Contains(t, err.Error(), "open console")
}

func TestRunner_CancelSkipsRemaining(t *testing.T) {
	d := newFakeDriver()
	d.title = "M.A.S.T. for DP"
	r, _ := newTestRunner(d, "dp1")
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	rep, err := r.Run(ctx, mustParse(t, titleAndTabs))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusPassed, rep.Steps[0].Status)
	require.Equal(t, StatusSkipped, rep.Steps[1].Status)
}

func TestNewRunner_FromConfig(t *testing.T) {
	cfg := &config.Config{
		Address:    "http://console",
		Appliances: []config.Appliance{{Hostname: "dp1"}},
		Delay:      0.5,
		Timeouts:   config.Timeouts{Element: time.Second, Result: 2 * time.Second, Poll: time.Millisecond},
	}
	r := NewRunner(newFakeDriver(), cfg)
	require.Equal(t, 500*time.Millisecond, r.Delay)
	require.Equal(t, 2*time.Second, r.ResultTimeout)
	require.Equal(t, []string{"dp1"}, r.hostnames())
}

func TestResultSet(t *testing.T) {
	require.Equal(t, []string{"All", "default", "dp1"}, resultSet("dp1\n  default \n\nAll\ndp1\n"))
	a, b := diffSets([]string{"x", "y"}, []string{"y", "z"})
	require.Equal(t, []string{"x"}, a)
	require.Equal(t, []string{"z"}, b)
}
