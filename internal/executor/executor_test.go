package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ui-qa/internal/browser"
	"ui-qa/internal/config"
	"ui-qa/internal/executor"
	"ui-qa/internal/ir"
)

var chromium = config.Target{Name: "chromium", Engine: config.EngineChromium}

func analyzerPage() *fakePage {
	return &fakePage{
		title: "Gmail Storage Analyzer",
		dom: map[string]browser.ElementState{
			"h1": {Count: 1, Found: true, Text: "  Gmail Storage Analyzer ", Visible: true},
		},
	}
}

// signedInPage shows #mainSection only when the sign-in dialog is accepted.
func signedInPage(total string) func(int) *fakePage {
	return func(int) *fakePage {
		p := analyzerPage()
		p.dom[`button:has-text("Sign in with Google")`] = browser.ElementState{Count: 1, Found: true, Visible: true}
		p.onClick = map[string]func(c *fakeContext){
			`button:has-text("Sign in with Google")`: func(c *fakeContext) {
				if c.events.HandleDialog("confirm", "Use demo account?") {
					c.page.dom["#mainSection"] = browser.ElementState{Count: 1, Found: true, Visible: true}
					c.page.dom["#totalEmails"] = browser.ElementState{Count: 1, Found: true, Text: total, Visible: true}
				}
			},
		}
		return p
	}
}

func signIn() []ir.Action {
	return []ir.Action{
		{Type: ir.ActionNavigate, URL: "/"},
		{Type: ir.ActionDialog, Policy: ir.DialogAccept},
		{Type: ir.ActionClick, Selector: `button:has-text("Sign in with Google")`},
	}
}

func TestExecute_PageLoads(t *testing.T) {
	l := newFakeLauncher(staticPage(analyzerPage()))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:    "Page loads correctly",
		Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
		Assert: []ir.Assertion{
			{Type: ir.AssertTitleMatches, Pattern: "Gmail Storage Analyzer"},
			{Type: ir.AssertTextContains, Selector: "h1", Expected: "Gmail Storage Analyzer"},
		},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Passed || res.Attempts != 1 {
		t.Fatalf("want passed in 1 attempt, got %s/%d: %s", res.Outcome, res.Attempts, res.FailureReason)
	}
	if res.Artifacts != nil {
		t.Fatalf("passing run should carry no failure artifacts, got %+v", res.Artifacts)
	}
}

func TestExecute_SignInPopulatesData(t *testing.T) {
	l := newFakeLauncher(signedInPage("12,345"))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:    "Demo sign in works",
		Actions: signIn(),
		Waits:   []ir.Wait{{Type: ir.WaitVisible, Selector: "#mainSection", TimeoutMs: 500}},
		Assert:  []ir.Assertion{{Type: ir.AssertTextNotEquals, Selector: "#totalEmails", Expected: "0"}},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Passed {
		t.Fatalf("want passed, got %s: %s", res.Outcome, res.FailureReason)
	}
	dialogs := res.AttemptLog[0].Dialogs
	if len(dialogs) != 1 || !dialogs[0].Accepted {
		t.Fatalf("dialog should be accepted once, got %+v", dialogs)
	}
}

func TestExecute_SignInWithoutData_AssertionError(t *testing.T) {
	l := newFakeLauncher(signedInPage("0"))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:    "Demo sign in works",
		Actions: signIn(),
		Waits:   []ir.Wait{{Type: ir.WaitVisible, Selector: "#mainSection", TimeoutMs: 500}},
		Assert:  []ir.Assertion{{Type: ir.AssertTextNotEquals, Selector: "#totalEmails", Expected: "0"}},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Failed {
		t.Fatalf("want failed, got %s", res.Outcome)
	}
	var ae *executor.AssertionError
	if !errors.As(res.Err, &ae) {
		t.Fatalf("want AssertionError, got %T %v", res.Err, res.Err)
	}
	if ae.Selector != "#totalEmails" || ae.Expected != "≠0" || ae.Actual != "0" {
		t.Fatalf("unexpected assertion error: %+v", ae)
	}
	if res.ErrorKind != executor.KindAssertion {
		t.Fatalf("ErrorKind = %s", res.ErrorKind)
	}
}

func TestExecute_DialogDismissedByDefault(t *testing.T) {
	l := newFakeLauncher(signedInPage("100"))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name: "No handler registered",
		Actions: []ir.Action{
			{Type: ir.ActionNavigate, URL: "/"},
			{Type: ir.ActionClick, Selector: `button:has-text("Sign in with Google")`},
		},
		Waits: []ir.Wait{{Type: ir.WaitVisible, Selector: "#mainSection", TimeoutMs: 50}},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	var we *executor.WaitTimeoutError
	if !errors.As(res.Err, &we) {
		t.Fatalf("want WaitTimeoutError, got %v", res.Err)
	}
	if d := res.AttemptLog[0].Dialogs; len(d) != 1 || d[0].Accepted {
		t.Fatalf("dialog should be dismissed, got %+v", d)
	}
}

func TestExecute_LoadingNeverHides_WaitTimeoutWithScreenshot(t *testing.T) {
	page := analyzerPage()
	page.dom["#loadBtn"] = browser.ElementState{Count: 1, Found: true, Visible: true}
	page.dom["#loading"] = browser.ElementState{Count: 1, Found: true, Visible: true}
	l := newFakeLauncher(staticPage(page))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name: "Load data shows treemap",
		Actions: []ir.Action{
			{Type: ir.ActionNavigate, URL: "/"},
			{Type: ir.ActionClick, Selector: "#loadBtn"},
		},
		Waits:  []ir.Wait{{Type: ir.WaitHidden, Selector: "#loading", TimeoutMs: 50}},
		Assert: []ir.Assertion{{Type: ir.AssertVisible, Selector: ".treemap-block >> nth=0"}},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	var we *executor.WaitTimeoutError
	if !errors.As(res.Err, &we) {
		t.Fatalf("want WaitTimeoutError, got %T %v", res.Err, res.Err)
	}
	if we.Selector != "#loading" || we.Timeout != 50*time.Millisecond {
		t.Fatalf("unexpected wait error: %+v", we)
	}
	if res.Artifacts == nil || res.Artifacts.Screenshot == "" {
		t.Fatalf("want screenshot artifact, got %+v", res.Artifacts)
	}
	if _, err := os.Stat(res.Artifacts.Screenshot); err != nil {
		t.Fatalf("screenshot not on disk: %v", err)
	}
	if res.Artifacts.Video == "" {
		t.Fatalf("failed attempt should keep its recording")
	}
}

func exportPage(fires bool) func(int) *fakePage {
	return func(int) *fakePage {
		p := analyzerPage()
		p.dom[`button:has-text("Export CSV")`] = browser.ElementState{Count: 1, Found: true, Visible: true}
		p.onClick = map[string]func(c *fakeContext){
			`button:has-text("Export CSV")`: func(c *fakeContext) {
				if fires {
					emitDownload(c, "gmail_storage_analysis_2026-10-16.csv")
				}
			},
		}
		return p
	}
}

func exportScenario(listenFirst bool) ir.Scenario {
	listen := ir.Action{Type: ir.ActionDownload}
	click := ir.Action{Type: ir.ActionClick, Selector: `button:has-text("Export CSV")`}
	acts := []ir.Action{{Type: ir.ActionNavigate, URL: "/"}}
	if listenFirst {
		acts = append(acts, listen, click)
	} else {
		acts = append(acts, click, listen)
	}
	return ir.Scenario{
		Name:    "Export functionality works",
		Actions: acts,
		Assert:  []ir.Assertion{{Type: ir.AssertDownloadFilenameMatches, Pattern: `gmail_storage_analysis.*\.csv`}},
	}
}

func TestExecute_BrokenWaitIsActionError(t *testing.T) {
	page := analyzerPage()
	page.waitErr = map[string]error{"#mainSection": errors.New("SyntaxError: '#mainSection' is not a valid selector")}
	l := newFakeLauncher(staticPage(page))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:    "Wait fails fast",
		Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
		Waits:   []ir.Wait{{Type: ir.WaitVisible, Selector: "#mainSection", TimeoutMs: 1000}},
	}

	start := time.Now()
	res := r.Execute(context.Background(), l, sc, chromium)
	if elapsed := time.Since(start); elapsed >= 900*time.Millisecond {
		t.Fatalf("wait error should not run out the timeout, took %v", elapsed)
	}
	var we *executor.WaitTimeoutError
	if errors.As(res.Err, &we) {
		t.Fatalf("a failing wait is not a timeout: %v", res.Err)
	}
	var ae *executor.ActionError
	if !errors.As(res.Err, &ae) || ae.Action != "wait visible" || ae.Selector != "#mainSection" {
		t.Fatalf("want ActionError for wait visible, got %T %v", res.Err, res.Err)
	}
	if res.ErrorKind != executor.KindAction {
		t.Fatalf("ErrorKind = %s", res.ErrorKind)
	}
}

func TestExecute_ExportDownload(t *testing.T) {
	l := newFakeLauncher(exportPage(true))
	r := newRunner(t, testConfig(0), l)

	res := r.Execute(context.Background(), l, exportScenario(true), chromium)
	if res.Outcome != executor.Passed {
		t.Fatalf("want passed, got %s: %s", res.Outcome, res.FailureReason)
	}
	if res.Artifacts == nil || len(res.Artifacts.Downloads) != 1 {
		t.Fatalf("want the download path reported, got %+v", res.Artifacts)
	}
}

func TestExecute_NoDownload(t *testing.T) {
	cfg := testConfig(0)
	cfg.TimeoutMs = 100
	l := newFakeLauncher(exportPage(false))
	r := newRunner(t, cfg, l)

	sc := exportScenario(true)
	sc.TimeoutMs = 2000
	res := r.Execute(context.Background(), l, sc, chromium)

	var nd *executor.NoDownloadObservedError
	if !errors.As(res.Err, &nd) {
		t.Fatalf("want NoDownloadObservedError, got %T %v", res.Err, res.Err)
	}
	var we *executor.WaitTimeoutError
	if !errors.As(res.Err, &we) {
		t.Fatalf("NoDownloadObservedError should unwrap to WaitTimeoutError")
	}
	if res.ErrorKind != executor.KindNoDownload {
		t.Fatalf("ErrorKind = %s", res.ErrorKind)
	}
}

func TestExecute_ListenerAfterTriggerMissesDownload(t *testing.T) {
	cfg := testConfig(0)
	cfg.TimeoutMs = 100
	l := newFakeLauncher(exportPage(true))
	r := newRunner(t, cfg, l)

	sc := exportScenario(false)
	sc.TimeoutMs = 2000
	res := r.Execute(context.Background(), l, sc, chromium)

	var nd *executor.NoDownloadObservedError
	if !errors.As(res.Err, &nd) {
		t.Fatalf("a listener registered after the click must not see the download, got %v", res.Err)
	}
}

func TestExecute_ConsoleErrorsFiltered(t *testing.T) {
	tests := []struct {
		name    string
		console []string
		want    executor.Outcome
	}{
		{"only ignored errors", []string{"Invalid DSN YOUR_SENTRY_DSN", "gapi: YOUR_CLIENT_ID is not valid"}, executor.Passed},
		{"real error remains", []string{"YOUR_SENTRY_DSN", "TypeError: x is undefined"}, executor.Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := analyzerPage()
			page.console = tt.console
			l := newFakeLauncher(staticPage(page))
			r := newRunner(t, testConfig(0), l)

			sc := ir.Scenario{
				Name:    "No console errors on load",
				Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
				Waits:   []ir.Wait{{Type: ir.WaitNetworkIdle}},
				Assert: []ir.Assertion{{
					Type:   ir.AssertConsoleErrors,
					Ignore: []string{"YOUR_SENTRY_DSN", "YOUR_CLIENT_ID"},
				}},
			}
			res := r.Execute(context.Background(), l, sc, chromium)
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s (%s)", res.Outcome, tt.want, res.FailureReason)
			}
		})
	}
}

func TestExecute_FailedAttemptKeepsConsoleLog(t *testing.T) {
	page := analyzerPage()
	page.console = []string{"TypeError: x is undefined"}
	l := newFakeLauncher(staticPage(page))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:    "No console errors on load",
		Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
		Assert:  []ir.Assertion{{Type: ir.AssertConsoleErrors}},
	}
	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Failed {
		t.Fatalf("want failed, got %s", res.Outcome)
	}
	path := res.AttemptLog[0].ConsoleLog
	if path == "" || filepath.Base(path) != "console.log" {
		t.Fatalf("want console.log for the failed attempt, got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("console log not on disk: %v", err)
	}
	if !strings.Contains(string(data), "[error] TypeError: x is undefined") {
		t.Fatalf("console log = %q", data)
	}
	if res.Artifacts == nil || res.Artifacts.ConsoleLog != path {
		t.Fatalf("artifacts should point at the console log, got %+v", res.Artifacts)
	}
}

func TestExecute_PassingAttemptWritesNoConsoleLog(t *testing.T) {
	page := analyzerPage()
	page.console = []string{"Invalid DSN YOUR_SENTRY_DSN"}
	l := newFakeLauncher(staticPage(page))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:    "Noise is ignored",
		Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
		Assert:  []ir.Assertion{{Type: ir.AssertConsoleErrors, Ignore: []string{"YOUR_SENTRY_DSN"}}},
	}
	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Passed {
		t.Fatalf("want passed, got %s: %s", res.Outcome, res.FailureReason)
	}
	if res.AttemptLog[0].ConsoleLog != "" {
		t.Fatalf("passing attempts keep no console log, got %q", res.AttemptLog[0].ConsoleLog)
	}
}

func TestExecute_AssertionsFailFast(t *testing.T) {
	page := analyzerPage()
	page.dom["#first"] = browser.ElementState{Count: 1, Found: true, Text: "a"}
	page.dom["#third"] = browser.ElementState{Count: 1, Found: true, Text: "c"}
	l := newFakeLauncher(staticPage(page))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:    "fail fast",
		Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
		Assert: []ir.Assertion{
			{Type: ir.AssertTextEquals, Selector: "#first", Expected: "a"},
			{Type: ir.AssertCountGreaterThan, Selector: ".missing", N: 0},
			{Type: ir.AssertTextEquals, Selector: "#third", Expected: "c"},
		},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Failed {
		t.Fatalf("want failed, got %s", res.Outcome)
	}
	if got := l.queried("#third"); got != 0 {
		t.Fatalf("assertion after the failing one was evaluated %d times", got)
	}
}

func TestExecute_RetryBoundAndIsolation(t *testing.T) {
	l := newFakeLauncher(staticPage(analyzerPage()))
	r := newRunner(t, testConfig(2), l)

	sc := ir.Scenario{
		Name:    "always broken",
		Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
		Assert:  []ir.Assertion{{Type: ir.AssertTitleMatches, Pattern: "^Inbox$"}},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Failed || res.Attempts != 3 {
		t.Fatalf("want failed after 3 attempts, got %s/%d", res.Outcome, res.Attempts)
	}
	if got := l.opened.Load(); got != 3 {
		t.Fatalf("want one fresh context per attempt, opened %d", got)
	}
	if l.maxOpen.Load() != 1 || l.open.Load() != 0 {
		t.Fatalf("attempts overlapped or leaked: max open %d, still open %d", l.maxOpen.Load(), l.open.Load())
	}
}

func TestExecute_FlakyScenarioIsRetried(t *testing.T) {
	l := newFakeLauncher(func(n int) *fakePage {
		p := analyzerPage()
		if n == 1 {
			p.title = "Loading..."
		}
		return p
	})
	r := newRunner(t, testConfig(2), l)

	sc := ir.Scenario{
		Name:    "flaky title",
		Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
		Assert:  []ir.Assertion{{Type: ir.AssertTitleMatches, Pattern: "Gmail Storage Analyzer"}},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Retried || res.Attempts != 2 {
		t.Fatalf("want retried after 2 attempts, got %s/%d", res.Outcome, res.Attempts)
	}
	if res.Failed() {
		t.Fatalf("retried pair must not count as failed")
	}
	if res.Artifacts == nil || res.Artifacts.Screenshot == "" {
		t.Fatalf("the failed first attempt keeps its screenshot")
	}
}

func TestExecute_ScenarioBudget_TimeoutError(t *testing.T) {
	page := analyzerPage()
	page.navDelay = time.Second
	l := newFakeLauncher(staticPage(page))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:      "slow page",
		TimeoutMs: 50,
		Actions:   []ir.Action{{Type: ir.ActionNavigate, URL: "/"}},
	}

	res := r.Execute(context.Background(), l, sc, chromium)
	var te *executor.TimeoutError
	if !errors.As(res.Err, &te) {
		t.Fatalf("want TimeoutError, got %T %v", res.Err, res.Err)
	}
	if res.ErrorKind != executor.KindTimeout {
		t.Fatalf("ErrorKind = %s", res.ErrorKind)
	}
}

func TestExecute_UnresolvedVariable(t *testing.T) {
	l := newFakeLauncher(staticPage(analyzerPage()))
	r := newRunner(t, testConfig(0), l).WithVars(map[string]string{"APP_PATH": "/index.html"})

	ok := ir.Scenario{Name: "vars", Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "${BASE_URL}${APP_PATH}"}}}
	if res := r.Execute(context.Background(), l, ok, chromium); res.Outcome != executor.Passed {
		t.Fatalf("want passed, got %s: %s", res.Outcome, res.FailureReason)
	}

	bad := ir.Scenario{Name: "vars missing", Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "${NOPE}"}}}
	res := r.Execute(context.Background(), l, bad, chromium)
	var ae *executor.ActionError
	if !errors.As(res.Err, &ae) {
		t.Fatalf("want ActionError, got %v", res.Err)
	}
}

func TestExecute_StepsRunAfterLeadingPhase(t *testing.T) {
	l := newFakeLauncher(signedInPage("10"))
	r := newRunner(t, testConfig(0), l)

	sc := ir.Scenario{
		Name:    "phases",
		Actions: signIn(),
		Steps: []ir.Step{{
			Name:   "data is shown",
			Waits:  []ir.Wait{{Type: ir.WaitVisible, Selector: "#mainSection", TimeoutMs: 100}},
			Assert: []ir.Assertion{{Type: ir.AssertTextEquals, Selector: "#totalEmails", Expected: "11"}},
		}},
	}
	res := r.Execute(context.Background(), l, sc, chromium)
	if res.Outcome != executor.Failed || res.AttemptLog[0].Phase != "data is shown" {
		t.Fatalf("want failure in the follow-on phase, got %s in %q", res.Outcome, res.AttemptLog[0].Phase)
	}
}

func TestExecute_CanceledBeforeStart(t *testing.T) {
	l := newFakeLauncher(staticPage(analyzerPage()))
	r := newRunner(t, testConfig(1), l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Execute(ctx, l, ir.Scenario{Name: "x", Actions: []ir.Action{{Type: ir.ActionNavigate, URL: "/"}}}, chromium)
	if res.Outcome != executor.Skipped || res.Attempts != 0 {
		t.Fatalf("want skipped with no attempts, got %s/%d", res.Outcome, res.Attempts)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&executor.AssertionError{}, executor.KindAssertion},
		{&executor.WaitTimeoutError{}, executor.KindWait},
		{&executor.NoDownloadObservedError{}, executor.KindNoDownload},
		{&executor.ActionError{Err: errors.New("x")}, executor.KindAction},
		{&executor.TimeoutError{Err: &executor.ActionError{Err: errors.New("x")}}, executor.KindTimeout},
		{errors.New("websocket closed"), executor.KindBrowser},
	}
	for _, tt := range tests {
		if got := executor.ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
