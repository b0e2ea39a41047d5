package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"ui-qa/internal/browser"
	"ui-qa/internal/ir"
	"ui-qa/internal/vars"
)

// attempt interprets phases against one browsing context.
type attempt struct {
	bc      browser.Context
	baseURL string
	vars    map[string]string
	timeout time.Duration // default for actions, waits and the download budget
	dir     string
	logger  arbor.ILogger

	phase string
}

func (x *attempt) run(ctx context.Context, phases []ir.Step) error {
	for _, ph := range phases {
		x.phase = ph.Name
		for _, a := range ph.Actions {
			if err := x.act(ctx, a); err != nil {
				return err
			}
		}
		for _, w := range ph.Waits {
			if err := x.wait(ctx, w); err != nil {
				return err
			}
		}
		for _, as := range ph.Assert {
			if err := x.assert(ctx, as); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *attempt) expand(s string) (string, error) {
	out := vars.Interpolate(s, x.vars)
	if u := vars.Unresolved(out); len(u) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(u, ", "))
	}
	return out, nil
}

func (x *attempt) selector(raw string) (ir.Selector, error) {
	s, err := x.expand(raw)
	if err != nil {
		return ir.Selector{}, err
	}
	return ir.ParseSelector(s)
}

// ---- Actions ----

func (x *attempt) act(ctx context.Context, a ir.Action) error {
	fail := func(err error) error {
		return &ActionError{Action: a.Type, Selector: a.Selector, Err: err}
	}

	switch a.Type {
	case ir.ActionDialog:
		policy := a.Policy
		if policy == "" {
			policy = ir.DialogAccept
		}
		x.bc.Events().SetDialogPolicy(policy)
		return nil
	case ir.ActionDownload:
		if err := x.bc.ListenDownloads(ctx, filepath.Join(x.dir, "downloads")); err != nil {
			return fail(err)
		}
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	switch a.Type {
	case ir.ActionNavigate:
		raw, err := x.expand(a.URL)
		if err != nil {
			return fail(err)
		}
		target, err := resolveURL(x.baseURL, raw)
		if err != nil {
			return fail(err)
		}
		if err := x.bc.Navigate(actx, target); err != nil {
			return &ActionError{Action: a.Type, Selector: target, Err: err}
		}
		return nil

	case ir.ActionClick, ir.ActionFill, ir.ActionSelect:
		sel, err := x.selector(a.Selector)
		if err != nil {
			return fail(err)
		}
		value, err := x.expand(a.Value)
		if err != nil {
			return fail(err)
		}
		switch a.Type {
		case ir.ActionClick:
			err = x.bc.Click(actx, sel)
		case ir.ActionFill:
			err = x.bc.Fill(actx, sel, value)
		default:
			err = x.bc.Select(actx, sel, value)
		}
		if err != nil {
			return fail(err)
		}
		return nil

	default:
		return fail(fmt.Errorf("unknown action type %q", a.Type))
	}
}

// resolveURL resolves ref against the base URL; absolute refs pass through.
func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// ---- Waits ----

func (x *attempt) wait(ctx context.Context, w ir.Wait) error {
	timeout := x.timeout
	if w.TimeoutMs > 0 {
		timeout = time.Duration(w.TimeoutMs) * time.Millisecond
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		sel ir.Selector
		err error
	)
	if w.Type != ir.WaitNetworkIdle {
		if sel, err = x.selector(w.Selector); err != nil {
			return &ActionError{Action: "wait " + w.Type, Selector: w.Selector, Err: err}
		}
	}

	switch w.Type {
	case ir.WaitVisible:
		err = x.bc.WaitVisible(wctx, sel)
	case ir.WaitHidden:
		err = x.bc.WaitHidden(wctx, sel)
	case ir.WaitNetworkIdle:
		err = x.bc.WaitNetworkIdle(wctx)
	default:
		return &ActionError{Action: "wait", Err: fmt.Errorf("unknown wait type %q", w.Type)}
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
		return &ActionError{Action: "wait " + w.Type, Selector: w.Selector, Err: err}
	}
	x.logger.Debug().Err(err).Str("wait", w.Type).Str("selector", w.Selector).Msg("Wait gave up")
	return &WaitTimeoutError{Condition: w.Type, Selector: w.Selector, Timeout: timeout}
}

// ---- Assertions ----

func (x *attempt) assert(ctx context.Context, a ir.Assertion) error {
	mismatch := func(expected, actual string) error {
		return &AssertionError{Assertion: a.Type, Selector: a.Selector, Expected: expected, Actual: actual}
	}
	broken := func(err error) error {
		return &ActionError{Action: "assert " + a.Type, Selector: a.Selector, Err: err}
	}

	expected, err := x.expand(a.Expected)
	if err != nil {
		return broken(err)
	}

	switch a.Type {
	case ir.AssertTitleMatches:
		re, err := compilePattern(a.Pattern, x.vars)
		if err != nil {
			return broken(err)
		}
		title, err := x.bc.Title(ctx)
		if err != nil {
			return broken(err)
		}
		if !re.MatchString(title) {
			return mismatch("/"+re.String()+"/", title)
		}
		return nil

	case ir.AssertDownloadFilenameMatches:
		re, err := compilePattern(a.Pattern, x.vars)
		if err != nil {
			return broken(err)
		}
		return x.assertDownload(ctx, re, mismatch)

	case ir.AssertConsoleErrors:
		return assertConsole(x.bc.Events().ConsoleErrors(), a.Ignore, a.MaxAllowed, mismatch)

	case ir.AssertStyleEquals:
		sel, err := x.selector(a.Selector)
		if err != nil {
			return broken(err)
		}
		got, found, err := x.bc.ComputedStyle(ctx, sel, a.Property)
		if err != nil {
			return broken(err)
		}
		if !found {
			return mismatch(a.Property+": "+expected, "no element")
		}
		if strings.TrimSpace(got) != expected {
			return mismatch(a.Property+": "+expected, a.Property+": "+got)
		}
		return nil
	}

	sel, err := x.selector(a.Selector)
	if err != nil {
		return broken(err)
	}
	st, err := x.bc.Query(ctx, sel)
	if err != nil {
		return broken(err)
	}
	return evalElement(a, expected, st, mismatch)
}

// evalElement checks the element-state assertions against one snapshot.
func evalElement(a ir.Assertion, expected string, st browser.ElementState, mismatch func(expected, actual string) error) error {
	const missing = "no element"
	text := normalizeSpace(st.Text)

	switch a.Type {
	case ir.AssertTextEquals:
		if !st.Found {
			return mismatch(expected, missing)
		}
		if text != normalizeSpace(expected) {
			return mismatch(expected, text)
		}
	case ir.AssertTextNotEquals:
		if !st.Found {
			return mismatch("≠"+expected, missing)
		}
		if text == normalizeSpace(expected) {
			return mismatch("≠"+expected, text)
		}
	case ir.AssertTextContains:
		if !st.Found {
			return mismatch("*"+expected+"*", missing)
		}
		if !strings.Contains(text, normalizeSpace(expected)) {
			return mismatch("*"+expected+"*", text)
		}
	case ir.AssertHasClass:
		if !st.Found {
			return mismatch("class "+expected, missing)
		}
		for _, c := range st.Classes {
			if c == expected {
				return nil
			}
		}
		return mismatch("class "+expected, "classes ["+strings.Join(st.Classes, " ")+"]")
	case ir.AssertVisible:
		if !st.Visible {
			if !st.Found {
				return mismatch("visible", missing)
			}
			return mismatch("visible", "hidden")
		}
	case ir.AssertHidden:
		if st.Visible {
			return mismatch("hidden", "visible")
		}
	case ir.AssertCountGreaterThan:
		if st.Count <= a.N {
			return mismatch("count > "+strconv.Itoa(a.N), strconv.Itoa(st.Count))
		}
	default:
		return &ActionError{Action: "assert", Err: fmt.Errorf("unknown assertion type %q", a.Type)}
	}
	return nil
}

func (x *attempt) assertDownload(ctx context.Context, re *regexp.Regexp, mismatch func(expected, actual string) error) error {
	dctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	d, err := x.bc.Events().WaitDownload(dctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &NoDownloadObservedError{Timeout: x.timeout}
		}
		return err
	}
	if !re.MatchString(d.SuggestedFilename) {
		return mismatch("/"+re.String()+"/", d.SuggestedFilename)
	}
	return nil
}

// assertConsole drops messages that contain, or match as a regex, any ignore
// pattern and fails when more than maxAllowed remain.
func assertConsole(msgs, ignore []string, maxAllowed int, mismatch func(expected, actual string) error) error {
	var res []*regexp.Regexp
	for _, p := range ignore {
		if re, err := regexp.Compile(p); err == nil {
			res = append(res, re)
		}
	}

	var remaining []string
next:
	for _, m := range msgs {
		for _, p := range ignore {
			if strings.Contains(m, p) {
				continue next
			}
		}
		for _, re := range res {
			if re.MatchString(m) {
				continue next
			}
		}
		remaining = append(remaining, m)
	}

	if len(remaining) > maxAllowed {
		return mismatch(
			fmt.Sprintf("at most %d console errors", maxAllowed),
			fmt.Sprintf("%d: %s", len(remaining), strings.Join(remaining, " | ")),
		)
	}
	return nil
}

func compilePattern(p string, v map[string]string) (*regexp.Regexp, error) {
	return regexp.Compile(vars.Interpolate(p, v))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
