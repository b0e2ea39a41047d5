package reporter

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"ui-qa/internal/executor"
)

// -------- JSON --------

func WriteJSON(w io.Writer, res *executor.SuiteResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// -------- JUnit XML --------

// Minimal JUnit schema: testsuite -> testcase (+failure|skipped).
// One testcase per (scenario, target) pair; the target is the classname.
type junitTestsuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Testcase []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Classname string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Text    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

func WriteJUnit(w io.Writer, res *executor.SuiteResult) error {
	var failures, skipped int
	cases := make([]junitTestcase, 0, len(res.Results))

	for _, r := range res.Results {
		tc := junitTestcase{
			Classname: r.Target,
			Name:      r.Scenario,
			Time:      seconds(r.DurationMs),
		}
		switch r.Outcome {
		case executor.Failed:
			failures++
			typ := r.ErrorKind
			if typ == "" {
				typ = "error"
			}
			tc.Failure = &junitFailure{
				Message: firstLine(r.FailureReason),
				Type:    typ,
				Text:    attemptErrors(r),
			}
		case executor.Skipped:
			skipped++
			tc.Skipped = &junitSkipped{Message: r.FailureReason}
		case executor.Retried:
			tc.SystemOut = fmt.Sprintf("passed on attempt %d\n%s", r.Attempts, attemptErrors(r))
		}
		if r.Artifacts != nil {
			tc.SystemOut += artifactLines(r.Artifacts)
		}
		cases = append(cases, tc)
	}

	ts := junitTestsuite{
		Name:     res.Name,
		Tests:    len(res.Results),
		Failures: failures,
		Skipped:  skipped,
		Time:     seconds(res.DurationMs),
		Testcase: cases,
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(ts)
}

// -------- Console summary --------

// WriteSummary prints one line per pair followed by outcome totals.
func WriteSummary(w io.Writer, res *executor.SuiteResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSCENARIO\tOUTCOME\tATTEMPTS\tDURATION\tREASON")
	for _, r := range res.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Target, r.Scenario, strings.ToUpper(string(r.Outcome)), r.Attempts, ms(r.DurationMs), firstLine(r.FailureReason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	c := res.Counts()
	_, err := fmt.Fprintf(w, "\n%d passed, %d retried, %d failed, %d skipped (%s)\n",
		c[executor.Passed], c[executor.Retried], c[executor.Failed], c[executor.Skipped], ms(res.DurationMs))
	return err
}

func seconds(msv float64) string { return fmt.Sprintf("%.3f", msv/1000.0) }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func attemptErrors(r executor.ExecutionResult) string {
	var b strings.Builder
	for _, a := range r.AttemptLog {
		if a.Passed {
			continue
		}
		fmt.Fprintf(&b, "attempt %d", a.Attempt)
		if a.Phase != "" {
			fmt.Fprintf(&b, " [%s]", a.Phase)
		}
		fmt.Fprintf(&b, ": %s\n", a.Error)
	}
	return b.String()
}

func artifactLines(a *executor.Artifacts) string {
	var b strings.Builder
	if a.Screenshot != "" {
		fmt.Fprintf(&b, "[[ATTACHMENT|%s]]\n", a.Screenshot)
	}
	if a.Video != "" {
		fmt.Fprintf(&b, "video: %s\n", a.Video)
	}
	if a.ConsoleLog != "" {
		fmt.Fprintf(&b, "console log: %s\n", a.ConsoleLog)
	}
	for _, d := range a.Downloads {
		fmt.Fprintf(&b, "download: %s\n", d)
	}
	return b.String()
}
