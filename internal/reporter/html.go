package reporter

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ui-qa/internal/executor"
)

// WriteHTML renders a self-contained report. Artifact links are made
// relative to baseDir, the directory the report is written into.
func WriteHTML(w io.Writer, res *executor.SuiteResult, baseDir string) error {
	var sb strings.Builder

	sb.WriteString(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
	sb.WriteString(`<meta name="viewport" content="width=device-width,initial-scale=1">`)
	sb.WriteString(`<title>ui-qa Report: ` + html.EscapeString(res.Name) + `</title>`)
	sb.WriteString(`<style>
:root { --ok:#0a0; --bad:#b00; --warn:#b80; --muted:#666; --chip:#eee; --line:#e5e5e5; }
body{font-family:system-ui,Segoe UI,Roboto,Arial,sans-serif;margin:24px;line-height:1.45}
h1{margin:0 0 12px}
h2{margin:0 0 8px;font-size:1.05rem}
.summary{display:flex;gap:12px;align-items:center;margin:12px 0 18px}
.passed{color:var(--ok)} .failed{color:var(--bad)} .retried{color:var(--warn)} .skipped{color:var(--muted)}
.badge{display:inline-block;padding:2px 8px;border-radius:999px;background:var(--chip);font-size:.85rem}
.card{border:1px solid var(--line);border-radius:12px;padding:16px;margin:12px 0}
.attempt{margin:6px 0}
details>summary{cursor:pointer;list-style:none}
details>summary::-webkit-details-marker{display:none}
summary {padding:6px 0}
pre{background:#f8f8f8;padding:12px;border-radius:8px;overflow:auto;max-height:320px;margin:8px 0 0;white-space:pre-wrap}
img.shot{max-width:640px;border:1px solid var(--line);border-radius:8px;margin-top:8px}
.muted{color:var(--muted)}
hr{border:0;border-top:1px solid var(--line);margin:20px 0}
.small{font-size:.85rem}
</style></head><body>`)

	// Header
	c := res.Counts()
	sb.WriteString(`<h1>` + html.EscapeString(res.Name) + `</h1>`)
	sb.WriteString(`<div class="summary">`)
	sb.WriteString(`<div>Status: <strong class="` + tern(res.Passed, "passed", "failed") + `">` + tern(res.Passed, "PASS", "FAIL") + `</strong></div>`)
	sb.WriteString(chip("Run: " + res.RunID))
	sb.WriteString(chip("Duration: " + ms(res.DurationMs)))
	sb.WriteString(chip("Targets: " + strings.Join(res.Targets, ", ")))
	for _, o := range []executor.Outcome{executor.Passed, executor.Retried, executor.Failed, executor.Skipped} {
		sb.WriteString(chip(string(o) + ": " + strconv.Itoa(c[o])))
	}
	sb.WriteString(`</div><hr>`)

	// Pairs
	for _, r := range res.Results {
		sb.WriteString(`<div class="card" id="` + html.EscapeString(anchor(r)) + `">`)
		sb.WriteString(`<h2>` + html.EscapeString(r.Scenario) + ` <span class="muted">on ` + html.EscapeString(r.Target) + `</span> ` +
			badge(r.Outcome) + ` ` + chip(ms(r.DurationMs)) + ` ` + chip("attempts: "+strconv.Itoa(r.Attempts)) + `</h2>`)
		if len(r.Tags) > 0 {
			sb.WriteString(`<div class="small muted">tags: ` + html.EscapeString(strings.Join(r.Tags, ", ")) + `</div>`)
		}
		if r.FailureReason != "" {
			sb.WriteString(`<pre>` + html.EscapeString(r.FailureReason) + `</pre>`)
		}

		if a := r.Artifacts; a != nil {
			if a.Screenshot != "" {
				rel := relTo(baseDir, a.Screenshot)
				sb.WriteString(`<div><a href="` + html.EscapeString(rel) + `"><img class="shot" alt="screenshot" src="` + html.EscapeString(rel) + `"></a></div>`)
			}
			if a.Video != "" {
				sb.WriteString(`<div class="small">video frames: <a href="` + html.EscapeString(relTo(baseDir, a.Video)) + `">` + html.EscapeString(relTo(baseDir, a.Video)) + `</a></div>`)
			}
			if a.ConsoleLog != "" {
				sb.WriteString(`<div class="small">console log: <a href="` + html.EscapeString(relTo(baseDir, a.ConsoleLog)) + `">` + html.EscapeString(relTo(baseDir, a.ConsoleLog)) + `</a></div>`)
			}
			for _, d := range a.Downloads {
				sb.WriteString(`<div class="small">download: <a href="` + html.EscapeString(relTo(baseDir, d)) + `">` + html.EscapeString(filepath.Base(d)) + `</a></div>`)
			}
		}

		for _, at := range r.AttemptLog {
			sb.WriteString(`<div class="attempt">`)
			sb.WriteString(`<details ` + tern(!at.Passed, "open", "") + `>`)
			sb.WriteString(`<summary>Attempt ` + strconv.Itoa(at.Attempt) + ` ` + tern(at.Passed, `<span class="badge passed">PASS</span>`, `<span class="badge failed">FAIL</span>`) + ` ` + chip(ms(at.DurationMs)))
			if at.ErrorKind != "" {
				sb.WriteString(` ` + chip(at.ErrorKind))
			}
			sb.WriteString(`</summary>`)

			if at.Error != "" {
				prefix := ""
				if at.Phase != "" {
					prefix = "[" + at.Phase + "] "
				}
				sb.WriteString(`<pre>` + html.EscapeString(prefix+at.Error) + `</pre>`)
			} else {
				sb.WriteString(`<div class="small muted">No errors.</div>`)
			}
			if len(at.ConsoleErrors) > 0 {
				sb.WriteString(`<div class="small muted" style="margin-top:10px;">Console errors</div>`)
				sb.WriteString(`<pre>` + html.EscapeString(strings.Join(at.ConsoleErrors, "\n")) + `</pre>`)
			}
			if len(at.Dialogs) > 0 {
				sb.WriteString(`<div class="small muted" style="margin-top:10px;">Dialogs</div><pre>`)
				for _, d := range at.Dialogs {
					sb.WriteString(html.EscapeString(fmt.Sprintf("%s %q %s", d.Type, d.Message, tern(d.Accepted, "accepted", "dismissed"))) + "\n")
				}
				sb.WriteString(`</pre>`)
			}
			sb.WriteString(`</details>`)
			sb.WriteString(`</div>`)
		}
		sb.WriteString(`</div>`)
	}

	sb.WriteString(`</body></html>`)
	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteHTMLFromJSONPath renders the report from results.json on disk so the
// HTML always matches it.
func WriteHTMLFromJSONPath(w io.Writer, resultsJSONPath string) error {
	data, err := os.ReadFile(resultsJSONPath)
	if err != nil {
		return fmt.Errorf("read results.json: %w", err)
	}
	var res executor.SuiteResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("decode results.json: %w", err)
	}
	return WriteHTML(w, &res, filepath.Dir(resultsJSONPath))
}

func badge(o executor.Outcome) string {
	return `<span class="badge ` + string(o) + `">` + strings.ToUpper(string(o)) + `</span>`
}

func chip(text string) string {
	return `<span class="badge">` + html.EscapeString(text) + `</span>`
}

func ms(v float64) string { return fmt.Sprintf("%.0f ms", v) }

func tern[T ~string](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

func anchor(r executor.ExecutionResult) string {
	return r.Target + "--" + r.Scenario
}

func relTo(base, p string) string {
	if base == "" {
		return filepath.ToSlash(p)
	}
	if rel, err := filepath.Rel(base, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(p)
}
