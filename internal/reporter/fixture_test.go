package reporter_test

import (
	"path/filepath"

	"ui-qa/internal/executor"
)

func sampleResult(runDir string) *executor.SuiteResult {
	return &executor.SuiteResult{
		Name:       "Gmail Storage Analyzer",
		RunID:      "ab12cd34",
		Passed:     false,
		Targets:    []string{"chromium", "rod"},
		DurationMs: 1234,
		Results: []executor.ExecutionResult{
			{Scenario: "page loads", Target: "chromium", Outcome: executor.Passed, Attempts: 1, DurationMs: 310,
				AttemptLog: []executor.AttemptResult{{Attempt: 1, Passed: true, DurationMs: 310}}},
			{Scenario: "export <csv>", Target: "chromium", Outcome: executor.Failed, Attempts: 2, DurationMs: 4000,
				FailureReason: "no download observed within 2s\nsecond line",
				ErrorKind:     executor.KindNoDownload,
				Artifacts: &executor.Artifacts{
					Screenshot: filepath.Join(runDir, "chromium", "export-csv", "attempt-2", "screenshot.png"),
					Video:      filepath.Join(runDir, "chromium", "export-csv", "attempt-2", "video"),
					ConsoleLog: filepath.Join(runDir, "chromium", "export-csv", "attempt-2", "console.log"),
				},
				AttemptLog: []executor.AttemptResult{
					{Attempt: 1, Error: "no download observed within 2s", ErrorKind: executor.KindNoDownload, DurationMs: 2000},
					{Attempt: 2, Phase: "steps[0]", Error: "no download observed within 2s", ErrorKind: executor.KindNoDownload, DurationMs: 2000,
						ConsoleErrors: []string{"Failed to load resource"}},
				}},
			{Scenario: "page loads", Target: "rod", Outcome: executor.Retried, Attempts: 2, DurationMs: 700,
				AttemptLog: []executor.AttemptResult{
					{Attempt: 1, Error: "wait visible #app", ErrorKind: executor.KindWait},
					{Attempt: 2, Passed: true},
				}},
			{Scenario: "export <csv>", Target: "rod", Outcome: executor.Skipped, FailureReason: "skipped after an earlier failure"},
		},
	}
}
