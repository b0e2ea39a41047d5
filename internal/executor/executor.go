package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ui-qa/internal/artifacts"
	"ui-qa/internal/browser"
	"ui-qa/internal/config"
	"ui-qa/internal/ir"
	"ui-qa/internal/metrics"
	"ui-qa/internal/telemetry"
	"ui-qa/internal/vars"
)

// ---- Results model ----

type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Retried Outcome = "retried" // passed after at least one failed attempt
	Skipped Outcome = "skipped" // never attempted: fail-fast or cancellation
)

type SuiteResult struct {
	Name       string            `json:"name"`
	RunID      string            `json:"run_id"`
	Passed     bool              `json:"passed"`
	Targets    []string          `json:"targets"`
	Results    []ExecutionResult `json:"results"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMs float64           `json:"duration_ms"`
}

// Counts tallies final outcomes.
func (s *SuiteResult) Counts() map[Outcome]int {
	out := map[Outcome]int{}
	for _, r := range s.Results {
		out[r.Outcome]++
	}
	return out
}

// ExecutionResult is the terminal result of one (scenario, target) pair.
type ExecutionResult struct {
	Scenario      string          `json:"scenario"`
	Tags          []string        `json:"tags,omitempty"`
	Target        string          `json:"target"`
	Engine        string          `json:"engine"`
	Outcome       Outcome         `json:"outcome"`
	Attempts      int             `json:"attempts"`
	Artifacts     *Artifacts      `json:"artifacts,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	DurationMs    float64         `json:"duration_ms"`
	AttemptLog    []AttemptResult `json:"attempt_log,omitempty"`

	Err error `json:"-"` // last attempt's failure, for errors.As
}

// Failed reports whether the pair counts against the run.
func (r ExecutionResult) Failed() bool { return r.Outcome == Failed }

type Artifacts struct {
	Screenshot string   `json:"screenshot,omitempty"`
	Video      string   `json:"video,omitempty"`
	ConsoleLog string   `json:"console_log,omitempty"`
	Downloads  []string `json:"downloads,omitempty"`
}

type AttemptResult struct {
	Attempt       int                `json:"attempt"`
	Passed        bool               `json:"passed"`
	Phase         string             `json:"phase,omitempty"`
	Error         string             `json:"error,omitempty"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	DurationMs    float64            `json:"duration_ms"`
	Screenshot    string             `json:"screenshot,omitempty"`
	Video         string             `json:"video,omitempty"`
	ConsoleLog    string             `json:"console_log,omitempty"` // every console message, failed attempts only
	Downloads     []browser.Download `json:"downloads,omitempty"`
	Dialogs       []browser.Dialog   `json:"dialogs,omitempty"`
	ConsoleErrors []string           `json:"console_errors,omitempty"`

	err error
}

// ---- Runner ----

// LaunchFunc opens the browser for one target.
type LaunchFunc func(ctx context.Context, target config.Target) (browser.Launcher, error)

type Runner struct {
	cfg    *config.Config
	store  *artifacts.Store
	logger arbor.ILogger

	launch   LaunchFunc
	baseVars map[string]string
	metrics  *metrics.Recorder
	failFast bool
}

func New(cfg *config.Config, store *artifacts.Store, logger arbor.ILogger) *Runner {
	r := &Runner{cfg: cfg, store: store, logger: logger}
	r.launch = func(ctx context.Context, t config.Target) (browser.Launcher, error) {
		return browser.Open(ctx, t, browser.OptionsFrom(cfg), logger)
	}
	r.baseVars = map[string]string{"BASE_URL": cfg.BaseURL}
	return r
}

func (r *Runner) WithLauncher(f LaunchFunc) *Runner { r.launch = f; return r }

// WithVars adds interpolation variables; BASE_URL is always present.
func (r *Runner) WithVars(v map[string]string) *Runner {
	r.baseVars = vars.Merge(v, map[string]string{"BASE_URL": r.cfg.BaseURL})
	return r
}

func (r *Runner) WithMetrics(m *metrics.Recorder) *Runner { r.metrics = m; return r }
func (r *Runner) WithFailFast(b bool) *Runner             { r.failFast = b; return r }

// ---- Suite execution ----

// RunSuite runs every scenario against every configured target. Targets run
// in parallel; results come back target-major, in scenario order.
func (r *Runner) RunSuite(ctx context.Context, suite *ir.TestSuite) (*SuiteResult, error) {
	if suite == nil {
		return nil, errors.New("nil suite")
	}

	ctx, span := telemetry.StartSpan(ctx, "suite", trace.WithAttributes(
		telemetry.AttrRunID.String(r.store.RunID),
	))
	defer span.End()

	start := time.Now()
	res := &SuiteResult{Name: suite.Name, RunID: r.store.RunID, Passed: true, StartedAt: start}

	perTarget := make([][]ExecutionResult, len(r.cfg.Targets))
	var g errgroup.Group
	for i, t := range r.cfg.Targets {
		res.Targets = append(res.Targets, t.Name)
		g.Go(func() error {
			perTarget[i] = r.runTarget(ctx, suite, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, rs := range perTarget {
		for _, er := range rs {
			if er.Failed() {
				res.Passed = false
			}
			res.Results = append(res.Results, er)
		}
	}
	res.DurationMs = float64(time.Since(start).Milliseconds())
	return res, nil
}

func (r *Runner) runTarget(ctx context.Context, suite *ir.TestSuite, t config.Target) []ExecutionResult {
	out := make([]ExecutionResult, len(suite.Scenarios))
	logger := r.logger.WithCorrelationId(t.Name)

	names := make([]string, len(suite.Scenarios))
	for i, sc := range suite.Scenarios {
		names[i] = sc.Name
	}
	dirs := artifacts.UniqueSlugs(names)

	l, err := r.launch(ctx, t)
	if err != nil {
		logger.Error().Err(err).Str("engine", t.Engine).Msg("Browser launch failed")
		for i, sc := range suite.Scenarios {
			out[i] = ExecutionResult{
				Scenario:      sc.Name,
				Tags:          sc.Tags,
				Target:        t.Name,
				Engine:        t.Engine,
				Outcome:       Failed,
				FailureReason: fmt.Sprintf("launch %s: %v", t.Engine, err),
				ErrorKind:     KindBrowser,
			}
			r.metrics.ObserveResult(t.Name, string(Failed))
		}
		return out
	}
	defer func() {
		if err := l.Close(); err != nil {
			logger.Warn().Err(err).Msg("Browser close failed")
		}
	}()
	logger.Info().Str("engine", t.Engine).Int("scenarios", len(suite.Scenarios)).Msg("Target started")

	parallel := r.cfg.Workers
	if r.failFast {
		parallel = 1
	}
	if parallel < 1 {
		parallel = 1
	}

	if parallel == 1 {
		stop := ""
		for i, sc := range suite.Scenarios {
			if stop == "" && ctx.Err() != nil {
				stop = "run canceled"
			}
			if stop != "" {
				out[i] = skipped(sc, t, stop)
				continue
			}
			out[i] = r.execute(ctx, l, sc, t, dirs[i])
			if r.failFast && out[i].Failed() {
				stop = fmt.Sprintf("skipped after %q failed (fail-fast)", sc.Name)
			}
		}
		return out
	}

	type job struct {
		idx int
		sc  ir.Scenario
	}
	type result struct {
		idx int
		er  ExecutionResult
	}

	jobs := make(chan job)
	results := make(chan result)

	for w := 0; w < parallel; w++ {
		go func() {
			for j := range jobs {
				if ctx.Err() != nil {
					results <- result{idx: j.idx, er: skipped(j.sc, t, "run canceled")}
					continue
				}
				results <- result{idx: j.idx, er: r.execute(ctx, l, j.sc, t, dirs[j.idx])}
			}
		}()
	}
	go func() {
		for i, sc := range suite.Scenarios {
			jobs <- job{idx: i, sc: sc}
		}
		close(jobs)
	}()

	for collected := 0; collected < len(suite.Scenarios); collected++ {
		rx := <-results
		out[rx.idx] = rx.er
	}
	return out
}

func skipped(sc ir.Scenario, t config.Target, reason string) ExecutionResult {
	return ExecutionResult{
		Scenario:      sc.Name,
		Tags:          sc.Tags,
		Target:        t.Name,
		Engine:        t.Engine,
		Outcome:       Skipped,
		FailureReason: reason,
	}
}

// ---- Scenario execution ----

// Execute runs one scenario against one target, applying the retry policy.
// Attempts are strictly sequential and each gets a fresh browsing context.
func (r *Runner) Execute(ctx context.Context, l browser.Launcher, sc ir.Scenario, t config.Target) ExecutionResult {
	return r.execute(ctx, l, sc, t, artifacts.Slug(sc.Name))
}

// execute stores artifacts under dir, the scenario's directory name within
// the target.
func (r *Runner) execute(ctx context.Context, l browser.Launcher, sc ir.Scenario, t config.Target, dir string) ExecutionResult {
	logger := r.logger.WithCorrelationId(t.Name + "/" + dir)
	ctx, span := telemetry.StartSpan(ctx, "scenario", trace.WithAttributes(
		telemetry.AttrTarget.String(t.Name),
		telemetry.AttrEngine.String(t.Engine),
		telemetry.AttrScenario.String(sc.Name),
	))
	defer span.End()

	start := time.Now()
	res := ExecutionResult{Scenario: sc.Name, Tags: sc.Tags, Target: t.Name, Engine: t.Engine, Outcome: Failed}

	maxAttempts := r.cfg.Retries + 1
	var lastFailed *AttemptResult
	for n := 1; n <= maxAttempts; n++ {
		if ctx.Err() != nil {
			if res.Attempts == 0 {
				res.Outcome = Skipped
				res.FailureReason = "run canceled"
			}
			break
		}

		a := r.runAttempt(ctx, l, sc, t, dir, n, logger)
		res.Attempts = n
		res.AttemptLog = append(res.AttemptLog, a)
		r.metrics.ObserveAttempt(t.Name, a.Passed, time.Duration(a.DurationMs)*time.Millisecond)

		if a.Passed {
			res.Outcome = Passed
			if n > 1 {
				res.Outcome = Retried
			}
			res.FailureReason, res.ErrorKind, res.Err = "", "", nil
			break
		}
		lastFailed = &res.AttemptLog[len(res.AttemptLog)-1]
		res.FailureReason = a.Error
		res.ErrorKind = a.ErrorKind
		res.Err = a.err
		if n < maxAttempts {
			logger.Warn().Int("attempt", n).Str("kind", a.ErrorKind).Str("error", a.Error).Msg("Attempt failed, retrying")
		}
	}

	res.Artifacts = collectArtifacts(res.AttemptLog, lastFailed)
	res.DurationMs = float64(time.Since(start).Milliseconds())
	r.metrics.ObserveResult(t.Name, string(res.Outcome))

	span.SetAttributes(telemetry.AttrOutcome.String(string(res.Outcome)))
	if res.Outcome == Failed {
		span.SetStatus(codes.Error, res.FailureReason)
		logger.Error().Str("kind", res.ErrorKind).Int("attempts", res.Attempts).Str("error", res.FailureReason).Msg("Scenario failed")
	} else {
		logger.Info().Str("outcome", string(res.Outcome)).Int("attempts", res.Attempts).Msg("Scenario finished")
	}
	return res
}

// collectArtifacts points at the last failed attempt's captures plus the
// final attempt's downloads.
func collectArtifacts(log []AttemptResult, lastFailed *AttemptResult) *Artifacts {
	var a Artifacts
	if lastFailed != nil {
		a.Screenshot = lastFailed.Screenshot
		a.Video = lastFailed.Video
		a.ConsoleLog = lastFailed.ConsoleLog
	}
	if len(log) > 0 {
		for _, d := range log[len(log)-1].Downloads {
			if d.Completed {
				a.Downloads = append(a.Downloads, d.Path)
			}
		}
	}
	if a.Screenshot == "" && a.Video == "" && a.ConsoleLog == "" && len(a.Downloads) == 0 {
		return nil
	}
	return &a
}

func (r *Runner) scenarioBudget(sc ir.Scenario) time.Duration {
	if sc.TimeoutMs > 0 {
		return time.Duration(sc.TimeoutMs) * time.Millisecond
	}
	return r.cfg.Timeout()
}

// runAttempt is one clean-slate attempt. The browsing context is closed
// before it returns.
func (r *Runner) runAttempt(ctx context.Context, l browser.Launcher, sc ir.Scenario, t config.Target, scDir string, n int, logger arbor.ILogger) AttemptResult {
	ctx, span := telemetry.StartSpan(ctx, "attempt", trace.WithAttributes(telemetry.AttrAttempt.Int(n)))
	defer span.End()

	start := time.Now()
	out := AttemptResult{Attempt: n}
	finish := func(err error) AttemptResult {
		out.DurationMs = float64(time.Since(start).Milliseconds())
		if err == nil {
			out.Passed = true
			return out
		}
		out.err = err
		out.Error = err.Error()
		out.ErrorKind = ErrorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, out.Error)
		span.SetAttributes(telemetry.AttrErrorKind.String(out.ErrorKind))
		return out
	}

	dir, err := r.store.AttemptDir(t.Name, scDir, n)
	if err != nil {
		return finish(err)
	}
	defer artifacts.RemoveIfEmpty(dir)

	budget := r.scenarioBudget(sc)
	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	logger.Debug().Int("attempt", n).Str("budget", budget.String()).Msg("Attempt started")

	bc, err := l.NewContext(attemptCtx)
	if err != nil {
		return finish(r.classify(ctx, attemptCtx, sc, budget, fmt.Errorf("open browsing context: %w", err)))
	}

	videoDir := filepath.Join(dir, "video")
	recording := false
	if r.cfg.Artifacts.VideoOnFailure {
		if err := bc.StartRecording(attemptCtx, videoDir); err != nil {
			logger.Warn().Err(err).Msg("Screencast not started")
		} else {
			recording = true
		}
	}

	x := &attempt{
		bc:      bc,
		baseURL: r.cfg.BaseURL,
		vars:    r.baseVars,
		timeout: r.cfg.Timeout(),
		dir:     dir,
		logger:  logger,
	}
	runErr := x.run(attemptCtx, sc.Phases())
	if runErr != nil {
		runErr = r.classify(ctx, attemptCtx, sc, budget, runErr)
		out.Phase = x.phase
	}

	// captures run on a fresh budget: the attempt's may already be spent
	capCtx, capCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer capCancel()

	if runErr != nil && r.cfg.Artifacts.ScreenshotOnFailure {
		if png, err := bc.Screenshot(capCtx); err != nil {
			logger.Warn().Err(err).Msg("Screenshot failed")
		} else {
			path := filepath.Join(dir, "screenshot.png")
			if err := os.WriteFile(path, png, 0o644); err != nil {
				logger.Warn().Err(err).Msg("Screenshot not saved")
			} else {
				out.Screenshot = path
			}
		}
	}
	if recording {
		frames, err := bc.StopRecording(capCtx)
		if err != nil {
			logger.Debug().Err(err).Msg("Screencast stop failed")
		}
		if runErr != nil && frames > 0 {
			out.Video = videoDir
		} else {
			_ = os.RemoveAll(videoDir)
		}
	}

	ev := bc.Events()
	out.Downloads = ev.Downloads()
	out.Dialogs = ev.Dialogs()
	out.ConsoleErrors = ev.ConsoleErrors()
	if runErr != nil {
		if msgs := ev.Console(); len(msgs) > 0 {
			path := filepath.Join(dir, "console.log")
			if err := writeConsoleLog(path, msgs); err != nil {
				logger.Warn().Err(err).Msg("Console log not saved")
			} else {
				out.ConsoleLog = path
			}
		}
	}

	if err := bc.Close(); err != nil {
		logger.Debug().Err(err).Msg("Browsing context close failed")
	}
	if dl := ev.DownloadDir(); dl != "" {
		artifacts.RemoveIfEmpty(dl)
	}
	return finish(runErr)
}

// writeConsoleLog writes one line per message: time, level, text.
func writeConsoleLog(path string, msgs []browser.ConsoleMessage) error {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s [%s] %s\n", m.At.UTC().Format("15:04:05.000"), m.Level, m.Text)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// classify turns a spent attempt budget into a TimeoutError and a canceled
// run into errCanceled.
func (r *Runner) classify(parent, attemptCtx context.Context, sc ir.Scenario, budget time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%w: %v", errCanceled, err)
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		var te *TimeoutError
		if errors.As(err, &te) {
			return err
		}
		return &TimeoutError{Scenario: sc.Name, Timeout: budget, Err: err}
	default:
		return err
	}
}
