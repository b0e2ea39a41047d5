package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ui-qa/internal/artifacts"
	"ui-qa/internal/bootstrap"
	"ui-qa/internal/executor"
	"ui-qa/internal/logging"
	"ui-qa/internal/metrics"
	"ui-qa/internal/reporter"
	"ui-qa/internal/telemetry"
	"ui-qa/internal/vars"
)

type runFlags struct {
	inputFlags
	envPaths string
	outDir   string
	jsonOut  bool
	junitOut bool
	htmlOut  bool
	failFast bool
	verbose  bool
}

func runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every scenario against every target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd, &f)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.envPaths, "env", "", "comma-separated JSON env files (e.g. env/dev.json,env/ci.json)")
	cmd.Flags().StringVar(&f.outDir, "out", "", "artifacts root (default: artifacts.dir)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", true, "write results.json")
	cmd.Flags().BoolVar(&f.junitOut, "junit", true, "write junit.xml")
	cmd.Flags().BoolVar(&f.htmlOut, "html", true, "write report.html")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "skip the rest of a target after its first failure (forces --workers=1)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging and per-attempt failure details")
	return cmd
}

func runSuite(cmd *cobra.Command, f *runFlags) error {
	cfg, suite, err := f.load(cmd)
	if err != nil {
		return err
	}

	var baseVars map[string]string
	if f.envPaths != "" {
		if baseVars, err = vars.LoadJSONFiles(splitCSV(f.envPaths)); err != nil {
			return fail("load env: %v", err)
		}
	}

	level := cfg.Logging.Level
	if f.verbose {
		level = "debug"
	}
	logger := logging.New(level)

	root := cfg.Artifacts.Dir
	if f.outDir != "" {
		root = f.outDir
	}
	store, err := artifacts.NewStore(root, time.Now())
	if err != nil {
		return fail("%v", err)
	}
	logger = logging.WithRunFile(logger, store.RunDir)
	logger.Info().Str("run_id", store.RunID).Str("dir", store.RunDir).Str("targets", describeTargets(cfg)).
		Int("scenarios", len(suite.Scenarios)).Msg("Run started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewFileProvider(store.Path("trace.jsonl"), "ui-qa", store.RunID)
	if err != nil {
		logger.Warn().Err(err).Msg("Tracing disabled")
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(sctx); err != nil {
				logger.Warn().Err(err).Msg("Trace flush failed")
			}
		}()
	}

	rec := metrics.New()
	defer func() {
		if err := rec.WriteFile(store.Path("metrics.prom")); err != nil {
			logger.Warn().Err(err).Msg("Metrics write failed")
		}
	}()

	srv, err := bootstrap.EnsureRunning(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Server boot failed")
		return fail("%v", err)
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Server stop failed")
		}
	}()
	rec.ObserveBoot(srv.BootDuration, srv.Reused())

	runner := executor.New(cfg, store, logger).
		WithVars(baseVars).
		WithMetrics(rec).
		WithFailFast(f.failFast)

	res, err := runner.RunSuite(ctx, suite)
	if err != nil {
		return fail("execute: %v", err)
	}

	if err := writeReports(store, res, f); err != nil {
		return fail("%v", err)
	}

	out := cmd.OutOrStdout()
	_ = reporter.WriteSummary(out, res)
	if f.verbose || !res.Passed {
		printFailures(cmd.ErrOrStderr(), res)
	}
	logger.Info().Bool("passed", res.Passed).Str("dir", store.RunDir).Msg("Run finished")

	if ctx.Err() != nil {
		fmt.Fprintln(out, "INTERRUPTED")
		return &exitError{code: 1}
	}
	if res.Passed {
		fmt.Fprintln(out, "PASS")
		return nil
	}
	fmt.Fprintln(out, "FAIL")
	return &exitError{code: 1}
}

func writeReports(store *artifacts.Store, res *executor.SuiteResult, f *runFlags) error {
	// JSON (and remember the path for HTML parity)
	var jsonPath string
	if f.jsonOut {
		jsonPath = store.Path("results.json")
		if err := writeFile(jsonPath, func(w io.Writer) error { return reporter.WriteJSON(w, res) }); err != nil {
			return err
		}
	}

	if f.junitOut {
		if err := writeFile(store.Path("junit.xml"), func(w io.Writer) error { return reporter.WriteJUnit(w, res) }); err != nil {
			return err
		}
	}

	// HTML: render from results.json when it exists to guarantee parity
	if f.htmlOut {
		htmlPath := store.Path("report.html")
		render := func(w io.Writer) error { return reporter.WriteHTML(w, res, store.RunDir) }
		if jsonPath != "" {
			render = func(w io.Writer) error { return reporter.WriteHTMLFromJSONPath(w, jsonPath) }
		}
		if err := writeFile(htmlPath, render); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(fh); err != nil {
		fh.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return fh.Close()
}

func printFailures(w io.Writer, res *executor.SuiteResult) {
	for _, r := range res.Results {
		if r.Outcome == executor.Passed {
			continue
		}
		fmt.Fprintf(w, "\n%s on %s: %s\n", r.Scenario, r.Target, r.Outcome)
		for _, a := range r.AttemptLog {
			if a.Passed {
				continue
			}
			fmt.Fprintf(w, "  attempt %d [%s]: %s\n", a.Attempt, a.ErrorKind, a.Error)
		}
		if r.Artifacts != nil && r.Artifacts.Screenshot != "" {
			fmt.Fprintf(w, "  screenshot: %s\n", r.Artifacts.Screenshot)
		}
	}
}
