package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"ui-qa/internal/config"
	"ui-qa/internal/ir"
	"ui-qa/internal/parser"
)

// inputFlags are shared by run, validate and list.
type inputFlags struct {
	configPath  string
	suitePath   string
	projects    []string
	retries     int
	workers     int
	headed      bool
	grep        string
	includeTags string
	excludeTags string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "ui-qa.toml", "run configuration (TOML)")
	cmd.Flags().StringVarP(&f.suitePath, "suite", "s", "", "scenario suite (YAML)")
	cmd.Flags().StringSliceVar(&f.projects, "project", nil, "only run these targets (repeatable)")
	cmd.Flags().IntVar(&f.retries, "retries", 0, "override retries")
	cmd.Flags().IntVar(&f.workers, "workers", 1, "override scenarios in parallel per target")
	cmd.Flags().BoolVar(&f.headed, "headed", false, "show the browser window")
	cmd.Flags().StringVar(&f.grep, "grep", "", "only scenarios whose name matches this regexp")
	cmd.Flags().StringVar(&f.includeTags, "include-tags", "", "comma-separated tags to include (OR semantics)")
	cmd.Flags().StringVar(&f.excludeTags, "exclude-tags", "", "comma-separated tags to exclude (OR semantics)")
	_ = cmd.MarkFlagRequired("suite")
}

// load reads the configuration with flag overrides applied and the filtered
// suite. Every error is an exit-2 error.
func (f *inputFlags) load(cmd *cobra.Command) (*config.Config, *ir.TestSuite, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, fail("%v", err)
	}

	var o config.Overrides
	if cmd.Flags().Changed("retries") {
		o.Retries = &f.retries
	}
	if cmd.Flags().Changed("workers") {
		o.Workers = &f.workers
	}
	if f.headed {
		headless := false
		o.Headless = &headless
	}
	o.Projects = f.projects
	if cfg, err = cfg.WithOverrides(o); err != nil {
		return nil, nil, fail("%v", err)
	}

	data, err := os.ReadFile(f.suitePath)
	if err != nil {
		return nil, nil, fail("read suite: %v", err)
	}
	suite, err := parser.New().ParseBytes(data)
	if err != nil {
		return nil, nil, fail("parse %s: %v", f.suitePath, err)
	}

	suite.Scenarios = filterByTags(suite.Scenarios, splitCSV(f.includeTags), splitCSV(f.excludeTags))
	if f.grep != "" {
		re, err := regexp.Compile(f.grep)
		if err != nil {
			return nil, nil, fail("--grep: %v", err)
		}
		suite.Scenarios = filterByName(suite.Scenarios, re)
	}
	if len(suite.Scenarios) == 0 {
		return nil, nil, fail("no scenarios left after filtering")
	}
	return cfg, suite, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func filterByTags(in []ir.Scenario, include, exclude []string) []ir.Scenario {
	if len(include) == 0 && len(exclude) == 0 {
		return in
	}
	toSet := func(ss []string) map[string]bool {
		m := map[string]bool{}
		for _, s := range ss {
			m[strings.ToLower(s)] = true
		}
		return m
	}
	inc, exc := toSet(include), toSet(exclude)
	hasAny := func(tags []string, m map[string]bool) bool {
		for _, t := range tags {
			if m[strings.ToLower(t)] {
				return true
			}
		}
		return false
	}
	out := make([]ir.Scenario, 0, len(in))
	for _, sc := range in {
		if len(inc) > 0 && !hasAny(sc.Tags, inc) {
			continue
		}
		if len(exc) > 0 && hasAny(sc.Tags, exc) {
			continue
		}
		out = append(out, sc)
	}
	return out
}

func filterByName(in []ir.Scenario, re *regexp.Regexp) []ir.Scenario {
	out := make([]ir.Scenario, 0, len(in))
	for _, sc := range in {
		if re.MatchString(sc.Name) {
			out = append(out, sc)
		}
	}
	return out
}

func describeTargets(cfg *config.Config) string {
	names := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		names = append(names, fmt.Sprintf("%s(%s)", t.Name, t.Engine))
	}
	return strings.Join(names, ", ")
}
