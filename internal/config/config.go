// Package config loads the run configuration: where the page under test
// lives, how to boot it, which browsers to drive and how hard to retry.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Engines
const (
	EngineChromium = "chromium" // chromedp, local Chrome/Chromium
	EngineRod      = "rod"      // go-rod launcher
	EngineRemote   = "remote"   // chromedp attached to a running DevTools endpoint
)

// Config is the RunConfiguration. It is built once by Load/Parse and must
// not be mutated afterwards; use WithOverrides to derive a new one.
type Config struct {
	BaseURL   string          `toml:"base_url" validate:"required,url"`
	TimeoutMs int             `toml:"timeout_ms" validate:"gt=0"`
	Retries   int             `toml:"retries" validate:"min=0"`
	Workers   int             `toml:"workers" validate:"min=1"`
	Headless  *bool           `toml:"headless"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	Targets   []Target        `toml:"targets" validate:"required,min=1,dive"`
	Server    ServerConfig    `toml:"server"`
	Browser   BrowserConfig   `toml:"browser"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ArtifactsConfig struct {
	Dir                 string `toml:"dir" validate:"required"`
	ScreenshotOnFailure bool   `toml:"screenshot_on_failure"`
	VideoOnFailure      bool   `toml:"video_on_failure"`
}

// Target is one browser engine to run every scenario against.
type Target struct {
	Name   string `toml:"name" validate:"required"`
	Engine string `toml:"engine" validate:"oneof=chromium rod remote"`
}

type ServerConfig struct {
	Command        string `toml:"command" validate:"required"`
	Port           int    `toml:"port" validate:"min=1,max=65535"`
	TimeoutMs      int    `toml:"timeout_ms" validate:"gt=0"`
	ReuseIfRunning *bool  `toml:"reuse_if_running"` // nil: reuse unless CI is set
	Dir            string `toml:"dir"`
}

type BrowserConfig struct {
	RemoteURL    string `toml:"remote_url"`
	WindowWidth  int    `toml:"window_width" validate:"min=0"`
	WindowHeight int    `toml:"window_height" validate:"min=0"`
}

type LoggingConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=trace debug info warn error"`
}

// ConfigError lists every problem found in a configuration.
type ConfigError struct {
	Source   string
	Problems []string
}

func (e *ConfigError) Error() string {
	src := e.Source
	if src == "" {
		src = "config"
	}
	return fmt.Sprintf("%s: %s", src, strings.Join(e.Problems, "; "))
}

var lookupEnv = os.LookupEnv

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Problems: []string{fmt.Sprintf("read: %v", err)}}
	}
	cfg, err := Parse(data)
	if err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Source = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Problems: []string{fmt.Sprintf("parse: %v", err)}}
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 30000
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.Headless == nil {
		t := true
		cfg.Headless = &t
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = "test-results"
	}
	if cfg.Server.TimeoutMs == 0 {
		cfg.Server.TimeoutMs = 120000
	}
	if cfg.Server.ReuseIfRunning == nil {
		reuse := !isCI()
		cfg.Server.ReuseIfRunning = &reuse
	}
	if cfg.Browser.WindowWidth == 0 {
		cfg.Browser.WindowWidth = 1280
	}
	if cfg.Browser.WindowHeight == 0 {
		cfg.Browser.WindowHeight = 720
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func isCI() bool {
	v, ok := lookupEnv("CI")
	if !ok {
		return false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return true
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *Config) validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return &ConfigError{Problems: []string{err.Error()}}
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q (value %v)", trimNamespace(fe.Namespace()), fe.Tag(), fe.Value()))
		}
	}

	if c.BaseURL != "" {
		port, err := urlPort(c.BaseURL)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("base_url: %v", err))
		case c.Server.Port != 0 && port != c.Server.Port:
			problems = append(problems, fmt.Sprintf("server.port %d does not match base_url port %d", c.Server.Port, port))
		}
	}

	seen := map[string]bool{}
	for _, t := range c.Targets {
		if seen[t.Name] {
			problems = append(problems, fmt.Sprintf("targets: duplicate name %q", t.Name))
		}
		seen[t.Name] = true
		if t.Engine == EngineRemote && c.Browser.RemoteURL == "" {
			problems = append(problems, fmt.Sprintf("targets[%s]: engine remote requires browser.remote_url", t.Name))
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func urlPort(raw string) (int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	p := u.Port()
	if p == "" {
		if u.Scheme == "https" {
			return 443, nil
		}
		return 80, nil
	}
	return strconv.Atoi(p)
}

// Overrides carries the generic runner flags that may replace file values.
type Overrides struct {
	Retries  *int
	Workers  *int
	Headless *bool
	Projects []string // keep only these target names
}

// WithOverrides returns a validated copy with the overrides applied.
func (c *Config) WithOverrides(o Overrides) (*Config, error) {
	cp := *c
	cp.Targets = append([]Target(nil), c.Targets...)
	if o.Retries != nil {
		cp.Retries = *o.Retries
	}
	if o.Workers != nil {
		cp.Workers = *o.Workers
	}
	if o.Headless != nil {
		h := *o.Headless
		cp.Headless = &h
	}
	if len(o.Projects) > 0 {
		want := map[string]bool{}
		for _, p := range o.Projects {
			want[p] = true
		}
		var kept []Target
		for _, t := range cp.Targets {
			if want[t.Name] {
				kept = append(kept, t)
				delete(want, t.Name)
			}
		}
		if len(want) > 0 {
			var unknown []string
			for p := range want {
				unknown = append(unknown, p)
			}
			return nil, &ConfigError{Problems: []string{fmt.Sprintf("unknown project(s): %s", strings.Join(unknown, ", "))}}
		}
		cp.Targets = kept
	}
	if err := cp.validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (c *Config) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

func (c *Config) BootTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutMs) * time.Millisecond
}

func (c *Config) IsHeadless() bool { return c.Headless == nil || *c.Headless }

func (c *Config) ReuseIfRunning() bool {
	return c.Server.ReuseIfRunning != nil && *c.Server.ReuseIfRunning
}

// ReadyAddr is the host:port dialed to decide whether the server is up.
func (c *Config) ReadyAddr() string {
	host := "localhost"
	if u, err := url.Parse(c.BaseURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}
