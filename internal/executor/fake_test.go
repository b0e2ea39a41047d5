package executor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ui-qa/internal/artifacts"
	"ui-qa/internal/browser"
	"ui-qa/internal/config"
	"ui-qa/internal/executor"
	"ui-qa/internal/ir"
	"ui-qa/internal/logging"
)

// fakePage is the scripted DOM one browsing context sees.
type fakePage struct {
	title    string
	dom      map[string]browser.ElementState // keyed by Selector.String()
	styles   map[string]string               // "<selector>|<property>"
	console  []string                        // errors emitted on navigation
	onClick  map[string]func(c *fakeContext)
	waitErr  map[string]error // returned at once by waits on the selector
	navDelay time.Duration
}

func (p *fakePage) el(sel string) browser.ElementState {
	if p.dom == nil {
		return browser.ElementState{}
	}
	return p.dom[sel]
}

// fakeLauncher hands out contexts built by pageFor(attempt number).
type fakeLauncher struct {
	pageFor func(n int) *fakePage

	opened  atomic.Int32
	open    atomic.Int32
	maxOpen atomic.Int32
	closed  atomic.Bool

	mu      sync.Mutex
	queries map[string]int
}

func newFakeLauncher(pageFor func(n int) *fakePage) *fakeLauncher {
	return &fakeLauncher{pageFor: pageFor, queries: map[string]int{}}
}

func staticPage(p *fakePage) func(int) *fakePage {
	return func(int) *fakePage { return p }
}

func (l *fakeLauncher) Engine() string { return "fake" }

func (l *fakeLauncher) NewContext(ctx context.Context) (browser.Context, error) {
	n := int(l.opened.Add(1))
	cur := l.open.Add(1)
	for {
		m := l.maxOpen.Load()
		if cur <= m || l.maxOpen.CompareAndSwap(m, cur) {
			break
		}
	}
	return &fakeContext{l: l, page: l.pageFor(n), events: browser.NewEvents()}, nil
}

func (l *fakeLauncher) Close() error {
	l.closed.Store(true)
	return nil
}

func (l *fakeLauncher) queried(sel string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries[sel]
}

type fakeContext struct {
	l      *fakeLauncher
	page   *fakePage
	events *browser.Events
	closed bool
}

func (c *fakeContext) Navigate(ctx context.Context, url string) error {
	if c.page.navDelay > 0 {
		select {
		case <-time.After(c.page.navDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, msg := range c.page.console {
		c.events.AddConsole("error", msg)
	}
	return nil
}

func (c *fakeContext) Click(ctx context.Context, sel ir.Selector) error {
	if f, ok := c.page.onClick[sel.String()]; ok {
		f(c)
		return nil
	}
	if !c.page.el(sel.String()).Found {
		return fmt.Errorf("no element matches %s", sel)
	}
	return nil
}

func (c *fakeContext) Fill(ctx context.Context, sel ir.Selector, value string) error {
	return c.Click(ctx, sel)
}

func (c *fakeContext) Select(ctx context.Context, sel ir.Selector, value string) error {
	return c.Click(ctx, sel)
}

// waitUntil blocks until cond holds or ctx ends; conditions in the fake
// only change from Click handlers, so a static false blocks.
func waitUntil(ctx context.Context, cond func() bool) error {
	if cond() {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeContext) WaitVisible(ctx context.Context, sel ir.Selector) error {
	if err := c.page.waitErr[sel.String()]; err != nil {
		return err
	}
	return waitUntil(ctx, func() bool { return c.page.el(sel.String()).Visible })
}

func (c *fakeContext) WaitHidden(ctx context.Context, sel ir.Selector) error {
	if err := c.page.waitErr[sel.String()]; err != nil {
		return err
	}
	return waitUntil(ctx, func() bool { return !c.page.el(sel.String()).Visible })
}

func (c *fakeContext) WaitNetworkIdle(ctx context.Context) error { return nil }

func (c *fakeContext) Title(ctx context.Context) (string, error) { return c.page.title, nil }

func (c *fakeContext) Query(ctx context.Context, sel ir.Selector) (browser.ElementState, error) {
	c.l.mu.Lock()
	c.l.queries[sel.String()]++
	c.l.mu.Unlock()
	return c.page.el(sel.String()), nil
}

func (c *fakeContext) ComputedStyle(ctx context.Context, sel ir.Selector, property string) (string, bool, error) {
	v, ok := c.page.styles[sel.String()+"|"+property]
	return v, ok, nil
}

func (c *fakeContext) ListenDownloads(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	c.events.ListenDownloads(dir)
	return nil
}

func (c *fakeContext) Events() *browser.Events { return c.events }

func (c *fakeContext) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (c *fakeContext) StartRecording(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(dir+"/frame-0001.jpg", []byte("jpg"), 0o644)
}

func (c *fakeContext) StopRecording(ctx context.Context) (int, error) { return 1, nil }

func (c *fakeContext) Close() error {
	if c.closed {
		return errors.New("closed twice")
	}
	c.closed = true
	c.l.open.Add(-1)
	return nil
}

// emitDownload simulates a completed download of name.
func emitDownload(c *fakeContext, name string) {
	guid := fmt.Sprintf("guid-%d", time.Now().UnixNano())
	c.events.DownloadBegin(guid, name, "blob:http://localhost:8000/x")
	c.events.DownloadFinished(guid, false)
}

func testConfig(retries int, targets ...string) *config.Config {
	if len(targets) == 0 {
		targets = []string{"chromium"}
	}
	cfg := &config.Config{
		BaseURL:   "http://localhost:8000",
		TimeoutMs: 2000,
		Retries:   retries,
		Workers:   1,
		Artifacts: config.ArtifactsConfig{ScreenshotOnFailure: true, VideoOnFailure: true},
	}
	for _, t := range targets {
		cfg.Targets = append(cfg.Targets, config.Target{Name: t, Engine: config.EngineChromium})
	}
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, l *fakeLauncher) *executor.Runner {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return executor.New(cfg, store, logging.Discard()).
		WithLauncher(func(ctx context.Context, _ config.Target) (browser.Launcher, error) { return l, nil })
}
