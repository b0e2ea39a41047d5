// Package browser drives real browsers for scenario execution. A Launcher
// owns one browser process (or remote connection) per target; every attempt
// gets its own isolated Context with a fresh event subscription.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"

	"ui-qa/internal/config"
	"ui-qa/internal/ir"
)

// Launcher opens isolated browsing contexts on one browser.
type Launcher interface {
	Engine() string
	NewContext(ctx context.Context) (Context, error)
	Close() error
}

// Context is one isolated browsing context (fresh cookies, storage, cache).
type Context interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, sel ir.Selector) error
	Fill(ctx context.Context, sel ir.Selector, value string) error
	Select(ctx context.Context, sel ir.Selector, value string) error

	WaitVisible(ctx context.Context, sel ir.Selector) error
	WaitHidden(ctx context.Context, sel ir.Selector) error
	WaitNetworkIdle(ctx context.Context) error

	Title(ctx context.Context) (string, error)
	Query(ctx context.Context, sel ir.Selector) (ElementState, error)
	// ComputedStyle reports found=false when nothing matches.
	ComputedStyle(ctx context.Context, sel ir.Selector, property string) (value string, found bool, err error)

	// ListenDownloads registers the download listener, saving files into dir.
	ListenDownloads(ctx context.Context, dir string) error
	Events() *Events

	Screenshot(ctx context.Context) ([]byte, error)
	// StartRecording writes screencast frames into dir until StopRecording.
	StartRecording(ctx context.Context, dir string) error
	StopRecording(ctx context.Context) (frames int, err error)

	Close() error
}

type Options struct {
	Headless     bool
	RemoteURL    string
	WindowWidth  int
	WindowHeight int
}

// OptionsFrom maps the run configuration onto launcher options.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Headless:     cfg.IsHeadless(),
		RemoteURL:    cfg.Browser.RemoteURL,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
	}
}

// Open starts (or attaches to) the browser for a target.
func Open(ctx context.Context, target config.Target, opts Options, logger arbor.ILogger) (Launcher, error) {
	switch target.Engine {
	case config.EngineChromium, config.EngineRemote:
		return openChromedp(ctx, target.Engine, opts, logger)
	case config.EngineRod:
		return openRod(ctx, opts, logger)
	default:
		return nil, fmt.Errorf("target %s: unknown engine %q", target.Name, target.Engine)
	}
}

// page is the engine-specific surface a pageContext is built on.
type page interface {
	navigate(ctx context.Context, url string) error
	// eval evaluates an expression that yields a string.
	eval(ctx context.Context, js string) (string, error)
	// poll waits until a boolean expression is true or ctx ends.
	poll(ctx context.Context, js string) error
	clickCSS(ctx context.Context, css string) error
	screenshot(ctx context.Context) ([]byte, error)
	allowDownloads(ctx context.Context, dir string) error
	startScreencast(ctx context.Context, sink func(frame []byte)) error
	stopScreencast(ctx context.Context) error
	network() *netTracker
	close() error
}

// pageContext implements Context on top of any engine's page.
type pageContext struct {
	p      page
	events *Events
	marks  atomic.Int64

	recMu sync.Mutex
	rec   *recorder
}

func newPageContext(p page, events *Events) *pageContext {
	return &pageContext{p: p, events: events}
}

func (c *pageContext) Events() *Events { return c.events }

func (c *pageContext) Navigate(ctx context.Context, url string) error {
	return c.p.navigate(ctx, url)
}

func (c *pageContext) Click(ctx context.Context, sel ir.Selector) error {
	if err := c.WaitVisible(ctx, sel); err != nil {
		return fmt.Errorf("%s not visible: %w", sel, err)
	}
	token := fmt.Sprintf("m%d", c.marks.Add(1))
	if err := c.run(ctx, markJS(sel, token)); err != nil {
		return err
	}
	return c.p.clickCSS(ctx, markedCSS(token))
}

func (c *pageContext) Fill(ctx context.Context, sel ir.Selector, value string) error {
	if err := c.WaitVisible(ctx, sel); err != nil {
		return fmt.Errorf("%s not visible: %w", sel, err)
	}
	return c.run(ctx, fillJS(sel, value))
}

func (c *pageContext) Select(ctx context.Context, sel ir.Selector, value string) error {
	if err := c.WaitVisible(ctx, sel); err != nil {
		return fmt.Errorf("%s not visible: %w", sel, err)
	}
	return c.run(ctx, selectJS(sel, value))
}

// run evaluates a script that returns "ok" or a failure description.
func (c *pageContext) run(ctx context.Context, js string) error {
	res, err := c.p.eval(ctx, js)
	if err != nil {
		return err
	}
	if res != "ok" {
		return errors.New(res)
	}
	return nil
}

func (c *pageContext) WaitVisible(ctx context.Context, sel ir.Selector) error {
	return c.p.poll(ctx, visibleJS(sel))
}

func (c *pageContext) WaitHidden(ctx context.Context, sel ir.Selector) error {
	return c.p.poll(ctx, hiddenJS(sel))
}

func (c *pageContext) WaitNetworkIdle(ctx context.Context) error {
	return c.p.network().wait(ctx)
}

func (c *pageContext) Title(ctx context.Context) (string, error) {
	return c.p.eval(ctx, titleJS)
}

func (c *pageContext) Query(ctx context.Context, sel ir.Selector) (ElementState, error) {
	var st ElementState
	raw, err := c.p.eval(ctx, stateJS(sel))
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, fmt.Errorf("decode element state: %w", err)
	}
	return st, nil
}

func (c *pageContext) ComputedStyle(ctx context.Context, sel ir.Selector, property string) (string, bool, error) {
	raw, err := c.p.eval(ctx, styleJS(sel, property))
	if err != nil {
		return "", false, err
	}
	var out struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", false, fmt.Errorf("decode computed style: %w", err)
	}
	return out.Value, out.Found, nil
}

func (c *pageContext) ListenDownloads(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	c.events.ListenDownloads(dir)
	return c.p.allowDownloads(ctx, dir)
}

func (c *pageContext) Screenshot(ctx context.Context) ([]byte, error) {
	return c.p.screenshot(ctx)
}

func (c *pageContext) StartRecording(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create video dir: %w", err)
	}
	rec := &recorder{dir: dir}
	c.recMu.Lock()
	c.rec = rec
	c.recMu.Unlock()
	return c.p.startScreencast(ctx, rec.write)
}

func (c *pageContext) StopRecording(ctx context.Context) (int, error) {
	c.recMu.Lock()
	rec := c.rec
	c.rec = nil
	c.recMu.Unlock()
	if rec == nil {
		return 0, nil
	}
	err := c.p.stopScreencast(ctx)
	return rec.stop(), err
}

func (c *pageContext) Close() error {
	return c.p.close()
}

// recorder numbers screencast frames on disk.
type recorder struct {
	mu      sync.Mutex
	dir     string
	n       int
	stopped bool
}

func (r *recorder) write(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.n++
	_ = os.WriteFile(filepath.Join(r.dir, fmt.Sprintf("frame-%04d.jpg", r.n)), frame, 0o644)
}

func (r *recorder) stop() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return r.n
}
