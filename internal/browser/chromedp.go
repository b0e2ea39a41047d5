package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"ui-qa/internal/config"
)

// chromeLauncher drives Chrome over CDP, either a local process started by
// the exec allocator or an already running DevTools endpoint.
type chromeLauncher struct {
	engine        string
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	logger        arbor.ILogger
}

func openChromedp(ctx context.Context, engine string, opts Options, logger arbor.ILogger) (*chromeLauncher, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if engine == config.EngineRemote {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
		)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, execOpts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	// first Run starts the browser
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start %s browser: %w", engine, err)
	}
	logger.Debug().Str("engine", engine).Msg("Browser started")

	return &chromeLauncher{
		engine:        engine,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		logger:        logger,
	}, nil
}

func (l *chromeLauncher) Engine() string { return l.engine }

// NewContext opens a tab in a new incognito browser context.
func (l *chromeLauncher) NewContext(ctx context.Context) (Context, error) {
	tabCtx, cancel := chromedp.NewContext(l.browserCtx, chromedp.WithNewBrowserContext())
	p := &chromePage{tabCtx: tabCtx, cancel: cancel, events: NewEvents(), net: newNetTracker()}

	chromedp.ListenTarget(tabCtx, p.onTargetEvent)

	// the first Run allocates the tab and ties its lifetime to tabCtx, so it
	// must not run on a derived context
	if err := allocateTab(ctx, cancel, func() error { return chromedp.Run(tabCtx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("open browser context: %w", err)
	}

	runCtx, done := p.bind(ctx)
	defer done()
	if err := chromedp.Run(runCtx, network.Enable(), runtime.Enable(), cdppage.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("open browser context: %w", err)
	}

	c := chromedp.FromContext(tabCtx)
	if c.Target != nil {
		p.frameID = cdp.FrameID(c.Target.TargetID)
	}
	// download events are browser-wide, filter to this tab's frame
	chromedp.ListenBrowser(tabCtx, p.onBrowserEvent)

	return newPageContext(p, p.events), nil
}

// allocateTab runs first while ctx bounds it: if ctx ends first the tab is
// canceled, which unblocks first. Once first returns, ctx no longer owns
// the tab.
func allocateTab(ctx context.Context, cancelTab context.CancelFunc, first func() error) error {
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()
	if err := first(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (l *chromeLauncher) Close() error {
	l.cancelBrowser()
	l.cancelAlloc()
	return nil
}

type chromePage struct {
	tabCtx  context.Context
	cancel  context.CancelFunc
	events  *Events
	net     *netTracker
	frameID cdp.FrameID

	mu   sync.Mutex
	sink func([]byte)
}

func (p *chromePage) setSink(sink func([]byte)) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *chromePage) frameSink() func([]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

// bind derives a chromedp context from the tab that also ends when the
// caller's ctx does.
func (p *chromePage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	stop := context.AfterFunc(ctx, cancel)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		return runCtx, func() { stop(); cancelDL(); cancel() }
	}
	return runCtx, func() { stop(); cancel() }
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, done := p.bind(ctx)
	defer done()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		p.events.AddConsole(string(e.Type), consoleText(e.Args))
	case *cdppage.EventJavascriptDialogOpening:
		accept := p.events.HandleDialog(string(e.Type), e.Message)
		go chromedp.Run(p.tabCtx, cdppage.HandleJavaScriptDialog(accept))
	case *network.EventRequestWillBeSent:
		p.net.started(string(e.RequestID))
	case *network.EventLoadingFinished:
		p.net.finished(string(e.RequestID))
	case *network.EventLoadingFailed:
		p.net.finished(string(e.RequestID))
	case *cdppage.EventScreencastFrame:
		if sink := p.frameSink(); sink != nil {
			if data, err := base64.StdEncoding.DecodeString(e.Data); err == nil {
				sink(data)
			}
		}
		go chromedp.Run(p.tabCtx, cdppage.ScreencastFrameAck(e.SessionID))
	case *browser.EventDownloadWillBegin:
		p.onBrowserEvent(ev)
	case *browser.EventDownloadProgress:
		p.onBrowserEvent(ev)
	}
}

func (p *chromePage) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		if p.frameID != "" && e.FrameID != p.frameID {
			return
		}
		p.events.DownloadBegin(e.GUID, e.SuggestedFilename, e.URL)
	case *browser.EventDownloadProgress:
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			p.events.DownloadFinished(e.GUID, false)
		case browser.DownloadProgressStateCanceled:
			p.events.DownloadFinished(e.GUID, true)
		}
	}
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case arg.Value != nil:
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
		case arg.Description != "":
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}

func (p *chromePage) navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) eval(ctx context.Context, js string) (string, error) {
	var out string
	err := p.run(ctx, chromedp.Evaluate(js, &out))
	return out, err
}

func (p *chromePage) poll(ctx context.Context, js string) error {
	timeout := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	var ok bool
	err := p.run(ctx, chromedp.Poll(js, &ok,
		chromedp.WithPollingTimeout(timeout),
		chromedp.WithPollingInterval(pollEvery),
	))
	if errors.Is(err, chromedp.ErrPollingTimeout) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func (p *chromePage) clickCSS(ctx context.Context, css string) error {
	return p.run(ctx, chromedp.Click(css, chromedp.ByQuery))
}

func (p *chromePage) screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (p *chromePage) allowDownloads(ctx context.Context, dir string) error {
	c := chromedp.FromContext(p.tabCtx)
	runCtx, done := p.bind(ctx)
	defer done()
	return browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
		WithBrowserContextID(c.BrowserContextID).
		WithDownloadPath(dir).
		WithEventsEnabled(true).
		Do(cdp.WithExecutor(runCtx, c.Browser))
}

func (p *chromePage) startScreencast(ctx context.Context, sink func([]byte)) error {
	p.setSink(sink)
	return p.run(ctx, cdppage.StartScreencast().
		WithFormat(cdppage.ScreencastFormatJpeg).
		WithQuality(60).
		WithEveryNthFrame(2))
}

func (p *chromePage) stopScreencast(ctx context.Context) error {
	p.setSink(nil)
	return p.run(ctx, cdppage.StopScreencast())
}

func (p *chromePage) network() *netTracker { return p.net }

func (p *chromePage) close() error {
	err := chromedp.Cancel(p.tabCtx)
	p.cancel()
	return err
}
