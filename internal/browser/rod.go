package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ternarybob/arbor"

	"ui-qa/internal/config"
)

// rodLauncher drives a Chrome process started by the go-rod launcher.
type rodLauncher struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	logger   arbor.ILogger
}

func openRod(ctx context.Context, opts Options, logger arbor.ILogger) (*rodLauncher, error) {
	l := launcher.New().
		Context(ctx).
		Headless(opts.Headless).
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("window-size", fmt.Sprintf("%d,%d", opts.WindowWidth, opts.WindowHeight))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch Chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to Chrome: %w", err)
	}
	logger.Debug().Str("engine", config.EngineRod).Str("cdp", controlURL).Msg("Browser started")

	return &rodLauncher{launcher: l, browser: b, logger: logger}, nil
}

func (l *rodLauncher) Engine() string { return config.EngineRod }

// NewContext opens a page in a fresh incognito browser context.
func (l *rodLauncher) NewContext(ctx context.Context) (Context, error) {
	incognito, err := l.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create incognito context: %w", err)
	}
	pg, err := incognito.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = proto.TargetDisposeBrowserContext{BrowserContextID: incognito.BrowserContextID}.Call(l.browser)
		return nil, fmt.Errorf("open page: %w", err)
	}

	evCtx, cancel := context.WithCancel(context.Background())
	p := &rodPage{
		root:      l.browser,
		incognito: incognito,
		page:      pg.Context(evCtx),
		cancel:    cancel,
		events:    NewEvents(),
		net:       newNetTracker(),
	}
	p.subscribe(evCtx)
	return newPageContext(p, p.events), nil
}

func (l *rodLauncher) Close() error {
	err := l.browser.Close()
	l.launcher.Cleanup()
	return err
}

type rodPage struct {
	root      *rod.Browser
	incognito *rod.Browser
	page      *rod.Page
	cancel    context.CancelFunc
	events    *Events
	net       *netTracker

	mu   sync.Mutex
	sink func([]byte)
}

// subscribe attaches the per-context listeners. They stop when evCtx ends.
func (p *rodPage) subscribe(evCtx context.Context) {
	go p.page.EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			var text string
			for i, arg := range e.Args {
				s := arg.Value.Str()
				if s == "" {
					s = arg.Description
				}
				if i > 0 {
					text += " "
				}
				text += s
			}
			p.events.AddConsole(string(e.Type), text)
		},
		func(e *proto.PageJavascriptDialogOpening) {
			accept := p.events.HandleDialog(string(e.Type), e.Message)
			go func() { _ = proto.PageHandleJavaScriptDialog{Accept: accept}.Call(p.page) }()
		},
		func(e *proto.NetworkRequestWillBeSent) { p.net.started(string(e.RequestID)) },
		func(e *proto.NetworkLoadingFinished) { p.net.finished(string(e.RequestID)) },
		func(e *proto.NetworkLoadingFailed) { p.net.finished(string(e.RequestID)) },
		func(e *proto.PageScreencastFrame) {
			p.mu.Lock()
			sink := p.sink
			p.mu.Unlock()
			if sink != nil {
				sink(e.Data)
			}
			go func() { _ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(p.page) }()
		},
	)()

	frameID := p.page.FrameID
	go p.root.Context(evCtx).EachEvent(
		func(e *proto.BrowserDownloadWillBegin) {
			if frameID != "" && e.FrameID != frameID {
				return
			}
			p.events.DownloadBegin(e.GUID, e.SuggestedFilename, e.URL)
		},
		func(e *proto.BrowserDownloadProgress) {
			switch e.State {
			case proto.BrowserDownloadProgressStateCompleted:
				p.events.DownloadFinished(e.GUID, false)
			case proto.BrowserDownloadProgressStateCanceled:
				p.events.DownloadFinished(e.GUID, true)
			}
		},
	)()
}

func (p *rodPage) navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Eval("() => " + js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) poll(ctx context.Context, js string) error {
	pg := p.page.Context(ctx)
	t := time.NewTicker(pollEvery)
	defer t.Stop()
	for {
		res, err := pg.Eval("() => " + js)
		if err == nil && res.Value.Bool() {
			return nil
		}
		var evalErr *rod.EvalError
		if errors.As(err, &evalErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *rodPage) clickCSS(ctx context.Context, css string) error {
	el, err := p.page.Context(ctx).Element(css)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, nil)
}

func (p *rodPage) allowDownloads(ctx context.Context, dir string) error {
	return proto.BrowserSetDownloadBehavior{
		Behavior:         proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		BrowserContextID: p.incognito.BrowserContextID,
		DownloadPath:     dir,
		EventsEnabled:    true,
	}.Call(p.root.Context(ctx))
}

func (p *rodPage) startScreencast(ctx context.Context, sink func([]byte)) error {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
	quality, every := 60, 2
	return proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		EveryNthFrame: &every,
	}.Call(p.page.Context(ctx))
}

func (p *rodPage) stopScreencast(ctx context.Context) error {
	p.mu.Lock()
	p.sink = nil
	p.mu.Unlock()
	return proto.PageStopScreencast{}.Call(p.page.Context(ctx))
}

func (p *rodPage) network() *netTracker { return p.net }

func (p *rodPage) close() error {
	err := p.page.Close()
	p.cancel()
	if derr := (proto.TargetDisposeBrowserContext{BrowserContextID: p.incognito.BrowserContextID}).Call(p.root); err == nil {
		err = derr
	}
	return err
}
