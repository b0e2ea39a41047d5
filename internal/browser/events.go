package browser

import (
	"context"
	"path/filepath"
	"sync"
	"time"
)

type ConsoleMessage struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

type Dialog struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Accepted bool   `json:"accepted"`
}

type Download struct {
	GUID              string `json:"guid"`
	SuggestedFilename string `json:"suggested_filename"`
	URL               string `json:"url"`
	Path              string `json:"path"`
	Completed         bool   `json:"completed"`
	Canceled          bool   `json:"canceled"`
}

// Events is the per-attempt event subscription. Drivers push into it from
// their event loops; the executor reads it. It is discarded with the context,
// so nothing leaks from one attempt into the next.
type Events struct {
	mu sync.Mutex

	console []ConsoleMessage
	dialogs []Dialog

	dialogPolicy string // "" until a dialog handler is registered

	downloadDir string // "" until a download listener is registered
	downloads   map[string]*Download
	begun       []string
	completed   []string
	changed     chan struct{}
}

func NewEvents() *Events {
	return &Events{
		downloads: map[string]*Download{},
		changed:   make(chan struct{}),
	}
}

func (e *Events) AddConsole(level, text string) {
	e.mu.Lock()
	e.console = append(e.console, ConsoleMessage{Level: level, Text: text, At: time.Now()})
	e.mu.Unlock()
}

// Console returns every message seen since the context was created.
func (e *Events) Console() []ConsoleMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ConsoleMessage(nil), e.console...)
}

// ConsoleErrors returns the text of error-level messages.
func (e *Events) ConsoleErrors() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, m := range e.console {
		if m.Level == "error" {
			out = append(out, m.Text)
		}
	}
	return out
}

// SetDialogPolicy registers the dialog handler. The latest registration wins.
func (e *Events) SetDialogPolicy(policy string) {
	e.mu.Lock()
	e.dialogPolicy = policy
	e.mu.Unlock()
}

// HandleDialog records a dialog and decides whether to accept it. Without a
// registered handler every dialog is dismissed.
func (e *Events) HandleDialog(kind, message string) (accept bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	accept = e.dialogPolicy == "accept"
	e.dialogs = append(e.dialogs, Dialog{Type: kind, Message: message, Accepted: accept})
	return accept
}

func (e *Events) Dialogs() []Dialog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Dialog(nil), e.dialogs...)
}

// ListenDownloads registers the download listener; only downloads that begin
// afterwards are observed. Files land in dir, named by their GUID.
func (e *Events) ListenDownloads(dir string) {
	e.mu.Lock()
	e.downloadDir = dir
	e.mu.Unlock()
}

func (e *Events) DownloadDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downloadDir
}

func (e *Events) DownloadBegin(guid, suggested, url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.downloadDir == "" {
		return
	}
	if _, ok := e.downloads[guid]; ok {
		return
	}
	e.downloads[guid] = &Download{
		GUID:              guid,
		SuggestedFilename: suggested,
		URL:               url,
		Path:              filepath.Join(e.downloadDir, guid),
	}
	e.begun = append(e.begun, guid)
}

// DownloadFinished marks a download completed or canceled and wakes waiters.
func (e *Events) DownloadFinished(guid string, canceled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.downloads[guid]
	if !ok || d.Completed || d.Canceled {
		return
	}
	if canceled {
		d.Canceled = true
	} else {
		d.Completed = true
		e.completed = append(e.completed, guid)
	}
	close(e.changed)
	e.changed = make(chan struct{})
}

// Downloads returns every observed download in begin order.
func (e *Events) Downloads() []Download {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Download, 0, len(e.begun))
	for _, g := range e.begun {
		out = append(out, *e.downloads[g])
	}
	return out
}

// WaitDownload blocks until a download has completed and returns the most
// recently completed one.
func (e *Events) WaitDownload(ctx context.Context) (Download, error) {
	for {
		e.mu.Lock()
		if n := len(e.completed); n > 0 {
			d := *e.downloads[e.completed[n-1]]
			e.mu.Unlock()
			return d, nil
		}
		ch := e.changed
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Download{}, ctx.Err()
		}
	}
}
