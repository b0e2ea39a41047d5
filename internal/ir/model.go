package ir

// Action types (string constants for portability)
const (
	ActionNavigate = "navigate"
	ActionClick    = "click"
	ActionFill     = "fill"
	ActionSelect   = "select"
	ActionDialog   = "dialog"   // registers a dialog handler
	ActionDownload = "download" // registers a download listener
)

// Wait types
const (
	WaitVisible     = "visible"
	WaitHidden      = "hidden"
	WaitNetworkIdle = "network_idle"
)

// Assertion types
const (
	AssertTitleMatches            = "title_matches"
	AssertTextEquals              = "text_equals"
	AssertTextNotEquals           = "text_not_equals"
	AssertTextContains            = "text_contains"
	AssertHasClass                = "has_class"
	AssertVisible                 = "visible"
	AssertHidden                  = "hidden"
	AssertCountGreaterThan        = "count_gt"
	AssertStyleEquals             = "style_equals"
	AssertDownloadFilenameMatches = "download_filename_matches"
	AssertConsoleErrors           = "console_errors"
)

// Dialog policies
const (
	DialogAccept  = "accept"
	DialogDismiss = "dismiss"
)

type TestSuite struct {
	Name       string          `json:"name" yaml:"name"`
	BeforeEach []Action        `json:"before_each,omitempty" yaml:"before_each,omitempty"`
	Fixtures   map[string]Step `json:"fixtures,omitempty" yaml:"fixtures,omitempty"`
	Scenarios  []Scenario      `json:"scenarios" yaml:"scenarios"`
}

// Scenario is one user-facing behavior. Actions, Waits and Assert form the
// leading phase; Steps are follow-on phases run after it, in order.
type Scenario struct {
	Name      string      `json:"name" yaml:"name"`
	Tags      []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	TimeoutMs int         `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Use       []string    `json:"use,omitempty" yaml:"use,omitempty"`
	Actions   []Action    `json:"actions,omitempty" yaml:"actions,omitempty"`
	Waits     []Wait      `json:"waits,omitempty" yaml:"waits,omitempty"`
	Assert    []Assertion `json:"assert,omitempty" yaml:"assert,omitempty"`
	Steps     []Step      `json:"steps,omitempty" yaml:"steps,omitempty"`
}

type Step struct {
	Name    string      `json:"name,omitempty" yaml:"name,omitempty"`
	Use     string      `json:"use,omitempty" yaml:"use,omitempty"`
	Actions []Action    `json:"actions,omitempty" yaml:"actions,omitempty"`
	Waits   []Wait      `json:"waits,omitempty" yaml:"waits,omitempty"`
	Assert  []Assertion `json:"assert,omitempty" yaml:"assert,omitempty"`
}

type Action struct {
	Type     string `json:"type" yaml:"type"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Policy   string `json:"policy,omitempty" yaml:"policy,omitempty"`
}

type Wait struct {
	Type      string `json:"type" yaml:"type"`
	Selector  string `json:"selector,omitempty" yaml:"selector,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

type Assertion struct {
	Type       string   `json:"type" yaml:"type"`
	Selector   string   `json:"selector,omitempty" yaml:"selector,omitempty"`
	Expected   string   `json:"expected,omitempty" yaml:"expected,omitempty"`
	Pattern    string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Property   string   `json:"property,omitempty" yaml:"property,omitempty"`
	N          int      `json:"n,omitempty" yaml:"n,omitempty"`
	Ignore     []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	MaxAllowed int      `json:"max_allowed,omitempty" yaml:"max_allowed,omitempty"`
}

// Phases returns the leading phase followed by every follow-on step.
func (s Scenario) Phases() []Step {
	lead := Step{Name: s.Name, Actions: s.Actions, Waits: s.Waits, Assert: s.Assert}
	out := make([]Step, 0, len(s.Steps)+1)
	if len(lead.Actions)+len(lead.Waits)+len(lead.Assert) > 0 {
		out = append(out, lead)
	}
	return append(out, s.Steps...)
}
