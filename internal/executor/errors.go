package executor

import (
	"errors"
	"fmt"
	"time"
)

// ActionError is a failed navigate/click/fill/select/registration.
type ActionError struct {
	Action   string
	Selector string
	Err      error
}

func (e *ActionError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("action %s %s: %v", e.Action, e.Selector, e.Err)
	}
	return fmt.Sprintf("action %s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// WaitTimeoutError means a wait condition never became true within budget.
type WaitTimeoutError struct {
	Condition string
	Selector  string
	Timeout   time.Duration
}

func (e *WaitTimeoutError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("wait %s %s: not satisfied within %s", e.Condition, e.Selector, e.Timeout)
	}
	return fmt.Sprintf("wait %s: not satisfied within %s", e.Condition, e.Timeout)
}

// NoDownloadObservedError is a WaitTimeoutError for download assertions.
type NoDownloadObservedError struct {
	Timeout time.Duration
}

func (e *NoDownloadObservedError) Error() string {
	return fmt.Sprintf("no download observed within %s", e.Timeout)
}

func (e *NoDownloadObservedError) Unwrap() error {
	return &WaitTimeoutError{Condition: "download", Timeout: e.Timeout}
}

// AssertionError is an expectation mismatch. It stops the attempt.
type AssertionError struct {
	Assertion string
	Selector  string
	Expected  string
	Actual    string
}

func (e *AssertionError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("assert %s %s: expected %s, got %s", e.Assertion, e.Selector, e.Expected, e.Actual)
	}
	return fmt.Sprintf("assert %s: expected %s, got %s", e.Assertion, e.Expected, e.Actual)
}

// TimeoutError means the whole attempt ran over the scenario budget.
type TimeoutError struct {
	Scenario string
	Timeout  time.Duration
	Err      error // what was in flight when the budget ran out
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scenario %q exceeded %s: %v", e.Scenario, e.Timeout, e.Err)
	}
	return fmt.Sprintf("scenario %q exceeded %s", e.Scenario, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Error kinds as they appear in reports.
const (
	KindTimeout    = "timeout"
	KindNoDownload = "no_download"
	KindWait       = "wait_timeout"
	KindAssertion  = "assertion"
	KindAction     = "action"
	KindBrowser    = "browser"
	KindCanceled   = "canceled"
)

// ErrorKind names the class of a scenario failure.
func ErrorKind(err error) string {
	var (
		te *TimeoutError
		nd *NoDownloadObservedError
		we *WaitTimeoutError
		ae *AssertionError
		ac *ActionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return KindTimeout
	case errors.As(err, &nd):
		return KindNoDownload
	case errors.As(err, &we):
		return KindWait
	case errors.As(err, &ae):
		return KindAssertion
	case errors.As(err, &ac):
		return KindAction
	case errors.Is(err, errCanceled):
		return KindCanceled
	default:
		return KindBrowser
	}
}

var errCanceled = errors.New("run canceled")
