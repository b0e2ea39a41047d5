package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"ui-qa/internal/ir"
)

var ErrValidation = errors.New("validation error")

type Parser struct{}

func New() *Parser { return &Parser{} }

// ParseBytes parses YAML (or JSON) into IR, validates it and expands
// before_each and fixture references into explicit steps.
func (p *Parser) ParseBytes(b []byte) (*ir.TestSuite, error) {
	var suite ir.TestSuite

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true) // fail on unknown fields

	if err := dec.Decode(&suite); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	normalizeSuite(&suite)
	if err := validateSuite(&suite); err != nil {
		return nil, err
	}
	if err := expandSuite(&suite); err != nil {
		return nil, err
	}
	return &suite, nil
}

// normalizeSuite lower-cases type discriminators so "Click" and "click" agree.
func normalizeSuite(s *ir.TestSuite) {
	for i := range s.BeforeEach {
		normalizeAction(&s.BeforeEach[i])
	}
	for k, st := range s.Fixtures {
		normalizeStep(&st)
		s.Fixtures[k] = st
	}
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		normalizeStep(&ir.Step{Actions: sc.Actions, Waits: sc.Waits, Assert: sc.Assert})
		for j := range sc.Steps {
			normalizeStep(&sc.Steps[j])
		}
	}
}

func normalizeStep(st *ir.Step) {
	for i := range st.Actions {
		normalizeAction(&st.Actions[i])
	}
	for i := range st.Waits {
		st.Waits[i].Type = strings.ToLower(strings.TrimSpace(st.Waits[i].Type))
	}
	for i := range st.Assert {
		st.Assert[i].Type = strings.ToLower(strings.TrimSpace(st.Assert[i].Type))
	}
}

func normalizeAction(a *ir.Action) {
	a.Type = strings.ToLower(strings.TrimSpace(a.Type))
	a.Policy = strings.ToLower(strings.TrimSpace(a.Policy))
	if a.Type == ir.ActionDialog && a.Policy == "" {
		a.Policy = ir.DialogAccept
	}
}

// --- expansion ---

// expandSuite rewrites every scenario into an explicit list of steps:
// before_each, fixtures named by scenario.use, the leading phase, then the
// scenario's own steps (with step.use replaced by the fixture body).
func expandSuite(s *ir.TestSuite) error {
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		var steps []ir.Step
		if len(s.BeforeEach) > 0 {
			steps = append(steps, ir.Step{Name: "before each", Actions: cloneActions(s.BeforeEach)})
		}
		for _, name := range sc.Use {
			fx, ok := s.Fixtures[name]
			if !ok {
				return wrapValidation(fmt.Sprintf("scenario %q uses unknown fixture %q", sc.Name, name))
			}
			steps = append(steps, fixtureStep(name, fx))
		}
		if len(sc.Actions)+len(sc.Waits)+len(sc.Assert) > 0 {
			steps = append(steps, ir.Step{Name: sc.Name, Actions: sc.Actions, Waits: sc.Waits, Assert: sc.Assert})
		}
		for _, st := range sc.Steps {
			if st.Use != "" {
				fx, ok := s.Fixtures[st.Use]
				if !ok {
					return wrapValidation(fmt.Sprintf("scenario %q step %q uses unknown fixture %q", sc.Name, st.Name, st.Use))
				}
				steps = append(steps, fixtureStep(st.Use, fx))
				if len(st.Actions)+len(st.Waits)+len(st.Assert) == 0 {
					continue
				}
				st.Use = ""
			}
			steps = append(steps, st)
		}
		sc.Use = nil
		sc.Actions, sc.Waits, sc.Assert = nil, nil, nil
		sc.Steps = steps
	}
	return nil
}

func fixtureStep(name string, fx ir.Step) ir.Step {
	st := ir.Step{
		Name:    fx.Name,
		Actions: cloneActions(fx.Actions),
		Waits:   append([]ir.Wait(nil), fx.Waits...),
		Assert:  append([]ir.Assertion(nil), fx.Assert...),
	}
	if st.Name == "" {
		st.Name = name
	}
	return st
}

func cloneActions(in []ir.Action) []ir.Action {
	return append([]ir.Action(nil), in...)
}

// --- validation helpers ---

func validateSuite(s *ir.TestSuite) error {
	if s.Name == "" {
		return wrapValidation("suite.name must not be empty")
	}
	if len(s.Scenarios) == 0 {
		return wrapValidation("suite.scenarios must not be empty")
	}
	for i := range s.BeforeEach {
		if err := validateAction(s.BeforeEach[i], fmt.Sprintf("before_each[%d]", i)); err != nil {
			return err
		}
	}
	for name, fx := range s.Fixtures {
		if fx.Use != "" {
			return wrapValidation(fmt.Sprintf("fixture %q: fixtures cannot use other fixtures", name))
		}
		if err := validateStep(fx, "fixture "+name); err != nil {
			return err
		}
	}
	seen := map[string]bool{}
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		if sc.Name == "" {
			return wrapValidation(fmt.Sprintf("scenario[%d].name must not be empty", i))
		}
		if seen[sc.Name] {
			return wrapValidation(fmt.Sprintf("scenario[%d].name %q is duplicated", i, sc.Name))
		}
		seen[sc.Name] = true
		if sc.TimeoutMs < 0 {
			return wrapValidation(fmt.Sprintf("scenario[%d].timeout_ms must not be negative", i))
		}
		if err := validateScenario(sc, i); err != nil {
			return err
		}
	}
	return nil
}

func validateScenario(sc *ir.Scenario, idx int) error {
	lead := ir.Step{Actions: sc.Actions, Waits: sc.Waits, Assert: sc.Assert}
	empty := len(lead.Actions)+len(lead.Waits)+len(lead.Assert) == 0 && len(sc.Steps) == 0 && len(sc.Use) == 0
	if empty {
		return wrapValidation(fmt.Sprintf("scenario[%d] %q has no actions, waits, assertions or steps", idx, sc.Name))
	}
	if err := validateStep(lead, fmt.Sprintf("scenario[%d]", idx)); err != nil {
		return err
	}
	for j, st := range sc.Steps {
		if err := validateStep(st, fmt.Sprintf("scenario[%d].steps[%d]", idx, j)); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(st ir.Step, where string) error {
	for i, a := range st.Actions {
		if err := validateAction(a, fmt.Sprintf("%s.actions[%d]", where, i)); err != nil {
			return err
		}
	}
	for i, w := range st.Waits {
		if err := validateWait(w, fmt.Sprintf("%s.waits[%d]", where, i)); err != nil {
			return err
		}
	}
	for i, a := range st.Assert {
		if err := validateAssertion(a, fmt.Sprintf("%s.assert[%d]", where, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(a ir.Action, where string) error {
	switch a.Type {
	case ir.ActionNavigate:
		if a.URL == "" {
			return wrapValidation(where + ".url must not be empty")
		}
	case ir.ActionClick:
		return checkSelector(a.Selector, where)
	case ir.ActionFill, ir.ActionSelect:
		return checkSelector(a.Selector, where)
	case ir.ActionDialog:
		if a.Policy != ir.DialogAccept && a.Policy != ir.DialogDismiss {
			return wrapValidation(fmt.Sprintf("%s.policy must be accept or dismiss, got %q", where, a.Policy))
		}
	case ir.ActionDownload:
	default:
		return wrapValidation(fmt.Sprintf("%s: unknown action type %q", where, a.Type))
	}
	return nil
}

func validateWait(w ir.Wait, where string) error {
	if w.TimeoutMs < 0 {
		return wrapValidation(where + ".timeout_ms must not be negative")
	}
	switch w.Type {
	case ir.WaitVisible, ir.WaitHidden:
		return checkSelector(w.Selector, where)
	case ir.WaitNetworkIdle:
		return nil
	default:
		return wrapValidation(fmt.Sprintf("%s: unknown wait type %q", where, w.Type))
	}
}

func validateAssertion(a ir.Assertion, where string) error {
	switch a.Type {
	case ir.AssertTitleMatches, ir.AssertDownloadFilenameMatches:
		if a.Pattern == "" {
			return wrapValidation(where + ".pattern must not be empty")
		}
		return checkPattern(a.Pattern, where)
	case ir.AssertTextEquals, ir.AssertTextNotEquals, ir.AssertTextContains:
		return checkSelector(a.Selector, where)
	case ir.AssertHasClass:
		if a.Expected == "" {
			return wrapValidation(where + ".expected (class name) must not be empty")
		}
		return checkSelector(a.Selector, where)
	case ir.AssertVisible, ir.AssertHidden:
		return checkSelector(a.Selector, where)
	case ir.AssertCountGreaterThan:
		if a.N < 0 {
			return wrapValidation(where + ".n must not be negative")
		}
		return checkSelector(a.Selector, where)
	case ir.AssertStyleEquals:
		if a.Property == "" {
			return wrapValidation(where + ".property must not be empty")
		}
		return checkSelector(a.Selector, where)
	case ir.AssertConsoleErrors:
		if a.MaxAllowed < 0 {
			return wrapValidation(where + ".max_allowed must not be negative")
		}
		return nil
	default:
		return wrapValidation(fmt.Sprintf("%s: unknown assertion type %q", where, a.Type))
	}
}

func checkSelector(raw, where string) error {
	if raw == "" {
		return wrapValidation(where + ".selector must not be empty")
	}
	if strings.Contains(raw, "${") {
		return nil // resolved at execution time
	}
	if _, err := ir.ParseSelector(raw); err != nil {
		return wrapValidation(fmt.Sprintf("%s: %v", where, err))
	}
	return nil
}

func checkPattern(p, where string) error {
	if _, err := regexp.Compile(p); err != nil {
		return wrapValidation(fmt.Sprintf("%s.pattern: %v", where, err))
	}
	return nil
}

func wrapValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
