package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"ui-qa/internal/ir"
)

// ElementState is one snapshot of a selector's matches.
type ElementState struct {
	Count   int      `json:"count"`
	Found   bool     `json:"found"`
	Text    string   `json:"text"`
	Classes []string `json:"classes"`
	Visible bool     `json:"visible"`
}

// markAttr tags an element resolved by the text-aware query so drivers can
// address it with plain CSS.
const markAttr = "data-uiqa-mark"

// domPrelude resolves a Selector in page: CSS, then a whitespace-normalized,
// case-insensitive text filter, then an index.
const domPrelude = `
const __norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
const __query = (sel) => {
	let all = Array.from(document.querySelectorAll(sel.css));
	if (sel.has_text) {
		const want = __norm(sel.has_text).toLowerCase();
		all = all.filter((el) => __norm(el.innerText || el.textContent).toLowerCase().includes(want));
	}
	return { all, el: all[sel.nth || 0] || null };
};
const __visible = (el) => {
	if (!el || !el.isConnected) return false;
	const st = window.getComputedStyle(el);
	if (st.visibility === 'hidden' || st.display === 'none') return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
};
`

func selectorJSON(sel ir.Selector) string {
	return jsLiteral(sel)
}

func quoteJS(s string) string {
	return jsLiteral(s)
}

// jsLiteral encodes v as a JS literal. HTML escaping is off: scripts are
// evaluated, never embedded in a page.
func jsLiteral(v any) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
	return strings.TrimSuffix(b.String(), "\n")
}

func iife(body string) string {
	return "(() => {" + domPrelude + body + "})()"
}

// stateJS evaluates to a JSON string encoding ElementState.
func stateJS(sel ir.Selector) string {
	return iife(fmt.Sprintf(`
	const q = __query(%s);
	const el = q.el;
	return JSON.stringify({
		count: q.all.length,
		found: !!el,
		text: el ? (el.textContent || '') : '',
		classes: el ? Array.from(el.classList) : [],
		visible: __visible(el),
	});`, selectorJSON(sel)))
}

// visibleJS evaluates to true once the selector matches a visible element.
func visibleJS(sel ir.Selector) string {
	return iife(fmt.Sprintf(`return __visible(__query(%s).el);`, selectorJSON(sel)))
}

// hiddenJS evaluates to true when the selector matches nothing visible.
func hiddenJS(sel ir.Selector) string {
	return iife(fmt.Sprintf(`return !__visible(__query(%s).el);`, selectorJSON(sel)))
}

// markJS tags the resolved element with token and evaluates to "ok" or an
// error string.
func markJS(sel ir.Selector, token string) string {
	return iife(fmt.Sprintf(`
	const el = __query(%s).el;
	if (!el) return 'no element matches';
	el.scrollIntoView({ block: 'center', inline: 'center' });
	el.setAttribute(%q, %s);
	return 'ok';`, selectorJSON(sel), markAttr, quoteJS(token)))
}

func markedCSS(token string) string {
	return fmt.Sprintf(`[%s=%q]`, markAttr, token)
}

// fillJS sets an input's value the way typing would: focus, value, input and
// change events.
func fillJS(sel ir.Selector, value string) string {
	return iife(fmt.Sprintf(`
	const el = __query(%s).el;
	if (!el) return 'no element matches';
	if (!('value' in el)) return 'element is not fillable: ' + el.tagName;
	el.focus();
	el.value = %s;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return 'ok';`, selectorJSON(sel), quoteJS(value)))
}

// selectJS picks an <option> by value, falling back to its label.
func selectJS(sel ir.Selector, value string) string {
	return iife(fmt.Sprintf(`
	const el = __query(%s).el;
	if (!el) return 'no element matches';
	if (el.tagName !== 'SELECT') return 'element is not a <select>: ' + el.tagName;
	const want = %s;
	const opt = Array.from(el.options).find((o) => o.value === want) ||
		Array.from(el.options).find((o) => __norm(o.label) === __norm(want));
	if (!opt) return 'no option ' + JSON.stringify(want);
	el.value = opt.value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return 'ok';`, selectorJSON(sel), quoteJS(value)))
}

// styleJS evaluates to a JSON string {found, value} for a computed property.
func styleJS(sel ir.Selector, property string) string {
	return iife(fmt.Sprintf(`
	const el = __query(%s).el;
	if (!el) return JSON.stringify({ found: false, value: '' });
	return JSON.stringify({ found: true, value: window.getComputedStyle(el).getPropertyValue(%s) });`,
		selectorJSON(sel), quoteJS(property)))
}

const titleJS = `document.title`
