package cdp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
)

// BindingName is the page function the content shim reports through.
const BindingName = "__scrollSyncEvent__"

// Binding event types sent by the content shim.
const (
	BindingScroll  = "scroll"
	BindingKeyDown = "keydown"
	BindingKeyUp   = "keyup"
	BindingBlur    = "blur"
)

// BindingEvent is the payload the content shim passes to the binding.
type BindingEvent struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
}

// shimScript returns the content shim. It installs its listeners once per
// document and reports only the modifier key.
func shimScript(modifierKey string) string {
	key, _ := json.Marshal(modifierKey)
	return fmt.Sprintf(`(() => {
	if (window.__scrollSyncInstalled) return true;
	window.__scrollSyncInstalled = true;
	const modifier = %s.toLowerCase();
	const send = (type, key) => {
		try {
			window.%s(JSON.stringify(key ? { type, key } : { type }));
		} catch (e) {}
	};
	window.addEventListener('scroll', () => send('scroll'), { passive: true });
	window.addEventListener('keydown', (e) => {
		if (!e.repeat && e.key && e.key.toLowerCase() === modifier) send('keydown', e.key);
	}, true);
	window.addEventListener('keyup', (e) => {
		if (e.key && e.key.toLowerCase() === modifier) send('keyup', e.key);
	}, true);
	window.addEventListener('blur', () => send('blur'));
	return true;
})()`, key, BindingName)
}

const metricsScript = `JSON.stringify((() => {
	const el = document.scrollingElement || document.documentElement;
	return {
		scrollTop: window.scrollY,
		scrollLeft: window.scrollX,
		scrollHeight: el.scrollHeight,
		scrollWidth: el.scrollWidth,
		clientHeight: window.innerHeight,
		clientWidth: window.innerWidth,
	};
})())`

// describeFunc is shared by the element queries: it turns a DOM element into
// the fields of document.Element.
const describeFunc = `const describe = (el, index) => {
	let depth = 0;
	for (let p = el.parentElement; p; p = p.parentElement) depth++;
	const tag = el.tagName.toLowerCase();
	const className = typeof el.className === 'string' ? el.className : (el.getAttribute('class') || '');
	return {
		ref: tag + '#' + index,
		tag,
		id: el.id || '',
		className,
		text: (el.textContent || '').trim().replace(/\s+/g, ' ').slice(0, 200),
		depth,
		index,
		top: el.getBoundingClientRect().top + window.scrollY,
	};
};
const indexOf = (el) => Array.prototype.indexOf.call(document.getElementsByTagName(el.tagName), el);`

func elementByIDScript(id string) string {
	q, _ := json.Marshal(id)
	return fmt.Sprintf(`JSON.stringify((() => {
	%s
	const el = document.getElementById(%s);
	return el ? describe(el, indexOf(el)) : null;
})())`, describeFunc, q)
}

func elementsByTagScript(tag string) string {
	q, _ := json.Marshal(strings.ToLower(tag))
	return fmt.Sprintf(`JSON.stringify((() => {
	%s
	return Array.from(document.getElementsByTagName(%s), (el, i) => describe(el, i));
})())`, describeFunc, q)
}

func candidatesScript() string {
	sel, _ := json.Marshal(strings.Join(document.CandidateTags, ","))
	return fmt.Sprintf(`JSON.stringify((() => {
	%s
	const out = Array.from(document.querySelectorAll(%s), (el) => describe(el, indexOf(el)));
	out.sort((a, b) => a.top - b.top);
	return out;
})())`, describeFunc, sel)
}

func scrollToScript(left, top float64) string {
	return fmt.Sprintf(`window.scrollTo({ left: %g, top: %g, behavior: 'instant' })`, left, top)
}
