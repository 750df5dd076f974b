package probe

import "fmt"

// BindingName is the page binding the instrumentation script reports to.
const BindingName = "__quietpageProbe"

// namespace is the non-enumerable window property holding observe/disconnect.
const namespace = "__quietpage"

// scriptTemplate is evaluated on every new document before page scripts
// run. It wraps window.fetch and XMLHttpRequest.prototype.send when they
// exist, exposes per-token MutationObserver control, and posts JSON
// messages to the binding:
//
//	{kind:"install", doc, top, fetch, xhr, observer}
//	{kind:"send"|"settle", doc, id}
//	{kind:"mutation", doc, token}
//	{kind:"unload", doc}
const scriptTemplate = `(() => {
	if (window[%[2]q]) return;
	const binding = %[1]q;
	const doc = Math.random().toString(36).slice(2) + Date.now().toString(36);
	const top = window.top === window;
	let seq = 0;

	const post = (msg) => {
		msg.doc = doc;
		const fn = window[binding];
		if (typeof fn !== 'function') return;
		try { fn(JSON.stringify(msg)); } catch (e) {}
	};

	const hooks = { fetch: false, xhr: false };

	if (typeof window.fetch === 'function') {
		const origFetch = window.fetch;
		window.fetch = function (...args) {
			const id = ++seq;
			post({ kind: 'send', id });
			let p;
			try {
				p = origFetch.apply(this, args);
			} catch (e) {
				post({ kind: 'settle', id });
				throw e;
			}
			if (!p || typeof p.finally !== 'function') {
				post({ kind: 'settle', id });
				return p;
			}
			return p.finally(() => post({ kind: 'settle', id }));
		};
		hooks.fetch = true;
	}

	const XHR = window.XMLHttpRequest;
	if (XHR && XHR.prototype && typeof XHR.prototype.send === 'function') {
		const origSend = XHR.prototype.send;
		XHR.prototype.send = function (...args) {
			const id = ++seq;
			post({ kind: 'send', id });
			this.addEventListener('loadend', () => post({ kind: 'settle', id }), { once: true });
			try {
				return origSend.apply(this, args);
			} catch (e) {
				post({ kind: 'settle', id });
				throw e;
			}
		};
		hooks.xhr = true;
	}

	const observers = new Map();
	Object.defineProperty(window, %[2]q, {
		enumerable: false,
		value: {
			observe(token) {
				if (typeof MutationObserver !== 'function') return false;
				if (observers.has(token)) return true;
				const obs = new MutationObserver(() => post({ kind: 'mutation', token }));
				obs.observe(document, { childList: true, subtree: true, attributes: true, characterData: true });
				observers.set(token, obs);
				return true;
			},
			disconnect(token) {
				const obs = observers.get(token);
				if (!obs) return false;
				obs.disconnect();
				observers.delete(token);
				return true;
			},
		},
	});

	window.addEventListener('pagehide', () => post({ kind: 'unload' }));
	post({
		kind: 'install',
		top,
		fetch: hooks.fetch,
		xhr: hooks.xhr,
		observer: typeof MutationObserver === 'function',
	});
})()`

// Script returns the instrumentation script to install with
// EvalOnNewDocument.
func Script() string {
	return fmt.Sprintf(scriptTemplate, BindingName, namespace)
}

var (
	observeJS    = fmt.Sprintf(`(token) => !!(window[%[1]q] && window[%[1]q].observe(token))`, namespace)
	disconnectJS = fmt.Sprintf(`(token) => !!(window[%[1]q] && window[%[1]q].disconnect(token))`, namespace)
)
