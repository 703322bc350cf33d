package dashboard

// getStaticAsset returns a static asset by name.
// Returns the content, content type, and whether the asset was found.
func getStaticAsset(name string) (content string, contentType string, ok bool) {
	switch name {
	case "style.css":
		return cssStyles, "text/css", true
	case "app.js":
		return jsApp, "application/javascript", true
	default:
		return "", "", false
	}
}

const cssStyles = `
:root {
    --bg: #111827;
    --panel: #1f2937;
    --border: #374151;
    --text: #f3f4f6;
    --muted: #9ca3af;
    --ok: #10b981;
    --fault: #ef4444;
    --link: #60a5fa;
}

body { background: var(--bg); color: var(--text); font-family: system-ui, sans-serif; margin: 0; }
nav { background: var(--panel); border-bottom: 1px solid var(--border); padding: 0 1.5rem; display: flex; gap: 1.5rem; height: 3.5rem; align-items: center; }
nav a { color: var(--muted); text-decoration: none; }
nav a.active, nav a:hover { color: var(--text); }
main { max-width: 72rem; margin: 0 auto; padding: 1.5rem; }
a { color: var(--link); }
.mono, pre { font-family: ui-monospace, SFMono-Regular, Menlo, Consolas, monospace; }
.cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(12rem, 1fr)); gap: 1rem; }
.card { background: var(--panel); border: 1px solid var(--border); border-radius: 0.5rem; padding: 1rem; }
.card .label { color: var(--muted); font-size: 0.875rem; }
.card .value { font-size: 1.5rem; margin-top: 0.25rem; }
table { width: 100%; border-collapse: collapse; background: var(--panel); }
th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid var(--border); }
th { color: var(--muted); font-weight: 500; }
pre { background: var(--panel); border: 1px solid var(--border); padding: 1rem; overflow-x: auto; }
.status-completed { color: var(--ok); }
.status-faulted { color: var(--fault); }
.error { color: var(--fault); }
`

const jsApp = `
(function () {
    var el = document.querySelector('[data-refresh]');
    if (!el) return;
    setInterval(function () {
        fetch('/api/status').then(function (r) { return r.json(); }).then(function (s) {
            document.querySelectorAll('[data-field]').forEach(function (node) {
                var v = s[node.getAttribute('data-field')];
                if (v !== undefined) node.textContent = v;
            });
        });
    }, 5000);
})();
`
