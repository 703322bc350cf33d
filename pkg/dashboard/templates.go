package dashboard

// HTML templates for the dashboard pages.
// These are embedded as strings and parsed at runtime.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>bci Dashboard</title>
    <link rel="stylesheet" href="/static/style.css">
</head>
<body>
    <nav>
        <strong>bci</strong>
        <a href="/" {{if eq .PageName "home"}}class="active"{{end}}>Overview</a>
        <a href="/programs" {{if or (eq .PageName "programs") (eq .PageName "program")}}class="active"{{end}}>Programs</a>
        <a href="/runs" {{if or (eq .PageName "runs") (eq .PageName "run")}}class="active"{{end}}>Runs</a>
    </nav>
    <main>
        {{.Content}}
    </main>
    <script src="/static/app.js"></script>
</body>
</html>`

const homeTemplate = `<h1>Overview</h1>
<div class="cards" data-refresh>
    <div class="card"><div class="label">Uptime</div><div class="value" data-field="uptime">{{.Uptime}}</div></div>
    <div class="card"><div class="label">Stored programs</div><div class="value" data-field="programCount">{{.ProgramCount}}</div></div>
    <div class="card"><div class="label">Journaled runs</div><div class="value" data-field="runCount">{{.RunCount}}</div></div>
    <div class="card"><div class="label">Runs since start</div><div class="value" data-field="runsSinceStart">{{.Runs}}</div></div>
    <div class="card"><div class="label">Completed</div><div class="value status-completed" data-field="completedSinceStart">{{.Completed}}</div></div>
    <div class="card"><div class="label">Faulted</div><div class="value status-faulted" data-field="faultedSinceStart">{{.Faulted}}</div></div>
    <div class="card"><div class="label">Steps executed</div><div class="value">{{formatNumber .Steps}}</div></div>
    <div class="card"><div class="label">Runs / sec</div><div class="value">{{formatNumber .RunsPerSec}}</div></div>
</div>
<p class="mono">step limit {{if .MaxSteps}}{{.MaxSteps}}{{else}}none{{end}}, {{.Workers}} batch workers</p>`

const programsTemplate = `<h1>Programs</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{else}}
<table>
    <thead><tr><th>Program ID</th><th>Name</th><th>Size</th><th>Stored</th><th>Created</th></tr></thead>
    <tbody>
    {{range .Programs}}
        <tr>
            <td class="mono"><a href="/programs/{{.ID}}">{{truncateHash .ID.String 8}}</a></td>
            <td>{{.Name}}</td>
            <td>{{formatBytes .Size}}</td>
            <td>{{formatBytes .StoredSize}}</td>
            <td>{{formatTime .CreatedAt}}</td>
        </tr>
    {{else}}
        <tr><td colspan="5">No programs stored</td></tr>
    {{end}}
    </tbody>
</table>
{{end}}`

const programDetailTemplate = `<h1>Program</h1>
<p class="mono">{{.ProgramID}}</p>
{{if .Error}}<p class="error">{{.Error}}</p>{{else}}
<div class="cards">
    <div class="card"><div class="label">Name</div><div class="value">{{if .Program.Name}}{{.Program.Name}}{{else}}-{{end}}</div></div>
    <div class="card"><div class="label">Size</div><div class="value">{{formatBytes .Program.Size}}</div></div>
    <div class="card"><div class="label">Created</div><div class="value">{{formatTime .Program.CreatedAt}}</div></div>
</div>
<h2>Listing</h2>
<pre>{{range .Listing}}{{.}}
{{end}}</pre>
<h2>Recent runs</h2>
<table>
    <thead><tr><th>Run</th><th>Status</th><th>Steps</th><th>Started</th><th>Duration</th></tr></thead>
    <tbody>
    {{range .Runs}}
        <tr>
            <td><a href="/runs/{{.ID}}">{{.ID}}</a></td>
            <td class="status-{{.Status}}">{{.Status}}{{if .Fault}} ({{.Fault}} at {{.FaultIP}}){{end}}</td>
            <td>{{.Steps}}</td>
            <td>{{formatTime .StartedAt}}</td>
            <td>{{formatDuration .Duration}}</td>
        </tr>
    {{else}}
        <tr><td colspan="5">No runs</td></tr>
    {{end}}
    </tbody>
</table>
{{end}}`

const runsTemplate = `<h1>Recent runs</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{else}}
<table>
    <thead><tr><th>Run</th><th>Program</th><th>Status</th><th>Steps</th><th>Started</th></tr></thead>
    <tbody>
    {{range .Runs}}
        <tr>
            <td><a href="/runs/{{.ID}}">{{.ID}}</a></td>
            <td class="mono"><a href="/programs/{{.ProgramID}}">{{truncateHash .ProgramID.String 8}}</a></td>
            <td class="status-{{.Status}}">{{.Status}}{{if .Fault}} ({{.Fault}}){{end}}</td>
            <td>{{.Steps}}</td>
            <td>{{formatTime .StartedAt}}</td>
        </tr>
    {{else}}
        <tr><td colspan="5">No runs journaled</td></tr>
    {{end}}
    </tbody>
</table>
{{end}}`

const runDetailTemplate = `<h1>Run {{.RunID}}</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{else}}{{with .Run}}
<div class="cards">
    <div class="card"><div class="label">Status</div><div class="value status-{{.Status}}">{{.Status}}</div></div>
    {{if .Fault}}<div class="card"><div class="label">Fault</div><div class="value">{{.Fault}} at ip={{.FaultIP}}</div></div>{{end}}
    <div class="card"><div class="label">Steps</div><div class="value">{{.Steps}}</div></div>
    <div class="card"><div class="label">Duration</div><div class="value">{{formatDuration .Duration}}</div></div>
</div>
<p>Program <a class="mono" href="/programs/{{.ProgramID}}">{{.ProgramID}}</a></p>
<p>Started {{formatTime .StartedAt}}</p>
<p>Output digest <span class="mono">{{.OutputDigest.Hex}}</span></p>
<h2>Output</h2>
<pre>{{range .Output}}{{.}}
{{else}}(not recorded or empty){{end}}</pre>
{{end}}{{end}}`
