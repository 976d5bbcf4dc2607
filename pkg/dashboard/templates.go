package dashboard

// HTML templates for the dashboard pages.
// These are embedded as strings and parsed at startup.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>stackvm Dashboard</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <style>
        .mono { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }
    </style>
</head>
<body class="bg-gray-900 text-gray-100 min-h-screen">
    <nav class="bg-gray-800 border-b border-gray-700">
        <div class="container mx-auto px-4 flex items-center h-16 space-x-8">
            <a href="/" class="text-xl font-bold text-white">stackvm</a>
            <a href="/" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "home"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700{{end}}">Overview</a>
            <a href="/program" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "program"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700{{end}}">Inspect</a>
        </div>
    </nav>
    <main class="container mx-auto px-4 py-8">
        {{.Content}}
    </main>
</body>
</html>`

const homeTemplate = `<div class="grid grid-cols-1 md:grid-cols-4 gap-4 mb-8">
    <div class="bg-gray-800 rounded-lg p-4">
        <div class="text-sm text-gray-400">Executions</div>
        <div class="text-2xl font-bold" id="executions">{{formatNumber .Stats.Executions}}</div>
    </div>
    <div class="bg-gray-800 rounded-lg p-4">
        <div class="text-sm text-gray-400">Cache hits</div>
        <div class="text-2xl font-bold" id="cache-hits">{{formatNumber .Stats.CacheHits}}</div>
    </div>
    <div class="bg-gray-800 rounded-lg p-4">
        <div class="text-sm text-gray-400">Cached results</div>
        <div class="text-2xl font-bold" id="cached-results">{{formatNumber .Stats.CachedResults}}</div>
    </div>
    <div class="bg-gray-800 rounded-lg p-4">
        <div class="text-sm text-gray-400">Instructions executed</div>
        <div class="text-2xl font-bold" id="steps">{{formatNumber .Stats.StepsExecuted}}</div>
    </div>
</div>
<div class="bg-gray-800 rounded-lg p-4 mb-8">
    <h2 class="text-lg font-semibold mb-2">Configuration</h2>
    <p class="text-sm">Digest: <span class="mono">{{.Hash}}</span></p>
    <p class="text-sm">Step budget: {{if .MaxSteps}}{{.MaxSteps}}{{else}}unlimited{{end}}</p>
    <p class="text-sm">Uptime: {{.Uptime}}</p>
</div>
<div class="bg-gray-800 rounded-lg p-4">
    <h2 class="text-lg font-semibold mb-2">Failures ({{.Stats.Failures}})</h2>
    {{if .FailureKinds}}
    <table class="w-full text-sm">
        {{range .FailureKinds}}
        <tr><td class="mono py-1">{{.Kind}}</td><td class="text-right">{{.Count}}</td></tr>
        {{end}}
    </table>
    {{else}}
    <p class="text-sm text-gray-400">No failed runs.</p>
    {{end}}
</div>`

const programTemplate = `<form method="get" action="/program" class="mb-8">
    <label class="block text-sm text-gray-400 mb-2" for="hex">Program (hex)</label>
    <textarea id="hex" name="hex" rows="4" class="w-full bg-gray-800 rounded p-2 mono">{{.Hex}}</textarea>
    <button type="submit" class="mt-2 px-4 py-2 bg-blue-600 rounded">Inspect</button>
</form>
{{with .Program}}
<div class="bg-gray-800 rounded-lg p-4">
    {{if .ProgramID}}<p class="text-sm">Program ID: <span class="mono">{{.ProgramID}}</span></p>{{end}}
    <p class="text-sm mb-4">Size: {{.Size}} bytes</p>
    <pre class="mono text-sm">{{range .Instructions}}{{.}}
{{end}}</pre>
    {{if .Error}}<p class="text-red-400 text-sm mt-4">{{if .ErrorKind}}{{.ErrorKind}}: {{end}}{{.Error}}</p>{{end}}
</div>
{{end}}`
