package mcp

import (
	"html/template"
	"net/http"
)

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Course Tutor MCP Server</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #fdfbf7; color: #1f2937; min-height: 100vh; display: flex; align-items: center; justify-content: center; }
  .card { max-width: 680px; width: 92%; background: #fff; border: 1px solid #e5e7eb; border-radius: 10px; padding: 2.25rem; }
  h1 { font-size: 1.6rem; margin-bottom: 0.4rem; }
  .subtitle { color: #6b7280; margin-bottom: 1.5rem; }
  .section { margin-bottom: 1.4rem; }
  .section-title { font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.08em; color: #9ca3af; margin-bottom: 0.5rem; }
  pre { background: #f3f4f6; border-radius: 6px; padding: 0.9rem; overflow-x: auto; font-size: 0.85rem; }
  code, .tool { font-family: "SF Mono", Menlo, monospace; }
  .tool { color: #7c3aed; }
  li { margin: 0.3rem 0 0.3rem 1.2rem; }
</style>
</head>
<body>
<div class="card">
  <h1>Course Tutor</h1>
  <p class="subtitle">Math tutoring grounded in your course materials, with exact symbolic computation. Version {{.Version}}.</p>

  <div class="section">
    <div class="section-title">Connect</div>
    <pre><code>claude mcp add course-tutor --transport http http://{{.Host}}/mcp</code></pre>
  </div>

  <div class="section">
    <div class="section-title">Tools</div>
    <ul>
    {{- range .Tools}}
      <li><span class="tool">{{.Name}}</span> {{.Description}}</li>
    {{- end}}
    </ul>
  </div>

  <div class="section">
    <div class="section-title">Endpoints</div>
    <p><code>/mcp</code> MCP Streamable HTTP</p>
    <p><code>/health</code> Index health check</p>
  </div>
</div>
</body>
</html>`))

// NewLandingHandler returns an HTTP handler that describes the server and
// its tools at /.
func NewLandingHandler(server *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := landingTemplate.Execute(w, struct {
			Version string
			Host    string
			Tools   []ToolInfo
		}{server.version, r.Host, server.Tools()})
		if err != nil {
			server.logger.Error("render landing page", "error", err)
		}
	}
}
