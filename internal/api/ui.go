package api

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var uiFuncs = template.FuncMap{
	"percent": formatPercent,
	"ratio": func(r *float64) string {
		if r == nil {
			return "-"
		}
		return formatPercent(*r)
	},
}

var uiTemplates = template.Must(template.New("layout").Funcs(uiFuncs).Parse(`{{define "home"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <meta http-equiv="refresh" content="{{.Refresh}}"/>
  <title>tinybatch</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:1040px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    h1{font-size:22px;margin:0 0 8px}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:8px 12px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    textarea{width:100%;min-height:90px;padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px}
    table{width:100%;border-collapse:collapse;font-size:14px}
    td,th{padding:6px 8px;border-bottom:1px solid #efefef;text-align:left}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .status{display:inline-block;padding:3px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .status.finished{background:#dff5e1}
    .status.error,.status.credentials{background:#fde2e1}
  </style>
</head>
<body>
  <header>
    <h1>tinybatch</h1>
    <div class="muted">
      running {{.Stats.Running}}/{{.Stats.Ceiling}} · queued {{.Stats.Queued}} ·
      finished {{.Stats.Finished}} · failed {{.Stats.Failed}} ·
      api keys left {{.Stats.Credentials}}
    </div>
  </header>

  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}

  <div class="card">
    <h2>Compress files</h2>
    <form method="post" action="/ui/batches">
      <textarea name="paths" placeholder="/absolute/path/one.png&#10;/absolute/path/two.jpg"></textarea>
      <div style="margin-top:12px"><button class="btn" type="submit">Queue</button></div>
    </form>
    <div class="muted">One local path per line · POST /api/v1/batches</div>
  </div>

  <div class="card">
    <h2>Tasks</h2>
    {{if .Tasks}}
    <table>
      <tr><th>File</th><th>Status</th><th>Progress</th><th>Ratio</th><th>Detail</th><th></th></tr>
      {{range .Tasks}}
      <tr>
        <td class="mono" title="{{.OriginPath}}">{{.Name}}</td>
        <td><span class="status {{.Status}}">{{.Status}}</span></td>
        <td>{{percent .Progress}}</td>
        <td>{{ratio .CompressionRatio}}</td>
        <td class="muted">{{if .ErrorMessage}}{{.ErrorMessage}}{{else}}{{.OutputPath}}{{end}}</td>
        <td>{{if .Status.InFlight}}
          <form method="post" action="/ui/tasks/{{.ID}}/cancel"><button class="btn secondary" type="submit">Cancel</button></form>
        {{end}}</td>
      </tr>
      {{end}}
    </table>
    {{else}}
    <div class="muted">No tasks yet</div>
    {{end}}
  </div>
</body>
</html>
{{end}}
`))

const uiRefreshSeconds = 2

func formatPercent(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 0, 64) + "%"
}

// RegisterUIRoutes registers the status page
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/batches", a.UISubmitBatch)
	router.POST("/ui/tasks/:id/cancel", a.UICancelTask)
}

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	c.HTML(status, "home", gin.H{
		"Tasks":   a.board.List(),
		"Stats":   a.scheduler.Stats(),
		"Error":   errMsg,
		"Refresh": uiRefreshSeconds,
	})
}

// UIHome renders the task table
func (a *API) UIHome(c *gin.Context) { a.renderHome(c, http.StatusOK, "") }

// UISubmitBatch queues the newline separated paths from the form
func (a *API) UISubmitBatch(c *gin.Context) {
	lines := strings.Split(c.PostForm("paths"), "\n")
	paths := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	if _, err := a.scheduler.Submit(paths); err != nil {
		log.Warn().Err(err).Msg("ui batch rejected")
		a.renderHome(c, submitErrorStatus(err), err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// UICancelTask cancels a task and goes back to the table
func (a *API) UICancelTask(c *gin.Context) {
	if err := a.scheduler.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		a.renderHome(c, http.StatusConflict, err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/")
}
