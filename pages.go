package edge

import (
	"html/template"
	"net/http"

	"github.com/coachcall/edge/pkg/guard"
)

// shellTemplate is the HTML shell served for every page route. The client
// bundle reads the hydration script and takes over rendering.
var shellTemplate = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<link rel="stylesheet" href="/assets/app.css">
</head>
<body>
<div id="app" data-route="{{.Route}}"></div>
{{.Hydration}}
<script src="/assets/app.js" defer></script>
</body>
</html>
`))

type shellData struct {
	Title     string
	Route     string
	Hydration template.HTML
}

// pageRoutes lists every page route the shell is served for.
func (a *App) pageRoutes() []string {
	routes := a.cfg.Routes
	all := []string{
		routes.Landing,
		routes.Login,
		routes.Register,
		routes.Dashboard,
		routes.Onboarding,
	}
	all = append(all, routes.Public...)

	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, route := range all {
		if route == "" || seen[route] {
			continue
		}
		seen[route] = true
		out = append(out, route)
	}
	return out
}

func (a *App) pageTitle(route string) string {
	switch route {
	case a.cfg.Routes.Login:
		return "Sign in · CoachCall"
	case a.cfg.Routes.Register:
		return "Create account · CoachCall"
	case a.cfg.Routes.Dashboard:
		return "Dashboard · CoachCall"
	case a.cfg.Routes.Onboarding:
		return "Welcome · CoachCall"
	default:
		return "CoachCall"
	}
}

// renderShell writes the page shell with the session's hydration payload.
// The guard middleware has already decided the route is allowed.
func (a *App) renderShell(w http.ResponseWriter, r *http.Request) {
	data := shellData{
		Title: a.pageTitle(r.URL.Path),
		Route: r.URL.Path,
	}

	if payload, ok := guard.PayloadFromContext(r.Context()); ok && payload != nil {
		tag, err := payload.ScriptTag()
		if err != nil {
			a.log.Error("encoding hydration payload", errAttr(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		data.Hydration = tag
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := shellTemplate.Execute(w, data); err != nil {
		a.log.Error("rendering page shell", errAttr(err))
	}
}
