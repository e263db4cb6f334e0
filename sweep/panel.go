// CLAUDE:SUMMARY chi control panel: HTML form, start/cancel campaigns (202/409), JSON status with recent events, health check.
package sweep

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/feedsweep/shield"
)

// Panel returns the HTTP control panel of a Runner.
func (r *Runner) Panel() http.Handler {
	mux := chi.NewRouter()
	for _, mw := range shield.PanelStack(r.logger) {
		mux.Use(mw)
	}

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		active, busy := r.Active()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "busy": busy, "run_id": active})
	})

	mux.Get("/", func(w http.ResponseWriter, req *http.Request) {
		active, _ := r.Active()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := panelPage.Execute(w, map[string]any{"Active": active, "Max": MaxCount}); err != nil {
			shield.GetLogger(req.Context()).Error("sweep: render panel", "error", err)
		}
	})

	mux.Route("/campaigns", func(mux chi.Router) {
		mux.Post("/", func(w http.ResponseWriter, req *http.Request) {
			q, err := decodeRequest(req)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			id, err := r.Start(q)
			switch {
			case errors.Is(err, ErrBusy):
				writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
				return
			case errors.Is(err, ErrInvalidRequest):
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			case err != nil:
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
				return
			}
			shield.GetLogger(req.Context()).Info("sweep: campaign accepted", "run", id, "kind", q.Kind)
			writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "/campaigns/" + id})
		})

		mux.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			st, ok := r.Status(chi.URLParam(req, "id"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
				return
			}
			writeJSON(w, http.StatusOK, st)
		})

		mux.Post("/{id}/cancel", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if !r.Cancel(id) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not running"})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
		})
	})

	return mux
}

// decodeRequest reads a campaign request from a JSON body or a form.
func decodeRequest(req *http.Request) (Request, error) {
	var q Request
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		err := json.NewDecoder(req.Body).Decode(&q)
		return q, err
	}
	if err := req.ParseForm(); err != nil {
		return q, err
	}
	q.Kind = Kind(req.PostForm.Get("kind"))
	q.Query = req.PostForm.Get("query")
	if c := strings.TrimSpace(req.PostForm.Get("count")); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			return q, errors.New("count must be a number")
		}
		q.Count = n
	}
	for _, t := range strings.Split(req.PostForm.Get("tabs"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			q.Tabs = append(q.Tabs, t)
		}
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var panelPage = template.Must(template.New("panel").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>feedsweep</title>
<style>body{font-family:sans-serif;max-width:36em;margin:2em auto}label{display:block;margin:.6em 0}</style>
</head><body>
<h1>feedsweep</h1>
{{if .Active}}<p>Running: <a href="/campaigns/{{.Active}}">{{.Active}}</a></p>{{end}}
<form method="post" action="/campaigns">
<label>Campaign
<select name="kind">
<option value="unlike">unlike: retract every like</option>
<option value="like">like: sample search results</option>
<option value="delete">delete: own posts without engagement</option>
</select></label>
<label>Count (1-{{.Max}}, required for like) <input name="count" type="number" min="0" max="{{.Max}}"></label>
<label>Search query (like) <input name="query"></label>
<label>Profile tabs (delete, comma separated) <input name="tabs" placeholder="Posts,Replies"></label>
<button type="submit">Start</button>
</form>
</body></html>
`))
