package pipeline

import (
	"encoding/json"
	"net/http"
	"strings"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/telemetry"
)

const report_admin_request = "admin.request"

type admin struct {
	pipeline *Pipeline
	registry SiteRegistry
	tel      telemetry.API
}

type syncResponse struct {
	Sites  int            `json:"sites"`
	Failed []string       `json:"failed"`
	Events map[string]int `json:"events"`
}

type configResponse struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Sites   []string `json:"sites"`
}

// NewAdminHandler serves the admin api:
//
//	POST   /sync                     run a poll cycle now
//	GET    /config                   list tracked sites
//	POST   /config?site=a&site=b     track sites
//	DELETE /config?site=a            stop tracking sites
//	GET    /healthz
//
// Requests must carry "Authorization: Bearer <token>" when token is set.
func NewAdminHandler(p *Pipeline, registry SiteRegistry, token string, tel telemetry.API) http.Handler {
	assert.NotNil(p)
	assert.NotNil(tel)

	a := admin{
		pipeline: p,
		registry: registry,
		tel:      telemetry.NewScopedAPI("admin", tel),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", a.sync)
	mux.HandleFunc("GET /config", a.listSites)
	mux.HandleFunc("POST /config", a.addSites)
	mux.HandleFunc("DELETE /config", a.removeSites)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return requireToken(token, mux)
}

func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		parts := strings.Split(r.Header.Get("Authorization"), " ")
		if len(parts) != 2 || parts[1] != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a admin) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		a.tel.ReportWarning(report_admin_request, err)
	}
}

func (a admin) fail(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		a.tel.ReportBroken(report_admin_request, err)
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a admin) sync(w http.ResponseWriter, r *http.Request) {
	report, err := a.pipeline.RunCycle(r.Context())
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}

	res := syncResponse{
		Sites:  report.Sites,
		Failed: report.Failed,
		Events: map[string]int{},
	}
	if res.Failed == nil {
		res.Failed = []string{}
	}
	for kind, count := range report.Events {
		res.Events[kind.String()] = count
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a admin) listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := a.pipeline.Sites(r.Context())
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, configResponse{Sites: sites})
}

func (a admin) addSites(w http.ResponseWriter, r *http.Request) {
	sites := r.URL.Query()["site"]
	if len(sites) == 0 {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one site query parameter is required"})
		return
	}

	res := configResponse{}
	for _, site := range sites {
		normalized, added, err := a.registry.Add(r.Context(), site)
		if err != nil {
			a.fail(w, http.StatusBadRequest, err)
			return
		}
		if added {
			res.Added = append(res.Added, normalized)
		}
	}

	all, err := a.pipeline.Sites(r.Context())
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	res.Sites = all
	a.writeJSON(w, http.StatusOK, res)
}

func (a admin) removeSites(w http.ResponseWriter, r *http.Request) {
	sites := r.URL.Query()["site"]
	if len(sites) == 0 {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one site query parameter is required"})
		return
	}

	res := configResponse{}
	for _, site := range sites {
		removed, err := a.registry.Remove(r.Context(), site)
		if err != nil {
			a.fail(w, http.StatusBadRequest, err)
			return
		}
		if removed {
			normalized, _ := NormalizeSite(site)
			res.Removed = append(res.Removed, normalized)
		}
	}

	all, err := a.pipeline.Sites(r.Context())
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	res.Sites = all
	a.writeJSON(w, http.StatusOK, res)
}
