package domguard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/domguard/idgen"
	"github.com/hazyhaar/domguard/kit"
	"github.com/hazyhaar/domguard/shield"
)

// MaxRequestBody bounds control API request bodies.
const MaxRequestBody = 64 << 10

// Handler returns the HTTP control surface:
//
//	GET    /healthz
//	GET    /pages                  page status
//	POST   /pages                  {"id","url","stealth_level"} guard a page
//	POST   /pages/{id}/navigate    {"url"}
//	DELETE /pages/{id}             release (host onDeactivate)
//	GET    /events?page_id=&limit= recent events from the sqlite sink
func (g *Guard) Handler() http.Handler {
	ep := g.endpoints()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(shield.HeadToGet)
	r.Use(shield.SecurityHeaders(shield.APIHeaders()))
	r.Use(shield.MaxBody(MaxRequestBody))
	r.Use(shield.RequireToken(g.cfg.HTTP.TokenHash, "/healthz"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := idgen.New()
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(kit.WithRequestID(kit.WithTransport(r.Context(), kit.TransportHTTP), id)))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/pages", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			serve(w, r, ep.status, &statusRequest{})
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req guardRequest
			if !decode(w, r, &req) {
				return
			}
			serve(w, r, ep.guard, &req)
		})
		r.Post("/{id}/navigate", func(w http.ResponseWriter, r *http.Request) {
			var req navigateRequest
			if !decode(w, r, &req) {
				return
			}
			req.ID = chi.URLParam(r, "id")
			serve(w, r, ep.navigate, &req)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			serve(w, r, ep.release, &releaseRequest{ID: chi.URLParam(r, "id")})
		})
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		serve(w, r, ep.events, &eventsRequest{PageID: r.URL.Query().Get("page_id"), Limit: limit})
	})
	return r
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

func serve(w http.ResponseWriter, r *http.Request, e kit.Endpoint, req any) {
	resp, err := e(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnknownPage) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
