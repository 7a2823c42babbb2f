package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"brokerage/models"
	"brokerage/services"
)

func (s *Server) listProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := services.ParseStatusFilter(q.Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := s.deps.Properties.List(r.Context(), models.PropertyFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page.Stale {
		w.Header().Set("X-Cache-Stale", "true")
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getProperty(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Properties.Get(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) cacheStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Properties.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Properties.Clear(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) refreshCache(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Properties.Refresh(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Properties.Invalidate(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &services.ValidationError{Fields: map[string]string{name: "must be a non-negative integer"}}
	}
	return n, nil
}
