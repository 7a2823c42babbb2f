package api

import (
	"net/http"

	"brokerage/models"
)

func (s *Server) contact(w http.ResponseWriter, r *http.Request) {
	var req models.ContactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Contact.SubmitContact(r.Context(), &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) applyCareer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var app models.JobApplication
	if !decodeJSON(w, r, &app) {
		return
	}
	if err := s.deps.Contact.SubmitApplication(r.Context(), id, &app); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
