package api

import (
	"bufio"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"brokerage/models"
	"brokerage/services"
)

const maxPhotoBytes = 10 << 20

// includeInactive honours ?all=true only for authenticated staff.
func includeInactive(r *http.Request) bool {
	if r.URL.Query().Get("all") != "true" {
		return false
	}
	_, ok := ClaimsFrom(r.Context())
	return ok
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, services.ErrNotFound
	}
	return id, nil
}

// =============================================================================
// Agents
// =============================================================================

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.Directory.ListAgents(r.Context(), includeInactive(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Directory.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	a := models.Agent{Active: true}
	if !decodeJSON(w, r, &a) {
		return
	}
	if err := s.deps.Directory.CreateAgent(r.Context(), &a); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	existing, err := s.deps.Directory.GetAgent(r.Context(), id.String())
	if err != nil {
		writeError(w, r, err)
		return
	}
	a := *existing
	if !decodeJSON(w, r, &a) {
		return
	}
	a.ID, a.CreatedAt = existing.ID, existing.CreatedAt
	if err := s.deps.Directory.UpdateAgent(r.Context(), &a); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Directory.DeleteAgent(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) uploadAgentPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	contentType, body, cleanup, ok := readPhoto(w, r)
	if !ok {
		return
	}
	defer cleanup()

	a, err := s.deps.Directory.SetAgentPhoto(r.Context(), id, contentType, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// =============================================================================
// Office staff
// =============================================================================

func (s *Server) listStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := s.deps.Directory.ListStaff(r.Context(), includeInactive(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

func (s *Server) getStaff(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Directory.GetStaff(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) createStaff(w http.ResponseWriter, r *http.Request) {
	m := models.OfficeStaff{Active: true}
	if !decodeJSON(w, r, &m) {
		return
	}
	if err := s.deps.Directory.CreateStaff(r.Context(), &m); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) updateStaff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	existing, err := s.deps.Directory.GetStaff(r.Context(), id.String())
	if err != nil {
		writeError(w, r, err)
		return
	}
	m := *existing
	if !decodeJSON(w, r, &m) {
		return
	}
	m.ID, m.CreatedAt = existing.ID, existing.CreatedAt
	if err := s.deps.Directory.UpdateStaff(r.Context(), &m); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteStaff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Directory.DeleteStaff(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) uploadStaffPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	contentType, body, cleanup, ok := readPhoto(w, r)
	if !ok {
		return
	}
	defer cleanup()

	m, err := s.deps.Directory.SetStaffPhoto(r.Context(), id, contentType, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// =============================================================================
// Careers
// =============================================================================

func (s *Server) listCareers(w http.ResponseWriter, r *http.Request) {
	careers, err := s.deps.Directory.ListCareers(r.Context(), includeInactive(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, careers)
}

func (s *Server) getCareer(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Directory.GetCareer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) createCareer(w http.ResponseWriter, r *http.Request) {
	c := models.Career{Active: true}
	if !decodeJSON(w, r, &c) {
		return
	}
	if err := s.deps.Directory.CreateCareer(r.Context(), &c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) updateCareer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	existing, err := s.deps.Directory.GetCareer(r.Context(), id.String())
	if err != nil {
		writeError(w, r, err)
		return
	}
	c := *existing
	if !decodeJSON(w, r, &c) {
		return
	}
	c.ID, c.CreatedAt = existing.ID, existing.CreatedAt
	if err := s.deps.Directory.UpdateCareer(r.Context(), &c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCareer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Directory.DeleteCareer(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readPhoto pulls the "photo" part out of a multipart upload. The declared
// content type is ignored in favour of sniffing the first bytes.
func readPhoto(w http.ResponseWriter, r *http.Request) (string, *bufio.Reader, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+1<<20)
	file, _, err := r.FormFile("photo")
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, `multipart field "photo" is required`)
		return "", nil, nil, false
	}

	br := bufio.NewReaderSize(file, 512)
	head, _ := br.Peek(512)
	contentType := http.DetectContentType(head)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	cleanup := func() {
		file.Close()
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}
	return contentType, br, cleanup, true
}
