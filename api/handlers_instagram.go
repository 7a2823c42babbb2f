package api

import (
	"net/http"
	"strings"
)

func (s *Server) instagramFeed(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	media, err := s.deps.Instagram.Feed(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"data": media})
}

func (s *Server) instagramEmbed(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeMessage(w, r, http.StatusBadRequest, "url is required")
		return
	}
	embed, err := s.deps.Instagram.Embed(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, embed)
}

func (s *Server) instagramCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeMessage(w, r, http.StatusBadRequest, "authorization denied: "+q.Get("error_description"))
		return
	}
	code := q.Get("code")
	if code == "" {
		writeMessage(w, r, http.StatusBadRequest, "code is required")
		return
	}
	tok, err := s.deps.Instagram.ExchangeCode(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// the token is shown once so the operator can store it as INSTAGRAM_ACCESS_TOKEN
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) instagramDeletion(w http.ResponseWriter, r *http.Request) {
	var signed string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			SignedRequest string `json:"signed_request"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		signed = body.SignedRequest
	} else {
		if err := r.ParseForm(); err != nil {
			writeMessage(w, r, http.StatusBadRequest, "invalid form body")
			return
		}
		signed = r.PostForm.Get("signed_request")
	}
	if signed == "" {
		writeMessage(w, r, http.StatusBadRequest, "signed_request is required")
		return
	}

	resp, err := s.deps.Instagram.HandleDeletion(signed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
