package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"quillsync/internal/diff"
)

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Ensure(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.docs.Upsert(r.Context(), id, body.Content, time.Now().UTC()); err != nil {
		s.writeError(w, err)
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	result, err := s.gateway.GetVersionList(r.Context(), mux.Vars(r)["id"], page, pageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleSaveVersion snapshots the live document content with an optional
// label. Responds 204 when the content matched the latest version and the
// snapshot was skipped.
func (s *Server) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label     string `json:"label"`
		CreatedBy string `json:"createdBy"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	id := mux.Vars(r)["id"]
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.gateway.CreateSnapshot(r.Context(), id, doc.Content, body.CreatedBy, body.Label)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VersionID string `json:"versionId"`
		UserID    string `json:"userId"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	content, err := s.gateway.RestoreVersion(r.Context(), mux.Vars(r)["id"], body.VersionID, body.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.gateway.GetVersionContent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUpdateLabel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string `json:"label"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.gateway.UpdateLabel(r.Context(), mux.Vars(r)["id"], body.Label); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDiff compares two stored versions identified by the from and to
// query parameters.
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from and to are required"})
		return
	}
	oldVersion, err := s.gateway.GetVersionContent(r.Context(), from)
	if err != nil {
		s.writeError(w, err)
		return
	}
	newVersion, err := s.gateway.GetVersionContent(r.Context(), to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, diff.Compute(oldVersion.Content, newVersion.Content))
}
