package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// credential and user identity travel in headers; write endpoints hand them
// to the service gate.
func credential(r *http.Request) string { return r.Header.Get("X-Corpus-Credential") }
func userID(r *http.Request) string     { return r.Header.Get("X-User-ID") }

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", corpuserr.ErrValidation, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.container.Health(r.Context()))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string         `json:"user_id"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		req.UserID = userID(r)
	}
	sess, err := s.container.Sessions.Create(r.Context(), credential(r), req.UserID, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.container.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sess)
}

func (s *Server) handleFinalizeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.container.Sessions.Finalize(r.Context(), credential(r), r.PathValue("id"), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"state": string(contracts.SessionFinalized)})
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.container.Sessions.Archive(r.Context(), credential(r), r.PathValue("id"), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"state": string(contracts.SessionArchived)})
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	list, err := s.container.Corpus.ListInteractions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleAppendInteraction(w http.ResponseWriter, r *http.Request) {
	var in contracts.Interaction
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.container.Corpus.AppendInteraction(r.Context(), credential(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"interaction_id": id})
}

func (s *Server) handleAppendEmbedding(w http.ResponseWriter, r *http.Request) {
	var e contracts.Embedding
	if err := decodeBody(r, &e); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.container.Corpus.AppendEmbedding(r.Context(), credential(r), e); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"interaction_id": e.InteractionID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.LLMDefaultModel
	}
	hits, err := s.container.Corpus.SearchSimilar(r.Context(), req.Model, req.Query, userID(r), req.TopK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, hits)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, contracts.JobTranscribe)
}

func (s *Server) handleDiarize(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, contracts.JobDiarize)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, kind contracts.JobKind) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, fmt.Errorf("%w: multipart form: %v", corpuserr.ErrValidation, err))
		return
	}
	sessionID := r.FormValue("session_id")
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: audio part missing", corpuserr.ErrValidation))
		return
	}
	defer func() { _ = file.Close() }()

	var jobID, artifactID string
	if kind == contracts.JobTranscribe {
		jobID, artifactID, err = s.container.Media.UploadForTranscription(
			r.Context(), credential(r), sessionID, userID(r), header.Filename, file)
	} else {
		jobID, artifactID, err = s.container.Media.UploadForDiarization(
			r.Context(), credential(r), sessionID, userID(r), header.Filename, file)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{
		"job_id":      jobID,
		"artifact_id": artifactID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.container.Media.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	segments, err := s.container.Media.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, segments)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.container.Media.CancelJob(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"job_id": r.PathValue("id")})
}

func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Targets     []string `json:"targets"`
		Destination string   `json:"destination"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.container.Exports.Create(r.Context(), credential(r), userID(r), req.Targets, req.Destination)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, e)
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.container.Exports.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	e, err := s.container.Exports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, e)
}

func (s *Server) handleVerifyExport(w http.ResponseWriter, r *http.Request) {
	report, err := s.container.Exports.Verify(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleDeleteExport(w http.ResponseWriter, r *http.Request) {
	if err := s.container.Exports.Delete(r.Context(), credential(r), r.PathValue("id"), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"export_id": r.PathValue("id")})
}

func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.QueryFilter{
		Operation: q.Get("operation"),
		UserID:    q.Get("user_id"),
		Resource:  q.Get("resource"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: since must be RFC3339", corpuserr.ErrValidation))
			return
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: until must be RFC3339", corpuserr.ErrValidation))
			return
		}
		filter.Until = &t
	}
	events, err := s.container.Audits.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}
