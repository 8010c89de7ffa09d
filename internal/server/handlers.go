package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/apperr"
	"github.com/hyperjump/storyhook/internal/importer"
	"github.com/hyperjump/storyhook/internal/keyword"
	"github.com/hyperjump/storyhook/internal/models"
	"github.com/hyperjump/storyhook/internal/storage"
)

const maxWebhookBody = 1 << 20

// webhookRequest is the inbound delivery. The source service posts form fields;
// JSON bodies are accepted too.
type webhookRequest struct {
	Identifier string `json:"identifier"`
	Project    string `json:"project"`
	Document   string `json:"document"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeWebhook(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		s.logger.Debug("webhook rejected", zap.Error(err))
		s.respondAppError(w, err)
		return
	}

	token, err := s.tokens.Get(ctx, req.Identifier)
	if err != nil || token == "" {
		s.respondAppError(w, apperr.Credential("missing credentials", err))
		return
	}

	ireq := importer.Request{
		ProjectID:  req.Project,
		DocumentID: req.Document,
		AuthorID:   req.Identifier,
		Fetcher:    s.sessions(token),
	}
	draftID, err := s.pipeline.FindExistingDraft(ctx, req.Project, req.Document)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	var out *importer.Outcome
	if draftID > 0 {
		out, err = s.pipeline.Update(ctx, ireq, draftID)
	} else {
		out, err = s.pipeline.Create(ctx, ireq)
	}
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, models.ImportResult{
		ProjectID:  req.Project,
		DocumentID: req.Document,
		RecordID:   out.RecordID,
		EditURL:    s.config.EditURL(out.RecordID),
		Updated:    out.Updated,
	})
}

func decodeWebhook(w http.ResponseWriter, r *http.Request) (*webhookRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	var req webhookRequest
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		req.Identifier = r.PostForm.Get("identifier")
		req.Project = r.PostForm.Get("project")
		req.Document = r.PostForm.Get("document")
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	req.Project = strings.TrimSpace(req.Project)
	req.Document = strings.TrimSpace(req.Document)
	return &req, nil
}

// validate reports every missing field at once.
func (req *webhookRequest) validate() error {
	var errs error
	if req.Identifier == "" {
		errs = multierr.Append(errs, apperr.Missing("identifier"))
	}
	if req.Project == "" {
		errs = multierr.Append(errs, apperr.Missing("project"))
	}
	if req.Document == "" {
		errs = multierr.Append(errs, apperr.Missing("document"))
	}
	return apperr.Validation(errs)
}

type recordResponse struct {
	Record *models.ContentRecord `json:"record"`
	Assets []*models.Asset       `json:"assets"`
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.storage.GetRecord(r.Context(), id)
	if err != nil {
		s.respondAppError(w, storageError(err, "record not found", "failed to load record"))
		return
	}
	assets, err := s.storage.ListAssets(r.Context(), id)
	if err != nil {
		s.respondAppError(w, apperr.Persistence("failed to load assets", err))
		return
	}
	if assets == nil {
		assets = []*models.Asset{}
	}
	s.respondJSON(w, http.StatusOK, recordResponse{Record: rec, Assets: assets})
}

func (s *Server) handlePublishRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	if err := s.storage.SetStatus(r.Context(), id, models.StatusPublished); err != nil {
		s.respondAppError(w, storageError(err, "record not found", "failed to publish record"))
		return
	}
	s.logger.Info("record published", zap.Int64("record_id", id))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": models.StatusPublished})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	records, err := s.storage.ListRecords(r.Context(), offset, limit)
	if err != nil {
		s.respondAppError(w, apperr.Persistence("failed to list records", err))
		return
	}
	if records == nil {
		records = []*models.ContentRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"records": records, "offset": offset, "limit": limit})
}

func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "search not enabled")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondAppError(w, apperr.Validation(apperr.Missing("q")))
		return
	}
	opts := &keyword.SearchOptions{TitleBoost: 3, FuzzyEnabled: r.URL.Query().Get("fuzzy") == "true"}
	results, err := s.index.Search(r.Context(), q, queryInt(r, "limit", 10), opts)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	hits := make([]models.SearchHit, 0, len(results))
	for _, res := range results {
		rec, err := s.storage.GetRecord(r.Context(), res.RecordID)
		if err != nil {
			continue
		}
		hits = append(hits, models.SearchHit{
			RecordID: rec.ID,
			Score:    res.Score,
			Title:    rec.Title,
			Status:   rec.Status,
			EditURL:  s.config.EditURL(rec.ID),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "results": hits})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordCount, err := s.storage.CountRecords(ctx)
	if err != nil {
		s.logger.Error("status: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to count records")
		return
	}
	assetCount, err := s.storage.CountAssets(ctx)
	if err != nil {
		s.logger.Error("status: count assets failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to count assets")
		return
	}
	resp := map[string]interface{}{
		"records": recordCount,
		"assets":  assetCount,
	}
	if s.index != nil {
		if n, err := s.index.DocCount(); err == nil {
			resp["indexed_records"] = n
		}
	}
	if usage, err := storage.DirUsage(s.config.Media.Directory); err == nil {
		resp["media_files"] = usage.Files
		resp["media_bytes"] = usage.Bytes
	}
	resp["config"] = map[string]interface{}{
		"allowed_domains": s.live.AllowedDomains(),
		"allowed_origins": s.live.AllowedOrigins(),
		"database_path":   s.config.Storage.DatabasePath,
		"media_directory": s.config.Media.Directory,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid record id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func storageError(err error, notFound, failed string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	return apperr.Persistence(failed, err)
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// respondAppError writes err as {code, message, fields}. Underlying causes are logged, never sent.
func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	resp := errorResponse{Code: apperr.CodeInternal, Message: "internal error"}
	if e, ok := apperr.As(err); ok {
		resp = errorResponse{Code: e.Code, Message: e.Message, Fields: e.Fields}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("code", resp.Code), zap.Error(err))
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Code: codeForStatus(status), Message: message})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotImplemented:
		return "not_implemented"
	default:
		return apperr.CodeInternal
	}
}
