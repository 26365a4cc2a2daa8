package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/web2pdf/internal/db"
	"github.com/jonathan/web2pdf/internal/ingestion"
	"github.com/jonathan/web2pdf/internal/pipeline"
	"github.com/jonathan/web2pdf/internal/server/middleware"
	"github.com/jonathan/web2pdf/internal/storage"
	"github.com/jonathan/web2pdf/internal/types"
)

// maxHistoryLimit caps the limit query parameter of GET /api/history.
const maxHistoryLimit = 200

// ConvertRequest is the body of POST /convert.
type ConvertRequest struct {
	URL      string               `json:"url"`
	Settings types.RenderSettings `json:"settings"`
}

// ArtifactMetadata describes a finished document in API responses.
type ArtifactMetadata struct {
	Title             string                   `json:"title"`
	FileSize          int64                    `json:"fileSize"`
	CompressionLevel  types.CompressionQuality `json:"compressionLevel"`
	Compressed        bool                     `json:"compressed"`
	PageCount         int                      `json:"pageCount"`
	SubpagesRequested int                      `json:"subpagesRequested"`
	SubpagesRendered  int                      `json:"subpagesRendered"`
	FailedSubpages    []string                 `json:"failedSubpages,omitempty"`
	CreatedAt         time.Time                `json:"createdAt"`
}

// ConvertResponse is the body of a successful conversion.
type ConvertResponse struct {
	Success    bool             `json:"success"`
	PDFID      string           `json:"pdfId"`
	PDFURL     string           `json:"pdfUrl"`
	PreviewURL string           `json:"previewUrl"`
	Metadata   ArtifactMetadata `json:"metadata"`
}

// HistoryEntry is a history row with its download link.
type HistoryEntry struct {
	db.Conversion
	PDFURL string `json:"pdfUrl"`
}

// handleIndex returns a status document listing the endpoints
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":  "online",
		"message": "web2pdf API server is running",
		"endpoints": map[string]string{
			"convert":        "/api/convert",
			"convertStream":  "/api/convert/stream",
			"updateMetadata": "/update-metadata",
			"output":         storage.OutputRoute + "{filename}",
			"history":        "/api/history",
			"delete":         "/api/history/delete/{id}",
			"clearAll":       "/api/history/clear/{userId}",
			"health":         "/health",
			"metrics":        "/metrics",
		},
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.history != nil {
		if err := s.history.Ping(r.Context()); err != nil {
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unavailable",
				"database": err.Error(),
			})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeConvertRequest reads the body and attaches the caller.
func (s *Server) decodeConvertRequest(r *http.Request) (types.ConversionRequest, error) {
	var body ConvertRequest
	if err := decodeJSON(r, &body); err != nil {
		return types.ConversionRequest{}, err
	}
	userID, err := middleware.GetUserID(r)
	if err != nil {
		return types.ConversionRequest{}, err
	}
	return types.ConversionRequest{URL: body.URL, Settings: body.Settings, UserID: userID}, nil
}

// handleConvert runs a conversion and returns links to the result
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeConvertRequest(r)
	if err != nil {
		s.writeError(w, err, "PDF conversion failed")
		return
	}

	artifact, err := s.converter.ConvertWithProgress(r.Context(), req, nil)
	if err != nil {
		s.writeError(w, err, "PDF conversion failed")
		return
	}
	s.jsonResponse(w, http.StatusOK, s.convertResponse(r, artifact))
}

// handleConvertStream runs a conversion and streams stage progress via SSE
func (s *Server) handleConvertStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeConvertRequest(r)
	if err != nil {
		s.writeError(w, err, "PDF conversion failed")
		return
	}
	// Reject bad URLs before the stream commits to a 200.
	if _, err := ingestion.ValidateSourceURL(req.URL); err != nil {
		s.writeError(w, err, "PDF conversion failed")
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.writeError(w, err, "Streaming not supported")
		return
	}

	artifact, err := s.converter.ConvertWithProgress(r.Context(), req, func(event pipeline.ProgressEvent) {
		if err := sse.WriteEvent("stage", event); err != nil {
			s.logger.Warn("failed to write progress event", "error", err)
		}
	})
	if err != nil {
		status := HTTPStatus(err)
		message := http.StatusText(status)
		if status == http.StatusInternalServerError {
			message = "PDF conversion failed"
		}
		sse.WriteError(status, message, err.Error())
		return
	}
	sse.WriteComplete(s.convertResponse(r, artifact))
}

func (s *Server) convertResponse(r *http.Request, a *types.FinalArtifact) ConvertResponse {
	return ConvertResponse{
		Success:    true,
		PDFID:      a.ID.String(),
		PDFURL:     absoluteURL(r, a.PublicURL),
		PreviewURL: absoluteURL(r, a.PreviewURL),
		Metadata: ArtifactMetadata{
			Title:             a.Title,
			FileSize:          a.FileSize,
			CompressionLevel:  a.CompressionLevel,
			Compressed:        a.Compressed,
			PageCount:         a.PageCount,
			SubpagesRequested: a.SubpagesRequested,
			SubpagesRendered:  a.SubpagesRendered,
			FailedSubpages:    a.FailedSubpages,
			CreatedAt:         a.CreatedAt,
		},
	}
}

// handleUpdateMetadata rewrites the descriptive fields of an existing document
func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err, "Metadata update failed")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, &ErrValidation{Field: "metadata", Message: err.Error()}, "Metadata update failed")
		return
	}
	if req.Metadata.IsEmpty() {
		s.writeError(w, &ErrValidation{Field: "metadata", Message: "at least one field is required"}, "Metadata update failed")
		return
	}
	id, err := uuid.Parse(req.PDFID)
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "pdfId", Message: "must be a UUID"}, "Metadata update failed")
		return
	}
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.writeError(w, err, "Metadata update failed")
		return
	}

	filename, err := s.locate(r, userID, id)
	if err != nil {
		s.writeError(w, err, "Metadata update failed")
		return
	}
	path, err := s.store.Path(filename)
	if err != nil {
		s.writeError(w, err, "Metadata update failed")
		return
	}
	if _, err := s.store.Stat(filename); err != nil {
		s.writeError(w, err, "Metadata update failed")
		return
	}

	if err := s.annotator.Annotate(path, req.Metadata); err != nil {
		s.logger.Error("metadata update failed", "pdf_id", id.String(), "error", err)
		s.writeError(w, err, "Metadata update failed")
		return
	}

	info, err := s.store.Stat(filename)
	if err != nil {
		s.writeError(w, err, "Metadata update failed")
		return
	}
	if s.history != nil && req.Metadata.Title != "" {
		if err := s.history.UpdateConversionTitle(r.Context(), id, req.Metadata.Title, info.Size()); err != nil {
			s.logger.Warn("failed to update history entry", "pdf_id", id.String(), "error", err)
		}
	}

	s.logger.Info("metadata updated", "pdf_id", id.String(), "filename", filename)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"success":  true,
		"pdfId":    id.String(),
		"pdfUrl":   absoluteURL(r, s.store.PublicURL(filename)),
		"fileSize": info.Size(),
		"metadata": req.Metadata,
	})
}

// locate finds the caller's artifact. With history, ownership comes from the conversions table;
// without it the id is resolved from the filename.
func (s *Server) locate(r *http.Request, userID, id uuid.UUID) (string, error) {
	if s.history == nil {
		return s.store.Locate(id)
	}
	conv, err := s.history.GetConversion(r.Context(), id)
	if err != nil {
		return "", err
	}
	if conv == nil || conv.UserID != userID {
		return "", storage.ErrNotFound
	}
	return conv.Filename, nil
}

// handleOutput serves a finished document
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	path, err := s.store.Path(filename)
	if err != nil {
		s.writeError(w, storage.ErrNotFound, "Failed to read document")
		return
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, storage.ErrNotFound, "Failed to read document")
		return
	}
	if err != nil {
		s.writeError(w, err, "Failed to read document")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		s.writeError(w, err, "Failed to read document")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filename}))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// handleHistory lists the caller's conversions, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.writeError(w, err, "Failed to load history")
		return
	}

	limit := db.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.writeError(w, &ErrValidation{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxHistoryLimit)}, "Failed to load history")
			return
		}
		limit = n
	}

	entries := []HistoryEntry{}
	if s.history != nil {
		conversions, err := s.history.ListConversions(r.Context(), userID, limit)
		if err != nil {
			s.writeError(w, err, "Failed to load history")
			return
		}
		for _, c := range conversions {
			entries = append(entries, HistoryEntry{Conversion: c, PDFURL: absoluteURL(r, s.store.PublicURL(c.Filename))})
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"success": true, "history": entries})
}

// handleHistoryDelete removes one history entry and its document
func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "id", Message: "must be a UUID"}, "Failed to delete history entry")
		return
	}
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.writeError(w, err, "Failed to delete history entry")
		return
	}
	if s.history == nil {
		s.writeError(w, ErrHistoryDisabled, "Failed to delete history entry")
		return
	}

	conv, err := s.history.DeleteConversion(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, err, "Failed to delete history entry")
		return
	}
	if conv == nil {
		s.writeError(w, storage.ErrNotFound, "Failed to delete history entry")
		return
	}
	s.removeArtifacts(conv.Filename)

	s.jsonResponse(w, http.StatusOK, map[string]any{"success": true, "message": "History entry deleted"})
}

// handleHistoryClear removes all of the caller's history entries and documents
func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	target, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "userId", Message: "must be a UUID"}, "Failed to clear history")
		return
	}
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.writeError(w, err, "Failed to clear history")
		return
	}
	if target != userID {
		s.writeError(w, &ErrForbidden{Message: "cannot clear another user's history"}, "Failed to clear history")
		return
	}
	if s.history == nil {
		s.writeError(w, ErrHistoryDisabled, "Failed to clear history")
		return
	}

	filenames, err := s.history.ClearConversions(r.Context(), userID)
	if err != nil {
		s.writeError(w, err, "Failed to clear history")
		return
	}
	s.removeArtifacts(filenames...)

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "History cleared",
		"deleted": len(filenames),
	})
}

// removeArtifacts deletes documents whose history rows are gone. Failures are logged.
func (s *Server) removeArtifacts(filenames ...string) {
	for _, name := range filenames {
		if err := s.store.Remove(name); err != nil {
			s.logger.Warn("failed to remove artifact", "filename", name, "error", err)
		}
	}
}

// decodeJSON decodes the request body, reporting problems as validation errors.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return &ErrValidation{Field: "body", Message: "request body is required"}
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &ErrValidation{Field: "body", Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)}
		}
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// absoluteURL prefixes root-relative links with the scheme and host the request arrived on.
func absoluteURL(r *http.Request, link string) string {
	if !strings.HasPrefix(link, "/") {
		return link
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host + link
}
