package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/studykb/internal/api/middlewares"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
	"github.com/markdave123-py/studykb/internal/services"
)

const maxUploadBytes = 50 << 20

type DocumentHandler struct {
	svc *services.KnowledgeService
	log logger.Logger
}

func NewDocumentHandler(svc *services.KnowledgeService, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{svc: svc, log: log.Named("documents")}
}

// UploadDocument stores the file, records the document and queues it for
// ingestion. The response is sent before processing starts.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "could not read file", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	userID, _ := middleware.UserID(r.Context())

	uploadctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	doc, err := h.svc.AddDocument(uploadctx, services.NewDocument{
		OwnerID:     userID,
		SubjectID:   r.FormValue("subject_id"),
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		FileName:    header.Filename,
		ContentType: contentType,
		Type:        models.DocumentType(r.FormValue("type")),
		Visibility:  models.Visibility(r.FormValue("visibility")),
	}, data)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetProcessingStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Ingest queues a pending document, or resets and requeues a finished one.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.EnqueueIngestion(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(models.StatusPending)})
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
