package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/markdave123-py/studykb/internal/core/retrieval"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/services"
)

type ChatHandler struct {
	svc *services.KnowledgeService
	log logger.Logger
}

func NewChatHandler(svc *services.KnowledgeService, log logger.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, log: log.Named("chat")}
}

type ChatRequest struct {
	Question    string   `json:"question"`
	SubjectID   string   `json:"subject_id,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ans, err := h.svc.RetrieveAndAnswer(r.Context(), req.Question, retrieval.Options{
		SubjectID:   req.SubjectID,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}
