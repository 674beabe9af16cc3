// Package handlers implements the HTTP handlers for the DealDesk control
// plane: deal submission and polling, artifact access, and deal chat.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dealdesk/dealdesk/internal/chat"
	"github.com/dealdesk/dealdesk/internal/pipeline"
	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store  store.Store
	Runner *pipeline.Runner
	Chat   *chat.Manager
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, runner *pipeline.Runner, chatManager *chat.Manager) *Handlers {
	return &Handlers{Store: s, Runner: runner, Chat: chatManager}
}

// ── Deal handlers ───────────────────────────────────────────

// SubmitDeal accepts a document and starts an async pipeline run.
// Responds 202 with the deal record; progress is polled via the status
// and events endpoints.
func (h *Handlers) SubmitDeal(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Filename == "" || req.Content == "" {
		respondError(w, http.StatusBadRequest, "filename and content are required")
		return
	}

	deal, err := h.Runner.Start(r.Context(), &req)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			respondJSON(w, http.StatusConflict, map[string]string{
				"state": "processing",
				"error": err.Error(),
			})
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("deal_id", deal.ID).Str("filename", deal.Filename).Msg("Deal submitted")
	respondJSON(w, http.StatusAccepted, deal)
}

// GetDeal returns the deal record, including status and error detail.
func (h *Handlers) GetDeal(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	deal, err := h.Store.GetDeal(r.Context(), dealID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

// ListEvents returns the deal's progress events with id > after_id, in
// ascending id order. Clients poll with their last seen id; ids are
// gapless so a client can detect it has missed nothing.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	if _, err := h.Store.GetDeal(r.Context(), dealID); err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	afterID := int64(0)
	if v := r.URL.Query().Get("after_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "after_id must be a non-negative integer")
			return
		}
		afterID = parsed
	}

	events, err := h.Store.ListEventsSince(r.Context(), dealID, afterID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deal_id": dealID,
		"events":  events,
	})
}

// ListArtifacts returns every artifact present for the deal.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	if _, err := h.Store.GetDeal(r.Context(), dealID); err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	artifacts, err := h.Store.ListArtifacts(r.Context(), dealID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, artifacts)
}

// GetArtifact returns one artifact by kind. Artifacts written before a
// stage failure remain readable while the deal is in the error state.
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")
	kind := models.ArtifactKind(chi.URLParam(r, "kind"))

	artifact, err := h.Store.GetArtifact(r.Context(), dealID, kind)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

// ── Chat handlers ───────────────────────────────────────────

// PostChatMessage processes one chat turn for the session. Deals that are
// still processing or in error respond 409 with a state marker so clients
// can distinguish retry-later from needs-restart.
func (h *Handlers) PostChatMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	answer, err := h.Chat.Ask(r.Context(), sessionID, req.DealID, req.Text, req.Language)
	if err != nil {
		var notReady *chat.NotReadyError
		var inError *chat.InErrorStateError
		switch {
		case errors.As(err, &notReady):
			respondJSON(w, http.StatusConflict, map[string]string{
				"state": "processing",
				"error": err.Error(),
			})
		case errors.As(err, &inError):
			respondJSON(w, http.StatusConflict, map[string]string{
				"state": "error",
				"error": err.Error(),
			})
		case store.IsNotFound(err):
			respondError(w, http.StatusNotFound, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

// GetChatSession returns the session's conversation history.
func (h *Handlers) GetChatSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// DeleteChatSession removes the session and its history.
func (h *Handlers) DeleteChatSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.Store.DeleteSession(r.Context(), sessionID); err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
