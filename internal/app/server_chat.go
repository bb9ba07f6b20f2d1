package app

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
	chatservice "github.com/khuzaima-ocs/Synapse/internal/service/chat"
)

const maxHistoryLimit = 200

func (s *Server) chatWithAgent(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.chat.Handle(r.Context(), chatservice.Request{
		AgentID: req.AgentID,
		UserID:  req.UserID,
		Message: req.MessageContent,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(result.Turn))
}

func (s *Server) chatWithCustomGPT(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomGPTChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.chat.HandleCustomGPT(r.Context(), chi.URLParam(r, "custom_gpt_id"), req.UserID, req.MessageContent)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(result.Turn))
}

func (s *Server) getChatHistory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")
	userID := chi.URLParam(r, "user_id")

	limit := domain.DefaultHistoryLimit
	if raw := queryParam(r, "limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxHistoryLimit {
			writeErr(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200", nil)
			return
		}
		limit = parsed
	}

	if _, err := s.repository.GetAgent(r.Context(), agentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeErr(w, http.StatusNotFound, chatservice.ErrorCodeAgentNotFound, "agent not found", nil)
			return
		}
		writeErr(w, http.StatusInternalServerError, chatservice.ErrorCodeStoreFailed, err.Error(), nil)
		return
	}
	turns, err := s.repository.LoadTurns(r.Context(), agentID, userID, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, chatservice.ErrorCodeStoreFailed, err.Error(), nil)
		return
	}
	out := make([]domain.HistoryEntry, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turn.HistoryEntry())
	}
	writeJSON(w, http.StatusOK, out)
}

func chatResponse(turn domain.Turn) domain.ChatResponse {
	return domain.ChatResponse{
		MessageID: turn.ID,
		Content:   turn.Content,
		Role:      turn.Role,
		ToolCalls: turn.ExecutedToolCalls,
		CreatedAt: turn.CreatedAt,
	}
}
