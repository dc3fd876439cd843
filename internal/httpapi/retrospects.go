package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/retrotalk/internal/retroruntime"
	"github.com/ent0n29/retrotalk/internal/retrospect"
)

const (
	defaultMessageAmount = 20
	maxMessageAmount     = 200
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendFailedResponse struct {
	Error       string             `json:"error"`
	Code        string             `json:"code"`
	UserMessage retrospect.Message `json:"user_message"`
}

func (s *Server) handleListRetrospects(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	userID := s.userID(r)
	records, err := s.service.ListRetrospects(r.Context(), userID, kinds)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"retrospects": records,
	})
}

func (s *Server) handleCreateRetrospect(w http.ResponseWriter, r *http.Request) {
	created, err := s.service.CreateRetrospect(r.Context(), s.userID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRetrospect(w http.ResponseWriter, r *http.Request) {
	id, ok := retrospectID(w, r)
	if !ok {
		return
	}
	record, err := s.service.GetRetrospect(r.Context(), s.userID(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteRetrospect(w http.ResponseWriter, r *http.Request) {
	id, ok := retrospectID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteRetrospect(r.Context(), s.userID(r), id); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTogglePin(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.service.TogglePin)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.service.FinishRetrospect)
}

func (s *Server) handleChatTogglePin(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.service.ChatTogglePin)
}

func (s *Server) handleChatFinish(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.service.ChatFinish)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := retrospectID(w, r)
	if !ok {
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "offset must be a non-negative integer")
		return
	}
	amount, err := queryInt(r, "amount", defaultMessageAmount)
	if err != nil || amount <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "amount must be a positive integer")
		return
	}
	if amount > maxMessageAmount {
		amount = maxMessageAmount
	}

	msgs, err := s.service.ListMessages(r.Context(), s.userID(r), id, offset, amount)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"retrospect_id": id,
		"offset":        offset,
		"messages":      msgs,
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := retrospectID(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.service.Send(r.Context(), s.userID(r), id, req.Content)
	if err != nil {
		// The user turn is kept when only the assistant failed.
		if errors.Is(err, retrospect.ErrAssistant) && res.UserMessage.ID != "" {
			respondJSON(w, http.StatusBadGateway, sendFailedResponse{
				Error:       err.Error(),
				Code:        retroruntime.ErrorCode(err),
				UserMessage: res.UserMessage,
			})
			return
		}
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

type recordOp func(ctx context.Context, userID, id string) (retrospect.Retrospect, error)

// mutate runs a single-record operation and responds with the updated record.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op recordOp) {
	id, ok := retrospectID(w, r)
	if !ok {
		return
	}
	record, err := op(r.Context(), s.userID(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func retrospectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing retrospect id")
		return "", false
	}
	return id, true
}

func parseKinds(raw string) ([]retrospect.Kind, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var kinds []retrospect.Kind
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, ok := retrospect.ParseKind(part)
		if !ok {
			return nil, errors.New("unknown kind " + strconv.Quote(part) + "; use pinned, in_progress or finished")
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
