package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gains-sandbox-go/internal/gains"
	"gains-sandbox-go/internal/models"
	"gains-sandbox-go/internal/session"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type createSessionRequest struct {
	UserID   string   `json:"userId"`
	Method   string   `json:"method"`
	LotOrder []string `json:"lotOrder,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	SessionID       string         `json:"sessionId"`
	Status          string         `json:"status"`
	Summary         *gains.Summary `json:"summary,omitempty"`
	Error           string         `json:"error,omitempty"`
	CancelRequested bool           `json:"cancelRequested,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusOf(sess *models.Session) StatusResponse {
	return StatusResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Summary:         session.SummaryOf(sess),
		Error:           sess.Error,
		CancelRequested: sess.CancelRequested,
	}
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	sess, err := s.sessions.CreateSession(r.Context(), req.UserID, req.Method, req.LotOrder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, createSessionResponse{SessionID: sess.ID, Status: sess.Status})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusOf(sess))
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, statusOf(sess))
}

// tradesHandler lists the ledger of one user, oldest first.
func (s *Server) tradesHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	trades, err := s.ledger.TradesForUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to get trades from ledger", zap.String("user_id", userID), zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to get trades"})
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrValidation):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
