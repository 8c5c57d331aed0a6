package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyperjump/civicmatch/internal/dataset"
	"github.com/hyperjump/civicmatch/internal/inference"
	"github.com/hyperjump/civicmatch/internal/metrics"
	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/internal/storage"
	"go.uber.org/zap"
)

// Escalation ticket parameters.
const (
	EscalationDepartment = "Escalation Desk"
	EscalationStatus     = "escalated"
	EscalationSeverity   = "high"
	EscalationSLAHours   = 48
	escalationConfidence = 0.99
)

var escalationSteps = []string{
	"Your issue has been escalated to the Escalation Desk.",
	"Track the complaint using your ticket ID in Status Tracker.",
	"Share supporting details in follow-up if requested by the department.",
}

// ChatResponse is the body returned by the chat endpoint. TicketID is set only for escalations.
type ChatResponse struct {
	*models.InferenceResult
	TicketID string `json:"ticket_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message := strings.TrimSpace(req.Message)
	s.logger.Debug("chat request", zap.Int64("user_id", req.UserID), zap.Int("length", len(message)))

	if strings.EqualFold(message, models.EscalationKeyword) {
		s.handleEscalation(w, r, req.UserID, message)
		return
	}

	result, err := s.backend.RunInference(r.Context(), req.Message)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("inference failed", zap.Error(err))
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.recordChat(r, &models.ChatRecord{
		UserID:     req.UserID,
		Query:      message,
		Response:   result.Answer,
		Confidence: result.Confidence,
		Department: result.Department,
		Language:   result.Language,
	})
	s.respondJSON(w, http.StatusOK, ChatResponse{InferenceResult: result})
}

func (s *Server) handleEscalation(w http.ResponseWriter, r *http.Request, userID int64, message string) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "escalation requires history storage")
		return
	}
	ticket := &models.Ticket{
		TicketID:   NewTicketID(),
		UserID:     userID,
		Text:       message,
		Department: EscalationDepartment,
		Status:     EscalationStatus,
		SLAHours:   EscalationSLAHours,
		Severity:   EscalationSeverity,
	}
	if err := s.history.CreateTicket(r.Context(), ticket); err != nil {
		s.logger.Error("escalation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.EscalationsTotal.Inc()
	s.logger.Info("grievance escalated", zap.String("ticket_id", ticket.TicketID), zap.Int64("user_id", userID))

	result := EscalationResult(ticket.TicketID)
	s.recordChat(r, &models.ChatRecord{
		UserID:     userID,
		Query:      message,
		Response:   result.Reply,
		Confidence: result.Confidence,
		Department: result.Department,
	})
	s.respondJSON(w, http.StatusCreated, ChatResponse{InferenceResult: result, TicketID: ticket.TicketID})
}

// NewTicketID returns an escalation ticket id of the form CIV-XXXXXXXXXX.
func NewTicketID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "CIV-" + strings.ToUpper(hex[:10])
}

// EscalationResult builds the reply sent when a ticket is raised.
func EscalationResult(ticketID string) *models.InferenceResult {
	steps := append([]string(nil), escalationSteps...)
	return &models.InferenceResult{
		Reply:               fmt.Sprintf("Issue escalated. Ticket ID: %s. SLA: %d hours.", ticketID, EscalationSLAHours),
		Answer:              inference.Answer(steps),
		SolutionSteps:       steps,
		Confidence:          escalationConfidence,
		Department:          EscalationDepartment,
		PredictedDepartment: EscalationDepartment,
		ExpectedResolution:  fmt.Sprintf("%d hours", EscalationSLAHours),
		SimilarCases:        []*models.SimilarCase{},
		Escalation: models.EscalationInfo{
			Keyword: models.EscalationKeyword,
			Note:    "Ticket raised with the Escalation Desk.",
		},
	}
}

// recordChat writes the audit row. Failures are logged and do not fail the request.
func (s *Server) recordChat(r *http.Request, chat *models.ChatRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordChat(r.Context(), chat); err != nil {
		s.logger.Warn("failed to record chat", zap.Error(err))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	chats, err := s.history.ListChats(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("history lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "history": chats})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	ticket, err := s.history.GetTicket(r.Context(), chi.URLParam(r, "ticket_id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "ticket not found")
		return
	}
	if err != nil {
		s.logger.Error("ticket lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"index": s.backend.Status()}
	if s.history != nil {
		count, err := s.history.CountChats(r.Context())
		if err != nil {
			s.logger.Error("status: count chats failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["chats"] = count
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	snap, swapped, err := s.backend.Reload(r.Context())
	if err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	resp := map[string]interface{}{"reloaded": swapped}
	if snap != nil {
		resp["records"] = len(snap.Corpus.Records)
		resp["fingerprint"] = snap.Fingerprint
		resp["rebuilt"] = snap.Rebuilt
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inference.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, inference.ErrEmptyIndex),
		errors.Is(err, dataset.ErrDatasetMissing),
		errors.Is(err, dataset.ErrEmptyCorpus):
		return http.StatusServiceUnavailable
	case errors.Is(err, inference.ErrRetrievalFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
