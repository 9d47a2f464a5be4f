package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/transfer"
	"github.com/gorilla/mux"
)

// maxListLimit caps GET /transfers.
const maxListLimit = 500

// writeTransferError maps transfer errors to status codes.
func writeTransferError(w http.ResponseWriter, op string, transferID string, err error) {
	switch {
	case errors.Is(err, transfer.ErrTransferNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Transfer not found"))
	case errors.Is(err, transfer.ErrInvalidTransition):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case errors.Is(err, models.ErrMissingOperator):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error("Server."+op+": transfer operation failed", "transferID", transferID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update transfer"))
	}
}

// parseTransferFilter reads chat_id, status (comma separated), reason and limit.
func parseTransferFilter(r *http.Request) (models.TransferFilter, error) {
	q := r.URL.Query()
	f := models.TransferFilter{
		ChatID: strings.TrimSpace(q.Get("chat_id")),
		Reason: models.TransferReason(strings.ToUpper(strings.TrimSpace(q.Get("reason")))),
	}
	if f.ChatID != "" {
		f.ChatID = models.ChatIDFromPhone(f.ChatID)
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		st := models.TransferStatus(strings.ToUpper(strings.TrimSpace(raw)))
		if st == "" {
			continue
		}
		if !st.Valid() {
			return f, errors.New("invalid status " + string(st))
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid limit")
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) listTransfersHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseTransferFilter(r)
	if err != nil {
		slog.Warn("Server.listTransfersHandler: bad query", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	recs, err := s.transfers.ListTransfers(r.Context(), f)
	if err != nil {
		slog.Error("Server.listTransfersHandler: failed to list transfers", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list transfers"))
		return
	}
	if recs == nil {
		recs = []models.TransferRecord{}
	}
	slog.Debug("Server.listTransfersHandler: transfers listed", "count", len(recs))
	writeJSONResponse(w, http.StatusOK, models.Success(recs))
}

func (s *Server) getTransferHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.transfers.GetTransfer(r.Context(), id)
	if err != nil {
		writeTransferError(w, "getTransferHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

func (s *Server) transferEventsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.transfers.GetTransfer(r.Context(), id); err != nil {
		writeTransferError(w, "transferEventsHandler", id, err)
		return
	}
	events, err := s.transfers.Events(r.Context(), id)
	if err != nil {
		writeTransferError(w, "transferEventsHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(events))
}

func (s *Server) assignTransferHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := mux.Vars(r)["id"]
	var req models.AssignTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.assignTransferHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	rec, err := s.transfers.AssignTransfer(r.Context(), id, req.Operator)
	if err != nil {
		writeTransferError(w, "assignTransferHandler", id, err)
		return
	}
	slog.Info("Server.assignTransferHandler: transfer assigned", "transferID", id, "operator", rec.AssignedTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Transfer assigned", rec))
}

// decodeOptional decodes a JSON body that may be empty.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) completeTransferHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req models.CompleteTransferRequest
	if err := decodeOptional(r, &req); err != nil {
		slog.Warn("Server.completeTransferHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	var (
		rec *models.TransferRecord
		err error
	)
	if req.Cancelled {
		rec, err = s.transfers.CancelTransfer(r.Context(), id, req.Resolution)
	} else {
		rec, err = s.transfers.CompleteTransfer(r.Context(), id, req.Resolution)
	}
	if err != nil {
		writeTransferError(w, "completeTransferHandler", id, err)
		return
	}
	slog.Info("Server.completeTransferHandler: transfer closed", "transferID", id, "status", rec.Status)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Transfer closed", rec))
}

func (s *Server) cancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req models.CompleteTransferRequest
	if err := decodeOptional(r, &req); err != nil {
		slog.Warn("Server.cancelTransferHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	rec, err := s.transfers.CancelTransfer(r.Context(), id, req.Resolution)
	if err != nil {
		writeTransferError(w, "cancelTransferHandler", id, err)
		return
	}
	slog.Info("Server.cancelTransferHandler: transfer cancelled", "transferID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Transfer cancelled", rec))
}

func (s *Server) deliveryStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.delivery.GetStatus(r.Context())))
}

func (s *Server) resetStickyHandler(w http.ResponseWriter, r *http.Request) {
	chatID := models.ChatIDFromPhone(mux.Vars(r)["chat"])
	if chatID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid chat id"))
		return
	}
	if !s.delivery.ResetSticky(chatID) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Chat is not pinned to the backup channel"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Chat returned to primary channel", map[string]string{"chat_id": chatID}))
}

func (s *Server) clearStickyHandler(w http.ResponseWriter, r *http.Request) {
	n := s.delivery.ClearSticky()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Sticky set cleared", map[string]int{"removed": n}))
}

// sendHandler sends an operator message to a chat.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	chatID := models.ChatIDFromPhone(req.To)
	if chatID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid recipient"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SendTimeout)
	defer cancel()
	res, err := s.delivery.SendMessage(ctx, chatID, req.Body, nil)
	if err != nil {
		slog.Error("Server.sendHandler: failed to send message", "chatID", chatID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send message"))
		return
	}
	if s.opts.History != nil {
		s.opts.History.Append(chatID, models.AssistantMessage(req.Body))
	}
	slog.Info("Server.sendHandler: operator message sent", "chatID", chatID, "channel", res.Channel, "body_length", len(req.Body))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", res))
}

func (s *Server) providersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.opts.Providers.Status()))
}

// healthHandler reports delivery availability for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	st := s.delivery.GetStatus(ctx)
	healthData["delivery"] = st
	if !st.Available {
		healthData["status"] = "degraded"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
