package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"cricverse-booking/internal/auth"
	"cricverse-booking/internal/booking"
	"cricverse-booking/internal/models"
	"cricverse-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the booking coordinator over HTTP. Authentication has
// already happened in the middleware; the holder identity comes from the
// request context.
type Handler struct {
	Booking *booking.Service
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	holderID, ok := auth.HolderID(r.Context())
	if !ok {
		http.Error(w, "missing holder identity", http.StatusUnauthorized)
		return
	}

	var req models.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	if len(req.SeatIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("no seats requested", "seat_ids must be non-empty"))
		return
	}
	if req.AttemptID == "" {
		req.AttemptID = utils.GenerateAttemptID()
	}

	result, err := h.Booking.Reserve(r.Context(), req.AttemptID, eventID, req.SeatIDs, holderID)
	if err != nil {
		writeError(w, "could not reserve seats", err)
		return
	}

	switch result.Outcome {
	case models.OutcomeCommitted:
		writeJSON(w, http.StatusCreated, utils.SuccessResponse("seats held", result))
	default:
		resp := utils.ErrorResponse("seats unavailable", "one or more seats are not available")
		resp.Data = result
		writeJSON(w, http.StatusConflict, resp)
	}
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptId")
	holderID, ok := auth.HolderID(r.Context())
	if !ok {
		http.Error(w, "missing holder identity", http.StatusUnauthorized)
		return
	}

	result, err := h.Booking.Confirm(r.Context(), attemptID, holderID)
	if err != nil {
		writeError(w, "could not confirm reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation confirmed", result))
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptId")
	holderID, ok := auth.HolderID(r.Context())
	if !ok {
		http.Error(w, "missing holder identity", http.StatusUnauthorized)
		return
	}

	attempt, err := h.Booking.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeError(w, "could not release reservation", err)
		return
	}
	if err := h.Booking.Release(r.Context(), attempt.EventID, attempt.SeatIDs, holderID); err != nil {
		writeError(w, "could not release reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("seats released", nil))
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptId")

	attempt, err := h.Booking.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeError(w, "attempt not found", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("attempt", attempt))
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the coordinator's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, booking.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, booking.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, booking.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, booking.ErrStorage):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}
