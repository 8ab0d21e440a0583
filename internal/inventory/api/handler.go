package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"cricverse-booking/internal/booking"
	"cricverse-booking/internal/inventory"
	"cricverse-booking/internal/models"
	"cricverse-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler exposes seat inventory: provisioning for venue setup and read
// snapshots for seat-map rendering.
type Handler struct {
	Inventory *inventory.DB
}

func (h *Handler) GetSeats(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	idsParam := r.URL.Query().Get("ids")
	if idsParam == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("missing ids", "query parameter ids is required"))
		return
	}
	seatIDs := strings.Split(idsParam, ",")

	views, err := h.Inventory.GetSeats(r.Context(), eventID, seatIDs)
	if err != nil {
		writeError(w, "could not fetch seats", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("seats", views))
}

func (h *Handler) ListVenueSeats(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	venueID := chi.URLParam(r, "venueId")

	views, err := h.Inventory.ListSeats(r.Context(), eventID, venueID)
	if err != nil {
		writeError(w, "could not list seats", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("seats", views))
}

func (h *Handler) CreateSeats(w http.ResponseWriter, r *http.Request) {
	venueID := chi.URLParam(r, "venueId")

	var req models.CreateSeatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	for i := range req.Seats {
		req.Seats[i].VenueID = venueID
		if req.Seats[i].SeatID == "" {
			seat := req.Seats[i]
			req.Seats[i].SeatID = utils.GenerateSeatID(venueID, seat.Section, seat.Row, seat.Number)
		}
	}

	created, err := h.Inventory.CreateSeats(r.Context(), req.Seats)
	if err != nil {
		writeError(w, "could not create seats", err)
		return
	}
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("seats created", map[string]int{"created": created}))
}

func (h *Handler) DisableSeat(w http.ResponseWriter, r *http.Request) {
	seatID := chi.URLParam(r, "seatId")

	if err := h.Inventory.DisableSeat(r.Context(), seatID); err != nil {
		writeError(w, "could not disable seat", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("seat disabled", nil))
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, booking.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}
