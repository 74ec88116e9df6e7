package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"lesson-booking/internal/booking"
	"lesson-booking/internal/logger"
	"lesson-booking/internal/models"
	"lesson-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *booking.BookingService
	Logger  *logger.Logger
}

func NewHandler(service *booking.BookingService, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// ListSlots sweeps expired reservations and returns the offerable slots.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.Service.ListOfferable(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListSlots: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to list slots", err.Error())
		return
	}
	if slots == nil {
		slots = []models.Slot{}
	}
	utils.WriteJSON(w, http.StatusOK, slots)
}

func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req models.SlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	slot, err := h.Service.CreateSlot(r.Context(), req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateSlot: %v", err))
		utils.WriteError(w, http.StatusBadRequest, "failed to create slot", err.Error())
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateSlot: created slot %s", slot.SlotID))
	utils.WriteJSON(w, http.StatusCreated, slot)
}

func (h *Handler) CreateSlotBatch(w http.ResponseWriter, r *http.Request) {
	var req models.SlotBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	slots, err := h.Service.GenerateHourlySlots(r.Context(), req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateSlotBatch: %v", err))
		utils.WriteError(w, http.StatusBadRequest, "failed to generate slots", err.Error())
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateSlotBatch: generated %d slots", len(slots)))
	utils.WriteJSON(w, http.StatusCreated, slots)
}

// CreateCheckout reserves a slot and returns the hosted payment URL. Slot
// contention is a domain rejection (400); anything else is a 500.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.SlotID == "" || req.Email == "" {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", "slot_id and email are required")
		return
	}

	resp, err := h.Service.CreateCheckout(r.Context(), req)
	if err != nil {
		if errors.Is(err, booking.ErrSlotUnavailable) {
			h.Logger.Warn("API", fmt.Sprintf("CreateCheckout: slot %s unavailable", req.SlotID))
			utils.WriteError(w, http.StatusBadRequest, "slot unavailable", err.Error())
			return
		}
		h.Logger.Error("API", fmt.Sprintf("CreateCheckout: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to start checkout", "unexpected error")
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

// StripeWebhook receives asynchronous payment events. Both finalized and
// rejected outcomes acknowledge with 200 so the provider stops redelivering.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid webhook payload", err.Error())
		return
	}

	_, err = h.Service.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var whErr *booking.WebhookError
		if errors.As(err, &whErr) {
			h.Logger.Error("API", fmt.Sprintf("StripeWebhook: %s error: %s", whErr.Category, whErr.InternalError))
			utils.WriteError(w, whErr.StatusCode, whErr.PublicError, "")
			return
		}
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "webhook processing error", "")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// CancelCheckout is the cancel-URL redirect target: releasing the reservation
// is a side effect of the page load, then the customer lands back on the home
// view.
func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	slotID := r.URL.Query().Get("slot_id")
	if slotID == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing slot_id", "slot_id query parameter is required")
		return
	}

	if err := h.Service.Release(r.Context(), slotID); err != nil {
		// The redirect still happens; a failed release is reclaimed by the sweep.
		h.Logger.Error("API", fmt.Sprintf("CancelCheckout: release slot %s: %v", slotID, err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GetBookingBySession is the poll target the confirmation page hits until the
// webhook lands and the booking appears.
func (h *Handler) GetBookingBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	b, err := h.Service.GetBookingBySession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, booking.ErrBookingNotFound) {
			utils.WriteError(w, http.StatusNotFound, "booking not found", "no booking for this session yet")
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetBookingBySession: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to load booking", "unexpected error")
		return
	}
	utils.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) GetCustomerBookings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing user id", "userId path parameter is required")
		return
	}

	bookings, err := h.Service.GetBookingsForUser(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetCustomerBookings: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to load bookings", "unexpected error")
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	utils.WriteJSON(w, http.StatusOK, bookings)
}

// DecodeSnapshot resolves the opaque slot parameter from the success URL for
// the confirmation page.
func (h *Handler) DecodeSnapshot(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Query().Get("snapshot")
	if param == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing snapshot", "snapshot query parameter is required")
		return
	}

	snap, err := utils.DecodeSlotSnapshot(param)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid snapshot", err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, snap)
}
