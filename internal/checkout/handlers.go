package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-kassa/internal/auth"
	"github.com/noah-isme/toko-kassa/internal/common"
	"github.com/noah-isme/toko-kassa/internal/obs"
	"github.com/noah-isme/toko-kassa/internal/payment"
)

const maxCreateBody = 1 << 20

// Handler exposes payment creation and the gateway return poll.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Create handles POST /api/v1/payments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody))
	if err := dec.Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid payment request", validationDetails(err))
			return
		}
	}
	obs.TagOrder(r.Context(), req.Order.ID)
	out, err := h.Svc.Create(r.Context(), req, common.ClientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	obs.TagPayment(r.Context(), out.PaymentID)
	common.Data(w, http.StatusCreated, out)
}

// Return handles GET /api/v1/payments/return and redirects the buyer.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	q := r.URL.Query()
	orderID := strings.TrimSpace(q.Get("order_id"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order_id is required", nil)
		return
	}
	obs.TagOrder(r.Context(), orderID)
	res, err := h.Svc.Return(r.Context(), orderID, q.Get("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		common.Data(w, http.StatusOK, res)
		return
	}
	http.Redirect(w, r, res.Redirect, http.StatusSeeOther)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case payment.IsRequestValidation(err):
		h.notCreated(w, http.StatusUnprocessableEntity)
	case errors.Is(err, ErrPayerNameRequired):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_PAYMENT_REQUEST", err.Error(), map[string]string{"field": "payerName"})
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrOrderMismatch):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "invalid return token", nil)
	case errors.Is(err, ErrNotCreated):
		h.notCreated(w, http.StatusBadGateway)
	case errors.Is(err, ErrDisabled):
		common.JSONError(w, http.StatusServiceUnavailable, "PAYMENTS_DISABLED", err.Error(), nil)
	case common.WriteAppError(w, err):
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "payment processing failed", nil)
	}
}

// notCreated sends the buyer back to method selection without the cause.
func (h *Handler) notCreated(w http.ResponseWriter, status int) {
	details := map[string]string{}
	if page := h.Svc.Pages.Method; page != "" {
		details["redirect"] = page
	}
	common.JSONError(w, status, "PAYMENT_NOT_CREATED", ErrNotCreated.Error(), details)
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}
