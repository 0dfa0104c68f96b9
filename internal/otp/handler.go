package otp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"shetmall-auth/internal/auth"
	"shetmall-auth/internal/observability"
)

const maxJSONBodyBytes = 4 << 10

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) CanVerify() bool {
	return h.service.CanVerify()
}

type response struct {
	Status  int      `json:"status"`
	Data    any      `json:"data,omitempty"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

type sendRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.Send(r.Context(), body.Email); err != nil {
		h.fail(w, "otp_send", err)
		return
	}

	observability.RecordAuthOperation("otp_send", "success")
	writeJSON(w, http.StatusOK, response{
		Status:  http.StatusOK,
		Data:    map[string]string{"email": normalizeEmail(body.Email)},
		Message: "otp sent to " + normalizeEmail(body.Email),
	})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.Verify(r.Context(), body.Email, body.Code); err != nil {
		h.fail(w, "otp_verify", err)
		return
	}

	observability.RecordAuthOperation("otp_verify", "success")
	writeJSON(w, http.StatusOK, response{
		Status:  http.StatusOK,
		Data:    map[string]string{"email": normalizeEmail(body.Email)},
		Message: "email verified",
	})
}

func (h *Handler) fail(w http.ResponseWriter, operation string, err error) {
	var status int
	var message string
	switch {
	case errors.Is(err, ErrCodeNotFound):
		status, message = http.StatusNotFound, "code expired or never issued"
	case errors.Is(err, ErrCodeMismatch):
		status, message = http.StatusUnauthorized, "invalid code"
	default:
		status, message = auth.Describe(err)
	}

	if status >= http.StatusInternalServerError || errors.Is(err, auth.ErrDelivery) {
		sentry.CaptureException(err)
		h.logger.Error(operation+"_failed", map[string]any{"error": err.Error(), "status": status})
		observability.RecordAuthOperation(operation, "error")
	} else {
		observability.RecordAuthOperation(operation, "rejected")
	}

	body := response{Status: status, Message: message}
	var validationErr *auth.ValidationError
	if errors.As(err, &validationErr) {
		body.Fields = validationErr.Fields
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Status: http.StatusBadRequest, Message: "invalid json body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
