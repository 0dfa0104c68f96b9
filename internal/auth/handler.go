package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"shetmall-auth/internal/media"
	"shetmall-auth/internal/observability"
)

const (
	maxJSONBodyBytes     = 16 << 10
	maxRegisterBodyBytes = media.MaxUploadSizeBytes + 1<<20
)

type Handler struct {
	service  *Service
	cookies  CookieOptions
	logger   *observability.Logger
	clientIP func(*http.Request) string
	now      func() time.Time
}

func NewHandler(service *Service, cookies CookieOptions, ips observability.ClientIPResolver, logger *observability.Logger) *Handler {
	return &Handler{
		service:  service,
		cookies:  cookies,
		logger:   logger,
		clientIP: ips.ClientIP,
		now:      time.Now,
	}
}

type response struct {
	Status  int      `json:"status"`
	Data    any      `json:"data,omitempty"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRegisterBodyBytes)
	if err := r.ParseMultipartForm(media.MaxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	in := RegisterInput{
		Name:        r.FormValue("name"),
		Surname:     r.FormValue("surname"),
		Email:       r.FormValue("email"),
		Password:    r.FormValue("password"),
		PhoneNumber: r.FormValue("phone_number"),
		Age:         r.FormValue("age"),
		Gender:      r.FormValue("gender"),
		Address:     r.FormValue("address"),
		State:       r.FormValue("state"),
		District:    r.FormValue("district"),
		Subdistrict: r.FormValue("subdistrict"),
		PinCode:     r.FormValue("pin_code"),
	}

	avatar, err := media.ReadImage(r, "avatar")
	switch {
	case err == nil:
		in.Avatar = avatar
	case errors.Is(err, media.ErrNoFile):
	default:
		h.fail(w, "register", &ValidationError{Fields: []string{"avatar"}, Reason: err.Error()})
		return
	}

	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		h.fail(w, "register", err)
		return
	}

	observability.RecordAuthOperation("register", "success")
	writeJSON(w, http.StatusCreated, response{
		Status:  http.StatusCreated,
		Data:    user,
		Message: "user registered successfully",
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body LoginInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	session, err := h.service.Login(r.Context(), body)
	if err != nil {
		// unknown user and wrong password look the same to the caller
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
			observability.RecordAuthOperation("login", "rejected")
			h.logger.Info("auth_login_failed", map[string]any{"ip": h.clientIP(r)})
			writeError(w, http.StatusUnauthorized, "invalid user credentials")
			return
		}
		h.fail(w, "login", err)
		return
	}

	observability.RecordAuthOperation("login", "success")
	h.cookies.setSession(w, session.Tokens, h.now())
	writeJSON(w, http.StatusOK, response{
		Status:  http.StatusOK,
		Data:    session,
		Message: "user logged in successfully",
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	if err := h.service.Logout(r.Context(), claims.UserID()); err != nil {
		h.fail(w, "logout", err)
		return
	}

	observability.RecordAuthOperation("logout", "success")
	h.cookies.clearSession(w)
	writeJSON(w, http.StatusOK, response{
		Status:  http.StatusOK,
		Data:    struct{}{},
		Message: "user logged out",
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var presented string
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		presented = strings.TrimSpace(cookie.Value)
	}

	if presented == "" && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		var body refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		presented = body.RefreshToken
	}

	tokens, err := h.service.Refresh(r.Context(), presented)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.RecordAuthOperation("refresh", "rejected")
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		if errors.Is(err, ErrTokenReuse) {
			h.logger.Warn("auth_refresh_token_reuse", map[string]any{"ip": h.clientIP(r)})
		}
		h.fail(w, "refresh", err)
		return
	}

	observability.RecordAuthOperation("refresh", "success")
	h.cookies.setSession(w, tokens, h.now())
	writeJSON(w, http.StatusOK, response{
		Status:  http.StatusOK,
		Data:    tokens,
		Message: "access token refreshed",
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims.UserID())
	if err != nil {
		h.fail(w, "me", err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Status:  http.StatusOK,
		Data:    user,
		Message: "current user fetched successfully",
	})
}

func (h *Handler) fail(w http.ResponseWriter, operation string, err error) {
	status, message := Describe(err)
	if status >= http.StatusInternalServerError {
		sentry.CaptureException(err)
		h.logger.Error("auth_"+operation+"_failed", map[string]any{"error": err.Error(), "status": status})
		observability.RecordAuthOperation(operation, "error")
	} else {
		observability.RecordAuthOperation(operation, "rejected")
	}

	body := response{Status: status, Message: message}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		body.Fields = validationErr.Fields
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Status: status, Message: message})
}
