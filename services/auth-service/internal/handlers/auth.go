package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bookwell/bookwell/libs/auth"
	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/services/auth-service/internal/staff"
	"github.com/go-playground/validator/v10"
)

const (
	codeInvalidCode     = "INVALID_CODE"
	codeCodeExpired     = "CODE_EXPIRED"
	codeTooManyAttempts = "TOO_MANY_ATTEMPTS"
)

type AuthHandler struct {
	staff    *staff.Service
	logger   *slog.Logger
	validate *validator.Validate
}

func NewAuthHandler(svc *staff.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		staff:    svc,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register mounts the auth routes on mux.
func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/send-otp", h.SendOTP)
	mux.HandleFunc("/api/auth/verify-otp", h.VerifyOTP)
	mux.HandleFunc("/api/auth/refresh", h.Refresh)
	mux.HandleFunc("/api/auth/logout", h.Logout)
	mux.HandleFunc("/api/auth/me", h.Me)
}

type sendOTPRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,max=16"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	BusinessID string `json:"businessId"`
	Role       string `json:"role"`
}

type loginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	IsNewUser    bool         `json:"isNewUser"`
	User         userResponse `json:"user"`
}

func toUser(u staff.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, BusinessID: u.BusinessID, Role: u.Role}
}

func toLogin(l staff.Login) loginResponse {
	return loginResponse{
		AccessToken:  l.AccessToken,
		RefreshToken: l.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    l.ExpiresAt,
		IsNewUser:    l.IsNew,
		User:         toUser(l.User),
	}
}

func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req sendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.staff.SendCode(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"expiresInSeconds": int(h.staff.CodeTTL().Seconds()),
	})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req verifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	login, err := h.staff.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toLogin(login))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	login, err := h.staff.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toLogin(login))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.staff.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing or invalid Authorization header")
		return
	}
	user, err := h.staff.Authenticate(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": toUser(user)})
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeMethodNotAllowed, "method not allowed")
	return false
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !httpx.DecodeJSON(w, r, dst) {
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) && len(errs) > 0 {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, errs[0].Field()+" is invalid")
			return false
		}
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid request")
		return false
	}
	return true
}

func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, otp.ErrInvalidCode):
		httpx.WriteError(w, http.StatusBadRequest, codeInvalidCode, "invalid code")
	case errors.Is(err, otp.ErrCodeExpired):
		httpx.WriteError(w, http.StatusBadRequest, codeCodeExpired, "code expired, request a new one")
	case errors.Is(err, otp.ErrTooManyAttempts):
		httpx.WriteError(w, http.StatusTooManyRequests, codeTooManyAttempts, "too many attempts, request a new code")
	case errors.Is(err, staff.ErrRateLimited):
		httpx.WriteError(w, http.StatusTooManyRequests, httpx.CodeRateLimited, err.Error())
	case errors.Is(err, staff.ErrDelivery):
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.CodeUnavailable, "could not send the code, try again")
	case errors.Is(err, staff.ErrInvalidRefresh), errors.Is(err, auth.ErrInvalidToken):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "auth request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "internal error")
	}
}
