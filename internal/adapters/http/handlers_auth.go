package http

import (
	"errors"
	"net/http"

	"github.com/cadencehq/identity-service/internal/application"
	"github.com/cadencehq/identity-service/internal/domain"
)

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req application.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "register", err)
		return
	}
	req.IPAddress = readIP(r)

	res, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "register", err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req application.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "login", err)
		return
	}
	req.IPAddress = readIP(r)
	req.UserAgent = r.UserAgent()

	res, err := h.service.Login(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountLocked):
			h.metricLoginOutcome("locked")
		case errors.Is(err, domain.ErrInvalidCredentials):
			h.metricLoginOutcome("failure")
		}
		writeMappedError(r.Context(), w, "login", err)
		return
	}
	h.metricLoginOutcome("success")
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req application.RefreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "refresh", err)
		return
	}
	req.IPAddress = readIP(r)

	res, err := h.service.Refresh(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrTokenConsumed) && h.metrics != nil {
			h.metrics.refreshReplays.Inc()
		}
		writeMappedError(r.Context(), w, "refresh", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req application.LogoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "logout", err)
		return
	}
	req.IPAddress = readIP(r)

	if err := h.service.Logout(r.Context(), req); err != nil {
		writeMappedError(r.Context(), w, "logout", err)
		return
	}
	writeMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "me")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"user_id":    claims.Subject,
		"username":   claims.Username,
		"roles":      claims.Roles,
		"expires_at": claims.ExpiresAt,
	})
}

func (h *Handler) metricLoginOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.loginOutcome(outcome)
	}
}
