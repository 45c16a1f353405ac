package http

import (
	"net/http"

	"github.com/cadencehq/identity-service/internal/application"
)

func (h *Handler) passwordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_reset_request", err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Username); err != nil {
		writeMappedError(r.Context(), w, "password_reset_request", err)
		return
	}
	// Same response for known and unknown identities.
	writeMessage(w, http.StatusAccepted, "if the account exists, a reset token has been sent")
}

func (h *Handler) passwordReset(w http.ResponseWriter, r *http.Request) {
	var req application.PasswordResetConfirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_reset", err)
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), req); err != nil {
		writeMappedError(r.Context(), w, "password_reset", err)
		return
	}
	writeMessage(w, http.StatusOK, "password updated")
}

func (h *Handler) emailVerifyRequest(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "email_verify_request")
		return
	}

	if err := h.service.RequestEmailVerification(r.Context(), claims.Subject); err != nil {
		writeMappedError(r.Context(), w, "email_verify_request", err)
		return
	}
	writeMessage(w, http.StatusAccepted, "verification token sent")
}

func (h *Handler) emailVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "email_verify", err)
		return
	}

	if err := h.service.ConfirmEmailVerification(r.Context(), req.Token); err != nil {
		writeMappedError(r.Context(), w, "email_verify", err)
		return
	}
	writeMessage(w, http.StatusOK, "email verified")
}
