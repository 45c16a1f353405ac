package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cadencehq/identity-service/internal/application"
)

func (h *Handler) auditSelf(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "audit_self")
		return
	}

	q := auditQueryFromRequest(r)
	items, err := h.service.AuditForUser(r.Context(), claims.Subject, q)
	if err != nil {
		writeMappedError(r.Context(), w, "audit_self", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"entries": items,
		"page":    q.Page,
		"limit":   q.Limit,
	})
}

func (h *Handler) auditAll(w http.ResponseWriter, r *http.Request) {
	q := auditQueryFromRequest(r)
	items, err := h.service.AuditAll(r.Context(), q)
	if err != nil {
		writeMappedError(r.Context(), w, "audit_all", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"entries": items,
		"page":    q.Page,
		"limit":   q.Limit,
	})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "assign_role", err)
		return
	}
	role := chi.URLParam(r, "role")

	if err := h.service.AssignRole(r.Context(), userID, role); err != nil {
		writeMappedError(r.Context(), w, "assign_role", err)
		return
	}
	writeMessage(w, http.StatusOK, "role assigned")
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "revoke_role", err)
		return
	}
	role := chi.URLParam(r, "role")

	if err := h.service.RevokeRole(r.Context(), userID, role); err != nil {
		writeMappedError(r.Context(), w, "revoke_role", err)
		return
	}
	writeMessage(w, http.StatusOK, "role revoked")
}

// queryInt reads a numeric query parameter, keeping the fallback on absent
// or unparseable input.
func queryInt(q string, fallback int) int {
	if q == "" {
		return fallback
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return fallback
	}
	return n
}

func auditQueryFromRequest(r *http.Request) application.AuditQuery {
	q := r.URL.Query()
	query := application.AuditQuery{
		Page:   queryInt(q.Get("page"), 1),
		Limit:  queryInt(q.Get("limit"), 20),
		Days:   queryInt(q.Get("days"), 0),
		Action: q.Get("action"),
	}
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit < 1 || query.Limit > 100 {
		query.Limit = 20
	}
	return query
}
