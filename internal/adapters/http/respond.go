package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20

// envelope is the single wire shape for every response. Success bodies carry
// data or a message, failures carry a stable code plus a safe message; the
// omitempty tags keep the unused halves off the wire.
type envelope struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, statusCode int, body envelope) {
	buf, err := json.Marshal(body)
	if err != nil {
		http.Error(w, `{"status":"error","code":"INTERNAL_ERROR","message":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeEnvelope(w, statusCode, envelope{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeEnvelope(w, statusCode, envelope{Status: "success", Message: message})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeEnvelope(w, statusCode, envelope{Status: "error", Code: code, Message: message})
}

// writeMappedError is the one path from a domain error to the wire: map,
// log, respond. Handlers never pick status codes themselves.
func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	writeFailure(ctx, w, operation, status, code, msg, err)
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	writeFailure(ctx, w, operation, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
}

func writeMissingBearerError(ctx context.Context, w http.ResponseWriter, operation string) {
	writeFailure(ctx, w, operation, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
}

func writeFailure(ctx context.Context, w http.ResponseWriter, operation string, status int, code, msg string, err error) {
	logHTTPOperationError(ctx, operation, status, code, msg, err)
	writeError(w, status, code, msg)
}

// decodeBody reads exactly one JSON value, rejects unknown fields, and caps
// the request body so a handler is never fed an unbounded stream.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("body must be a single JSON value")
	}
	return nil
}

// readIP prefers the first X-Forwarded-For hop (the edge proxy strips
// client-supplied values), falling back to the connection peer.
func readIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
