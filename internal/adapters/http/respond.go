package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"inbox/internal/contract"
	"inbox/internal/domain/message"
)

// writeJSON encodes v with HTML escaping off so message content reaches clients byte-for-byte.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Warn("message_event", "event", "response_encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, body contract.ErrorResponse) {
	writeJSON(w, status, body)
}

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeError(w, http.StatusInternalServerError, contract.ErrorResponse{Error: "internal server error", Code: contract.CodeInternal})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, contract.ErrorResponse{Error: msg, Code: contract.CodeBadRequest})
}

// strictDecode decodes JSON from the request body, rejecting unknown fields and trailing data.
func strictDecode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// Large enough for 500 ids or 5000 four-byte characters.
const maxBodyBytes = 64 << 10

// respondError maps the messaging error taxonomy onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	var (
		verr *message.ValidationError
		nerr *message.NotFoundError
		aerr *message.AuthorizationError
		rerr *message.RepositoryError
		qerr *contract.RequestError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, contract.ErrorResponse{Error: verr.Error(), Code: contract.CodeValidation, Rule: string(verr.Rule)})
	case errors.As(err, &qerr):
		writeError(w, http.StatusBadRequest, contract.ErrorResponse{Error: qerr.Error(), Code: contract.CodeValidation})
	case errors.As(err, &nerr):
		writeError(w, http.StatusNotFound, contract.ErrorResponse{Error: "message not found", Code: contract.CodeNotFound, MessageID: nerr.ID})
	case errors.As(err, &aerr):
		writeError(w, http.StatusForbidden, contract.ErrorResponse{
			Error:     "not allowed",
			Code:      contract.CodeForbidden,
			MessageID: aerr.MessageID,
			Action:    string(aerr.Action),
		})
	case errors.As(err, &rerr):
		slog.Error("message_event", "event", "repository_unavailable", "op", rerr.Op, "error", rerr.Err)
		writeError(w, http.StatusServiceUnavailable, contract.ErrorResponse{Error: "storage unavailable", Code: contract.CodeUnavailable})
	default:
		internalError(w, err)
	}
}
