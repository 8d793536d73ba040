// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Success responses carry a "data"
// envelope; error responses carry {statusCode, message}.
package auth

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

type dataBody struct {
	Data any `json:"data"`
}

// writeJSON serializes v with the given status. Encoding failures after the
// header is written can only be logged.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError(r, "encoding response body", "error", err)
	}
}

// writeError returns an error envelope with the given status and message.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, errorBody{StatusCode: status, Message: message})
}

// OK returns a 200 response wrapping data.
func OK(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, r, http.StatusOK, dataBody{Data: data})
}

// Created returns a 201 response wrapping data.
func Created(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, r, http.StatusCreated, dataBody{Data: data})
}

// BadRequest returns a 400 error envelope.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 error envelope.
// Keep message generic to prevent user enumeration.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusUnauthorized, message)
}

// Forbidden returns a 403 error envelope.
func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusForbidden, message)
}

// NotFound returns a 404 error envelope.
func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusNotFound, message)
}

// Conflict returns a 409 error envelope.
func Conflict(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusConflict, message)
}

// TooManyRequests returns a 429 error envelope.
func TooManyRequests(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusTooManyRequests, message)
}

// InternalServerError logs the error and returns a generic 500 envelope.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	logError(r, "internal server error", "error", err)
	writeError(w, r, http.StatusInternalServerError, message)
}
