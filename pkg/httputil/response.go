// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// ValidationErrorResponse is the body of a 422 response. Errors is keyed by
// input field so clients can render messages inline.
type ValidationErrorResponse struct {
	Message string              `json:"message"`
	Code    string              `json:"code,omitempty"`
	Errors  map[string][]string `json:"errors"`
}

// WriteValidationErrors writes a 422 response carrying per-field messages.
// message defaults to the first field message.
func WriteValidationErrors(w http.ResponseWriter, message string, fields map[string][]string) {
	if message == "" {
		for _, msgs := range fields {
			if len(msgs) > 0 {
				message = msgs[0]
				break
			}
		}
	}
	WriteJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
		Message: message,
		Errors:  fields,
	})
}

// WriteFieldError writes a 422 response for a single field.
func WriteFieldError(w http.ResponseWriter, field, message string) {
	WriteValidationErrors(w, message, map[string][]string{field: {message}})
}

// WriteCodedFieldError is WriteFieldError with a machine readable code.
func WriteCodedFieldError(w http.ResponseWriter, field, code, message string) {
	WriteJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
		Message: message,
		Code:    code,
		Errors:  map[string][]string{field: {message}},
	})
}

// PaymentRequiredResponse is the body of a 402 response.
type PaymentRequiredResponse struct {
	Message string `json:"message"`
	Feature string `json:"feature,omitempty"`
}

// WritePaymentRequired writes a 402 response. feature may be empty.
func WritePaymentRequired(w http.ResponseWriter, message, feature string) {
	WriteJSON(w, http.StatusPaymentRequired, PaymentRequiredResponse{
		Message: message,
		Feature: feature,
	})
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteInternalError writes an opaque 500 response. The cause belongs in
// the logs, not the body.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusConflict, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, message)
}
