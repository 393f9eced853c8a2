package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"resource not found"}`, w.Body.String())
}

func TestWriteValidationErrors(t *testing.T) {
	w := httptest.NewRecorder()

	WriteValidationErrors(w, "", map[string][]string{
		"email": {"This user has already been invited to the organization."},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body ValidationErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "This user has already been invited to the organization.", body.Message)
	assert.Equal(t, []string{"This user has already been invited to the organization."}, body.Errors["email"])
}

func TestWriteFieldError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteFieldError(w, "slug", "The slug has already been taken.")

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"message":"The slug has already been taken.","errors":{"slug":["The slug has already been taken."]}}`, w.Body.String())
}

func TestWritePaymentRequired(t *testing.T) {
	w := httptest.NewRecorder()

	WritePaymentRequired(w, "Please upgrade your plan.", "items")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.JSONEq(t, `{"message":"Please upgrade your plan.","feature":"items"}`, w.Body.String())

	w = httptest.NewRecorder()
	WritePaymentRequired(w, "An active subscription is required.", "")
	assert.JSONEq(t, `{"message":"An active subscription is required."}`, w.Body.String())
}

func TestWriteInternalError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]int{"id": 123}

	err := WriteCreated(w, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "123")
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
	}{
		{"bad request", WriteBadRequest, http.StatusBadRequest},
		{"unauthorized", WriteUnauthorized, http.StatusUnauthorized},
		{"forbidden", WriteForbidden, http.StatusForbidden},
		{"not found", WriteNotFoundError, http.StatusNotFound},
		{"conflict", WriteConflict, http.StatusConflict},
		{"too many requests", WriteTooManyRequests, http.StatusTooManyRequests},
		{"service unavailable", WriteServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "some message")
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), "some message")
		})
	}
}

func TestWriteCodedFieldError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteCodedFieldError(w, "role", "owner_role_not_assignable", "The owner role cannot be assigned.")

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"message":"The owner role cannot be assigned.","code":"owner_role_not_assignable","errors":{"role":["The owner role cannot be assigned."]}}`, w.Body.String())
}
