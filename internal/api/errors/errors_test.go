package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusConflict, CodeInvalidState, "резервирование освобождено")

	if rec.Code != http.StatusConflict {
		t.Errorf("статус = %d, ожидался 409", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("декодирование: %v", err)
	}
	if body.Error.Code != CodeInvalidState || body.Error.Message != "резервирование освобождено" {
		t.Errorf("тело = %+v", body)
	}
}

func TestFromServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrValidation, http.StatusBadRequest, CodeValidationError},
		{service.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{service.ErrAuthorization, http.StatusForbidden, CodeForbidden},
		{service.ErrInvalidState, http.StatusConflict, CodeInvalidState},
		{service.ErrCapacityExceeded, http.StatusConflict, CodeCapacityExceeded},
		{service.ErrDuplicateBinding, http.StatusConflict, CodeDuplicateBinding},
		{service.ErrNoFreeSpace, http.StatusInsufficientStorage, CodeNoFreeSpace},
		{service.ErrCapacityUnavailable, http.StatusInsufficientStorage, CodeCapacityUnavailable},
		{service.ErrNoAuthorizedCapacity, http.StatusForbidden, CodeNoAuthorizedCapacity},
		{service.ErrUnsupportedOperation, http.StatusNotImplemented, CodeUnsupportedOperation},
		{service.ErrTransient, http.StatusServiceUnavailable, CodeTransient},
		{fmt.Errorf("обёртка: %w", service.ErrNoFreeSpace), http.StatusInsufficientStorage, CodeNoFreeSpace},
		{fmt.Errorf("неизвестная"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromServiceError(rec, tt.err)

			if rec.Code != tt.status {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.status)
			}
			if StatusOf(tt.err) != tt.status {
				t.Errorf("StatusOf = %d, ожидался %d", StatusOf(tt.err), tt.status)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("декодирование: %v", err)
			}
			if body.Error.Code != tt.code {
				t.Errorf("код = %q, ожидался %q", body.Error.Code, tt.code)
			}
		})
	}
}
