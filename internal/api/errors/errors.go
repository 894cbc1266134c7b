// Пакет errors — конструкторы стандартных ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeInvalidState         = "INVALID_STATE"
	CodeCapacityExceeded     = "CAPACITY_EXCEEDED"
	CodeNoFreeSpace          = "NO_FREE_SPACE"
	CodeCapacityUnavailable  = "CAPACITY_UNAVAILABLE"
	CodeNoAuthorizedCapacity = "NO_AUTHORIZED_CAPACITY"
	CodeDuplicateBinding     = "DUPLICATE_BINDING"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeTransient            = "TRANSIENT"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// serviceErrors — соответствие ошибок сервисного слоя статусам и кодам.
// Порядок важен: первая совпавшая ошибка определяет ответ.
var serviceErrors = []struct {
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
}

// FromServiceError записывает ответ для ошибки сервисного слоя.
// Неизвестные ошибки возвращаются как 500 без деталей.
func FromServiceError(w http.ResponseWriter, err error) {
	for _, e := range serviceErrors {
		if errors.Is(err, e.err) {
			WriteError(w, e.status, e.code, err.Error())
			return
		}
	}
	InternalError(w, "Внутренняя ошибка сервера")
}

// StatusOf возвращает HTTP-статус, который FromServiceError выберет для err.
func StatusOf(err error) int {
	for _, e := range serviceErrors {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
