package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики учётных операций.
var (
	spaceOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_space_operations_total",
		Help: "Количество учётных операций по типу и результату.",
	}, []string{"operation", "result"})

	txRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_tx_retries_total",
		Help: "Количество повторов учётных транзакций после временных ошибок.",
	}, []string{"operation"})
)

// resultLabel возвращает значение лейбла result для ошибки операции.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrNoFreeSpace),
		errors.Is(err, ErrCapacityUnavailable),
		errors.Is(err, ErrNoAuthorizedCapacity):
		return "capacity"
	case errors.Is(err, ErrDuplicateBinding):
		return "duplicate"
	case errors.Is(err, ErrAuthorization):
		return "forbidden"
	case errors.Is(err, ErrUnsupportedOperation):
		return "unsupported"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
