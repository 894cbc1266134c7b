// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — резервирование, файл или link group не найдены.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrInvalidState — операция недопустима в текущем состоянии.
	ErrInvalidState = errors.New("операция недопустима в текущем состоянии")
	// ErrCapacityExceeded — размер резервирования меньше used + allocated.
	ErrCapacityExceeded = errors.New("превышен размер резервирования")
	// ErrNoFreeSpace — недостаточно свободного места.
	ErrNoFreeSpace = errors.New("недостаточно свободного места")
	// ErrCapacityUnavailable — link group не может принять резервирование под блокировкой.
	ErrCapacityUnavailable = errors.New("ёмкость link group недоступна")
	// ErrNoAuthorizedCapacity — нет link group, разрешённой для запрашивающего и политики.
	ErrNoAuthorizedCapacity = errors.New("нет авторизованной ёмкости")
	// ErrDuplicateBinding — путь уже привязан к незавершённой записи.
	ErrDuplicateBinding = errors.New("путь уже привязан к резервированию")
	// ErrAuthorization — запрашивающему отказано в доступе.
	ErrAuthorization = errors.New("доступ запрещён")
	// ErrUnsupportedOperation — операция не поддерживается (частичное освобождение).
	ErrUnsupportedOperation = errors.New("операция не поддерживается")
	// ErrTransient — временная ошибка хранилища, повторы исчерпаны.
	ErrTransient = errors.New("временная ошибка хранилища")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
