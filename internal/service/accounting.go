// accounting.go — учётное ядро: транзакции с повтором и арифметика счётчиков.
//
// Счётчики меняются только здесь и только внутри учётной транзакции.
// Порядок блокировок: файл, затем резервирование, затем его link group.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
)

// IDAllocator выдаёт уникальные идентификаторы резервирований и файлов.
type IDAllocator interface {
	Next(ctx context.Context) (int64, error)
}

// RetryPolicy — повтор транзакции при временных ошибках хранилища.
type RetryPolicy struct {
	// Attempts — количество дополнительных попыток (0 — без повторов)
	Attempts int
	// Backoff — начальная пауза, дальше растёт экспоненциально
	Backoff time.Duration
}

// Accounting — общая часть сервисов резервирований и файлов:
// доступ к хранилищу, выдача идентификаторов, транзакции и счётчики.
type Accounting struct {
	store  repository.Store
	ids    IDAllocator
	retry  RetryPolicy
	now    func() time.Time
	logger *slog.Logger
}

// NewAccounting создаёт учётное ядро.
func NewAccounting(store repository.Store, ids IDAllocator, retry RetryPolicy, logger *slog.Logger) *Accounting {
	return &Accounting{
		store:  store,
		ids:    ids,
		retry:  retry,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "accounting")),
	}
}

// runTx выполняет fn в учётной транзакции. Временные ошибки хранилища
// повторяются не более retry.Attempts раз, остальные возвращаются сразу.
func (a *Accounting) runTx(ctx context.Context, op string, fn func(r *repository.Repositories) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.retry.Backoff
	eb.MaxInterval = 20 * a.retry.Backoff
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	b = backoff.WithMaxRetries(b, uint64(max(a.retry.Attempts, 0)))
	b = backoff.WithContext(b, ctx)

	err := backoff.RetryNotify(func() error {
		err := a.store.InTx(ctx, fn)
		if err == nil || repository.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		txRetriesTotal.WithLabelValues(op).Inc()
		a.logger.Warn("Временная ошибка хранилища, повтор транзакции",
			slog.String("operation", op),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})

	err = mapStoreError(err)
	spaceOperationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	return err
}

// mapStoreError переводит ошибки репозиториев в ошибки сервисного слоя.
// Уже переведённые ошибки не меняются.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case repository.IsTransient(err):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	case errors.Is(err, repository.ErrNotFound) && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConstraint) && !errors.Is(err, ErrCapacityExceeded):
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	default:
		return err
	}
}

// nextID выдаёт идентификатор до начала транзакции.
func (a *Accounting) nextID(ctx context.Context) (int64, error) {
	id, err := a.ids.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return id, nil
}

// --- Арифметика счётчиков ---

// usage — вклад файла в счётчики резервирования.
type usage struct {
	allocated int64
	used      int64
}

// fileUsage: RESERVED и TRANSFERRING учитываются в allocated,
// STORED и FLUSHED — в used. Отсутствующий файл (nil) не учитывается.
func fileUsage(f *model.File) usage {
	if f == nil {
		return usage{}
	}
	switch f.State {
	case model.FileReserved, model.FileTransferring:
		return usage{allocated: f.SizeInBytes}
	case model.FileStored, model.FileFlushed:
		return usage{used: f.SizeInBytes}
	default:
		return usage{}
	}
}

// counterDelta — приращения счётчиков резервирования и link group.
type counterDelta struct {
	Allocated int64
	Used      int64
	Reserved  int64
	Free      int64
}

// fileDelta вычисляет приращения счётчиков при переходе файла из before в after
// (nil — файла нет). reserved_bytes link group равен сумме (size - used)
// неконечных резервирований, поэтому меняется на -Δused только для неконечного
// резервирования. free_bytes сдвигается на -Δused всегда.
func fileDelta(before, after *model.File, spaceFinal bool) counterDelta {
	b, a := fileUsage(before), fileUsage(after)
	d := counterDelta{
		Allocated: a.allocated - b.allocated,
		Used:      a.used - b.used,
	}
	d.Free = -d.Used
	if !spaceFinal {
		d.Reserved = -d.Used
	}
	return d
}

// applyFileChange применяет к заблокированному резервированию s и его link group
// изменение файла before → after. Запись самого файла сохраняет вызывающий.
func (a *Accounting) applyFileChange(ctx context.Context, r *repository.Repositories, s *model.Space, before, after *model.File) error {
	d := fileDelta(before, after, s.State.IsFinal())
	if d == (counterDelta{}) {
		return nil
	}

	allocated := s.AllocatedSpaceInBytes + d.Allocated
	used := s.UsedSizeInBytes + d.Used
	if allocated < 0 || used < 0 {
		return fmt.Errorf("рассогласование счётчиков резервирования %d: allocated=%d used=%d",
			s.ID, allocated, used)
	}
	if d.Allocated+d.Used > 0 && used+allocated > s.SizeInBytes {
		return fmt.Errorf("%w: резервирование %d размером %d, требуется %d",
			ErrCapacityExceeded, s.ID, s.SizeInBytes, used+allocated)
	}

	s.AllocatedSpaceInBytes = allocated
	s.UsedSizeInBytes = used
	if err := r.Spaces.Update(ctx, s); err != nil {
		return err
	}

	if d.Reserved != 0 || d.Free != 0 {
		if err := r.LinkGroups.AdjustCounters(ctx, s.LinkGroupID, d.Reserved, d.Free); err != nil {
			return err
		}
	}
	return nil
}

// lockSpace блокирует резервирование.
func lockSpace(ctx context.Context, r *repository.Repositories, id int64) (*model.Space, error) {
	s, err := r.Spaces.GetByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: резервирование %d", ErrNotFound, id)
		}
		return nil, err
	}
	return s, nil
}

// lockLinkGroup блокирует link group (всегда после резервирования или файла).
func lockLinkGroup(ctx context.Context, r *repository.Repositories, id int64) (*model.LinkGroup, error) {
	lg, err := r.LinkGroups.GetByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: link group %d", ErrNotFound, id)
		}
		return nil, err
	}
	return lg, nil
}

// --- Операции над резервированием внутри транзакции ---

// createSpace сохраняет новое резервирование, проверяя ёмкость link group
// под её блокировкой.
func (a *Accounting) createSpace(ctx context.Context, r *repository.Repositories, s *model.Space) error {
	lg, err := lockLinkGroup(ctx, r, s.LinkGroupID)
	if err != nil {
		return err
	}
	if lg.AvailableBytes() < s.SizeInBytes {
		return fmt.Errorf("%w: link group %s доступно %d, запрошено %d",
			ErrCapacityUnavailable, lg.Name, lg.AvailableBytes(), s.SizeInBytes)
	}
	if err := r.Spaces.Create(ctx, s); err != nil {
		return err
	}
	return r.LinkGroups.AdjustCounters(ctx, lg.ID, s.SizeInBytes, 0)
}

// resizeSpace меняет размер заблокированного резервирования.
func (a *Accounting) resizeSpace(ctx context.Context, r *repository.Repositories, s *model.Space, newSize int64) error {
	if s.State.IsFinal() {
		return fmt.Errorf("%w: резервирование %d в состоянии %s", ErrInvalidState, s.ID, s.State)
	}
	if newSize < 0 {
		return fmt.Errorf("%w: отрицательный размер %d", ErrValidation, newSize)
	}
	if inUse := s.UsedSizeInBytes + s.AllocatedSpaceInBytes; newSize < inUse {
		return fmt.Errorf("%w: новый размер %d меньше занятого %d", ErrCapacityExceeded, newSize, inUse)
	}

	delta := newSize - s.SizeInBytes
	if delta == 0 {
		return nil
	}
	if delta > 0 {
		lg, err := lockLinkGroup(ctx, r, s.LinkGroupID)
		if err != nil {
			return err
		}
		if lg.AvailableBytes() < delta {
			return fmt.Errorf("%w: link group %s доступно %d, требуется ещё %d",
				ErrCapacityUnavailable, lg.Name, lg.AvailableBytes(), delta)
		}
	}

	s.SizeInBytes = newSize
	if err := r.Spaces.Update(ctx, s); err != nil {
		return err
	}
	return r.LinkGroups.AdjustCounters(ctx, s.LinkGroupID, delta, 0)
}

// setSpaceState переводит заблокированное резервирование в конечное состояние,
// возвращая в link group неиспользованную часть (size - used).
func (a *Accounting) setSpaceState(ctx context.Context, r *repository.Repositories, s *model.Space, target model.SpaceState) error {
	if !s.State.CanTransitionTo(target) {
		return fmt.Errorf("%w: резервирование %d: переход %s → %s недопустим",
			ErrInvalidState, s.ID, s.State, target)
	}

	unused := s.SizeInBytes - s.UsedSizeInBytes
	s.State = target
	if err := r.Spaces.Update(ctx, s); err != nil {
		return err
	}
	return r.LinkGroups.AdjustCounters(ctx, s.LinkGroupID, -unused, 0)
}

// extendLifetime продлевает срок жизни заблокированного резервирования.
// Бессрочное резервирование не меняется; срок никогда не сокращается.
// Возвращает true, если срок изменён.
func (a *Accounting) extendLifetime(ctx context.Context, r *repository.Repositories, s *model.Space, newLifetime int64) (bool, error) {
	if s.State.IsFinal() {
		return false, fmt.Errorf("%w: резервирование %d в состоянии %s", ErrInvalidState, s.ID, s.State)
	}
	if newLifetime != model.UnboundedLifetime && newLifetime <= 0 {
		return false, fmt.Errorf("%w: недопустимый срок жизни %d", ErrValidation, newLifetime)
	}
	if s.Lifetime == model.UnboundedLifetime {
		return false, nil
	}
	if s.IsExpired(a.now()) {
		return false, fmt.Errorf("%w: срок резервирования %d истёк", ErrInvalidState, s.ID)
	}

	if newLifetime == model.UnboundedLifetime {
		s.Lifetime = model.UnboundedLifetime
	} else {
		now := a.now()
		exp, _ := s.ExpirationTime()
		remaining := exp.Sub(now).Milliseconds()
		if remaining > newLifetime {
			return false, nil
		}
		s.Lifetime = now.Sub(s.CreationTime).Milliseconds() + newLifetime
	}

	if err := r.Spaces.Update(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}

// deleteSpace физически удаляет заблокированное резервирование без файлов.
func (a *Accounting) deleteSpace(ctx context.Context, r *repository.Repositories, s *model.Space) error {
	count, err := r.Files.CountBySpace(ctx, s.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: на резервирование %d ссылаются файлы (%d)", ErrInvalidState, s.ID, count)
	}

	if !s.State.IsFinal() {
		if err := r.LinkGroups.AdjustCounters(ctx, s.LinkGroupID, -(s.SizeInBytes - s.UsedSizeInBytes), 0); err != nil {
			return err
		}
	}
	return r.Spaces.Delete(ctx, s.ID)
}

// removeFile удаляет заблокированный файл f резервирования s со списанием счётчиков.
func (a *Accounting) removeFile(ctx context.Context, r *repository.Repositories, s *model.Space, f *model.File) error {
	if err := r.Files.Delete(ctx, f.ID); err != nil {
		return err
	}
	return a.applyFileChange(ctx, r, s, f, nil)
}

// updateFile сохраняет изменённую копию after заблокированного файла before.
// Смена состояния проверяется по матрице переходов файла.
func (a *Accounting) updateFile(ctx context.Context, r *repository.Repositories, s *model.Space, before, after *model.File) error {
	if before.State != after.State && !before.State.CanTransitionTo(after.State) {
		return fmt.Errorf("%w: файл %d: переход %s → %s недопустим",
			ErrInvalidState, before.ID, before.State, after.State)
	}
	if err := r.Files.Update(ctx, after); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: %w", ErrDuplicateBinding, err)
		}
		return err
	}
	return a.applyFileChange(ctx, r, s, before, after)
}
