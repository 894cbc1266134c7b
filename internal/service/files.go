// files.go — жизненный цикл файлов, привязанных к резервированиям.
//
// Уведомления namespace и пулов (начало и окончание записи, flush, удаление)
// применяются к файлу и через арифметику счётчиков к его резервированию
// и link group.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bigkaa/goartstore/space-manager/internal/config"
	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
)

// NamespaceClient — удаление записей namespace.
// Отсутствующая запись возвращается ошибкой, оборачивающей ErrNotFound.
type NamespaceClient interface {
	DeleteEntry(ctx context.Context, namespaceID, path string) error
}

// FilePolicy — настройки учёта записанных файлов.
type FilePolicy struct {
	// KeepStoredFiles — сохранять записи файлов после окончания записи.
	// Без него записанные байты не попадают в used.
	KeepStoredFiles bool
	// ReturnFlushedSpace — удалять записи после flush вместо перевода в FLUSHED
	ReturnFlushedSpace bool
	// DefaultSpaceLifetime — срок жизни неявных резервирований под запись
	DefaultSpaceLifetime time.Duration
}

// NewFilePolicy берёт политику учёта файлов из конфигурации.
func NewFilePolicy(cfg *config.Config) FilePolicy {
	return FilePolicy{
		KeepStoredFiles:      cfg.KeepStoredFiles,
		ReturnFlushedSpace:   cfg.ReturnFlushedSpace,
		DefaultSpaceLifetime: cfg.DefaultSpaceLifetime,
	}
}

// BindRequest — привязка файла к резервированию.
type BindRequest struct {
	SpaceID     int64
	SizeInBytes int64
	// Lifetime — срок жизни привязки в миллисекундах; 0 — до истечения резервирования
	Lifetime    int64
	Path        *string
	NamespaceID *string
}

// TransferRequest — неявное резервирование под одну запись без токена.
type TransferRequest struct {
	SizeInBytes     int64
	AccessLatency   model.AccessLatency
	RetentionPolicy model.RetentionPolicy
	NamespaceID     string
	ProtocolInfo    string
	FileAttributes  map[string]string
}

// FileService — сервис файлов.
type FileService struct {
	acc       *Accounting
	placement *PlacementSelector
	ns        NamespaceClient
	policy    FilePolicy
	logger    *slog.Logger
}

// NewFileService создаёт сервис файлов.
func NewFileService(
	acc *Accounting,
	placement *PlacementSelector,
	ns NamespaceClient,
	policy FilePolicy,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		acc:       acc,
		placement: placement,
		ns:        ns,
		policy:    policy,
		logger:    logger.With(slog.String("component", "file_service")),
	}
}

// ownerOf возвращает VO владельца привязки: основной FQAN субъекта или его имя.
func ownerOf(subject *model.Subject) model.VOInfo {
	if vo, ok := subject.PrimaryFQAN(); ok {
		return vo
	}
	if subject != nil {
		return model.VOInfo{Group: subject.Name}
	}
	return model.VOInfo{}
}

// Bind привязывает новый файл к резервированию (использование места).
func (s *FileService) Bind(ctx context.Context, subject *model.Subject, req BindRequest) (*model.File, error) {
	if req.SizeInBytes < 0 {
		return nil, fmt.Errorf("%w: отрицательный размер файла", ErrValidation)
	}
	if req.Lifetime != 0 {
		if err := validateLifetime(req.Lifetime); err != nil {
			return nil, err
		}
	}

	id, err := s.acc.nextID(ctx)
	if err != nil {
		return nil, err
	}

	owner := ownerOf(subject)
	var file *model.File
	err = s.acc.runTx(ctx, "bind", func(r *repository.Repositories) error {
		space, err := lockSpace(ctx, r, req.SpaceID)
		if err != nil {
			return err
		}
		now := s.acc.now()
		if space.State.IsFinal() {
			return fmt.Errorf("%w: резервирование %d в состоянии %s", ErrInvalidState, space.ID, space.State)
		}
		if space.IsExpired(now) {
			return fmt.Errorf("%w: срок резервирования %d истёк", ErrInvalidState, space.ID)
		}
		if avail := space.AvailableSpaceInBytes(); avail < req.SizeInBytes {
			return fmt.Errorf("%w: в резервировании %d доступно %d, запрошено %d",
				ErrNoFreeSpace, space.ID, avail, req.SizeInBytes)
		}

		if req.Path != nil {
			pending, err := r.Files.FindPendingByPath(ctx, 0, *req.Path)
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return fmt.Errorf("%w: %s", ErrDuplicateBinding, *req.Path)
			}
		}

		file = &model.File{
			ID:           id,
			VoGroup:      owner.Group,
			VoRole:       owner.Role,
			SpaceID:      space.ID,
			SizeInBytes:  req.SizeInBytes,
			CreationTime: now,
			Lifetime:     fileLifetime(space, req.Lifetime, now),
			Path:         req.Path,
			NamespaceID:  req.NamespaceID,
			State:        model.FileReserved,
		}
		if err := r.Files.Create(ctx, file); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %w", ErrDuplicateBinding, err)
			}
			return err
		}
		return s.acc.applyFileChange(ctx, r, space, nil, file)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Файл привязан к резервированию",
		slog.Int64("file_id", file.ID),
		slog.Int64("space_id", file.SpaceID),
		slog.String("size", humanize.IBytes(uint64(file.SizeInBytes))),
	)
	return file, nil
}

// fileLifetime: 0 — до истечения резервирования (бессрочно для бессрочного).
func fileLifetime(space *model.Space, requested int64, now time.Time) int64 {
	if requested != 0 {
		return requested
	}
	exp, ok := space.ExpirationTime()
	if !ok {
		return model.UnboundedLifetime
	}
	return max(exp.Sub(now).Milliseconds(), 1)
}

// ReserveForTransfer создаёт неявное резервирование под одну запись и
// анонимный файл с namespace_id в одной транзакции.
func (s *FileService) ReserveForTransfer(ctx context.Context, subject *model.Subject, req TransferRequest) (*model.Space, *model.File, error) {
	if req.SizeInBytes < 0 {
		return nil, nil, fmt.Errorf("%w: отрицательный размер файла", ErrValidation)
	}
	if req.NamespaceID == "" {
		return nil, nil, fmt.Errorf("%w: не указан namespace_id", ErrValidation)
	}

	lg, vo, err := s.placement.Select(ctx, subject, PlacementRequest{
		SizeInBytes:     req.SizeInBytes,
		AccessLatency:   req.AccessLatency,
		RetentionPolicy: req.RetentionPolicy,
		ProtocolInfo:    req.ProtocolInfo,
		FileAttributes:  req.FileAttributes,
	})
	if err != nil {
		spaceOperationsTotal.WithLabelValues("reserve_for_transfer", resultLabel(err)).Inc()
		return nil, nil, err
	}

	spaceID, err := s.acc.nextID(ctx)
	if err != nil {
		return nil, nil, err
	}
	fileID, err := s.acc.nextID(ctx)
	if err != nil {
		return nil, nil, err
	}

	lifetime := model.UnboundedLifetime
	if s.policy.DefaultSpaceLifetime > 0 {
		lifetime = s.policy.DefaultSpaceLifetime.Milliseconds()
	}
	now := s.acc.now()
	nsid := req.NamespaceID

	space := &model.Space{
		ID:              spaceID,
		VoGroup:         vo.Group,
		VoRole:          vo.Role,
		RetentionPolicy: req.RetentionPolicy,
		AccessLatency:   req.AccessLatency,
		LinkGroupID:     lg.ID,
		SizeInBytes:     req.SizeInBytes,
		CreationTime:    now,
		Lifetime:        lifetime,
		State:           model.SpaceReserved,
	}
	file := &model.File{
		ID:           fileID,
		VoGroup:      vo.Group,
		VoRole:       vo.Role,
		SpaceID:      spaceID,
		SizeInBytes:  req.SizeInBytes,
		CreationTime: now,
		Lifetime:     lifetime,
		NamespaceID:  &nsid,
		State:        model.FileReserved,
	}

	err = s.acc.runTx(ctx, "reserve_for_transfer", func(r *repository.Repositories) error {
		sp := space.Clone()
		if err := s.acc.createSpace(ctx, r, sp); err != nil {
			return err
		}
		if err := r.Files.Create(ctx, file); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: namespace_id %s", ErrDuplicateBinding, nsid)
			}
			return err
		}
		if err := s.acc.applyFileChange(ctx, r, sp, nil, file); err != nil {
			return err
		}
		space = sp
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Создано неявное резервирование под запись",
		slog.Int64("space_id", space.ID),
		slog.Int64("file_id", file.ID),
		slog.String("namespace_id", nsid),
		slog.String("link_group", lg.Name),
		slog.String("size", humanize.IBytes(uint64(req.SizeInBytes))),
	)
	return space, file, nil
}

// lockFileByNamespaceID блокирует файл и его резервирование.
func lockFileByNamespaceID(ctx context.Context, r *repository.Repositories, nsid string) (*model.File, *model.Space, error) {
	f, err := r.Files.GetByNamespaceIDForUpdate(ctx, nsid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: файл с namespace_id %s", ErrNotFound, nsid)
		}
		return nil, nil, err
	}
	space, err := lockSpace(ctx, r, f.SpaceID)
	if err != nil {
		return nil, nil, err
	}
	return f, space, nil
}

func lockFileByID(ctx context.Context, r *repository.Repositories, id int64) (*model.File, *model.Space, error) {
	f, err := r.Files.GetByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: файл %d", ErrNotFound, id)
		}
		return nil, nil, err
	}
	space, err := lockSpace(ctx, r, f.SpaceID)
	if err != nil {
		return nil, nil, err
	}
	return f, space, nil
}

// revertToReserved возвращает файл в RESERVED со сброшенным namespace_id,
// чтобы запись можно было повторить. Анонимный файл удаляется.
// Возвращает nil, если файл удалён.
func (s *FileService) revertToReserved(ctx context.Context, r *repository.Repositories, space *model.Space, f *model.File) (*model.File, error) {
	if f.IsAnonymous() {
		return nil, s.acc.removeFile(ctx, r, space, f)
	}
	after := f.Clone()
	after.State = model.FileReserved
	after.NamespaceID = nil
	if err := s.acc.updateFile(ctx, r, space, f, after); err != nil {
		return nil, err
	}
	return after, nil
}

// StartTransfer применяет уведомление о начале записи. fileID, если указан,
// связывает файл с namespaceID; иначе файл ищется по namespaceID.
// Возвращает nil, если файл удалён.
func (s *FileService) StartTransfer(ctx context.Context, namespaceID string, fileID *int64, success bool) (*model.File, error) {
	if namespaceID == "" {
		return nil, fmt.Errorf("%w: не указан namespace_id", ErrValidation)
	}

	var result *model.File
	err := s.acc.runTx(ctx, "start_transfer", func(r *repository.Repositories) error {
		var (
			f     *model.File
			space *model.Space
			err   error
		)
		if fileID != nil {
			f, space, err = lockFileByID(ctx, r, *fileID)
		} else {
			f, space, err = lockFileByNamespaceID(ctx, r, namespaceID)
		}
		if err != nil {
			return err
		}
		if !f.State.IsPending() {
			return fmt.Errorf("%w: файл %d в состоянии %s", ErrInvalidState, f.ID, f.State)
		}
		if f.NamespaceID != nil && *f.NamespaceID != namespaceID {
			return fmt.Errorf("%w: файл %d уже связан с namespace_id %s", ErrInvalidState, f.ID, *f.NamespaceID)
		}

		if !success {
			result, err = s.revertToReserved(ctx, r, space, f)
			return err
		}

		after := f.Clone()
		after.State = model.FileTransferring
		nsid := namespaceID
		after.NamespaceID = &nsid
		if err := s.acc.updateFile(ctx, r, space, f, after); err != nil {
			return err
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Начало записи",
		slog.String("namespace_id", namespaceID),
		slog.Bool("success", success),
		slog.Bool("removed", result == nil),
	)
	return result, nil
}

// FinishTransfer применяет уведомление об окончании записи.
// actualSize — фактический размер (nil — без изменений).
// Возвращает nil, если запись файла удалена.
func (s *FileService) FinishTransfer(ctx context.Context, namespaceID string, success bool, actualSize *int64) (*model.File, error) {
	if actualSize != nil && *actualSize < 0 {
		return nil, fmt.Errorf("%w: отрицательный размер файла", ErrValidation)
	}

	var result *model.File
	err := s.acc.runTx(ctx, "finish_transfer", func(r *repository.Repositories) error {
		result = nil
		f, space, err := lockFileByNamespaceID(ctx, r, namespaceID)
		if err != nil {
			return err
		}
		if !f.State.IsPending() {
			return fmt.Errorf("%w: файл %d в состоянии %s", ErrInvalidState, f.ID, f.State)
		}

		if !success {
			result, err = s.revertToReserved(ctx, r, space, f)
			return err
		}

		// CUSTODIAL-файлы сохраняются до flush
		if !s.policy.KeepStoredFiles && space.RetentionPolicy != model.Custodial {
			return s.acc.removeFile(ctx, r, space, f)
		}

		after := f.Clone()
		after.State = model.FileStored
		if actualSize != nil {
			after.SizeInBytes = *actualSize
		}
		if err := s.acc.updateFile(ctx, r, space, f, after); err != nil {
			return err
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := []any{
		slog.String("namespace_id", namespaceID),
		slog.Bool("success", success),
	}
	if result != nil {
		attrs = append(attrs,
			slog.String("state", string(result.State)),
			slog.String("size", humanize.IBytes(uint64(result.SizeInBytes))),
		)
	}
	s.logger.Info("Запись завершена", attrs...)
	return result, nil
}

// Flush применяет уведомление о копировании файла на долговременное хранилище.
// Для файлов не в STORED и для ONLINE-резервирований ничего не делает.
// Возвращает nil, если запись файла удалена.
func (s *FileService) Flush(ctx context.Context, namespaceID string, actualSize *int64) (*model.File, error) {
	if actualSize != nil && *actualSize < 0 {
		return nil, fmt.Errorf("%w: отрицательный размер файла", ErrValidation)
	}

	var result *model.File
	err := s.acc.runTx(ctx, "flush", func(r *repository.Repositories) error {
		result = nil
		f, space, err := lockFileByNamespaceID(ctx, r, namespaceID)
		if err != nil {
			return err
		}
		if f.State != model.FileStored || space.AccessLatency == model.Online {
			result = f
			return nil
		}

		if s.policy.ReturnFlushedSpace {
			return s.acc.removeFile(ctx, r, space, f)
		}

		after := f.Clone()
		after.State = model.FileFlushed
		if actualSize != nil {
			after.SizeInBytes = *actualSize
		}
		if err := s.acc.updateFile(ctx, r, space, f, after); err != nil {
			return err
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Flush применён",
		slog.String("namespace_id", namespaceID),
		slog.Bool("removed", result == nil),
	)
	return result, nil
}

// MarkDeleted применяет уведомление об удалении записи namespace.
// Незавершённый файл с путём помечается удалённым (TRANSFERRING
// дополнительно возвращается в RESERVED), анонимный и уже записанный
// файлы удаляются. Неизвестный namespace_id — не ошибка.
// Возвращает nil, если записи файла нет.
func (s *FileService) MarkDeleted(ctx context.Context, namespaceID string) (*model.File, error) {
	var result *model.File
	err := s.acc.runTx(ctx, "mark_deleted", func(r *repository.Repositories) error {
		result = nil
		f, space, err := lockFileByNamespaceID(ctx, r, namespaceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		if f.IsAnonymous() || !f.State.IsPending() {
			return s.acc.removeFile(ctx, r, space, f)
		}

		after := f.Clone()
		after.Deleted = true
		if f.State == model.FileTransferring {
			after.State = model.FileReserved
			after.NamespaceID = nil
		}
		if err := s.acc.updateFile(ctx, r, space, f, after); err != nil {
			return err
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Удаление в namespace применено",
		slog.String("namespace_id", namespaceID),
		slog.Bool("removed", result == nil),
	)
	return result, nil
}

// Cancel отменяет привязку пути path к резервированию spaceID.
// Отсутствие или неоднозначность совпадений — не ошибка: такие записи
// дочищает обход истёкших файлов.
func (s *FileService) Cancel(ctx context.Context, spaceID int64, path string) error {
	pending, err := s.acc.store.Repos().Files.FindPendingByPath(ctx, spaceID, path)
	if err != nil {
		return mapStoreError(err)
	}
	if len(pending) != 1 {
		s.logger.Debug("Отмена привязки: нет однозначного совпадения",
			slog.Int64("space_id", spaceID),
			slog.String("path", path),
			slog.Int("matches", len(pending)),
		)
		return nil
	}
	target := pending[0]

	if err := s.deleteNamespaceEntry(ctx, target); err != nil {
		return err
	}

	removed := false
	err = s.acc.runTx(ctx, "cancel", func(r *repository.Repositories) error {
		removed = false
		f, space, err := lockFileByID(ctx, r, target.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if !f.State.IsPending() {
			// Запись завершилась между удалением из namespace и блокировкой:
			// учётная запись остаётся, а данных в namespace уже нет.
			s.logger.Warn("Отмена привязки: файл уже не ожидает записи, запись namespace удалена",
				slog.Int64("file_id", f.ID),
				slog.Int64("space_id", spaceID),
				slog.String("path", path),
				slog.String("state", string(f.State)),
			)
			return nil
		}
		if err := s.acc.removeFile(ctx, r, space, f); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return err
	}

	if removed {
		s.logger.Info("Привязка отменена",
			slog.Int64("file_id", target.ID),
			slog.Int64("space_id", spaceID),
			slog.String("path", path),
		)
	}
	return nil
}

// deleteNamespaceEntry удаляет запись namespace файла. Отсутствие записи — не ошибка.
func (s *FileService) deleteNamespaceEntry(ctx context.Context, f *model.File) error {
	if s.ns == nil || (f.NamespaceID == nil && f.Path == nil) {
		return nil
	}
	var nsid, path string
	if f.NamespaceID != nil {
		nsid = *f.NamespaceID
	}
	if f.Path != nil {
		path = *f.Path
	}
	if err := s.ns.DeleteEntry(ctx, nsid, path); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("ошибка удаления записи namespace файла %d: %w", f.ID, err)
	}
	return nil
}

// expireFile удаляет незавершённый файл с истёкшим сроком.
// Возвращает true, если файл удалён.
func (s *FileService) expireFile(ctx context.Context, id int64) (bool, error) {
	removed := false
	err := s.acc.runTx(ctx, "expire_file", func(r *repository.Repositories) error {
		removed = false
		f, space, err := lockFileByID(ctx, r, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if !f.State.IsPending() || !f.IsExpired(s.acc.now()) {
			return nil
		}
		if err := s.acc.removeFile(ctx, r, space, f); err != nil {
			return err
		}
		removed = true
		return nil
	})
	return removed, err
}

// --- Запросы (без блокировок) ---

// Get возвращает файл по идентификатору.
func (s *FileService) Get(ctx context.Context, id int64) (*model.File, error) {
	f, err := s.acc.store.Repos().Files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %d", ErrNotFound, id)
		}
		return nil, err
	}
	return f, nil
}

// GetByNamespaceID возвращает файл по идентификатору в namespace.
func (s *FileService) GetByNamespaceID(ctx context.Context, namespaceID string) (*model.File, error) {
	f, err := s.acc.store.Repos().Files.GetByNamespaceID(ctx, namespaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл с namespace_id %s", ErrNotFound, namespaceID)
		}
		return nil, err
	}
	return f, nil
}

// ListBySpace возвращает файлы резервирования.
func (s *FileService) ListBySpace(ctx context.Context, spaceID int64, limit, offset int) ([]*model.File, error) {
	if _, err := s.acc.store.Repos().Spaces.GetByID(ctx, spaceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: резервирование %d", ErrNotFound, spaceID)
		}
		return nil, err
	}
	return s.acc.store.Repos().Files.ListBySpace(ctx, spaceID, limit, offset)
}
