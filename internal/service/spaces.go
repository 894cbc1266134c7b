// spaces.go — сервис резервирований: создание, изменение, освобождение,
// истечение, удаление и запросы.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
)

// ReserveRequest — параметры нового резервирования.
type ReserveRequest struct {
	SizeInBytes     int64
	AccessLatency   model.AccessLatency
	RetentionPolicy model.RetentionPolicy
	// Lifetime — срок жизни в миллисекундах, -1 — бессрочно
	Lifetime    int64
	Description *string
	// LinkGroupID — явная link group (опционально)
	LinkGroupID    *int64
	ProtocolInfo   string
	FileAttributes map[string]string
}

// UpdateRequest — изменение резервирования. nil-поля не меняются.
type UpdateRequest struct {
	SizeInBytes *int64
	Lifetime    *int64
	Description *string
}

// TokenQuery — поиск токенов резервирований в состоянии RESERVED.
type TokenQuery struct {
	Description *string
	VoGroup     *string
	VoRole      *string
}

// SpaceService — сервис резервирований.
type SpaceService struct {
	acc       *Accounting
	placement *PlacementSelector
	authz     Authorizer
	logger    *slog.Logger
}

// NewSpaceService создаёт сервис резервирований.
func NewSpaceService(acc *Accounting, placement *PlacementSelector, authz Authorizer, logger *slog.Logger) *SpaceService {
	return &SpaceService{
		acc:       acc,
		placement: placement,
		authz:     authz,
		logger:    logger.With(slog.String("component", "space_service")),
	}
}

func validateLifetime(lifetime int64) error {
	if lifetime != model.UnboundedLifetime && lifetime <= 0 {
		return fmt.Errorf("%w: срок жизни должен быть положительным или -1, получено %d", ErrValidation, lifetime)
	}
	return nil
}

// Reserve выбирает link group и создаёт резервирование в состоянии RESERVED.
func (s *SpaceService) Reserve(ctx context.Context, subject *model.Subject, req ReserveRequest) (*model.Space, error) {
	if req.SizeInBytes <= 0 {
		return nil, fmt.Errorf("%w: размер резервирования должен быть положительным", ErrValidation)
	}
	if err := validateLifetime(req.Lifetime); err != nil {
		return nil, err
	}

	lg, vo, err := s.placement.Select(ctx, subject, PlacementRequest{
		SizeInBytes:     req.SizeInBytes,
		AccessLatency:   req.AccessLatency,
		RetentionPolicy: req.RetentionPolicy,
		LinkGroupID:     req.LinkGroupID,
		ProtocolInfo:    req.ProtocolInfo,
		FileAttributes:  req.FileAttributes,
	})
	if err != nil {
		spaceOperationsTotal.WithLabelValues("reserve", resultLabel(err)).Inc()
		return nil, err
	}

	id, err := s.acc.nextID(ctx)
	if err != nil {
		return nil, err
	}

	space := &model.Space{
		ID:              id,
		VoGroup:         vo.Group,
		VoRole:          vo.Role,
		RetentionPolicy: req.RetentionPolicy,
		AccessLatency:   req.AccessLatency,
		LinkGroupID:     lg.ID,
		SizeInBytes:     req.SizeInBytes,
		CreationTime:    s.acc.now(),
		Lifetime:        req.Lifetime,
		Description:     req.Description,
		State:           model.SpaceReserved,
	}

	err = s.acc.runTx(ctx, "reserve", func(r *repository.Repositories) error {
		return s.acc.createSpace(ctx, r, space)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Резервирование создано",
		slog.Int64("space_id", space.ID),
		slog.String("link_group", lg.Name),
		slog.String("size", humanize.IBytes(uint64(space.SizeInBytes))),
		slog.String("owner", vo.String()),
	)
	return space, nil
}

// Update изменяет размер, срок жизни и описание резервирования в одной транзакции.
func (s *SpaceService) Update(ctx context.Context, subject *model.Subject, id int64, req UpdateRequest) (*model.Space, error) {
	if req.Lifetime != nil {
		if err := validateLifetime(*req.Lifetime); err != nil {
			return nil, err
		}
	}
	if err := s.checkOwner(ctx, subject, id); err != nil {
		return nil, err
	}

	var result *model.Space
	err := s.acc.runTx(ctx, "update", func(r *repository.Repositories) error {
		space, err := lockSpace(ctx, r, id)
		if err != nil {
			return err
		}
		if space.State.IsFinal() {
			return fmt.Errorf("%w: резервирование %d в состоянии %s", ErrInvalidState, id, space.State)
		}
		// Срок истёк, но обход ещё не перевёл резервирование в EXPIRED:
		// читатели уже видят его истёкшим, вернуть его в RESERVED нельзя.
		if space.IsExpired(s.acc.now()) {
			return fmt.Errorf("%w: срок резервирования %d истёк", ErrInvalidState, id)
		}
		if req.SizeInBytes != nil {
			if err := s.acc.resizeSpace(ctx, r, space, *req.SizeInBytes); err != nil {
				return err
			}
		}
		if req.Lifetime != nil {
			if _, err := s.acc.extendLifetime(ctx, r, space, *req.Lifetime); err != nil {
				return err
			}
		}
		if req.Description != nil {
			space.Description = req.Description
			if err := r.Spaces.Update(ctx, space); err != nil {
				return err
			}
		}
		result = space
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Резервирование обновлено",
		slog.Int64("space_id", id),
		slog.Int64("size", result.SizeInBytes),
		slog.Int64("lifetime", result.Lifetime),
	)
	return result, nil
}

// Resize меняет размер резервирования.
func (s *SpaceService) Resize(ctx context.Context, subject *model.Subject, id, newSize int64) (*model.Space, error) {
	return s.Update(ctx, subject, id, UpdateRequest{SizeInBytes: &newSize})
}

// ExtendLifetime продлевает срок жизни резервирования, никогда не сокращая его.
func (s *SpaceService) ExtendLifetime(ctx context.Context, subject *model.Subject, id, newLifetime int64) (*model.Space, error) {
	return s.Update(ctx, subject, id, UpdateRequest{Lifetime: &newLifetime})
}

// Release освобождает резервирование целиком. Частичное освобождение
// (указан размер) не поддерживается.
func (s *SpaceService) Release(ctx context.Context, subject *model.Subject, id int64, size *int64) (*model.Space, error) {
	if size != nil {
		err := fmt.Errorf("%w: частичное освобождение резервирования", ErrUnsupportedOperation)
		spaceOperationsTotal.WithLabelValues("release", resultLabel(err)).Inc()
		return nil, err
	}
	if err := s.checkOwner(ctx, subject, id); err != nil {
		return nil, err
	}

	var result *model.Space
	err := s.acc.runTx(ctx, "release", func(r *repository.Repositories) error {
		space, err := lockSpace(ctx, r, id)
		if err != nil {
			return err
		}
		if err := s.acc.setSpaceState(ctx, r, space, model.SpaceReleased); err != nil {
			return err
		}
		result = space
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Резервирование освобождено",
		slog.Int64("space_id", id),
		slog.String("returned", humanize.IBytes(uint64(result.SizeInBytes-result.UsedSizeInBytes))),
	)
	return result, nil
}

// Expire переводит резервирование в EXPIRED, если оно в RESERVED и его срок истёк.
// Возвращает true, если переход выполнен.
func (s *SpaceService) Expire(ctx context.Context, id int64) (bool, error) {
	expired := false
	err := s.acc.runTx(ctx, "expire", func(r *repository.Repositories) error {
		expired = false
		space, err := lockSpace(ctx, r, id)
		if err != nil {
			return err
		}
		// Состояние могло измениться между выборкой и блокировкой
		if space.State != model.SpaceReserved || !space.IsExpired(s.acc.now()) {
			return nil
		}
		if err := s.acc.setSpaceState(ctx, r, space, model.SpaceExpired); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		s.logger.Info("Срок резервирования истёк", slog.Int64("space_id", id))
	}
	return expired, nil
}

// Delete административно удаляет резервирование без файлов.
func (s *SpaceService) Delete(ctx context.Context, subject *model.Subject, id int64) error {
	if err := s.checkOwner(ctx, subject, id); err != nil {
		return err
	}

	err := s.acc.runTx(ctx, "delete", func(r *repository.Repositories) error {
		space, err := lockSpace(ctx, r, id)
		if err != nil {
			return err
		}
		return s.acc.deleteSpace(ctx, r, space)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Резервирование удалено", slog.Int64("space_id", id))
	return nil
}

// checkOwner читает резервирование без блокировки и проверяет права
// до начала транзакции.
func (s *SpaceService) checkOwner(ctx context.Context, subject *model.Subject, id int64) error {
	space, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.authz.CheckReleasePermission(ctx, subject, space)
}

// --- Запросы (без блокировок) ---

// Get возвращает резервирование по токену.
func (s *SpaceService) Get(ctx context.Context, id int64) (*model.Space, error) {
	space, err := s.acc.store.Repos().Spaces.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: резервирование %d", ErrNotFound, id)
		}
		return nil, err
	}
	return space, nil
}

// List возвращает резервирования по фильтру.
func (s *SpaceService) List(ctx context.Context, filter repository.SpaceFilter) ([]*model.Space, error) {
	return s.acc.store.Repos().Spaces.List(ctx, filter)
}

// Tokens возвращает токены резервирований в состоянии RESERVED,
// отобранных по описанию и владельцу.
func (s *SpaceService) Tokens(ctx context.Context, q TokenQuery) ([]int64, error) {
	state := model.SpaceReserved
	spaces, err := s.List(ctx, repository.SpaceFilter{
		Description: q.Description,
		VoGroup:     q.VoGroup,
		VoRole:      q.VoRole,
		State:       &state,
	})
	if err != nil {
		return nil, err
	}

	now := s.acc.now()
	tokens := make([]int64, 0, len(spaces))
	for _, space := range spaces {
		if space.IsExpired(now) {
			continue
		}
		tokens = append(tokens, space.ID)
	}
	return tokens, nil
}

// Metadata возвращает резервирования по токенам. Резервирование в RESERVED
// с истёкшим сроком возвращается в состоянии EXPIRED, даже если обход
// ещё не дошёл до него. Неизвестные токены возвращаются отдельно.
func (s *SpaceService) Metadata(ctx context.Context, ids []int64) (found []*model.Space, unknown []int64, err error) {
	now := s.acc.now()
	for _, id := range ids {
		space, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				unknown = append(unknown, id)
				continue
			}
			return nil, nil, err
		}
		if space.State == model.SpaceReserved && space.IsExpired(now) {
			space.State = model.SpaceExpired
		}
		found = append(found, space)
	}
	return found, unknown, nil
}
