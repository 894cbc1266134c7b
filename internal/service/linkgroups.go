// linkgroups.go — реестр пулов ёмкости: обновление из внешнего источника и запросы.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
)

// LinkGroupUpdate — данные обновления ёмкости link group.
type LinkGroupUpdate struct {
	Name             string
	FreeBytes        int64
	OnlineAllowed    bool
	NearlineAllowed  bool
	ReplicaAllowed   bool
	OutputAllowed    bool
	CustodialAllowed bool
	VOs              []model.VOInfo
	// Timestamp — время измерения; нулевое значение заменяется текущим
	Timestamp time.Time
}

// LinkGroupService — реестр link groups.
type LinkGroupService struct {
	acc    *Accounting
	logger *slog.Logger
}

// NewLinkGroupService создаёт реестр link groups.
func NewLinkGroupService(acc *Accounting, logger *slog.Logger) *LinkGroupService {
	return &LinkGroupService{
		acc:    acc,
		logger: logger.With(slog.String("component", "link_groups")),
	}
}

// Refresh создаёт или обновляет link group по имени. free_bytes заменяется
// значением из обновления, reserved_bytes сохраняется.
func (s *LinkGroupService) Refresh(ctx context.Context, upd LinkGroupUpdate) (*model.LinkGroup, error) {
	if upd.Name == "" {
		return nil, fmt.Errorf("%w: не указано имя link group", ErrValidation)
	}
	if upd.FreeBytes < 0 {
		return nil, fmt.Errorf("%w: отрицательная свободная ёмкость", ErrValidation)
	}
	for _, vo := range upd.VOs {
		if vo.Group == "" {
			return nil, fmt.Errorf("%w: пустая группа VO", ErrValidation)
		}
	}

	ts := upd.Timestamp
	if ts.IsZero() {
		ts = s.acc.now()
	}
	lg := &model.LinkGroup{
		Name:             upd.Name,
		FreeBytes:        upd.FreeBytes,
		OnlineAllowed:    upd.OnlineAllowed,
		NearlineAllowed:  upd.NearlineAllowed,
		ReplicaAllowed:   upd.ReplicaAllowed,
		OutputAllowed:    upd.OutputAllowed,
		CustodialAllowed: upd.CustodialAllowed,
		VOs:              upd.VOs,
		LastUpdateTime:   ts,
	}

	err := s.acc.runTx(ctx, "refresh_link_group", func(r *repository.Repositories) error {
		return r.LinkGroups.Upsert(ctx, lg)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Link group обновлена",
		slog.String("link_group", lg.Name),
		slog.Int64("link_group_id", lg.ID),
		slog.String("free", humanize.IBytes(uint64(lg.FreeBytes))),
		slog.Int64("reserved", lg.ReservedBytes),
		slog.Int("vos", len(lg.VOs)),
	)
	return lg, nil
}

// Get возвращает link group по идентификатору.
func (s *LinkGroupService) Get(ctx context.Context, id int64) (*model.LinkGroup, error) {
	lg, err := s.acc.store.Repos().LinkGroups.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: link group %d", ErrNotFound, id)
		}
		return nil, err
	}
	return lg, nil
}

// GetByName возвращает link group по имени.
func (s *LinkGroupService) GetByName(ctx context.Context, name string) (*model.LinkGroup, error) {
	lg, err := s.acc.store.Repos().LinkGroups.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: link group %s", ErrNotFound, name)
		}
		return nil, err
	}
	return lg, nil
}

// List возвращает все link groups.
func (s *LinkGroupService) List(ctx context.Context) ([]*model.LinkGroup, error) {
	return s.acc.store.Repos().LinkGroups.List(ctx)
}
