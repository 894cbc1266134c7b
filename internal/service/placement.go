// placement.go — выбор link group для нового резервирования.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
)

// Authorizer — проверка прав запрашивающего.
// Отказ возвращается ошибкой, оборачивающей ErrAuthorization.
type Authorizer interface {
	// CheckReservePermission проверяет право резервировать в link group и
	// возвращает VO, от имени которой будет создано резервирование.
	CheckReservePermission(ctx context.Context, subject *model.Subject, lg *model.LinkGroup) (model.VOInfo, error)
	// CheckReleasePermission проверяет право изменять или освобождать резервирование.
	CheckReleasePermission(ctx context.Context, subject *model.Subject, space *model.Space) error
}

// PlacementHint — подсказка выбора link group от pool manager.
// Возвращает подмножество кандидатов; явный отказ оборачивает ErrAuthorization.
type PlacementHint interface {
	NarrowCandidates(ctx context.Context, protocolInfo string, fileAttributes map[string]string, candidates []string) ([]string, error)
}

// PlacementRequest — параметры выбора link group.
type PlacementRequest struct {
	SizeInBytes     int64
	AccessLatency   model.AccessLatency
	RetentionPolicy model.RetentionPolicy
	// LinkGroupID — явно указанная link group (опционально)
	LinkGroupID *int64
	// ProtocolInfo и FileAttributes передаются в PlacementHint
	ProtocolInfo   string
	FileAttributes map[string]string
}

// PlacementSelector выбирает link group среди заранее посчитанных пулов.
type PlacementSelector struct {
	repo   repository.LinkGroupRepository
	authz  Authorizer
	hint   PlacementHint
	logger *slog.Logger
}

// NewPlacementSelector создаёт селектор. hint может быть nil.
func NewPlacementSelector(
	repo repository.LinkGroupRepository,
	authz Authorizer,
	hint PlacementHint,
	logger *slog.Logger,
) *PlacementSelector {
	return &PlacementSelector{
		repo:   repo,
		authz:  authz,
		hint:   hint,
		logger: logger.With(slog.String("component", "placement")),
	}
}

type candidate struct {
	lg *model.LinkGroup
	vo model.VOInfo
}

// Select возвращает link group с наибольшей доступной ёмкостью среди
// разрешённых для политики и запрашивающего, и VO владельца резервирования.
// Выбор делается без блокировок; ёмкость повторно проверяется при создании.
func (p *PlacementSelector) Select(ctx context.Context, subject *model.Subject, req PlacementRequest) (*model.LinkGroup, model.VOInfo, error) {
	if req.LinkGroupID != nil {
		return p.selectExplicit(ctx, subject, req)
	}

	groups, err := p.repo.List(ctx)
	if err != nil {
		return nil, model.VOInfo{}, err
	}

	var authorized []candidate
	for _, lg := range groups {
		if !lg.Allows(req.AccessLatency, req.RetentionPolicy) {
			continue
		}
		vo, err := p.authz.CheckReservePermission(ctx, subject, lg)
		if err != nil {
			if errors.Is(err, ErrAuthorization) {
				continue
			}
			return nil, model.VOInfo{}, err
		}
		authorized = append(authorized, candidate{lg: lg, vo: vo})
	}
	if len(authorized) == 0 {
		return nil, model.VOInfo{}, fmt.Errorf("%w: %s/%s", ErrNoAuthorizedCapacity, req.AccessLatency, req.RetentionPolicy)
	}

	fit := slices.DeleteFunc(authorized, func(c candidate) bool {
		return c.lg.AvailableBytes() < req.SizeInBytes
	})
	if len(fit) == 0 {
		return nil, model.VOInfo{}, fmt.Errorf("%w: ни одна link group не вмещает %d байт", ErrNoFreeSpace, req.SizeInBytes)
	}

	slices.SortStableFunc(fit, func(a, b candidate) int {
		switch {
		case a.lg.AvailableBytes() > b.lg.AvailableBytes():
			return -1
		case a.lg.AvailableBytes() < b.lg.AvailableBytes():
			return 1
		default:
			return 0
		}
	})

	if len(fit) > 1 && p.hint != nil && req.ProtocolInfo != "" {
		narrowed, err := p.narrow(ctx, req, fit)
		if err != nil {
			return nil, model.VOInfo{}, err
		}
		fit = narrowed
	}

	chosen := fit[0]
	p.logger.Debug("Выбрана link group",
		slog.String("link_group", chosen.lg.Name),
		slog.Int64("available", chosen.lg.AvailableBytes()),
		slog.Int("candidates", len(fit)),
	)
	return chosen.lg, chosen.vo, nil
}

// narrow сужает упорядоченный список кандидатов подсказкой pool manager.
// Ошибки подсказки, кроме явного отказа в доступе, игнорируются.
func (p *PlacementSelector) narrow(ctx context.Context, req PlacementRequest, fit []candidate) ([]candidate, error) {
	names := make([]string, len(fit))
	for i, c := range fit {
		names[i] = c.lg.Name
	}

	hinted, err := p.hint.NarrowCandidates(ctx, req.ProtocolInfo, req.FileAttributes, names)
	if err != nil {
		if errors.Is(err, ErrAuthorization) {
			return nil, err
		}
		p.logger.Warn("Подсказка pool manager недоступна, используется link group с наибольшей ёмкостью",
			slog.String("error", err.Error()),
		)
		return fit, nil
	}

	allowed := make(map[string]bool, len(hinted))
	for _, name := range hinted {
		allowed[name] = true
	}
	narrowed := slices.DeleteFunc(slices.Clone(fit), func(c candidate) bool {
		return !allowed[c.lg.Name]
	})
	if len(narrowed) == 0 {
		return nil, fmt.Errorf("%w: pool manager не выбрал ни одной link group", ErrNoFreeSpace)
	}
	return narrowed, nil
}

// selectExplicit проверяет явно указанную link group.
func (p *PlacementSelector) selectExplicit(ctx context.Context, subject *model.Subject, req PlacementRequest) (*model.LinkGroup, model.VOInfo, error) {
	lg, err := p.repo.GetByID(ctx, *req.LinkGroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.VOInfo{}, fmt.Errorf("%w: link group %d", ErrNotFound, *req.LinkGroupID)
		}
		return nil, model.VOInfo{}, err
	}
	if !lg.Allows(req.AccessLatency, req.RetentionPolicy) {
		return nil, model.VOInfo{}, fmt.Errorf("%w: link group %s не допускает %s/%s",
			ErrNoAuthorizedCapacity, lg.Name, req.AccessLatency, req.RetentionPolicy)
	}
	if lg.AvailableBytes() < req.SizeInBytes {
		return nil, model.VOInfo{}, fmt.Errorf("%w: link group %s доступно %d, запрошено %d",
			ErrNoFreeSpace, lg.Name, lg.AvailableBytes(), req.SizeInBytes)
	}
	vo, err := p.authz.CheckReservePermission(ctx, subject, lg)
	if err != nil {
		return nil, model.VOInfo{}, err
	}
	return lg, vo, nil
}
