package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
)

// LinkGroupRepository — доступ к таблицам link_groups и link_group_vos.
type LinkGroupRepository interface {
	// GetByID возвращает пул по идентификатору.
	GetByID(ctx context.Context, id int64) (*model.LinkGroup, error)
	// GetByIDForUpdate возвращает пул, блокируя его строку до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id int64) (*model.LinkGroup, error)
	// GetByName возвращает пул по имени.
	GetByName(ctx context.Context, name string) (*model.LinkGroup, error)
	// List возвращает все пулы, упорядоченные по id.
	List(ctx context.Context) ([]*model.LinkGroup, error)
	// Upsert создаёт или обновляет пул по имени. reserved_bytes существующего
	// пула не меняется. Заполняет lg.ID и lg.ReservedBytes.
	Upsert(ctx context.Context, lg *model.LinkGroup) error
	// AdjustCounters изменяет reserved_bytes и free_bytes на заданные приращения.
	AdjustCounters(ctx context.Context, id int64, reservedDelta, freeDelta int64) error
}

type linkGroupRepo struct {
	db DBTX
}

// NewLinkGroupRepository создаёт репозиторий пулов ёмкости.
func NewLinkGroupRepository(db DBTX) LinkGroupRepository {
	return &linkGroupRepo{db: db}
}

const linkGroupColumns = `id, name, free_bytes, reserved_bytes,
	online_allowed, nearline_allowed, replica_allowed, output_allowed, custodial_allowed,
	last_update_time`

func scanLinkGroup(row pgx.Row) (*model.LinkGroup, error) {
	lg := &model.LinkGroup{}
	err := row.Scan(
		&lg.ID, &lg.Name, &lg.FreeBytes, &lg.ReservedBytes,
		&lg.OnlineAllowed, &lg.NearlineAllowed, &lg.ReplicaAllowed, &lg.OutputAllowed, &lg.CustodialAllowed,
		&lg.LastUpdateTime,
	)
	if err != nil {
		return nil, err
	}
	return lg, nil
}

func (r *linkGroupRepo) getOne(ctx context.Context, query string, arg any) (*model.LinkGroup, error) {
	lg, err := scanLinkGroup(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения link group: %w", err)
	}
	if err := r.loadVOs(ctx, []*model.LinkGroup{lg}); err != nil {
		return nil, err
	}
	return lg, nil
}

func (r *linkGroupRepo) GetByID(ctx context.Context, id int64) (*model.LinkGroup, error) {
	return r.getOne(ctx, `SELECT `+linkGroupColumns+` FROM link_groups WHERE id = $1`, id)
}

func (r *linkGroupRepo) GetByIDForUpdate(ctx context.Context, id int64) (*model.LinkGroup, error) {
	return r.getOne(ctx, `SELECT `+linkGroupColumns+` FROM link_groups WHERE id = $1 FOR UPDATE`, id)
}

func (r *linkGroupRepo) GetByName(ctx context.Context, name string) (*model.LinkGroup, error) {
	return r.getOne(ctx, `SELECT `+linkGroupColumns+` FROM link_groups WHERE name = $1`, name)
}

func (r *linkGroupRepo) List(ctx context.Context) ([]*model.LinkGroup, error) {
	rows, err := r.db.Query(ctx, `SELECT `+linkGroupColumns+` FROM link_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка link groups: %w", err)
	}
	defer rows.Close()

	var result []*model.LinkGroup
	for rows.Next() {
		lg, err := scanLinkGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования link group: %w", err)
		}
		result = append(result, lg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения link groups: %w", err)
	}

	if err := r.loadVOs(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// loadVOs заполняет списки VO для переданных пулов одним запросом.
func (r *linkGroupRepo) loadVOs(ctx context.Context, groups []*model.LinkGroup) error {
	if len(groups) == 0 {
		return nil
	}
	byID := make(map[int64]*model.LinkGroup, len(groups))
	ids := make([]int64, 0, len(groups))
	for _, lg := range groups {
		byID[lg.ID] = lg
		ids = append(ids, lg.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT link_group_id, vo_group, vo_role
		FROM link_group_vos
		WHERE link_group_id = ANY($1)
		ORDER BY link_group_id, vo_group, vo_role`, ids)
	if err != nil {
		return fmt.Errorf("ошибка получения VO link groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var vo model.VOInfo
		if err := rows.Scan(&id, &vo.Group, &vo.Role); err != nil {
			return fmt.Errorf("ошибка сканирования VO: %w", err)
		}
		if lg, ok := byID[id]; ok {
			lg.VOs = append(lg.VOs, vo)
		}
	}
	return rows.Err()
}

func (r *linkGroupRepo) Upsert(ctx context.Context, lg *model.LinkGroup) error {
	query := `
		INSERT INTO link_groups (name, free_bytes,
			online_allowed, nearline_allowed, replica_allowed, output_allowed, custodial_allowed,
			last_update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			free_bytes = EXCLUDED.free_bytes,
			online_allowed = EXCLUDED.online_allowed,
			nearline_allowed = EXCLUDED.nearline_allowed,
			replica_allowed = EXCLUDED.replica_allowed,
			output_allowed = EXCLUDED.output_allowed,
			custodial_allowed = EXCLUDED.custodial_allowed,
			last_update_time = EXCLUDED.last_update_time
		RETURNING id, reserved_bytes`

	err := r.db.QueryRow(ctx, query,
		lg.Name, lg.FreeBytes,
		lg.OnlineAllowed, lg.NearlineAllowed, lg.ReplicaAllowed, lg.OutputAllowed, lg.CustodialAllowed,
		lg.LastUpdateTime,
	).Scan(&lg.ID, &lg.ReservedBytes)
	if err != nil {
		return fmt.Errorf("ошибка сохранения link group %s: %w", lg.Name, err)
	}

	// Список VO заменяется целиком
	if _, err := r.db.Exec(ctx, `DELETE FROM link_group_vos WHERE link_group_id = $1`, lg.ID); err != nil {
		return fmt.Errorf("ошибка очистки VO link group %s: %w", lg.Name, err)
	}
	for _, vo := range lg.VOs {
		_, err := r.db.Exec(ctx, `
			INSERT INTO link_group_vos (link_group_id, vo_group, vo_role)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, lg.ID, vo.Group, vo.Role)
		if err != nil {
			return fmt.Errorf("ошибка сохранения VO %s link group %s: %w", vo, lg.Name, err)
		}
	}
	return nil
}

func (r *linkGroupRepo) AdjustCounters(ctx context.Context, id int64, reservedDelta, freeDelta int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE link_groups
		SET reserved_bytes = reserved_bytes + $2,
			free_bytes = free_bytes + $3
		WHERE id = $1`, id, reservedDelta, freeDelta)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: reserved_bytes link group %d", ErrConstraint, id)
		}
		return fmt.Errorf("ошибка обновления счётчиков link group %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
