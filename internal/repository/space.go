package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
)

// SpaceFilter — фильтры выборки резервирований. nil-поля не участвуют.
type SpaceFilter struct {
	VoGroup     *string
	VoRole      *string
	Description *string
	LinkGroupID *int64
	State       *model.SpaceState
	// Limit <= 0 — без ограничения
	Limit  int
	Offset int
}

// SpaceRepository — доступ к таблице spaces.
type SpaceRepository interface {
	// Create сохраняет новое резервирование. ID выдаётся вызывающим.
	Create(ctx context.Context, s *model.Space) error
	// GetByID возвращает резервирование по токену.
	GetByID(ctx context.Context, id int64) (*model.Space, error)
	// GetByIDForUpdate возвращает резервирование, блокируя строку до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id int64) (*model.Space, error)
	// List возвращает резервирования по фильтру, упорядоченные по id.
	List(ctx context.Context, f SpaceFilter) ([]*model.Space, error)
	// Update сохраняет счётчики, срок жизни, описание и состояние.
	Update(ctx context.Context, s *model.Space) error
	// Delete физически удаляет резервирование.
	Delete(ctx context.Context, id int64) error
	// ListExpired возвращает id резервирований в состоянии RESERVED
	// с истёкшим к моменту now ограниченным сроком жизни.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

type spaceRepo struct {
	db DBTX
}

// NewSpaceRepository создаёт репозиторий резервирований.
func NewSpaceRepository(db DBTX) SpaceRepository {
	return &spaceRepo{db: db}
}

const spaceColumns = `id, vo_group, vo_role, retention_policy, access_latency, link_group_id,
	size_bytes, used_bytes, allocated_bytes, creation_time, lifetime_ms, description, state`

func scanSpace(row pgx.Row) (*model.Space, error) {
	s := &model.Space{}
	err := row.Scan(
		&s.ID, &s.VoGroup, &s.VoRole, &s.RetentionPolicy, &s.AccessLatency, &s.LinkGroupID,
		&s.SizeInBytes, &s.UsedSizeInBytes, &s.AllocatedSpaceInBytes,
		&s.CreationTime, &s.Lifetime, &s.Description, &s.State,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *spaceRepo) Create(ctx context.Context, s *model.Space) error {
	query := `
		INSERT INTO spaces (id, vo_group, vo_role, retention_policy, access_latency, link_group_id,
			size_bytes, used_bytes, allocated_bytes, creation_time, lifetime_ms, description, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		s.ID, s.VoGroup, s.VoRole, s.RetentionPolicy, s.AccessLatency, s.LinkGroupID,
		s.SizeInBytes, s.UsedSizeInBytes, s.AllocatedSpaceInBytes,
		s.CreationTime, s.Lifetime, s.Description, s.State,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: резервирование %d уже существует", ErrConflict, s.ID)
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: резервирование %d", ErrConstraint, s.ID)
		}
		return fmt.Errorf("ошибка создания резервирования: %w", err)
	}
	return nil
}

func (r *spaceRepo) get(ctx context.Context, query string, id int64) (*model.Space, error) {
	s, err := scanSpace(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения резервирования %d: %w", id, err)
	}
	return s, nil
}

func (r *spaceRepo) GetByID(ctx context.Context, id int64) (*model.Space, error) {
	return r.get(ctx, `SELECT `+spaceColumns+` FROM spaces WHERE id = $1`, id)
}

func (r *spaceRepo) GetByIDForUpdate(ctx context.Context, id int64) (*model.Space, error) {
	return r.get(ctx, `SELECT `+spaceColumns+` FROM spaces WHERE id = $1 FOR UPDATE`, id)
}

func (r *spaceRepo) List(ctx context.Context, f SpaceFilter) ([]*model.Space, error) {
	// Динамическое построение WHERE
	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if f.VoGroup != nil {
		add("vo_group = $%d", *f.VoGroup)
	}
	if f.VoRole != nil {
		add("vo_role = $%d", *f.VoRole)
	}
	if f.Description != nil {
		add("description = $%d", *f.Description)
	}
	if f.LinkGroupID != nil {
		add("link_group_id = $%d", *f.LinkGroupID)
	}
	if f.State != nil {
		add("state = $%d", string(*f.State))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM spaces %s ORDER BY id`, spaceColumns, where)
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка резервирований: %w", err)
	}
	defer rows.Close()

	var result []*model.Space
	for rows.Next() {
		s, err := scanSpace(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования резервирования: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *spaceRepo) Update(ctx context.Context, s *model.Space) error {
	query := `
		UPDATE spaces
		SET size_bytes = $2, used_bytes = $3, allocated_bytes = $4,
			lifetime_ms = $5, description = $6, state = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		s.ID, s.SizeInBytes, s.UsedSizeInBytes, s.AllocatedSpaceInBytes,
		s.Lifetime, s.Description, s.State,
	)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: резервирование %d", ErrConstraint, s.ID)
		}
		return fmt.Errorf("ошибка обновления резервирования %d: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *spaceRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM spaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления резервирования %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *spaceRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM spaces
		WHERE state = 'RESERVED'
			AND lifetime_ms <> -1
			AND creation_time + lifetime_ms * INTERVAL '1 millisecond' <= $1
		ORDER BY id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска истёкших резервирований: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования id резервирования: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
