package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
)

// FileRepository — доступ к таблице files.
type FileRepository interface {
	// Create сохраняет новую привязку. Занятый незавершённой привязкой путь
	// или повтор namespace_id — ErrConflict.
	Create(ctx context.Context, f *model.File) error
	// GetByID возвращает файл по идентификатору.
	GetByID(ctx context.Context, id int64) (*model.File, error)
	// GetByIDForUpdate возвращает файл, блокируя строку до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id int64) (*model.File, error)
	// GetByNamespaceID возвращает файл по идентификатору в namespace.
	GetByNamespaceID(ctx context.Context, namespaceID string) (*model.File, error)
	// GetByNamespaceIDForUpdate — то же с блокировкой строки.
	GetByNamespaceIDForUpdate(ctx context.Context, namespaceID string) (*model.File, error)
	// ListBySpace возвращает файлы резервирования, упорядоченные по id.
	ListBySpace(ctx context.Context, spaceID int64, limit, offset int) ([]*model.File, error)
	// CountBySpace возвращает количество файлов резервирования.
	CountBySpace(ctx context.Context, spaceID int64) (int, error)
	// FindPendingByPath возвращает неудалённые файлы в RESERVED/TRANSFERRING
	// с путём path. spaceID == 0 — в любом резервировании.
	FindPendingByPath(ctx context.Context, spaceID int64, path string) ([]*model.File, error)
	// ListExpired возвращает незавершённые файлы с истёкшим к now сроком жизни.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.File, error)
	// Update сохраняет размер, путь, namespace_id, состояние и флаг deleted.
	Update(ctx context.Context, f *model.File) error
	// Delete физически удаляет запись.
	Delete(ctx context.Context, id int64) error
}

type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

const fileColumns = `id, vo_group, vo_role, space_id, size_bytes, creation_time, lifetime_ms,
	path, namespace_id, state, deleted`

func scanFile(row pgx.Row) (*model.File, error) {
	f := &model.File{}
	err := row.Scan(
		&f.ID, &f.VoGroup, &f.VoRole, &f.SpaceID, &f.SizeInBytes, &f.CreationTime, &f.Lifetime,
		&f.Path, &f.NamespaceID, &f.State, &f.Deleted,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func collectFiles(rows pgx.Rows) ([]*model.File, error) {
	defer rows.Close()

	var result []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) Create(ctx context.Context, f *model.File) error {
	query := `
		INSERT INTO files (id, vo_group, vo_role, space_id, size_bytes, creation_time, lifetime_ms,
			path, namespace_id, state, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		f.ID, f.VoGroup, f.VoRole, f.SpaceID, f.SizeInBytes, f.CreationTime, f.Lifetime,
		f.Path, f.NamespaceID, f.State, f.Deleted,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: путь или namespace_id уже привязан", ErrConflict)
		}
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	return nil
}

func (r *fileRepo) get(ctx context.Context, query string, arg any) (*model.File, error) {
	f, err := scanFile(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) GetByID(ctx context.Context, id int64) (*model.File, error) {
	return r.get(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
}

func (r *fileRepo) GetByIDForUpdate(ctx context.Context, id int64) (*model.File, error) {
	return r.get(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1 FOR UPDATE`, id)
}

func (r *fileRepo) GetByNamespaceID(ctx context.Context, namespaceID string) (*model.File, error) {
	return r.get(ctx, `SELECT `+fileColumns+` FROM files WHERE namespace_id = $1`, namespaceID)
}

func (r *fileRepo) GetByNamespaceIDForUpdate(ctx context.Context, namespaceID string) (*model.File, error) {
	return r.get(ctx, `SELECT `+fileColumns+` FROM files WHERE namespace_id = $1 FOR UPDATE`, namespaceID)
}

func (r *fileRepo) ListBySpace(ctx context.Context, spaceID int64, limit, offset int) ([]*model.File, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE space_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`, spaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения файлов резервирования %d: %w", spaceID, err)
	}
	return collectFiles(rows)
}

func (r *fileRepo) CountBySpace(ctx context.Context, spaceID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE space_id = $1`, spaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов резервирования %d: %w", spaceID, err)
	}
	return count, nil
}

func (r *fileRepo) FindPendingByPath(ctx context.Context, spaceID int64, path string) ([]*model.File, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE path = $1
			AND ($2::BIGINT = 0 OR space_id = $2::BIGINT)
			AND NOT deleted
			AND state IN ('RESERVED', 'TRANSFERRING')
		ORDER BY id`, path, spaceID)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска файлов по пути: %w", err)
	}
	return collectFiles(rows)
}

func (r *fileRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.File, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE state IN ('RESERVED', 'TRANSFERRING')
			AND lifetime_ms <> -1
			AND creation_time + lifetime_ms * INTERVAL '1 millisecond' <= $1
		ORDER BY id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска истёкших файлов: %w", err)
	}
	return collectFiles(rows)
}

func (r *fileRepo) Update(ctx context.Context, f *model.File) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE files
		SET size_bytes = $2, path = $3, namespace_id = $4, state = $5, deleted = $6
		WHERE id = $1`,
		f.ID, f.SizeInBytes, f.Path, f.NamespaceID, f.State, f.Deleted,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: путь или namespace_id уже привязан", ErrConflict)
		}
		return fmt.Errorf("ошибка обновления файла %d: %w", f.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления файла %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
