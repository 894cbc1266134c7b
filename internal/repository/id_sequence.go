package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// IDSequence — источник блоков идентификаторов на строке id_sequence.
// Каждый вызов NextBlock выполняется в собственной короткой транзакции,
// независимой от учётных транзакций.
type IDSequence struct {
	runner *TxRunner
}

// NewIDSequence создаёт источник блоков поверх TxRunner.
func NewIDSequence(runner *TxRunner) *IDSequence {
	return &IDSequence{runner: runner}
}

// NextBlock блокирует строку счётчика, сдвигает базу на size и возвращает
// прежнюю базу. Значения [base, base+size) принадлежат вызывающему.
func (s *IDSequence) NextBlock(ctx context.Context, size int64) (int64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("недопустимый размер блока: %d", size)
	}

	var base int64
	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT next_base FROM id_sequence WHERE id = 1 FOR UPDATE`).Scan(&base)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: строка id_sequence отсутствует", ErrNotFound)
			}
			return fmt.Errorf("ошибка чтения id_sequence: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE id_sequence SET next_base = $1 WHERE id = 1`, base+size); err != nil {
			return fmt.Errorf("ошибка сдвига id_sequence: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return base, nil
}
