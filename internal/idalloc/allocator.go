// Пакет idalloc — hi-lo аллокатор идентификаторов резервирований и файлов.
//
// Общий счётчик в хранилище выдаёт блоки фиксированного размера;
// значения внутри блока раздаются в памяти процесса без обращения к БД.
// Неиспользованные значения блока теряются при перезапуске — пропуски допустимы.
package idalloc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultBlockSize — размер блока по умолчанию.
const DefaultBlockSize int64 = 10000

var idBlocksAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sm_id_blocks_allocated_total",
	Help: "Количество блоков идентификаторов, полученных из хранилища.",
})

// BlockSource — источник блоков: атомарно сдвигает общий счётчик на size
// и возвращает начало выделенного блока.
type BlockSource interface {
	NextBlock(ctx context.Context, size int64) (int64, error)
}

// Allocator раздаёт уникальные идентификаторы. Безопасен для конкурентного использования.
type Allocator struct {
	source    BlockSource
	blockSize int64
	logger    *slog.Logger

	mu sync.Mutex
	// next — следующее значение к выдаче, limit — граница текущего блока (не включительно)
	next  int64
	limit int64
}

// New создаёт аллокатор. blockSize <= 0 заменяется на DefaultBlockSize.
func New(source BlockSource, blockSize int64, logger *slog.Logger) *Allocator {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Allocator{
		source:    source,
		blockSize: blockSize,
		logger:    logger.With(slog.String("component", "idalloc")),
	}
}

// Next возвращает следующий идентификатор, при исчерпании блока запрашивая новый.
// Если получить блок не удалось, состояние аллокатора не меняется и
// ни одно значение не выдаётся повторно.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next >= a.limit {
		base, err := a.source.NextBlock(ctx, a.blockSize)
		if err != nil {
			return 0, fmt.Errorf("ошибка получения блока идентификаторов: %w", err)
		}
		a.next, a.limit = base, base+a.blockSize
		idBlocksAllocatedTotal.Inc()
		a.logger.Debug("Получен блок идентификаторов",
			slog.Int64("base", base),
			slog.Int64("size", a.blockSize),
		)
	}

	id := a.next
	a.next++
	return id, nil
}
