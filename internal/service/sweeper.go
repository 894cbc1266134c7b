// sweeper.go — фоновый обход истёкших файлов и резервирований.
//
// Обход выполняет две задачи:
//  1. Удаляет незавершённые файлы с истёкшим сроком жизни вместе с их
//     записями namespace (включается SM_EXPIRE_FILES)
//  2. Переводит резервирования RESERVED с истёкшим сроком в EXPIRED
//
// Ошибка обработки одной записи не прерывает обход.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Prometheus-метрики обхода.
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_sweep_runs_total",
		Help: "Общее количество запусков обхода истёкших записей",
	})

	sweepExpiredSpacesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_sweep_expired_spaces_total",
		Help: "Количество резервирований, переведённых обходом в EXPIRED",
	})

	sweepExpiredFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_sweep_expired_files_total",
		Help: "Количество истёкших файлов, удалённых обходом",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sm_sweep_duration_seconds",
		Help:    "Длительность обхода в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

const (
	// sweepBatchSize — максимум записей каждого вида за один запуск
	sweepBatchSize = 1000
	// sweepParallelism — число параллельных удалений файлов
	sweepParallelism = 4
)

// SweepResult — результат одного запуска обхода.
type SweepResult struct {
	// ExpiredFiles — удалено истёкших файлов
	ExpiredFiles int
	// ExpiredSpaces — резервирований переведено в EXPIRED
	ExpiredSpaces int
	// Errors — количество ошибок обработки записей
	Errors int
	// Err — объединённые ошибки обработки записей
	Err error
	// Duration — длительность выполнения
	Duration time.Duration
}

// Sweeper — фоновый обход истёкших записей.
type Sweeper struct {
	spaces      *SpaceService
	files       *FileService
	expireFiles bool
	interval    time.Duration
	logger      *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper создаёт обход. expireFiles включает удаление истёкших файлов.
func NewSweeper(spaces *SpaceService, files *FileService, expireFiles bool, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		spaces:      spaces,
		files:       files,
		expireFiles: expireFiles,
		interval:    interval,
		logger:      logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину обхода с периодическим тикером.
func (sw *Sweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel
	sw.done = make(chan struct{})

	go sw.run(sweepCtx)

	sw.logger.Info("Обход истёкших записей запущен",
		slog.String("interval", sw.interval.String()),
		slog.Bool("expire_files", sw.expireFiles),
	)
}

// Stop останавливает обход и дожидается завершения текущего запуска.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	<-sw.done
	sw.logger.Info("Обход истёкших записей остановлен")
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один обход. Параллельные вызовы выполняются по очереди.
func (sw *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	if sw.expireFiles {
		sw.sweepFiles(ctx, result)
	}
	sw.sweepSpaces(ctx, result)

	result.Errors = len(multierr.Errors(result.Err))
	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepExpiredFilesTotal.Add(float64(result.ExpiredFiles))
	sweepExpiredSpacesTotal.Add(float64(result.ExpiredSpaces))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	level := slog.LevelDebug
	if result.ExpiredFiles > 0 || result.ExpiredSpaces > 0 || result.Errors > 0 {
		level = slog.LevelInfo
	}
	sw.logger.Log(ctx, level, "Обход истёкших записей завершён",
		slog.Int("expired_files", result.ExpiredFiles),
		slog.Int("expired_spaces", result.ExpiredSpaces),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}

// sweepFiles удаляет незавершённые файлы с истёкшим сроком.
func (sw *Sweeper) sweepFiles(ctx context.Context, result *SweepResult) {
	expired, err := sw.files.acc.store.Repos().Files.ListExpired(ctx, sw.files.acc.now(), sweepBatchSize)
	if err != nil {
		sw.logger.Error("Ошибка поиска истёкших файлов", slog.String("error", err.Error()))
		result.Err = multierr.Append(result.Err, err)
		return
	}

	// errgroup ограничивает параллелизм; Wait возвращает только первую ошибку,
	// поэтому ошибки всех файлов собираются в result.Err под mu.
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(sweepParallelism)

	for _, f := range expired {
		g.Go(func() error {
			// Запись namespace помеченного удалённым файла уже удалена
			if !f.Deleted {
				if err := sw.files.deleteNamespaceEntry(ctx, f); err != nil {
					sw.logger.Warn("Не удалось удалить запись namespace истёкшего файла",
						slog.Int64("file_id", f.ID),
						slog.String("error", err.Error()),
					)
				}
			}

			removed, err := sw.files.expireFile(ctx, f.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sw.logger.Error("Ошибка удаления истёкшего файла",
					slog.Int64("file_id", f.ID),
					slog.Int64("space_id", f.SpaceID),
					slog.String("error", err.Error()),
				)
				result.Err = multierr.Append(result.Err, err)
				return err
			}
			if removed {
				result.ExpiredFiles++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sw.logger.Warn("Обход файлов завершён с ошибками",
			slog.Int("errors", len(multierr.Errors(result.Err))),
		)
	}
}

// sweepSpaces переводит резервирования с истёкшим сроком в EXPIRED.
func (sw *Sweeper) sweepSpaces(ctx context.Context, result *SweepResult) {
	ids, err := sw.spaces.acc.store.Repos().Spaces.ListExpired(ctx, sw.spaces.acc.now(), sweepBatchSize)
	if err != nil {
		sw.logger.Error("Ошибка поиска истёкших резервирований", slog.String("error", err.Error()))
		result.Err = multierr.Append(result.Err, err)
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			result.Err = multierr.Append(result.Err, ctx.Err())
			return
		}
		expired, err := sw.spaces.Expire(ctx, id)
		if err != nil {
			sw.logger.Error("Ошибка перевода резервирования в EXPIRED",
				slog.Int64("space_id", id),
				slog.String("error", err.Error()),
			)
			result.Err = multierr.Append(result.Err, err)
			continue
		}
		if expired {
			result.ExpiredSpaces++
		}
	}
}
