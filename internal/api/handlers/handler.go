// handler.go — основной обработчик API Space Manager.
// Объединяет доменные обработчики, регистрирует маршруты chi
// и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/space-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// SpaceAPI — операции над резервированиями (реализуется service.SpaceService).
type SpaceAPI interface {
	Reserve(ctx context.Context, subject *model.Subject, req service.ReserveRequest) (*model.Space, error)
	Update(ctx context.Context, subject *model.Subject, id int64, req service.UpdateRequest) (*model.Space, error)
	Release(ctx context.Context, subject *model.Subject, id int64, size *int64) (*model.Space, error)
	Delete(ctx context.Context, subject *model.Subject, id int64) error
	Get(ctx context.Context, id int64) (*model.Space, error)
	List(ctx context.Context, filter repository.SpaceFilter) ([]*model.Space, error)
	Tokens(ctx context.Context, q service.TokenQuery) ([]int64, error)
	Metadata(ctx context.Context, ids []int64) (found []*model.Space, unknown []int64, err error)
}

// FileAPI — операции над файлами (реализуется service.FileService).
type FileAPI interface {
	Bind(ctx context.Context, subject *model.Subject, req service.BindRequest) (*model.File, error)
	ReserveForTransfer(ctx context.Context, subject *model.Subject, req service.TransferRequest) (*model.Space, *model.File, error)
	StartTransfer(ctx context.Context, namespaceID string, fileID *int64, success bool) (*model.File, error)
	FinishTransfer(ctx context.Context, namespaceID string, success bool, actualSize *int64) (*model.File, error)
	Flush(ctx context.Context, namespaceID string, actualSize *int64) (*model.File, error)
	MarkDeleted(ctx context.Context, namespaceID string) (*model.File, error)
	Cancel(ctx context.Context, spaceID int64, path string) error
	Get(ctx context.Context, id int64) (*model.File, error)
	GetByNamespaceID(ctx context.Context, namespaceID string) (*model.File, error)
	ListBySpace(ctx context.Context, spaceID int64, limit, offset int) ([]*model.File, error)
}

// LinkGroupAPI — реестр link groups (реализуется service.LinkGroupService).
type LinkGroupAPI interface {
	Refresh(ctx context.Context, upd service.LinkGroupUpdate) (*model.LinkGroup, error)
	Get(ctx context.Context, id int64) (*model.LinkGroup, error)
	List(ctx context.Context) ([]*model.LinkGroup, error)
}

// APIHandler — основной обработчик API Space Manager.
type APIHandler struct {
	health     *HealthHandler
	spaces     SpaceAPI
	files      FileAPI
	linkGroups LinkGroupAPI
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	spaces SpaceAPI,
	files FileAPI,
	linkGroups LinkGroupAPI,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:     health,
		spaces:     spaces,
		files:      files,
		linkGroups: linkGroups,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// RegisterPublic регистрирует маршруты, доступные без аутентификации.
func (h *APIHandler) RegisterPublic(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)
}

// RegisterAPI регистрирует маршруты /api/v1.
func (h *APIHandler) RegisterAPI(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/spaces", func(r chi.Router) {
			r.Post("/", h.ReserveSpace)
			r.Get("/", h.ListSpaces)
			r.Post("/metadata", h.GetSpaceMetadata)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSpace)
				r.Patch("/", h.UpdateSpace)
				r.Delete("/", h.DeleteSpace)
				r.Post("/release", h.ReleaseSpace)
				r.Post("/files", h.BindFile)
				r.Get("/files", h.ListSpaceFiles)
				r.Delete("/files", h.CancelFile)
			})
		})
		r.Get("/space-tokens", h.GetSpaceTokens)

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.ReserveForTransfer)
			r.Get("/{namespaceId}", h.GetTransferFile)
			r.Post("/{namespaceId}/started", h.TransferStarted)
			r.Post("/{namespaceId}/finished", h.TransferFinished)
			r.Post("/{namespaceId}/flushed", h.TransferFlushed)
			r.Post("/{namespaceId}/deleted", h.TransferDeleted)
		})

		r.Get("/files/{id}", h.GetFile)

		r.Route("/link-groups", func(r chi.Router) {
			r.Get("/", h.ListLinkGroups)
			// GET адресует link group по id, PUT по имени
			r.Get("/{ref}", h.GetLinkGroup)
			r.Put("/{ref}", h.RefreshLinkGroup)
		})
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody декодирует JSON тело запроса в dst.
// optional — пустое тело допустимо и оставляет dst без изменений.
func decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("некорректное тело запроса: %w", err)
	}
	return nil
}

// pathID разбирает числовой параметр пути.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректный идентификатор %q", raw)
	}
	return id, nil
}

// paginationDefaults нормализует параметры пагинации из query.
// Возвращает корректные limit и offset.
func paginationDefaults(r *http.Request) (int, int, error) {
	l, o := 100, 0
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, fmt.Errorf("некорректный limit %q", v)
		}
		l = min(max(n, 1), 1000)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("некорректный offset %q", v)
		}
		o = n
	}
	return l, o, nil
}

// handleServiceError логирует неожиданные ошибки и записывает ответ.
func (h *APIHandler) handleServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apierrors.StatusOf(err) == http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.FromServiceError(w, err)
}
