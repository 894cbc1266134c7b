// files.go — обработчики файлов резервирования: bind, list, cancel, get.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/space-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/space-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// BindFile — POST /api/v1/spaces/{id}/files.
func (h *APIHandler) BindFile(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathID(r, "id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req bindRequest
	if err := decodeBody(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	file, err := h.files.Bind(r.Context(), middleware.SubjectFromContext(r.Context()), service.BindRequest{
		SpaceID:     spaceID,
		SizeInBytes: req.SizeInBytes,
		Lifetime:    req.Lifetime,
		Path:        req.Path,
		NamespaceID: req.NamespaceID,
	})
	if err != nil {
		h.handleServiceError(w, r, "bind", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFileResponse(file))
}

// ListSpaceFiles — GET /api/v1/spaces/{id}/files?limit=&offset=.
func (h *APIHandler) ListSpaceFiles(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathID(r, "id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, offset, err := paginationDefaults(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	files, err := h.files.ListBySpace(r.Context(), spaceID, limit, offset)
	if err != nil {
		h.handleServiceError(w, r, "list_files", err)
		return
	}

	items := make([]fileResponse, 0, len(files))
	for _, f := range files {
		items = append(items, toFileResponse(f))
	}
	writeJSON(w, http.StatusOK, listResponse[fileResponse]{
		Items:  items,
		Count:  len(items),
		Limit:  limit,
		Offset: offset,
	})
}

// CancelFile — DELETE /api/v1/spaces/{id}/files?path=.
// Отмена незавершённой привязки; повторная отмена — no-op.
func (h *APIHandler) CancelFile(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathID(r, "id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		apierrors.ValidationError(w, "не указан path")
		return
	}

	if err := h.files.Cancel(r.Context(), spaceID, path); err != nil {
		h.handleServiceError(w, r, "cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFile — GET /api/v1/files/{id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	file, err := h.files.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, "get_file", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(file))
}
