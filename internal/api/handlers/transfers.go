// transfers.go — события записи файла от door и pool:
// неявное резервирование, поиск по namespace id и события started, finished, flushed, deleted.
// Файл адресуется namespace id. Ответ 204 — событие не изменило записей
// (файл неизвестен или запись удалена по политике).
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/space-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/space-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// ReserveForTransfer — POST /api/v1/transfers.
func (h *APIHandler) ReserveForTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	al, err := model.ParseAccessLatency(req.AccessLatency)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	rp, err := model.ParseRetentionPolicy(req.RetentionPolicy)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	space, file, err := h.files.ReserveForTransfer(r.Context(), middleware.SubjectFromContext(r.Context()), service.TransferRequest{
		SizeInBytes:     req.SizeInBytes,
		AccessLatency:   al,
		RetentionPolicy: rp,
		NamespaceID:     req.NamespaceID,
		ProtocolInfo:    req.ProtocolInfo,
		FileAttributes:  req.FileAttributes,
	})
	if err != nil {
		h.handleServiceError(w, r, "reserve_for_transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, transferResponse{
		Space: toSpaceResponse(space),
		File:  toFileResponse(file),
	})
}

// GetTransferFile — GET /api/v1/transfers/{namespaceId}.
func (h *APIHandler) GetTransferFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.files.GetByNamespaceID(r.Context(), chi.URLParam(r, "namespaceId"))
	if err != nil {
		h.handleServiceError(w, r, "get_transfer_file", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(file))
}

// TransferStarted — POST /api/v1/transfers/{namespaceId}/started.
func (h *APIHandler) TransferStarted(w http.ResponseWriter, r *http.Request) {
	var req transferStartedRequest
	if err := decodeBody(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	file, err := h.files.StartTransfer(r.Context(), chi.URLParam(r, "namespaceId"), req.FileID, boolOr(req.Success, true))
	h.writeFileEvent(w, r, "start_transfer", file, err)
}

// TransferFinished — POST /api/v1/transfers/{namespaceId}/finished.
func (h *APIHandler) TransferFinished(w http.ResponseWriter, r *http.Request) {
	var req transferFinishedRequest
	if err := decodeBody(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	file, err := h.files.FinishTransfer(r.Context(), chi.URLParam(r, "namespaceId"), boolOr(req.Success, true), req.SizeInBytes)
	h.writeFileEvent(w, r, "finish_transfer", file, err)
}

// TransferFlushed — POST /api/v1/transfers/{namespaceId}/flushed.
func (h *APIHandler) TransferFlushed(w http.ResponseWriter, r *http.Request) {
	var req transferFinishedRequest
	if err := decodeBody(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	file, err := h.files.Flush(r.Context(), chi.URLParam(r, "namespaceId"), req.SizeInBytes)
	h.writeFileEvent(w, r, "flush", file, err)
}

// TransferDeleted — POST /api/v1/transfers/{namespaceId}/deleted.
func (h *APIHandler) TransferDeleted(w http.ResponseWriter, r *http.Request) {
	file, err := h.files.MarkDeleted(r.Context(), chi.URLParam(r, "namespaceId"))
	h.writeFileEvent(w, r, "mark_deleted", file, err)
}

func (h *APIHandler) writeFileEvent(w http.ResponseWriter, r *http.Request, op string, file *model.File, err error) {
	switch {
	case err != nil:
		h.handleServiceError(w, r, op, err)
	case file == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, toFileResponse(file))
	}
}
