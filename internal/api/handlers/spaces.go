// spaces.go — обработчики резервирований:
// reserve, list, get, update, release, delete, metadata, space-tokens.
package handlers

import (
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goartstore/space-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/space-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// ReserveSpace — POST /api/v1/spaces.
func (h *APIHandler) ReserveSpace(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
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

	lifetime := model.UnboundedLifetime
	if req.Lifetime != nil {
		lifetime = *req.Lifetime
	}

	space, err := h.spaces.Reserve(r.Context(), middleware.SubjectFromContext(r.Context()), service.ReserveRequest{
		SizeInBytes:     req.SizeInBytes,
		AccessLatency:   al,
		RetentionPolicy: rp,
		Lifetime:        lifetime,
		Description:     req.Description,
		LinkGroupID:     req.LinkGroupID,
		ProtocolInfo:    req.ProtocolInfo,
		FileAttributes:  req.FileAttributes,
	})
	if err != nil {
		h.handleServiceError(w, r, "reserve", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSpaceResponse(space))
}

// ListSpaces — GET /api/v1/spaces?group=&role=&description=&link_group_id=&state=&limit=&offset=.
func (h *APIHandler) ListSpaces(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paginationDefaults(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	q := r.URL.Query()
	filter := repository.SpaceFilter{
		VoGroup:     optionalQuery(q.Get, "group"),
		VoRole:      optionalQuery(q.Get, "role"),
		Description: optionalQuery(q.Get, "description"),
		Limit:       limit,
		Offset:      offset,
	}
	if v := q.Get("link_group_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			apierrors.ValidationError(w, "некорректный link_group_id")
			return
		}
		filter.LinkGroupID = &id
	}
	if v := q.Get("state"); v != "" {
		st, err := model.ParseSpaceState(v)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.State = &st
	}

	spaces, err := h.spaces.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, "list_spaces", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[spaceResponse]{
		Items:  toSpaceList(spaces),
		Count:  len(spaces),
		Limit:  limit,
		Offset: offset,
	})
}

// GetSpace — GET /api/v1/spaces/{id}.
func (h *APIHandler) GetSpace(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	space, err := h.spaces.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, "get_space", err)
		return
	}
	writeJSON(w, http.StatusOK, toSpaceResponse(space))
}

// UpdateSpace — PATCH /api/v1/spaces/{id}: размер, срок жизни, описание.
func (h *APIHandler) UpdateSpace(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req updateRequest
	if err := decodeBody(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	space, err := h.spaces.Update(r.Context(), middleware.SubjectFromContext(r.Context()), id, service.UpdateRequest{
		SizeInBytes: req.SizeInBytes,
		Lifetime:    req.Lifetime,
		Description: req.Description,
	})
	if err != nil {
		h.handleServiceError(w, r, "update_space", err)
		return
	}
	writeJSON(w, http.StatusOK, toSpaceResponse(space))
}

// ReleaseSpace — POST /api/v1/spaces/{id}/release.
// Частичное освобождение (size_in_bytes) отклоняется сервисом.
func (h *APIHandler) ReleaseSpace(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req releaseRequest
	if err := decodeBody(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	space, err := h.spaces.Release(r.Context(), middleware.SubjectFromContext(r.Context()), id, req.SizeInBytes)
	if err != nil {
		h.handleServiceError(w, r, "release", err)
		return
	}
	writeJSON(w, http.StatusOK, toSpaceResponse(space))
}

// DeleteSpace — DELETE /api/v1/spaces/{id}.
func (h *APIHandler) DeleteSpace(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := h.spaces.Delete(r.Context(), middleware.SubjectFromContext(r.Context()), id); err != nil {
		h.handleServiceError(w, r, "delete_space", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSpaceMetadata — POST /api/v1/spaces/metadata.
func (h *APIHandler) GetSpaceMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if err := decodeBody(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		apierrors.ValidationError(w, "список ids пуст")
		return
	}

	found, unknown, err := h.spaces.Metadata(r.Context(), req.IDs)
	if err != nil {
		h.handleServiceError(w, r, "space_metadata", err)
		return
	}
	if unknown == nil {
		unknown = []int64{}
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		Spaces:  toSpaceList(found),
		Unknown: unknown,
	})
}

// GetSpaceTokens — GET /api/v1/space-tokens?description=&group=&role=.
func (h *APIHandler) GetSpaceTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokens, err := h.spaces.Tokens(r.Context(), service.TokenQuery{
		Description: optionalQuery(q.Get, "description"),
		VoGroup:     optionalQuery(q.Get, "group"),
		VoRole:      optionalQuery(q.Get, "role"),
	})
	if err != nil {
		h.handleServiceError(w, r, "space_tokens", err)
		return
	}
	if tokens == nil {
		tokens = []int64{}
	}
	writeJSON(w, http.StatusOK, tokensResponse{Tokens: tokens})
}

// optionalQuery возвращает указатель на значение параметра или nil, если он пуст.
func optionalQuery(get func(string) string, name string) *string {
	if v := get(name); v != "" {
		return &v
	}
	return nil
}
