// link_groups.go — обработчики реестра link groups: list, get, refresh.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/space-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// ListLinkGroups — GET /api/v1/link-groups.
func (h *APIHandler) ListLinkGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.linkGroups.List(r.Context())
	if err != nil {
		h.handleServiceError(w, r, "list_link_groups", err)
		return
	}
	items := make([]linkGroupResponse, 0, len(groups))
	for _, lg := range groups {
		items = append(items, toLinkGroupResponse(lg))
	}
	writeJSON(w, http.StatusOK, listResponse[linkGroupResponse]{Items: items, Count: len(items)})
}

// GetLinkGroup — GET /api/v1/link-groups/{id}.
func (h *APIHandler) GetLinkGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ref")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	lg, err := h.linkGroups.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, "get_link_group", err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkGroupResponse(lg))
}

// RefreshLinkGroup — PUT /api/v1/link-groups/{name}.
// Создаёт link group при первом обновлении.
func (h *APIHandler) RefreshLinkGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "ref")
	var req linkGroupRefreshRequest
	if err := decodeBody(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	vos := make([]model.VOInfo, 0, len(req.VOs))
	for _, fqan := range req.VOs {
		vos = append(vos, model.ParseFQAN(fqan))
	}
	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	lg, err := h.linkGroups.Refresh(r.Context(), service.LinkGroupUpdate{
		Name:             name,
		FreeBytes:        req.FreeBytes,
		OnlineAllowed:    req.OnlineAllowed,
		NearlineAllowed:  req.NearlineAllowed,
		ReplicaAllowed:   req.ReplicaAllowed,
		OutputAllowed:    req.OutputAllowed,
		CustodialAllowed: req.CustodialAllowed,
		VOs:              vos,
		Timestamp:        ts,
	})
	if err != nil {
		h.handleServiceError(w, r, "refresh_link_group", err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkGroupResponse(lg))
}
