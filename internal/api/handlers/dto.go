// dto.go — JSON-представления запросов и ответов HTTP API.
package handlers

import (
	"time"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
)

// --- Ответы ---

// spaceResponse — представление резервирования.
type spaceResponse struct {
	ID                    int64   `json:"id"`
	VoGroup               string  `json:"vo_group"`
	VoRole                string  `json:"vo_role"`
	RetentionPolicy       string  `json:"retention_policy"`
	AccessLatency         string  `json:"access_latency"`
	LinkGroupID           int64   `json:"link_group_id"`
	SizeInBytes           int64   `json:"size_in_bytes"`
	UsedSizeInBytes       int64   `json:"used_size_in_bytes"`
	AllocatedSpaceInBytes int64   `json:"allocated_space_in_bytes"`
	AvailableSpaceInBytes int64   `json:"available_space_in_bytes"`
	CreationTime          string  `json:"creation_time"`
	Lifetime              int64   `json:"lifetime"`
	ExpirationTime        *string `json:"expiration_time,omitempty"`
	Description           *string `json:"description,omitempty"`
	State                 string  `json:"state"`
}

func toSpaceResponse(s *model.Space) spaceResponse {
	resp := spaceResponse{
		ID:                    s.ID,
		VoGroup:               s.VoGroup,
		VoRole:                s.VoRole,
		RetentionPolicy:       string(s.RetentionPolicy),
		AccessLatency:         string(s.AccessLatency),
		LinkGroupID:           s.LinkGroupID,
		SizeInBytes:           s.SizeInBytes,
		UsedSizeInBytes:       s.UsedSizeInBytes,
		AllocatedSpaceInBytes: s.AllocatedSpaceInBytes,
		AvailableSpaceInBytes: s.AvailableSpaceInBytes(),
		CreationTime:          formatTime(s.CreationTime),
		Lifetime:              s.Lifetime,
		Description:           s.Description,
		State:                 string(s.State),
	}
	if exp, ok := s.ExpirationTime(); ok {
		t := formatTime(exp)
		resp.ExpirationTime = &t
	}
	return resp
}

func toSpaceList(spaces []*model.Space) []spaceResponse {
	out := make([]spaceResponse, 0, len(spaces))
	for _, s := range spaces {
		out = append(out, toSpaceResponse(s))
	}
	return out
}

// fileResponse — представление файла.
type fileResponse struct {
	ID             int64   `json:"id"`
	VoGroup        string  `json:"vo_group"`
	VoRole         string  `json:"vo_role"`
	SpaceID        int64   `json:"space_id"`
	SizeInBytes    int64   `json:"size_in_bytes"`
	CreationTime   string  `json:"creation_time"`
	Lifetime       int64   `json:"lifetime"`
	ExpirationTime *string `json:"expiration_time,omitempty"`
	Path           *string `json:"path,omitempty"`
	NamespaceID    *string `json:"namespace_id,omitempty"`
	State          string  `json:"state"`
	Deleted        bool    `json:"deleted"`
}

func toFileResponse(f *model.File) fileResponse {
	resp := fileResponse{
		ID:           f.ID,
		VoGroup:      f.VoGroup,
		VoRole:       f.VoRole,
		SpaceID:      f.SpaceID,
		SizeInBytes:  f.SizeInBytes,
		CreationTime: formatTime(f.CreationTime),
		Lifetime:     f.Lifetime,
		Path:         f.Path,
		NamespaceID:  f.NamespaceID,
		State:        string(f.State),
		Deleted:      f.Deleted,
	}
	if exp, ok := f.ExpirationTime(); ok {
		t := formatTime(exp)
		resp.ExpirationTime = &t
	}
	return resp
}

// linkGroupResponse — представление link group.
type linkGroupResponse struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	FreeBytes        int64          `json:"free_bytes"`
	ReservedBytes    int64          `json:"reserved_bytes"`
	AvailableBytes   int64          `json:"available_bytes"`
	OnlineAllowed    bool           `json:"online_allowed"`
	NearlineAllowed  bool           `json:"nearline_allowed"`
	ReplicaAllowed   bool           `json:"replica_allowed"`
	OutputAllowed    bool           `json:"output_allowed"`
	CustodialAllowed bool           `json:"custodial_allowed"`
	VOs              []model.VOInfo `json:"vos"`
	LastUpdateTime   string         `json:"last_update_time"`
}

func toLinkGroupResponse(lg *model.LinkGroup) linkGroupResponse {
	vos := lg.VOs
	if vos == nil {
		vos = []model.VOInfo{}
	}
	return linkGroupResponse{
		ID:               lg.ID,
		Name:             lg.Name,
		FreeBytes:        lg.FreeBytes,
		ReservedBytes:    lg.ReservedBytes,
		AvailableBytes:   lg.AvailableBytes(),
		OnlineAllowed:    lg.OnlineAllowed,
		NearlineAllowed:  lg.NearlineAllowed,
		ReplicaAllowed:   lg.ReplicaAllowed,
		OutputAllowed:    lg.OutputAllowed,
		CustodialAllowed: lg.CustodialAllowed,
		VOs:              vos,
		LastUpdateTime:   formatTime(lg.LastUpdateTime),
	}
}

// listResponse — страница элементов списка.
type listResponse[T any] struct {
	Items  []T `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// metadataResponse — результат get-space-metadata.
type metadataResponse struct {
	Spaces  []spaceResponse `json:"spaces"`
	Unknown []int64         `json:"unknown"`
}

// tokensResponse — токены резервирований, найденные по описанию или владельцу.
type tokensResponse struct {
	Tokens []int64 `json:"tokens"`
}

// transferResponse — неявное резервирование под запись.
type transferResponse struct {
	Space spaceResponse `json:"space"`
	File  fileResponse  `json:"file"`
}

// --- Запросы ---

// reserveRequest — тело POST /api/v1/spaces.
type reserveRequest struct {
	SizeInBytes     int64             `json:"size_in_bytes"`
	AccessLatency   string            `json:"access_latency"`
	RetentionPolicy string            `json:"retention_policy"`
	Lifetime        *int64            `json:"lifetime,omitempty"`
	Description     *string           `json:"description,omitempty"`
	LinkGroupID     *int64            `json:"link_group_id,omitempty"`
	ProtocolInfo    string            `json:"protocol_info,omitempty"`
	FileAttributes  map[string]string `json:"file_attributes,omitempty"`
}

// updateRequest — тело PATCH /api/v1/spaces/{id}.
type updateRequest struct {
	SizeInBytes *int64  `json:"size_in_bytes,omitempty"`
	Lifetime    *int64  `json:"lifetime,omitempty"`
	Description *string `json:"description,omitempty"`
}

// releaseRequest — тело POST /api/v1/spaces/{id}/release (опционально).
type releaseRequest struct {
	SizeInBytes *int64 `json:"size_in_bytes,omitempty"`
}

// metadataRequest — тело POST /api/v1/spaces/metadata.
type metadataRequest struct {
	IDs []int64 `json:"ids"`
}

// bindRequest — тело POST /api/v1/spaces/{id}/files.
type bindRequest struct {
	SizeInBytes int64   `json:"size_in_bytes"`
	Lifetime    int64   `json:"lifetime,omitempty"`
	Path        *string `json:"path,omitempty"`
	NamespaceID *string `json:"namespace_id,omitempty"`
}

// transferRequest — тело POST /api/v1/transfers.
type transferRequest struct {
	SizeInBytes     int64             `json:"size_in_bytes"`
	AccessLatency   string            `json:"access_latency"`
	RetentionPolicy string            `json:"retention_policy"`
	NamespaceID     string            `json:"namespace_id"`
	ProtocolInfo    string            `json:"protocol_info,omitempty"`
	FileAttributes  map[string]string `json:"file_attributes,omitempty"`
}

// transferStartedRequest — тело POST /api/v1/transfers/{namespaceId}/started.
type transferStartedRequest struct {
	FileID  *int64 `json:"file_id,omitempty"`
	Success *bool  `json:"success,omitempty"`
}

// transferFinishedRequest — тело .../finished и .../flushed.
type transferFinishedRequest struct {
	Success     *bool  `json:"success,omitempty"`
	SizeInBytes *int64 `json:"size_in_bytes,omitempty"`
}

// linkGroupRefreshRequest — тело PUT /api/v1/link-groups/{name}.
type linkGroupRefreshRequest struct {
	FreeBytes        int64      `json:"free_bytes"`
	OnlineAllowed    bool       `json:"online_allowed"`
	NearlineAllowed  bool       `json:"nearline_allowed"`
	ReplicaAllowed   bool       `json:"replica_allowed"`
	OutputAllowed    bool       `json:"output_allowed"`
	CustodialAllowed bool       `json:"custodial_allowed"`
	VOs              []string   `json:"vos"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// boolOr возвращает *b или def, если b не задан.
func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
