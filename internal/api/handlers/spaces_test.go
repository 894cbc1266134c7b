package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

func TestReserveSpace(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/spaces", map[string]any{
		"size_in_bytes":    1000,
		"access_latency":   "NEARLINE",
		"retention_policy": "CUSTODIAL",
		"description":      "atlas-data",
		"protocol_info":    "http/1.1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, ожидался 201: %s", rec.Code, rec.Body.String())
	}

	req := env.spaces.lastReq
	if req.SizeInBytes != 1000 || req.AccessLatency != model.Nearline || req.RetentionPolicy != model.Custodial {
		t.Errorf("запрос сервиса = %+v", req)
	}
	if req.Lifetime != model.UnboundedLifetime {
		t.Errorf("срок жизни по умолчанию = %d, ожидался -1", req.Lifetime)
	}
	if env.spaces.lastSubj != testSubject {
		t.Errorf("субъект не передан в сервис")
	}

	resp := decode[spaceResponse](t, rec)
	if resp.ID != 42 || resp.AvailableSpaceInBytes != 700 || resp.State != "RESERVED" {
		t.Errorf("ответ = %+v", resp)
	}
	if resp.ExpirationTime == nil || *resp.ExpirationTime != "2026-03-01T13:00:00Z" {
		t.Errorf("expiration_time = %v", resp.ExpirationTime)
	}
}

func TestReserveSpace_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "некорректный JSON", body: "{"},
		{name: "неизвестное поле", body: `{"size":1}`},
		{name: "неверная latency", body: map[string]any{"size_in_bytes": 1, "access_latency": "FAST", "retention_policy": "REPLICA"}},
		{name: "неверная policy", body: map[string]any{"size_in_bytes": 1, "access_latency": "ONLINE", "retention_policy": "TAPE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			rec := env.do(t, http.MethodPost, "/api/v1/spaces", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("статус = %d, ожидался 400", rec.Code)
			}
			if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
				t.Errorf("код = %q", code)
			}
		})
	}
}

func TestReserveSpace_ServiceErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrNoFreeSpace, http.StatusInsufficientStorage, "NO_FREE_SPACE"},
		{service.ErrNoAuthorizedCapacity, http.StatusForbidden, "NO_AUTHORIZED_CAPACITY"},
		{service.ErrCapacityUnavailable, http.StatusInsufficientStorage, "CAPACITY_UNAVAILABLE"},
		{service.ErrTransient, http.StatusServiceUnavailable, "TRANSIENT"},
		{fmt.Errorf("сбой"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			env := newHandlerEnv(t)
			env.spaces.err = tt.err
			rec := env.do(t, http.MethodPost, "/api/v1/spaces", map[string]any{
				"size_in_bytes": 10, "access_latency": "ONLINE", "retention_policy": "REPLICA",
			})
			if rec.Code != tt.status {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.status)
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("код = %q, ожидался %q", code, tt.code)
			}
		})
	}
}

func TestGetSpace(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/spaces/42", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if resp := decode[spaceResponse](t, rec); resp.Description == nil || *resp.Description != "atlas-data" {
		t.Errorf("описание = %v", resp.Description)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/spaces/7", nil); rec.Code != http.StatusNotFound {
		t.Errorf("неизвестный токен: статус = %d, ожидался 404", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/spaces/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("нечисловой токен: статус = %d, ожидался 400", rec.Code)
	}
}

func TestListSpaces(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/spaces?group=/atlas&state=RESERVED&link_group_id=1&limit=10&offset=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}

	f := env.spaces.lastFilter
	if f.VoGroup == nil || *f.VoGroup != "/atlas" || f.VoRole != nil {
		t.Errorf("фильтр группы = %+v", f)
	}
	if f.State == nil || *f.State != model.SpaceReserved || f.LinkGroupID == nil || *f.LinkGroupID != 1 {
		t.Errorf("фильтр состояния = %+v", f)
	}
	if f.Limit != 10 || f.Offset != 5 {
		t.Errorf("пагинация = %d/%d", f.Limit, f.Offset)
	}

	resp := decode[listResponse[spaceResponse]](t, rec)
	if resp.Count != 1 || resp.Items[0].ID != 42 {
		t.Errorf("ответ = %+v", resp)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/spaces?state=LOST", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("неизвестное состояние: статус = %d", rec.Code)
	}
}

func TestUpdateSpace(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPatch, "/api/v1/spaces/42", map[string]any{"size_in_bytes": 900, "lifetime": -1})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	upd := env.spaces.lastUpdate
	if upd.SizeInBytes == nil || *upd.SizeInBytes != 900 || upd.Lifetime == nil || *upd.Lifetime != -1 || upd.Description != nil {
		t.Errorf("запрос сервиса = %+v", upd)
	}

	env.spaces.err = service.ErrCapacityExceeded
	rec = env.do(t, http.MethodPatch, "/api/v1/spaces/42", map[string]any{"size_in_bytes": 10})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "CAPACITY_EXCEEDED" {
		t.Errorf("уменьшение ниже занятого: статус = %d", rec.Code)
	}
}

func TestReleaseSpace(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/spaces/42/release", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	if env.spaces.lastSize != nil {
		t.Errorf("без тела размер должен быть nil, получено %d", *env.spaces.lastSize)
	}

	env.spaces.err = service.ErrUnsupportedOperation
	rec = env.do(t, http.MethodPost, "/api/v1/spaces/42/release", map[string]any{"size_in_bytes": 10})
	if rec.Code != http.StatusNotImplemented || errorCode(t, rec) != "UNSUPPORTED_OPERATION" {
		t.Errorf("частичное освобождение: статус = %d", rec.Code)
	}
	if env.spaces.lastSize == nil || *env.spaces.lastSize != 10 {
		t.Errorf("размер не передан в сервис")
	}
}

func TestDeleteSpace(t *testing.T) {
	env := newHandlerEnv(t)
	if rec := env.do(t, http.MethodDelete, "/api/v1/spaces/42", nil); rec.Code != http.StatusNoContent {
		t.Errorf("статус = %d, ожидался 204", rec.Code)
	}

	env.spaces.err = service.ErrInvalidState
	rec := env.do(t, http.MethodDelete, "/api/v1/spaces/42", nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "INVALID_STATE" {
		t.Errorf("удаление с файлами: статус = %d", rec.Code)
	}
}

func TestGetSpaceMetadata(t *testing.T) {
	env := newHandlerEnv(t)
	env.spaces.unknown = []int64{7}

	rec := env.do(t, http.MethodPost, "/api/v1/spaces/metadata", map[string]any{"ids": []int64{42, 7}})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[metadataResponse](t, rec)
	if len(resp.Spaces) != 1 || resp.Spaces[0].ID != 42 || len(resp.Unknown) != 1 || resp.Unknown[0] != 7 {
		t.Errorf("ответ = %+v", resp)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/spaces/metadata", map[string]any{"ids": []int64{}}); rec.Code != http.StatusBadRequest {
		t.Errorf("пустой список: статус = %d", rec.Code)
	}
}

func TestGetSpaceTokens(t *testing.T) {
	env := newHandlerEnv(t)
	env.spaces.tokens = []int64{42, 44}

	rec := env.do(t, http.MethodGet, "/api/v1/space-tokens?description=atlas-data&role=production", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	q := env.spaces.lastTokens
	if q.Description == nil || *q.Description != "atlas-data" || q.VoRole == nil || q.VoGroup != nil {
		t.Errorf("запрос сервиса = %+v", q)
	}
	if resp := decode[tokensResponse](t, rec); len(resp.Tokens) != 2 {
		t.Errorf("токены = %v", resp.Tokens)
	}

	env.spaces.tokens = nil
	rec = env.do(t, http.MethodGet, "/api/v1/space-tokens", nil)
	if resp := decode[tokensResponse](t, rec); resp.Tokens == nil {
		t.Error("пустой результат должен сериализоваться как []")
	}
}
