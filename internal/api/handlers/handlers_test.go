package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/space-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Фейки сервисного слоя ---

type fakeSpaces struct {
	space      *model.Space
	err        error
	lastSubj   *model.Subject
	lastReq    service.ReserveRequest
	lastUpdate service.UpdateRequest
	lastSize   *int64
	lastFilter repository.SpaceFilter
	lastTokens service.TokenQuery
	tokens     []int64
	unknown    []int64
}

func (f *fakeSpaces) Reserve(_ context.Context, s *model.Subject, req service.ReserveRequest) (*model.Space, error) {
	f.lastSubj, f.lastReq = s, req
	return f.space, f.err
}

func (f *fakeSpaces) Update(_ context.Context, s *model.Subject, _ int64, req service.UpdateRequest) (*model.Space, error) {
	f.lastSubj, f.lastUpdate = s, req
	return f.space, f.err
}

func (f *fakeSpaces) Release(_ context.Context, s *model.Subject, _ int64, size *int64) (*model.Space, error) {
	f.lastSubj, f.lastSize = s, size
	return f.space, f.err
}

func (f *fakeSpaces) Delete(_ context.Context, s *model.Subject, _ int64) error {
	f.lastSubj = s
	return f.err
}

func (f *fakeSpaces) Get(_ context.Context, id int64) (*model.Space, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.space == nil || f.space.ID != id {
		return nil, fmt.Errorf("%w: резервирование %d", service.ErrNotFound, id)
	}
	return f.space, nil
}

func (f *fakeSpaces) List(_ context.Context, filter repository.SpaceFilter) ([]*model.Space, error) {
	f.lastFilter = filter
	if f.space == nil {
		return nil, f.err
	}
	return []*model.Space{f.space}, f.err
}

func (f *fakeSpaces) Tokens(_ context.Context, q service.TokenQuery) ([]int64, error) {
	f.lastTokens = q
	return f.tokens, f.err
}

func (f *fakeSpaces) Metadata(_ context.Context, _ []int64) ([]*model.Space, []int64, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return []*model.Space{f.space}, f.unknown, nil
}

type fakeFiles struct {
	space       *model.Space
	file        *model.File
	err         error
	lastBind    service.BindRequest
	lastXfer    service.TransferRequest
	lastNSID    string
	lastSuccess bool
	lastSize    *int64
	lastFileID  *int64
	lastCancel  string
	lastLimit   int
	lastOffset  int
}

func (f *fakeFiles) Bind(_ context.Context, _ *model.Subject, req service.BindRequest) (*model.File, error) {
	f.lastBind = req
	return f.file, f.err
}

func (f *fakeFiles) ReserveForTransfer(_ context.Context, _ *model.Subject, req service.TransferRequest) (*model.Space, *model.File, error) {
	f.lastXfer = req
	return f.space, f.file, f.err
}

func (f *fakeFiles) StartTransfer(_ context.Context, nsid string, fileID *int64, success bool) (*model.File, error) {
	f.lastNSID, f.lastFileID, f.lastSuccess = nsid, fileID, success
	return f.file, f.err
}

func (f *fakeFiles) FinishTransfer(_ context.Context, nsid string, success bool, size *int64) (*model.File, error) {
	f.lastNSID, f.lastSuccess, f.lastSize = nsid, success, size
	return f.file, f.err
}

func (f *fakeFiles) Flush(_ context.Context, nsid string, size *int64) (*model.File, error) {
	f.lastNSID, f.lastSize = nsid, size
	return f.file, f.err
}

func (f *fakeFiles) MarkDeleted(_ context.Context, nsid string) (*model.File, error) {
	f.lastNSID = nsid
	return f.file, f.err
}

func (f *fakeFiles) Cancel(_ context.Context, _ int64, path string) error {
	f.lastCancel = path
	return f.err
}

func (f *fakeFiles) Get(_ context.Context, _ int64) (*model.File, error) {
	return f.file, f.err
}

func (f *fakeFiles) GetByNamespaceID(_ context.Context, nsid string) (*model.File, error) {
	f.lastNSID = nsid
	return f.file, f.err
}

func (f *fakeFiles) ListBySpace(_ context.Context, _ int64, limit, offset int) ([]*model.File, error) {
	f.lastLimit, f.lastOffset = limit, offset
	if f.file == nil {
		return nil, f.err
	}
	return []*model.File{f.file}, f.err
}

type fakeLinkGroups struct {
	lg      *model.LinkGroup
	err     error
	lastUpd service.LinkGroupUpdate
}

func (f *fakeLinkGroups) Refresh(_ context.Context, upd service.LinkGroupUpdate) (*model.LinkGroup, error) {
	f.lastUpd = upd
	return f.lg, f.err
}

func (f *fakeLinkGroups) Get(_ context.Context, _ int64) (*model.LinkGroup, error) {
	return f.lg, f.err
}

func (f *fakeLinkGroups) List(_ context.Context) ([]*model.LinkGroup, error) {
	return []*model.LinkGroup{f.lg}, f.err
}

type staticChecker struct{ status, msg string }

func (c staticChecker) CheckReady() (string, string) { return c.status, c.msg }

type staticDeps map[string]bool

func (d staticDeps) Health() map[string]bool { return d }

// --- Окружение ---

type handlerEnv struct {
	spaces *fakeSpaces
	files  *fakeFiles
	lgs    *fakeLinkGroups
	router chi.Router
}

var testSubject = &model.Subject{Name: "alice", FQANs: []model.VOInfo{{Group: "/atlas", Role: "production"}}}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	desc := "atlas-data"
	env := &handlerEnv{
		spaces: &fakeSpaces{space: &model.Space{
			ID: 42, VoGroup: "/atlas", VoRole: "production",
			RetentionPolicy: model.Custodial, AccessLatency: model.Nearline,
			LinkGroupID: 1, SizeInBytes: 1000, UsedSizeInBytes: 100, AllocatedSpaceInBytes: 200,
			CreationTime: testTime, Lifetime: 3_600_000, Description: &desc, State: model.SpaceReserved,
		}},
		files: &fakeFiles{},
		lgs: &fakeLinkGroups{lg: &model.LinkGroup{
			ID: 1, Name: "atlas-disk", FreeBytes: 5000, ReservedBytes: 900,
			NearlineAllowed: true, CustodialAllowed: true, LastUpdateTime: testTime,
		}},
	}
	nsid := "0000A1"
	path := "/atlas/data/f1"
	env.files.file = &model.File{
		ID: 43, VoGroup: "/atlas", SpaceID: 42, SizeInBytes: 100, CreationTime: testTime,
		Lifetime: model.UnboundedLifetime, Path: &path, NamespaceID: &nsid, State: model.FileReserved,
	}
	env.files.space = env.spaces.space

	h := NewAPIHandler(
		NewHealthHandler(staticChecker{"ok", "подключение активно"}, staticDeps{"namespace": false}),
		env.spaces, env.files, env.lgs, testLogger(),
	)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithSubject(req.Context(), testSubject)))
		})
	})
	h.RegisterPublic(r)
	h.RegisterAPI(r)
	env.router = r
	return env
}

func (env *handlerEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, rec)
	return body.Error.Code
}

func int64Ptr(v int64) *int64 { return &v }
