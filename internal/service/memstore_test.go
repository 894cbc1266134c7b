package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
)

// memState — снимок содержимого хранилища.
type memState struct {
	linkGroups map[int64]*model.LinkGroup
	spaces     map[int64]*model.Space
	files      map[int64]*model.File
	nextLGID   int64
}

func newMemState() *memState {
	return &memState{
		linkGroups: make(map[int64]*model.LinkGroup),
		spaces:     make(map[int64]*model.Space),
		files:      make(map[int64]*model.File),
		nextLGID:   1,
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		linkGroups: make(map[int64]*model.LinkGroup, len(s.linkGroups)),
		spaces:     make(map[int64]*model.Space, len(s.spaces)),
		files:      make(map[int64]*model.File, len(s.files)),
		nextLGID:   s.nextLGID,
	}
	for id, lg := range s.linkGroups {
		c.linkGroups[id] = lg.Clone()
	}
	for id, sp := range s.spaces {
		c.spaces[id] = sp.Clone()
	}
	for id, f := range s.files {
		c.files[id] = f.Clone()
	}
	return c
}

// memStore — хранилище в памяти для тестов сервисного слоя.
// Транзакции выполняются строго последовательно над копией состояния,
// при ошибке копия отбрасывается. Ограничения схемы повторяются:
// size >= used + allocated, reserved_bytes >= 0, уникальность
// незавершённого пути и namespace_id.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// transientFailures — сколько следующих транзакций завершить ErrTransient после fn
	transientFailures int
	txCount           int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) Repos() *repository.Repositories {
	return m.repos(func() *memState { return m.state }, true)
}

func (m *memStore) InTx(ctx context.Context, fn func(r *repository.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCount++
	work := m.state.clone()
	if err := fn(m.repos(func() *memState { return work }, false)); err != nil {
		return err
	}
	if m.transientFailures > 0 {
		m.transientFailures--
		return fmt.Errorf("%w: имитация lock timeout", repository.ErrTransient)
	}
	m.state = work
	return nil
}

func (m *memStore) repos(st func() *memState, locking bool) *repository.Repositories {
	db := &memDB{store: m, st: st, locking: locking}
	return &repository.Repositories{
		LinkGroups: &memLinkGroups{db},
		Spaces:     &memSpaces{db},
		Files:      &memFiles{db},
	}
}

// memDB — доступ к состоянию: вне транзакции каждое обращение берёт mutex.
type memDB struct {
	store   *memStore
	st      func() *memState
	locking bool
}

func (d *memDB) enter() (*memState, func()) {
	if d.locking {
		d.store.mu.Lock()
		return d.st(), d.store.mu.Unlock
	}
	return d.st(), func() {}
}

// --- LinkGroups ---

type memLinkGroups struct{ db *memDB }

func (r *memLinkGroups) GetByID(_ context.Context, id int64) (*model.LinkGroup, error) {
	st, done := r.db.enter()
	defer done()
	lg, ok := st.linkGroups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return lg.Clone(), nil
}

func (r *memLinkGroups) GetByIDForUpdate(ctx context.Context, id int64) (*model.LinkGroup, error) {
	return r.GetByID(ctx, id)
}

func (r *memLinkGroups) GetByName(_ context.Context, name string) (*model.LinkGroup, error) {
	st, done := r.db.enter()
	defer done()
	for _, lg := range st.linkGroups {
		if lg.Name == name {
			return lg.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memLinkGroups) List(_ context.Context) ([]*model.LinkGroup, error) {
	st, done := r.db.enter()
	defer done()
	var result []*model.LinkGroup
	for _, lg := range st.linkGroups {
		result = append(result, lg.Clone())
	}
	slices.SortFunc(result, func(a, b *model.LinkGroup) int { return int(a.ID - b.ID) })
	return result, nil
}

func (r *memLinkGroups) Upsert(_ context.Context, lg *model.LinkGroup) error {
	st, done := r.db.enter()
	defer done()
	for _, existing := range st.linkGroups {
		if existing.Name == lg.Name {
			lg.ID = existing.ID
			lg.ReservedBytes = existing.ReservedBytes
			st.linkGroups[lg.ID] = lg.Clone()
			return nil
		}
	}
	lg.ID = st.nextLGID
	st.nextLGID++
	lg.ReservedBytes = 0
	st.linkGroups[lg.ID] = lg.Clone()
	return nil
}

func (r *memLinkGroups) AdjustCounters(_ context.Context, id int64, reservedDelta, freeDelta int64) error {
	st, done := r.db.enter()
	defer done()
	lg, ok := st.linkGroups[id]
	if !ok {
		return repository.ErrNotFound
	}
	if lg.ReservedBytes+reservedDelta < 0 {
		return fmt.Errorf("%w: reserved_bytes link group %d", repository.ErrConstraint, id)
	}
	lg.ReservedBytes += reservedDelta
	lg.FreeBytes += freeDelta
	return nil
}

// --- Spaces ---

type memSpaces struct{ db *memDB }

func checkSpace(s *model.Space) error {
	if s.UsedSizeInBytes < 0 || s.AllocatedSpaceInBytes < 0 ||
		s.SizeInBytes < s.UsedSizeInBytes+s.AllocatedSpaceInBytes {
		return fmt.Errorf("%w: резервирование %d", repository.ErrConstraint, s.ID)
	}
	return nil
}

func (r *memSpaces) Create(_ context.Context, s *model.Space) error {
	st, done := r.db.enter()
	defer done()
	if _, ok := st.spaces[s.ID]; ok {
		return repository.ErrConflict
	}
	if _, ok := st.linkGroups[s.LinkGroupID]; !ok {
		return fmt.Errorf("нарушение внешнего ключа link_group_id %d", s.LinkGroupID)
	}
	if err := checkSpace(s); err != nil {
		return err
	}
	st.spaces[s.ID] = s.Clone()
	return nil
}

func (r *memSpaces) GetByID(_ context.Context, id int64) (*model.Space, error) {
	st, done := r.db.enter()
	defer done()
	s, ok := st.spaces[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *memSpaces) GetByIDForUpdate(ctx context.Context, id int64) (*model.Space, error) {
	return r.GetByID(ctx, id)
}

func (r *memSpaces) List(_ context.Context, f repository.SpaceFilter) ([]*model.Space, error) {
	st, done := r.db.enter()
	defer done()
	var result []*model.Space
	for _, s := range st.spaces {
		if f.VoGroup != nil && s.VoGroup != *f.VoGroup ||
			f.VoRole != nil && s.VoRole != *f.VoRole ||
			f.LinkGroupID != nil && s.LinkGroupID != *f.LinkGroupID ||
			f.State != nil && s.State != *f.State {
			continue
		}
		if f.Description != nil && (s.Description == nil || *s.Description != *f.Description) {
			continue
		}
		result = append(result, s.Clone())
	}
	slices.SortFunc(result, func(a, b *model.Space) int { return int(a.ID - b.ID) })
	return result, nil
}

func (r *memSpaces) Update(_ context.Context, s *model.Space) error {
	st, done := r.db.enter()
	defer done()
	if _, ok := st.spaces[s.ID]; !ok {
		return repository.ErrNotFound
	}
	if err := checkSpace(s); err != nil {
		return err
	}
	st.spaces[s.ID] = s.Clone()
	return nil
}

func (r *memSpaces) Delete(_ context.Context, id int64) error {
	st, done := r.db.enter()
	defer done()
	if _, ok := st.spaces[id]; !ok {
		return repository.ErrNotFound
	}
	for _, f := range st.files {
		if f.SpaceID == id {
			return fmt.Errorf("нарушение внешнего ключа: файл %d ссылается на резервирование %d", f.ID, id)
		}
	}
	delete(st.spaces, id)
	return nil
}

func (r *memSpaces) ListExpired(_ context.Context, now time.Time, limit int) ([]int64, error) {
	st, done := r.db.enter()
	defer done()
	var ids []int64
	for _, s := range st.spaces {
		if s.State == model.SpaceReserved && s.IsExpired(now) {
			ids = append(ids, s.ID)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// --- Files ---

type memFiles struct{ db *memDB }

// checkFileUnique повторяет частичные уникальные индексы таблицы files.
func checkFileUnique(st *memState, f *model.File) error {
	for _, other := range st.files {
		if other.ID == f.ID {
			continue
		}
		if f.NamespaceID != nil && other.NamespaceID != nil && *f.NamespaceID == *other.NamespaceID {
			return fmt.Errorf("%w: namespace_id %s", repository.ErrConflict, *f.NamespaceID)
		}
		if f.Path != nil && other.Path != nil && *f.Path == *other.Path &&
			!f.Deleted && !other.Deleted && f.State.IsPending() && other.State.IsPending() {
			return fmt.Errorf("%w: путь %s", repository.ErrConflict, *f.Path)
		}
	}
	return nil
}

func (r *memFiles) Create(_ context.Context, f *model.File) error {
	st, done := r.db.enter()
	defer done()
	if _, ok := st.files[f.ID]; ok {
		return repository.ErrConflict
	}
	if _, ok := st.spaces[f.SpaceID]; !ok {
		return fmt.Errorf("нарушение внешнего ключа space_id %d", f.SpaceID)
	}
	if err := checkFileUnique(st, f); err != nil {
		return err
	}
	st.files[f.ID] = f.Clone()
	return nil
}

func (r *memFiles) GetByID(_ context.Context, id int64) (*model.File, error) {
	st, done := r.db.enter()
	defer done()
	f, ok := st.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.Clone(), nil
}

func (r *memFiles) GetByIDForUpdate(ctx context.Context, id int64) (*model.File, error) {
	return r.GetByID(ctx, id)
}

func (r *memFiles) GetByNamespaceID(_ context.Context, nsid string) (*model.File, error) {
	st, done := r.db.enter()
	defer done()
	for _, f := range st.files {
		if f.NamespaceID != nil && *f.NamespaceID == nsid {
			return f.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memFiles) GetByNamespaceIDForUpdate(ctx context.Context, nsid string) (*model.File, error) {
	return r.GetByNamespaceID(ctx, nsid)
}

func (r *memFiles) sorted(match func(f *model.File) bool) []*model.File {
	st, done := r.db.enter()
	defer done()
	var result []*model.File
	for _, f := range st.files {
		if match(f) {
			result = append(result, f.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *model.File) int { return int(a.ID - b.ID) })
	return result
}

func (r *memFiles) ListBySpace(_ context.Context, spaceID int64, limit, offset int) ([]*model.File, error) {
	result := r.sorted(func(f *model.File) bool { return f.SpaceID == spaceID })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memFiles) CountBySpace(_ context.Context, spaceID int64) (int, error) {
	return len(r.sorted(func(f *model.File) bool { return f.SpaceID == spaceID })), nil
}

func (r *memFiles) FindPendingByPath(_ context.Context, spaceID int64, path string) ([]*model.File, error) {
	return r.sorted(func(f *model.File) bool {
		return f.Path != nil && *f.Path == path &&
			(spaceID == 0 || f.SpaceID == spaceID) &&
			!f.Deleted && f.State.IsPending()
	}), nil
}

func (r *memFiles) ListExpired(_ context.Context, now time.Time, limit int) ([]*model.File, error) {
	result := r.sorted(func(f *model.File) bool {
		return f.State.IsPending() && f.IsExpired(now)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memFiles) Update(_ context.Context, f *model.File) error {
	st, done := r.db.enter()
	defer done()
	if _, ok := st.files[f.ID]; !ok {
		return repository.ErrNotFound
	}
	if err := checkFileUnique(st, f); err != nil {
		return err
	}
	st.files[f.ID] = f.Clone()
	return nil
}

func (r *memFiles) Delete(_ context.Context, id int64) error {
	st, done := r.db.enter()
	defer done()
	if _, ok := st.files[id]; !ok {
		return repository.ErrNotFound
	}
	delete(st.files, id)
	return nil
}

// --- Вспомогательные типы тестов ---

// seqIDs — аллокатор идентификаторов для тестов.
type seqIDs struct {
	mu   sync.Mutex
	next int64
}

func (s *seqIDs) Next(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next, nil
}

// voAuthorizer — проверка прав по спискам VO link group без кэша.
type voAuthorizer struct{}

func (voAuthorizer) CheckReservePermission(_ context.Context, subject *model.Subject, lg *model.LinkGroup) (model.VOInfo, error) {
	fqans := subject.FQANs
	if len(fqans) == 0 {
		fqans = []model.VOInfo{{Group: subject.Name}}
	}
	for _, fqan := range fqans {
		for _, vo := range lg.VOs {
			if vo.Matches(fqan.Group, fqan.Role) {
				return fqan, nil
			}
		}
	}
	return model.VOInfo{}, fmt.Errorf("%w: %s в link group %s", ErrAuthorization, subject.Name, lg.Name)
}

func (voAuthorizer) CheckReleasePermission(_ context.Context, subject *model.Subject, space *model.Space) error {
	if space.VoGroup == "" || space.VoGroup == model.Wildcard {
		return nil
	}
	for _, fqan := range subject.FQANs {
		if fqan.Group == space.VoGroup {
			return nil
		}
	}
	if subject.Name == space.VoGroup {
		return nil
	}
	return fmt.Errorf("%w: %s не владелец резервирования %d", ErrAuthorization, subject.Name, space.ID)
}

// fakeNamespace — namespace, запоминающий удаления.
type fakeNamespace struct {
	mu      sync.Mutex
	deleted []string
	err     error
	// afterDelete вызывается после успешного удаления записи
	afterDelete func()
}

func (n *fakeNamespace) DeleteEntry(_ context.Context, nsid, path string) error {
	n.mu.Lock()
	if n.err != nil {
		n.mu.Unlock()
		return n.err
	}
	n.deleted = append(n.deleted, nsid+"|"+path)
	hook := n.afterDelete
	n.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (n *fakeNamespace) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deleted)
}

// fakeHint — подсказка pool manager с фиксированным ответом.
type fakeHint struct {
	names []string
	err   error
	calls int
}

func (h *fakeHint) NarrowCandidates(_ context.Context, _ string, _ map[string]string, _ []string) ([]string, error) {
	h.calls++
	return h.names, h.err
}

// testEnv — собранный сервисный слой поверх memStore.
type testEnv struct {
	store   *memStore
	acc     *Accounting
	lgs     *LinkGroupService
	spaces  *SpaceService
	files   *FileService
	sweeper *Sweeper
	ns      *fakeNamespace
	hint    *fakeHint
	clock   time.Time
}

var atlas = &model.Subject{
	Name:  "alice",
	FQANs: []model.VOInfo{{Group: "/atlas", Role: "production"}},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(policy FilePolicy) *testEnv {
	env := &testEnv{
		store: newMemStore(),
		ns:    &fakeNamespace{},
		hint:  &fakeHint{},
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := discardLogger()

	env.acc = NewAccounting(env.store, &seqIDs{}, RetryPolicy{Attempts: 3}, logger)
	env.acc.now = func() time.Time { return env.clock }

	placement := NewPlacementSelector(env.store.Repos().LinkGroups, voAuthorizer{}, env.hint, logger)
	env.lgs = NewLinkGroupService(env.acc, logger)
	env.spaces = NewSpaceService(env.acc, placement, voAuthorizer{}, logger)
	env.files = NewFileService(env.acc, placement, env.ns, policy, logger)
	env.sweeper = NewSweeper(env.spaces, env.files, true, time.Minute, logger)
	return env
}
