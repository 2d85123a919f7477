package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erauner12/trendy-sync/internal/api"
	"github.com/erauner12/trendy-sync/internal/model"
	"github.com/erauner12/trendy-sync/internal/store"
)

// fakeDB is shared in-memory state behind fakeStore handles, standing
// in for the SQLite file.
type fakeDB struct {
	mu        sync.Mutex
	entities  map[string]store.EntityRecord
	mutations map[int64]*model.PendingMutation
	nextID    int64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		entities:  make(map[string]store.EntityRecord),
		mutations: make(map[int64]*model.PendingMutation),
	}
}

func (db *fakeDB) factory() store.Factory {
	return func(ctx context.Context) (store.Store, error) {
		return &fakeStore{db: db}, nil
	}
}

func entityKey(kind model.EntityKind, id string) string {
	return string(kind) + "/" + id
}

func (db *fakeDB) entity(kind model.EntityKind, id string) (store.EntityRecord, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rec, ok := db.entities[entityKey(kind, id)]
	return rec, ok
}

func (db *fakeDB) entityCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.entities)
}

func (db *fakeDB) queueLen() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, m := range db.mutations {
		if !m.Failed {
			n++
		}
	}
	return n
}

func (db *fakeDB) snapshot() map[string]string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make(map[string]string, len(db.entities))
	for k, rec := range db.entities {
		out[k] = string(rec.Data)
	}
	return out
}

// addMutation seeds the outbox directly, bypassing the Writer.
func (db *fakeDB) addMutation(m model.PendingMutation) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	m.ID = db.nextID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Unix(m.ID, 0)
	}
	if m.IdempotencyToken == "" {
		m.IdempotencyToken = fmt.Sprintf("token-%d", m.ID)
	}
	db.mutations[m.ID] = &m
	return m.ID
}

// fakeStore is one handle over fakeDB, implementing store.Store.
type fakeStore struct {
	db     *fakeDB
	closed bool
}

func (s *fakeStore) Close() error {
	s.closed = true
	return nil
}

func (s *fakeStore) UpsertEntity(ctx context.Context, rec store.EntityRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.entities[entityKey(rec.Kind, rec.EntityID)] = rec
	return nil
}

func (s *fakeStore) GetEntity(ctx context.Context, kind model.EntityKind, entityID string) (*store.EntityRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.entities[entityKey(kind, entityID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *fakeStore) DeleteEntity(ctx context.Context, kind model.EntityKind, entityID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.entities, entityKey(kind, entityID))
	return nil
}

func (s *fakeStore) SetEntityStatus(ctx context.Context, kind model.EntityKind, entityID string, status model.SyncStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := entityKey(kind, entityID)
	if rec, ok := s.db.entities[key]; ok {
		rec.Status = status
		s.db.entities[key] = rec
	}
	return nil
}

func (s *fakeStore) WipeEntities(ctx context.Context) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.entities = make(map[string]store.EntityRecord)
	return nil
}

func (s *fakeStore) ApplyRemoteOps(ctx context.Context, ops []store.RemoteOp) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, op := range ops {
		key := entityKey(op.Kind, op.EntityID)
		if op.Delete {
			delete(s.db.entities, key)
			continue
		}
		s.db.entities[key] = store.EntityRecord{
			Kind:     op.Kind,
			EntityID: op.EntityID,
			Data:     op.Data,
			Status:   model.SyncStatusSynced,
		}
	}
	return nil
}

func (s *fakeStore) InsertMutation(ctx context.Context, m *model.PendingMutation) error {
	m.ID = s.db.addMutation(*m)
	return nil
}

func (s *fakeStore) sorted(failed bool) []model.PendingMutation {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.PendingMutation
	for id := int64(1); id <= s.db.nextID; id++ {
		if m, ok := s.db.mutations[id]; ok && m.Failed == failed {
			out = append(out, *m)
		}
	}
	return out
}

func (s *fakeStore) PendingMutations(ctx context.Context) ([]model.PendingMutation, error) {
	return s.sorted(false), nil
}

func (s *fakeStore) FailedMutations(ctx context.Context) ([]model.PendingMutation, error) {
	return s.sorted(true), nil
}

func (s *fakeStore) DeleteMutation(ctx context.Context, id int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.mutations, id)
	return nil
}

func (s *fakeStore) RecordMutationFailure(ctx context.Context, id int64, message string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.mutations[id]
	if !ok {
		return 0, fmt.Errorf("mutation %d not found", id)
	}
	m.Attempts++
	m.LastError = message
	now := time.Now()
	m.LastAttemptAt = &now
	return m.Attempts, nil
}

func (s *fakeStore) MarkMutationFailed(ctx context.Context, id int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if m, ok := s.db.mutations[id]; ok {
		m.Failed = true
	}
	return nil
}

func (s *fakeStore) MutationCounts(ctx context.Context) (pending, failed int, err error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, m := range s.db.mutations {
		if m.Failed {
			failed++
		} else {
			pending++
		}
	}
	return pending, failed, nil
}

func (s *fakeStore) HasPendingDelete(ctx context.Context, kind model.EntityKind, entityID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, m := range s.db.mutations {
		if !m.Failed && m.Operation == model.OpDelete && m.EntityKind == kind && m.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ApplyLocalWrite(ctx context.Context, rec *store.EntityRecord, m *model.PendingMutation) error {
	s.db.mu.Lock()
	if rec != nil {
		s.db.entities[entityKey(rec.Kind, rec.EntityID)] = *rec
	} else {
		delete(s.db.entities, entityKey(m.EntityKind, m.EntityID))
	}
	s.db.mu.Unlock()
	return s.InsertMutation(ctx, m)
}

// memCursor is an in-memory CursorStore.
type memCursor struct {
	mu sync.Mutex
	v  int64
}

func (c *memCursor) Cursor() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v, nil
}

func (c *memCursor) SetCursor(v int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v < c.v {
		return store.ErrCursorRegression
	}
	c.v = v
	return nil
}

func (c *memCursor) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = 0
	return nil
}

// fakeAPI is a scripted network capability. Every hook defaults to
// success; NetworkCalls counts every request issued.
type fakeAPI struct {
	mu           sync.Mutex
	networkCalls int

	healthErr error
	createFn  func(kind model.EntityKind, payload json.RawMessage, token string) error
	batchFn   func(payloads []json.RawMessage, token string) (*api.BatchCreateEventsResponse, error)
	updateFn  func(kind model.EntityKind, entityID string, payload json.RawMessage) error
	deleteFn  func(kind model.EntityKind, entityID string) error
	changesFn func(since int64, limit int) (*model.ChangeFeedPage, error)
	latestFn  func() (int64, error)
	listFn    func(kind model.EntityKind, offset, limit int) ([]json.RawMessage, bool, error)

	// createdByToken models server-side idempotency: entities created
	// per token, counted per entity id.
	createdByToken map[string]string
	createdByID    map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		createdByToken: make(map[string]string),
		createdByID:    make(map[string]int),
	}
}

func (f *fakeAPI) bump() {
	f.mu.Lock()
	f.networkCalls++
	f.mu.Unlock()
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networkCalls
}

func (f *fakeAPI) Health(ctx context.Context) error {
	f.bump()
	return f.healthErr
}

func (f *fakeAPI) Changes(ctx context.Context, since int64, limit int) (*model.ChangeFeedPage, error) {
	f.bump()
	if f.changesFn != nil {
		return f.changesFn(since, limit)
	}
	return &model.ChangeFeedPage{}, nil
}

func (f *fakeAPI) LatestCursor(ctx context.Context) (int64, error) {
	f.bump()
	if f.latestFn != nil {
		return f.latestFn()
	}
	return 0, nil
}

func (f *fakeAPI) List(ctx context.Context, kind model.EntityKind, offset, limit int) ([]json.RawMessage, bool, error) {
	f.bump()
	if f.listFn != nil {
		return f.listFn(kind, offset, limit)
	}
	return nil, false, nil
}

func (f *fakeAPI) Create(ctx context.Context, kind model.EntityKind, payload json.RawMessage, token string) error {
	f.bump()
	if f.createFn != nil {
		if err := f.createFn(kind, payload, token); err != nil {
			return err
		}
	}
	f.recordCreate(payload, token)
	return nil
}

func (f *fakeAPI) recordCreate(payload json.RawMessage, token string) {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(payload, &probe)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.createdByToken[token]; seen {
		// Idempotent replay: server returns the original result.
		return
	}
	f.createdByToken[token] = probe.ID
	f.createdByID[probe.ID]++
}

func (f *fakeAPI) CreateEventsBatch(ctx context.Context, payloads []json.RawMessage, token string) (*api.BatchCreateEventsResponse, error) {
	f.bump()
	if f.batchFn != nil {
		return f.batchFn(payloads, token)
	}
	return &api.BatchCreateEventsResponse{Total: len(payloads)}, nil
}

func (f *fakeAPI) Update(ctx context.Context, kind model.EntityKind, entityID string, payload json.RawMessage) error {
	f.bump()
	if f.updateFn != nil {
		return f.updateFn(kind, entityID, payload)
	}
	return nil
}

func (f *fakeAPI) Delete(ctx context.Context, kind model.EntityKind, entityID string) error {
	f.bump()
	if f.deleteFn != nil {
		return f.deleteFn(kind, entityID)
	}
	return nil
}

var _ API = (*fakeAPI)(nil)
