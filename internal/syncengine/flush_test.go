package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/erauner12/trendy-sync/internal/api"
	"github.com/erauner12/trendy-sync/internal/model"
	"github.com/rs/zerolog"
)

func newTestFlusher(db *fakeDB, client *fakeAPI, b *Breaker) *flusher {
	return &flusher{
		api:       client,
		stores:    db.factory(),
		breaker:   b,
		batchSize: 25,
		logger:    zerolog.Nop(),
	}
}

func eventCreateMutation(id string) model.PendingMutation {
	payload, _ := json.Marshal(map[string]string{"id": id, "event_type_id": "et-1"})
	return model.PendingMutation{
		IdempotencyToken: "token-" + id,
		EntityKind:       model.KindEvent,
		Operation:        model.OpCreate,
		EntityID:         id,
		Payload:          payload,
	}
}

func TestFlushEmptyQueue(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()
	f := newTestFlusher(db, client, NewBreaker())

	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if res.Synced != 0 || res.Stopped {
		t.Fatalf("flush() = %+v, want empty result", res)
	}
	if client.calls() != 0 {
		t.Fatalf("network calls = %d, want 0", client.calls())
	}
}

func TestFlushBatchesAdjacentEventCreates(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()

	var batches [][]json.RawMessage
	client.batchFn = func(payloads []json.RawMessage, token string) (*api.BatchCreateEventsResponse, error) {
		batches = append(batches, payloads)
		return &api.BatchCreateEventsResponse{Total: len(payloads)}, nil
	}

	for i := 0; i < 3; i++ {
		db.addMutation(eventCreateMutation(fmt.Sprintf("ev-%d", i)))
	}

	f := newTestFlusher(db, client, NewBreaker())
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if res.Synced != 3 {
		t.Fatalf("Synced = %d, want 3", res.Synced)
	}
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("batches = %d (first size %d), want one batch of 3", len(batches), len(batches[0]))
	}
	if db.queueLen() != 0 {
		t.Fatalf("queue length = %d after flush, want 0", db.queueLen())
	}
}

func TestFlushPreservesFIFOAcrossKinds(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()

	var order []string
	client.batchFn = func(payloads []json.RawMessage, token string) (*api.BatchCreateEventsResponse, error) {
		order = append(order, fmt.Sprintf("batch:%d", len(payloads)))
		return &api.BatchCreateEventsResponse{Total: len(payloads)}, nil
	}
	client.deleteFn = func(kind model.EntityKind, entityID string) error {
		order = append(order, "delete:"+entityID)
		return nil
	}

	db.addMutation(eventCreateMutation("ev-1"))
	db.addMutation(eventCreateMutation("ev-2"))
	db.addMutation(model.PendingMutation{
		EntityKind: model.KindEventType, Operation: model.OpDelete, EntityID: "et-9",
	})
	db.addMutation(eventCreateMutation("ev-3"))

	f := newTestFlusher(db, client, NewBreaker())
	if _, err := f.flush(context.Background()); err != nil {
		t.Fatalf("flush() error = %v", err)
	}

	want := []string{"batch:2", "delete:et-9", "batch:1"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestFlushNoNetworkCallsWhileTripped(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()
	clock := newFakeClock()
	b := NewBreakerWithClock(clock.now)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	db.addMutation(eventCreateMutation("ev-1"))

	f := newTestFlusher(db, client, b)
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if !res.Stopped {
		t.Fatal("flush should report Stopped while breaker is tripped")
	}
	if client.calls() != 0 {
		t.Fatalf("network calls = %d while tripped, want 0", client.calls())
	}
	if db.queueLen() != 1 {
		t.Fatalf("queue length = %d, want 1 (mutation stays queued)", db.queueLen())
	}
}

func TestFlushStopsOnRateLimit(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()
	client.updateFn = func(kind model.EntityKind, entityID string, payload json.RawMessage) error {
		return api.RateLimitError{}
	}

	db.addMutation(model.PendingMutation{
		EntityKind: model.KindEvent, Operation: model.OpUpdate,
		EntityID: "ev-1", Payload: json.RawMessage(`{"notes":"x"}`),
	})
	db.addMutation(model.PendingMutation{
		EntityKind: model.KindEvent, Operation: model.OpUpdate,
		EntityID: "ev-2", Payload: json.RawMessage(`{"notes":"y"}`),
	})

	b := NewBreaker()
	f := newTestFlusher(db, client, b)
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if !res.Stopped {
		t.Fatal("flush should stop on rate limit")
	}
	// Only the first mutation reached the network.
	if client.calls() != 1 {
		t.Fatalf("network calls = %d, want 1", client.calls())
	}
	// Rate-limited items stay queued with no attempt penalty.
	if db.queueLen() != 2 {
		t.Fatalf("queue length = %d, want 2", db.queueLen())
	}
	st := &fakeStore{db: db}
	pending, _ := st.PendingMutations(context.Background())
	if pending[0].Attempts != 0 {
		t.Fatalf("rate-limited mutation attempts = %d, want 0", pending[0].Attempts)
	}
}

func TestFlushValidationFailureContinues(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()
	client.updateFn = func(kind model.EntityKind, entityID string, payload json.RawMessage) error {
		if entityID == "ev-bad" {
			return api.ValidationError{StatusCode: 400, Message: "invalid event type"}
		}
		return nil
	}

	db.addMutation(model.PendingMutation{
		EntityKind: model.KindEvent, Operation: model.OpUpdate,
		EntityID: "ev-bad", Payload: json.RawMessage(`{}`),
	})
	db.addMutation(model.PendingMutation{
		EntityKind: model.KindEvent, Operation: model.OpUpdate,
		EntityID: "ev-good", Payload: json.RawMessage(`{}`),
	})

	f := newTestFlusher(db, client, NewBreaker())
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if res.Synced != 1 {
		t.Fatalf("Synced = %d, want 1 (good mutation processed after bad one)", res.Synced)
	}

	st := &fakeStore{db: db}
	pending, _ := st.PendingMutations(context.Background())
	if len(pending) != 1 || pending[0].EntityID != "ev-bad" {
		t.Fatalf("pending = %+v, want only ev-bad", pending)
	}
	if pending[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", pending[0].Attempts)
	}
}

func TestFlushRetryExhaustion(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()
	rejections := 0
	client.updateFn = func(kind model.EntityKind, entityID string, payload json.RawMessage) error {
		rejections++
		return api.ValidationError{StatusCode: 422, Message: "rejected"}
	}

	db.addMutation(model.PendingMutation{
		EntityKind: model.KindEvent, Operation: model.OpUpdate,
		EntityID: "ev-1", Payload: json.RawMessage(`{}`),
	})

	f := newTestFlusher(db, client, NewBreaker())

	// Five passes exhaust the budget.
	var failedReported int
	for i := 0; i < 5; i++ {
		res, err := f.flush(context.Background())
		if err != nil {
			t.Fatalf("flush pass %d error = %v", i+1, err)
		}
		failedReported += len(res.Failed)
	}
	if rejections != model.MaxMutationAttempts {
		t.Fatalf("server saw %d attempts, want %d", rejections, model.MaxMutationAttempts)
	}
	if failedReported != 1 {
		t.Fatalf("permanently failed reported %d times, want 1", failedReported)
	}

	// A sixth pass must not retry it.
	if _, err := f.flush(context.Background()); err != nil {
		t.Fatalf("flush after exhaustion error = %v", err)
	}
	if rejections != model.MaxMutationAttempts {
		t.Fatalf("mutation retried after permanent failure: %d attempts", rejections)
	}

	st := &fakeStore{db: db}
	failed, _ := st.FailedMutations(context.Background())
	if len(failed) != 1 {
		t.Fatalf("failed mutations = %d, want 1 (surfaced, not dropped)", len(failed))
	}
}

func TestFlushTransientStopsWithoutPenalty(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()
	client.deleteFn = func(kind model.EntityKind, entityID string) error {
		return api.TransientError{Err: fmt.Errorf("connection reset")}
	}

	db.addMutation(model.PendingMutation{
		EntityKind: model.KindEvent, Operation: model.OpDelete, EntityID: "ev-1",
	})

	f := newTestFlusher(db, client, NewBreaker())
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if !res.Stopped {
		t.Fatal("flush should stop on transient failure")
	}

	st := &fakeStore{db: db}
	pending, _ := st.PendingMutations(context.Background())
	if len(pending) != 1 || pending[0].Attempts != 0 {
		t.Fatalf("pending = %+v, want untouched mutation", pending)
	}
}

func TestFlushDeleteAlreadyGoneIsConfirmed(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()
	client.deleteFn = func(kind model.EntityKind, entityID string) error {
		return api.NotFoundError{Kind: string(kind), ID: entityID}
	}

	db.addMutation(model.PendingMutation{
		EntityKind: model.KindEvent, Operation: model.OpDelete, EntityID: "ev-1",
	})

	f := newTestFlusher(db, client, NewBreaker())
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if res.Synced != 1 {
		t.Fatalf("Synced = %d, want 1 (404 on delete means already gone)", res.Synced)
	}
	if db.queueLen() != 0 {
		t.Fatalf("queue length = %d, want 0", db.queueLen())
	}
}

func TestFlushIdempotentCreateReplay(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()

	m := model.PendingMutation{
		IdempotencyToken: "fixed-token",
		EntityKind:       model.KindEventType,
		Operation:        model.OpCreate,
		EntityID:         "et-1",
		Payload:          json.RawMessage(`{"id":"et-1","name":"Sleep"}`),
	}

	// First delivery succeeds but the confirmation is "lost": the
	// mutation is re-enqueued as if the process crashed before
	// dequeueing.
	db.addMutation(m)
	f := newTestFlusher(db, client, NewBreaker())
	if _, err := f.flush(context.Background()); err != nil {
		t.Fatalf("flush() error = %v", err)
	}

	db.addMutation(m)
	if _, err := f.flush(context.Background()); err != nil {
		t.Fatalf("replay flush() error = %v", err)
	}

	if n := client.createdByID["et-1"]; n != 1 {
		t.Fatalf("server-side entities for et-1 = %d, want exactly 1", n)
	}
}

func TestBatchTokenTracksMembership(t *testing.T) {
	a := eventCreateMutation("ev-a")
	b := eventCreateMutation("ev-b")
	c := eventCreateMutation("ev-c")

	t1 := batchToken([]model.PendingMutation{a, b})
	t2 := batchToken([]model.PendingMutation{a, b})
	t3 := batchToken([]model.PendingMutation{a, b, c})
	if t1 != t2 {
		t.Fatal("identical composition must derive the same token")
	}
	if t1 == t3 {
		t.Fatal("changed composition must derive a fresh token")
	}
	if t1 == a.IdempotencyToken {
		t.Fatal("batch token must not alias a member's token")
	}
}

func TestFlushBatchRetryWithNewMemberIsFreshRequest(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()

	// Server-side idempotency: a seen key replays the cached response
	// without creating anything, regardless of the new request body.
	committed := make(map[string]int)
	responseLost := true
	client.batchFn = func(payloads []json.RawMessage, token string) (*api.BatchCreateEventsResponse, error) {
		if prev, seen := committed[token]; seen {
			return &api.BatchCreateEventsResponse{Total: prev}, nil
		}
		committed[token] = len(payloads)
		for _, p := range payloads {
			var probe struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(p, &probe)
			// Client-generated IDs: re-sending a known entity upserts.
			client.createdByID[probe.ID] = 1
		}
		if responseLost {
			responseLost = false
			return nil, api.TransientError{Err: fmt.Errorf("connection reset")}
		}
		return &api.BatchCreateEventsResponse{Total: len(payloads)}, nil
	}

	db.addMutation(eventCreateMutation("ev-a"))
	db.addMutation(eventCreateMutation("ev-b"))

	// First pass: the server commits the batch but the response is
	// lost, so nothing is dequeued and no attempts are charged.
	f := newTestFlusher(db, client, NewBreaker())
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if res.Synced != 0 || !res.Stopped {
		t.Fatalf("lost-response pass = %+v, want stopped with nothing synced", res)
	}
	if db.queueLen() != 2 {
		t.Fatalf("queue length = %d, want 2", db.queueLen())
	}

	// A new event arrives before the retry, changing the batch's
	// composition.
	db.addMutation(eventCreateMutation("ev-c"))

	res, err = f.flush(context.Background())
	if err != nil {
		t.Fatalf("retry flush() error = %v", err)
	}
	if res.Synced != 3 {
		t.Fatalf("Synced = %d, want 3", res.Synced)
	}
	if db.queueLen() != 0 {
		t.Fatalf("queue length = %d, want 0", db.queueLen())
	}
	// The retried batch must be a fresh request, not a replay of the
	// two-member response, so the new member actually reaches the
	// server before being dequeued.
	if n := client.createdByID["ev-c"]; n != 1 {
		t.Fatalf("ev-c created %d times on the server, want 1", n)
	}
}

func TestFlushBatchShortResponseDeliversIndividually(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()

	// A response covering fewer members than were sent cannot confirm
	// the rest; the flusher must not dequeue blind.
	client.batchFn = func(payloads []json.RawMessage, token string) (*api.BatchCreateEventsResponse, error) {
		return &api.BatchCreateEventsResponse{Total: len(payloads) - 1}, nil
	}

	db.addMutation(eventCreateMutation("ev-a"))
	db.addMutation(eventCreateMutation("ev-b"))
	db.addMutation(eventCreateMutation("ev-c"))

	f := newTestFlusher(db, client, NewBreaker())
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if res.Synced != 3 {
		t.Fatalf("Synced = %d, want 3", res.Synced)
	}
	if db.queueLen() != 0 {
		t.Fatalf("queue length = %d, want 0", db.queueLen())
	}
	// Fallback delivery goes through the single-create path under each
	// mutation's own token.
	for _, id := range []string{"ev-a", "ev-b", "ev-c"} {
		if n := client.createdByID[id]; n != 1 {
			t.Fatalf("%s created %d times, want exactly 1", id, n)
		}
	}
}

func TestFlushBatchPartialRejection(t *testing.T) {
	db := newFakeDB()
	client := newFakeAPI()
	client.batchFn = func(payloads []json.RawMessage, token string) (*api.BatchCreateEventsResponse, error) {
		return &api.BatchCreateEventsResponse{
			Total:  len(payloads),
			Errors: []api.BatchError{{Index: 1, Message: "invalid event type"}},
		}, nil
	}

	db.addMutation(eventCreateMutation("ev-0"))
	db.addMutation(eventCreateMutation("ev-1"))
	db.addMutation(eventCreateMutation("ev-2"))

	f := newTestFlusher(db, client, NewBreaker())
	res, err := f.flush(context.Background())
	if err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if res.Synced != 2 {
		t.Fatalf("Synced = %d, want 2", res.Synced)
	}

	st := &fakeStore{db: db}
	pending, _ := st.PendingMutations(context.Background())
	if len(pending) != 1 || pending[0].EntityID != "ev-1" {
		t.Fatalf("pending = %+v, want only the rejected ev-1", pending)
	}
	if pending[0].Attempts != 1 {
		t.Fatalf("rejected item attempts = %d, want 1", pending[0].Attempts)
	}
}
