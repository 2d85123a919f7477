package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/erauner12/trendy-sync/internal/api"
	"github.com/erauner12/trendy-sync/internal/model"
	"github.com/erauner12/trendy-sync/internal/store"
	"github.com/rs/zerolog"
)

// flusher drains the mutation outbox: creates of batchable kinds are
// grouped and sent through the batch endpoint, everything else goes out
// individually, all in creation order. The breaker is consulted before
// every network call, so a flush pass is resumable rather than
// all-or-nothing.
type flusher struct {
	api       API
	stores    store.Factory
	breaker   *Breaker
	batchSize int
	logger    zerolog.Logger
}

// flushResult summarizes one flush pass.
type flushResult struct {
	// Synced counts mutations confirmed and removed this pass.
	Synced int

	// Failed lists mutations that exhausted their attempt budget this
	// pass; they are marked failed and surfaced, never silently dropped.
	Failed []model.PendingMutation

	// Stopped is true when the pass ended early (breaker tripped or
	// connectivity lost); remaining mutations stay queued.
	Stopped bool
}

// flush runs one pass over the outbox. It returns an error only for
// fatal storage failures; expected network failure kinds are absorbed
// into the result.
func (f *flusher) flush(ctx context.Context) (*flushResult, error) {
	st, err := f.stores(ctx)
	if err != nil {
		return nil, StorageError{Op: "flush", Err: err}
	}
	defer st.Close()

	pending, err := st.PendingMutations(ctx)
	if err != nil {
		return nil, StorageError{Op: "flush", Err: err}
	}

	res := &flushResult{}
	if len(pending) == 0 {
		return res, nil
	}

	f.logger.Debug().Int("pending", len(pending)).Msg("flushing mutation queue")

	// Walk in creation order, accumulating adjacent batchable creates.
	// Only adjacent creates are grouped so cross-kind FIFO ordering is
	// preserved; reordering is allowed only within a batch.
	var batch []model.PendingMutation
	for i := range pending {
		m := pending[i]

		if m.Operation == model.OpCreate && api.SupportsBatchCreate(m.EntityKind) {
			batch = append(batch, m)
			if len(batch) >= f.batchSize {
				if done := f.sendBatch(ctx, st, batch, res); done {
					return res, nil
				}
				batch = nil
			}
			continue
		}

		if len(batch) > 0 {
			if done := f.sendBatch(ctx, st, batch, res); done {
				return res, nil
			}
			batch = nil
		}

		if done := f.sendOne(ctx, st, &m, res); done {
			return res, nil
		}
	}

	if len(batch) > 0 {
		if f.sendBatch(ctx, st, batch, res) {
			return res, nil
		}
	}

	return res, nil
}

// sendOne delivers a single mutation. The returned bool is true when
// the whole flush pass must stop.
func (f *flusher) sendOne(ctx context.Context, st store.Store, m *model.PendingMutation, res *flushResult) bool {
	if f.breaker.Tripped() {
		res.Stopped = true
		return true
	}
	if ctx.Err() != nil {
		res.Stopped = true
		return true
	}

	var err error
	switch m.Operation {
	case model.OpCreate:
		err = f.api.Create(ctx, m.EntityKind, m.Payload, m.IdempotencyToken)
	case model.OpUpdate:
		err = f.api.Update(ctx, m.EntityKind, m.EntityID, m.Payload)
	case model.OpDelete:
		err = f.api.Delete(ctx, m.EntityKind, m.EntityID)
		if api.IsNotFound(err) {
			// Already gone on the server; the delete is effectively
			// confirmed.
			err = nil
		}
	default:
		err = fmt.Errorf("unknown operation %q", m.Operation)
	}

	if err == nil {
		f.breaker.RecordSuccess()
		return f.confirm(ctx, st, m, res)
	}

	return f.handleFailure(ctx, st, m, err, res)
}

// sendBatch delivers a group of same-kind creates through the batch
// endpoint. Per-item rejections come back in the response and are
// penalized individually.
func (f *flusher) sendBatch(ctx context.Context, st store.Store, batch []model.PendingMutation, res *flushResult) bool {
	if f.breaker.Tripped() {
		res.Stopped = true
		return true
	}
	if ctx.Err() != nil {
		res.Stopped = true
		return true
	}

	payloads := make([]json.RawMessage, len(batch))
	for i, m := range batch {
		payloads[i] = m.Payload
	}

	resp, err := f.api.CreateEventsBatch(ctx, payloads, batchToken(batch))
	if err != nil {
		// A batch-level failure penalizes every member the same way a
		// single mutation would be.
		stop := false
		for i := range batch {
			if f.handleFailure(ctx, st, &batch[i], err, res) {
				stop = true
				break
			}
		}
		return stop
	}

	f.breaker.RecordSuccess()

	// A response that does not account for every member cannot confirm
	// the ones it never saw. This happens when the server replays a
	// cached response for a smaller batch; deliver each member
	// individually under its own token instead of dequeueing blind.
	if resp.Total != len(batch) {
		f.logger.Warn().
			Int("batch", len(batch)).
			Int("responded", resp.Total).
			Msg("batch response does not cover all members, delivering individually")
		for i := range batch {
			if f.sendOne(ctx, st, &batch[i], res) {
				return true
			}
		}
		return false
	}

	rejected := make(map[int]string, len(resp.Errors))
	for _, be := range resp.Errors {
		rejected[be.Index] = be.Message
	}

	for i := range batch {
		m := &batch[i]
		if msg, ok := rejected[i]; ok {
			verr := api.ValidationError{StatusCode: 0, Message: msg}
			if f.handleFailure(ctx, st, m, verr, res) {
				return true
			}
			continue
		}
		if f.confirm(ctx, st, m, res) {
			return true
		}
	}
	return false
}

// batchToken derives the batch idempotency key from its members'
// tokens. A retried batch with identical composition replays the
// server's cached response; a batch whose membership changed between
// passes gets a fresh key, so the server never answers for members it
// has not seen.
func batchToken(batch []model.PendingMutation) string {
	h := sha256.New()
	for _, m := range batch {
		h.Write([]byte(m.IdempotencyToken))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// confirm removes a server-confirmed mutation and marks its record
// synced. Returns true only on fatal storage failure.
func (f *flusher) confirm(ctx context.Context, st store.Store, m *model.PendingMutation, res *flushResult) bool {
	if err := st.DeleteMutation(ctx, m.ID); err != nil {
		f.logger.Error().Err(err).Int64("mutationId", m.ID).Msg("failed to dequeue confirmed mutation")
		res.Stopped = true
		return true
	}
	if m.Operation != model.OpDelete {
		if err := st.SetEntityStatus(ctx, m.EntityKind, m.EntityID, model.SyncStatusSynced); err != nil {
			f.logger.Warn().Err(err).
				Str("kind", string(m.EntityKind)).
				Str("entityId", m.EntityID).
				Msg("failed to mark record synced")
		}
	}
	res.Synced++
	f.logger.Debug().
		Str("kind", string(m.EntityKind)).
		Str("op", string(m.Operation)).
		Str("entityId", m.EntityID).
		Msg("mutation confirmed")
	return false
}

// handleFailure applies the error taxonomy to one failed delivery.
// Returns true when the flush pass must stop.
func (f *flusher) handleFailure(ctx context.Context, st store.Store, m *model.PendingMutation, err error, res *flushResult) bool {
	switch {
	case api.IsRateLimit(err):
		// Breaker bookkeeping; the mutation stays queued untouched for
		// the next pass.
		f.breaker.RecordFailure()
		f.logger.Warn().
			Int64("mutationId", m.ID).
			Msg("rate limited, stopping flush pass")
		res.Stopped = true
		return true

	case api.IsTransient(err):
		// Connectivity is gone; no penalty, resume next pass.
		f.logger.Warn().Err(err).
			Int64("mutationId", m.ID).
			Msg("transient failure, stopping flush pass")
		res.Stopped = true
		return true

	case ctx.Err() != nil:
		res.Stopped = true
		return true

	default:
		// Server rejected the mutation; count it against the budget.
		attempts, serr := st.RecordMutationFailure(ctx, m.ID, err.Error())
		if serr != nil {
			f.logger.Error().Err(serr).Int64("mutationId", m.ID).Msg("failed to record mutation failure")
			res.Stopped = true
			return true
		}

		f.logger.Warn().Err(err).
			Int64("mutationId", m.ID).
			Int("attempts", attempts).
			Str("kind", string(m.EntityKind)).
			Str("op", string(m.Operation)).
			Msg("mutation rejected")

		if attempts >= model.MaxMutationAttempts {
			if serr := st.MarkMutationFailed(ctx, m.ID); serr != nil {
				f.logger.Error().Err(serr).Int64("mutationId", m.ID).Msg("failed to mark mutation permanently failed")
				res.Stopped = true
				return true
			}
			if serr := st.SetEntityStatus(ctx, m.EntityKind, m.EntityID, model.SyncStatusFailed); serr != nil {
				f.logger.Warn().Err(serr).Int64("mutationId", m.ID).Msg("failed to flag record as failed")
			}
			m.Failed = true
			m.Attempts = attempts
			m.LastError = err.Error()
			res.Failed = append(res.Failed, *m)
			f.logger.Error().
				Int64("mutationId", m.ID).
				Str("kind", string(m.EntityKind)).
				Str("entityId", m.EntityID).
				Msg("mutation permanently failed after max attempts")
		}
		return false
	}
}
