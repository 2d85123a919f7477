package syncengine

import (
	"context"

	"github.com/erauner12/trendy-sync/internal/api"
	"github.com/erauner12/trendy-sync/internal/model"
	"github.com/erauner12/trendy-sync/internal/store"
	"github.com/rs/zerolog"
)

// puller drives the incremental change feed: request pages after the
// cursor, resolve each entry, apply the page atomically, advance the
// cursor, repeat until the server reports no more changes.
type puller struct {
	api     API
	stores  store.Factory
	cursor  store.CursorStore
	breaker *Breaker
	limit   int
	logger  zerolog.Logger
}

// pullResult summarizes one incremental pull.
type pullResult struct {
	Applied int   // change entries written to the local store
	Ignored int   // entries dropped by resolver policy
	Pages   int   // fully applied pages
	Cursor  int64 // persisted cursor after the pull
	Stopped bool  // ended early (breaker, rate limit, connectivity)
}

// run executes pull pages until the feed is exhausted or the pass must
// stop. Page application and cursor advancement are ordered so a crash
// between them only ever replays a fully-applied page, which is
// idempotent by construction.
func (p *puller) run(ctx context.Context) (*pullResult, error) {
	res := &pullResult{}

	since, err := p.cursor.Cursor()
	if err != nil {
		return res, StorageError{Op: "pull cursor read", Err: err}
	}
	res.Cursor = since

	for {
		if p.breaker.Tripped() {
			res.Stopped = true
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			res.Stopped = true
			return res, nil
		}

		page, err := p.api.Changes(ctx, since, p.limit)
		if err != nil {
			if api.IsRateLimit(err) {
				p.breaker.RecordFailure()
				res.Stopped = true
				return res, nil
			}
			if api.IsTransient(err) {
				res.Stopped = true
				return res, nil
			}
			return res, err
		}
		p.breaker.RecordSuccess()

		if len(page.Changes) == 0 {
			return res, nil
		}

		applied, ignored, err := p.applyPage(ctx, page.Changes)
		if err != nil {
			return res, err
		}
		res.Applied += applied
		res.Ignored += ignored
		res.Pages++

		// Advance only after the whole page is committed.
		high := page.MaxCursor()
		if high > since {
			if err := p.cursor.SetCursor(high); err != nil {
				return res, StorageError{Op: "pull cursor advance", Err: err}
			}
			since = high
			res.Cursor = high
		}

		p.logger.Debug().
			Int("applied", applied).
			Int("ignored", ignored).
			Int64("cursor", since).
			Bool("hasMore", page.HasMore).
			Msg("applied change feed page")

		if !page.HasMore {
			return res, nil
		}
	}
}

// applyPage resolves every entry in a page and commits the resulting
// effects in one transaction.
func (p *puller) applyPage(ctx context.Context, entries []model.ChangeEntry) (applied, ignored int, err error) {
	st, err := p.stores(ctx)
	if err != nil {
		return 0, 0, StorageError{Op: "pull page", Err: err}
	}
	defer st.Close()

	ops := make([]store.RemoteOp, 0, len(entries))
	for _, entry := range entries {
		pendingDelete := false
		if entry.Operation != model.OpDelete {
			pendingDelete, err = st.HasPendingDelete(ctx, entry.EntityType, entry.EntityID)
			if err != nil {
				return 0, 0, StorageError{Op: "pull page", Err: err}
			}
		}

		op, verdict, reason := resolve(entry, pendingDelete)
		if verdict == resolutionIgnore {
			ignored++
			p.logger.Info().
				Str("kind", string(entry.EntityType)).
				Str("op", string(entry.Operation)).
				Str("entityId", entry.EntityID).
				Int64("changeId", entry.ID).
				Str("reason", reason).
				Msg("change entry ignored by policy")
			continue
		}
		ops = append(ops, op)
	}

	if err := st.ApplyRemoteOps(ctx, ops); err != nil {
		return 0, 0, StorageError{Op: "pull page", Err: err}
	}
	return len(ops), ignored, nil
}
