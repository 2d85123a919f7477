package syncengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erauner12/trendy-sync/internal/api"
	"github.com/erauner12/trendy-sync/internal/model"
	"github.com/erauner12/trendy-sync/internal/store"
	"github.com/rs/zerolog"
)

// bootstrapper performs full-state reconciliation: wipe the local
// entity cache (never the outbox), refetch every collection in
// dependency order, then seed the cursor from the server's high-water
// mark. It only runs when no cursor exists, and it never advances the
// cursor on failure, so an interrupted bootstrap simply reruns from
// scratch.
type bootstrapper struct {
	api      API
	stores   store.Factory
	cursor   store.CursorStore
	breaker  *Breaker
	pageSize int
	logger   zerolog.Logger
}

// run executes one bootstrap. It returns the number of entities
// fetched.
func (b *bootstrapper) run(ctx context.Context) (int, error) {
	// The wipe is destructive; never start one the breaker will not
	// let us finish.
	if b.breaker.Tripped() {
		return 0, BreakerOpenError{Remaining: b.breaker.BackoffRemaining()}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.logger.Info().Msg("starting bootstrap: full refetch of server state")

	// Destructive local reset. Mutations queued before bootstrap stay
	// in the outbox; they are flushed before this point in a normal
	// pass and must never be wiped with the cache.
	st, err := b.stores(ctx)
	if err != nil {
		return 0, StorageError{Op: "bootstrap wipe", Err: err}
	}
	if err := st.WipeEntities(ctx); err != nil {
		st.Close()
		return 0, StorageError{Op: "bootstrap wipe", Err: err}
	}
	st.Close()

	total := 0
	for _, kind := range model.BootstrapOrder {
		n, err := b.fetchKind(ctx, kind)
		if err != nil {
			return total, fmt.Errorf("bootstrap of %s failed: %w", kind, err)
		}
		total += n
	}

	// Seed the watermark last. Everything the full fetch captured is at
	// or before this cursor; anything newer arrives via the next pull.
	latest, err := b.api.LatestCursor(ctx)
	if err != nil {
		if api.IsRateLimit(err) {
			b.breaker.RecordFailure()
		}
		return total, fmt.Errorf("failed to fetch latest cursor: %w", err)
	}
	b.breaker.RecordSuccess()

	if err := b.cursor.SetCursor(latest); err != nil {
		return total, StorageError{Op: "bootstrap cursor seed", Err: err}
	}

	b.logger.Info().
		Int("entities", total).
		Int64("cursor", latest).
		Msg("bootstrap complete")
	return total, nil
}

// fetchKind pages through one collection, upserting each page with a
// fresh store handle.
func (b *bootstrapper) fetchKind(ctx context.Context, kind model.EntityKind) (int, error) {
	count := 0
	offset := 0

	for {
		if b.breaker.Tripped() {
			return count, BreakerOpenError{Remaining: b.breaker.BackoffRemaining()}
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}

		items, hasMore, err := b.api.List(ctx, kind, offset, b.pageSize)
		if err != nil {
			if api.IsRateLimit(err) {
				b.breaker.RecordFailure()
			}
			return count, err
		}
		b.breaker.RecordSuccess()

		if len(items) > 0 {
			if err := b.storePage(ctx, kind, items); err != nil {
				return count, err
			}
			count += len(items)
			offset += len(items)
		}

		if !hasMore || len(items) == 0 {
			break
		}
	}

	b.logger.Debug().Str("kind", string(kind)).Int("count", count).Msg("bootstrapped collection")
	return count, nil
}

func (b *bootstrapper) storePage(ctx context.Context, kind model.EntityKind, items []json.RawMessage) error {
	st, err := b.stores(ctx)
	if err != nil {
		return StorageError{Op: "bootstrap page", Err: err}
	}
	defer st.Close()

	ops := make([]store.RemoteOp, 0, len(items))
	for _, item := range items {
		id, err := entityID(item)
		if err != nil {
			// A row without an id cannot be keyed; skip it rather than
			// abort the whole bootstrap.
			b.logger.Warn().Err(err).Str("kind", string(kind)).Msg("skipping entity without id")
			continue
		}
		ops = append(ops, store.RemoteOp{Kind: kind, EntityID: id, Data: item})
	}

	if err := st.ApplyRemoteOps(ctx, ops); err != nil {
		return StorageError{Op: "bootstrap page", Err: err}
	}
	return nil
}

// entityID extracts the canonical id from a raw entity document.
func entityID(raw json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", err
	}
	if probe.ID == "" {
		return "", fmt.Errorf("entity document has no id")
	}
	return probe.ID, nil
}
