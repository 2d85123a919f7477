package syncengine

import (
	"github.com/erauner12/trendy-sync/internal/model"
	"github.com/erauner12/trendy-sync/internal/store"
)

// resolution is the resolver's verdict on one incoming change entry.
type resolution int

const (
	// resolutionApply means the entry's effect should be written to the
	// local store.
	resolutionApply resolution = iota

	// resolutionIgnore means the entry is dropped by policy. Not an
	// error; the reason is logged for observability.
	resolutionIgnore
)

// resolve is the conflict/dedup decision for one change-feed entry.
// Pure function: all local context arrives as arguments.
//
// Policy:
//   - An in-flight local delete takes precedence over any remote
//     create/update for the same entity (resurrection prevention).
//   - Otherwise remote values win unconditionally (last-write-wins; no
//     timestamp-based rejection).
//   - Dedup is structural: effects are keyed by entity ID, so replaying
//     an entry is a no-op upsert or an idempotent delete.
//
// hasPendingDelete reports whether the outbox holds an unsynced delete
// mutation for the entry's entity.
func resolve(entry model.ChangeEntry, hasPendingDelete bool) (store.RemoteOp, resolution, string) {
	if !entry.EntityType.Valid() {
		// Unknown kind from a newer server; skip rather than guess.
		return store.RemoteOp{}, resolutionIgnore, "unknown entity kind"
	}

	switch entry.Operation {
	case model.OpDelete:
		return store.RemoteOp{
			Kind:     entry.EntityType,
			EntityID: entry.EntityID,
			Delete:   true,
		}, resolutionApply, ""

	case model.OpCreate, model.OpUpdate:
		if hasPendingDelete {
			return store.RemoteOp{}, resolutionIgnore, "resurrection prevented: local delete pending"
		}
		if len(entry.Data) == 0 {
			return store.RemoteOp{}, resolutionIgnore, "create/update entry missing data"
		}
		return store.RemoteOp{
			Kind:     entry.EntityType,
			EntityID: entry.EntityID,
			Data:     entry.Data,
		}, resolutionApply, ""

	default:
		return store.RemoteOp{}, resolutionIgnore, "unknown operation"
	}
}
