// Package syncengine reconciles the local offline-first store with the
// Trendy server: it drains the durable mutation outbox (push), follows
// the server's cursor-ordered change feed (pull), and falls back to a
// full bootstrap refetch when no cursor exists.
//
// The Engine is the single owner of sequencing. External callers may
// invoke Sync concurrently; passes are single-flight and all mutation
// queue, cursor, and breaker bookkeeping happens inside one serialized
// pass. A rate-limit circuit breaker gates every network call so a
// throttling server is never hammered.
//
// The engine consumes two injected capabilities: an API (network) and a
// store.Factory (storage), both satisfied by in-memory fakes in tests.
package syncengine
