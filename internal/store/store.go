package store

import "context"

// Store is the persistence contract the orchestrator and API depend on.
// Implementations never need more than one in-flight call per session —
// the API serves one request per session at a time — but may see
// concurrent calls across different sessions.
type Store interface {
	// Save inserts a new session (when SessionID is empty, allocating one)
	// or updates an existing one, pushing a new history entry tagged with
	// iteration. It recomputes and persists the integrity hash either way.
	Save(ctx context.Context, session *Session, iteration int) error

	// Load returns the full session, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// List returns summaries ordered by insertion, optionally filtered to
	// a single user_id. Sessions whose stored hash no longer matches are
	// excluded (they remain loadable via Load).
	List(ctx context.Context, userID string) ([]Summary, error)

	// Delete removes the session and its integrity hash record.
	Delete(ctx context.Context, sessionID string) error

	// Resume returns the latest persisted state so the caller can continue
	// from session.CurrentIteration. It never replays a partially completed
	// iteration.
	Resume(ctx context.Context, sessionID string) (*Session, error)

	// History returns the ordered history entries for a session.
	History(ctx context.Context, sessionID string) ([]HistoryEntry, error)

	// Rollback overwrites the session's live data and current_iteration
	// from the latest history entry at targetIteration, or returns
	// ErrRollbackTarget.
	Rollback(ctx context.Context, sessionID string, targetIteration int) (*Session, error)
}
