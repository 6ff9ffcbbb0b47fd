// Package search provides the Searcher capability used by the orchestrator
// to turn a planned query into an ordered list of candidate URLs.
package search

import "context"

// Searcher issues a single query against a meta-search backend and returns
// an ordered list of result URLs. Implementations never return an error to
// the caller for a failed or empty search — they return a nil/empty slice
// instead, so a bad query degrades a single iteration rather than aborting
// the run.
type Searcher interface {
	Search(ctx context.Context, query string) []string
}
