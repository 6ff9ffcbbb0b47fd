// Package store persists Session state: creation, per-iteration history
// snapshots, load, list, delete, resume, and rollback, each backed by a
// MongoDB-flavored document model and guarded by a sha256 integrity hash
// over the aggregated research data.
package store

import (
	"errors"
	"time"

	"github.com/hyperifyio/deepresearch/internal/message"
)

// SessionStatus enumerates a session's lifecycle states.
type SessionStatus string

const (
	StatusInit        SessionStatus = "init"
	StatusRunning     SessionStatus = "running"
	StatusCompleted   SessionStatus = "completed"
	StatusInterrupted SessionStatus = "interrupted"
	StatusError       SessionStatus = "error"
)

// ErrNotFound is returned by Load/Delete/Resume/History when no session
// matches the given id.
var ErrNotFound = errors.New("store: session not found")

// ErrRollbackTarget is returned by Rollback when no history entry matches
// the requested iteration.
var ErrRollbackTarget = errors.New("store: no history entry at requested iteration")

// Settings snapshots the request parameters a research run was started
// with.
type Settings struct {
	Messages          message.MessageList `json:"messages" bson:"messages"`
	SystemInstruction string              `json:"system_instruction,omitempty" bson:"system_instruction,omitempty"`
	MaxIterations     int                 `json:"max_iterations" bson:"max_iterations"`
	MaxSearchItems    int                 `json:"max_search_items" bson:"max_search_items"`
	DefaultModel      string              `json:"default_model,omitempty" bson:"default_model,omitempty"`
	ReasonModel       string              `json:"reason_model,omitempty" bson:"reason_model,omitempty"`
}

// ContextRecord is a (source_url, extracted_text) pair produced by the
// judge+extract stages of one iteration.
type ContextRecord struct {
	SourceURL     string `json:"source_url" bson:"source_url"`
	ExtractedText string `json:"extracted_text" bson:"extracted_text"`
}

// Wire renders a ContextRecord in the tagged-string wire form
// "url:<u>\ncontext:<t>" older clients parse.
func (c ContextRecord) Wire() string {
	return "url:" + c.SourceURL + "\ncontext:" + c.ExtractedText
}

// AggregatedData is the mutable research state a run accumulates across
// iterations; it is the subject of the integrity hash.
type AggregatedData struct {
	AllSearchQueries     []string        `json:"all_search_queries" bson:"all_search_queries"`
	AggregatedContexts   []ContextRecord `json:"aggregated_contexts" bson:"aggregated_contexts"`
	LastPlan             string          `json:"last_plan" bson:"last_plan"`
	CurrentIterationData map[string]any  `json:"current_iteration_data,omitempty" bson:"current_iteration_data,omitempty"`
	FinalReportContent   string          `json:"final_report_content,omitempty" bson:"final_report_content,omitempty"`
}

// Clone returns a deep copy, used when snapshotting into History so later
// mutation of the live AggregatedData never rewrites a stored snapshot.
func (a AggregatedData) Clone() AggregatedData {
	out := AggregatedData{
		LastPlan:           a.LastPlan,
		FinalReportContent: a.FinalReportContent,
	}
	out.AllSearchQueries = append([]string(nil), a.AllSearchQueries...)
	out.AggregatedContexts = append([]ContextRecord(nil), a.AggregatedContexts...)
	if a.CurrentIterationData != nil {
		out.CurrentIterationData = make(map[string]any, len(a.CurrentIterationData))
		for k, v := range a.CurrentIterationData {
			out.CurrentIterationData[k] = v
		}
	}
	return out
}

// HistoryEntry is one per-iteration snapshot of AggregatedData.
type HistoryEntry struct {
	Iteration int            `json:"iteration"`
	Timestamp time.Time      `json:"timestamp"`
	Data      AggregatedData `json:"data"`
}

// Session is the unit of persistence for one research run.
type Session struct {
	SessionID         string        `json:"session_id"`
	UserID            string        `json:"user_id,omitempty"`
	UserQuery         string        `json:"user_query"`
	SystemInstruction string        `json:"system_instruction,omitempty"`
	Settings          Settings      `json:"settings"`
	Status            SessionStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	EndTime           *time.Time    `json:"end_time,omitempty"`
	CurrentIteration  int           `json:"current_iteration"`
	AggregatedData    AggregatedData `json:"aggregated_data"`
	History           []HistoryEntry `json:"history"`
	LastError         string        `json:"last_error,omitempty"`
	Version           int           `json:"version"`

	// IntegrityOK is populated by Load; false means the stored hash did not
	// match the recomputed one. It is surfaced on explicit session GETs but
	// never persisted.
	IntegrityOK bool `json:"integrity_ok"`
}

// Summary is the projection GET /sessions returns for each session.
type Summary struct {
	SessionID string        `json:"session_id"`
	UserQuery string        `json:"user_query"`
	Status    SessionStatus `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
}
