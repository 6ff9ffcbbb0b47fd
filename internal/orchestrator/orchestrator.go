// Package orchestrator runs the iterative plan → query → fetch → judge →
// refine state machine, composing Provider, Searcher,
// Fetcher, and Store while emitting progress events over an Emitter.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperifyio/deepresearch/internal/fetch"
	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/provider"
	"github.com/hyperifyio/deepresearch/internal/scheduler"
	"github.com/hyperifyio/deepresearch/internal/search"
	"github.com/hyperifyio/deepresearch/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxIterations  = 15
	defaultMaxSearchItems = 4
	minReportLength       = 200
)

// Request is the input to a single research run.
type Request struct {
	Messages          message.MessageList
	SystemInstruction string
	MaxIterations     int
	MaxSearchItems    int
	DefaultModel      string
	ReasonModel       string
	UserID            string
}

func (r Request) clamped() Request {
	out := r
	if out.MaxIterations <= 0 {
		out.MaxIterations = defaultMaxIterations
	}
	if out.MaxIterations > 50 {
		out.MaxIterations = 50
	}
	if out.MaxSearchItems <= 0 {
		out.MaxSearchItems = defaultMaxSearchItems
	}
	if out.MaxSearchItems > 50 {
		out.MaxSearchItems = 50
	}
	return out
}

// Emitter is the sink for progress events; internal/sse.Stream satisfies it.
type Emitter interface {
	SendSessionID(id string) error
	SendThink(text string) error
	SendContent(text string) error
	SendDone() error
}

// Deps are the collaborators the Orchestrator composes. Fetcher and
// Scheduler are paired: each fetch task in the fan-out acquires Scheduler
// (AcquireFetch) before calling Fetcher, and Fetcher uses the same
// Scheduler for its PDF mutex.
type Deps struct {
	Provider  provider.Provider
	Searcher  search.Searcher
	Fetcher   *fetch.Fetcher
	Scheduler *scheduler.Scheduler
	Store     store.Store
}

// Orchestrator runs research sessions. It is logically single-threaded per
// run: the Scheduler supplies all real parallelism. A value is safe for concurrent Run calls across
// different sessions; it never mutates shared state itself.
type Orchestrator struct {
	Deps Deps
}

// New returns an Orchestrator wired with deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{Deps: deps}
}

// Run executes one research session end to end against emitter, always
// ending with exactly one SendDone call. It returns the
// final session (nil if the request never produced one, e.g. an empty
// query).
func (o *Orchestrator) Run(ctx context.Context, req Request, emitter Emitter) *store.Session {
	req = req.clamped()

	userQuery, ok := req.Messages.FirstNonEmptyContent()
	if !ok {
		_ = emitter.SendContent("Error: User query is missing or empty.")
		_ = emitter.SendDone()
		return nil
	}

	sess := &store.Session{
		UserQuery:         userQuery,
		SystemInstruction: req.SystemInstruction,
		Settings: store.Settings{
			Messages:          req.Messages,
			SystemInstruction: req.SystemInstruction,
			MaxIterations:     req.MaxIterations,
			MaxSearchItems:    req.MaxSearchItems,
			DefaultModel:      req.DefaultModel,
			ReasonModel:       req.ReasonModel,
		},
		UserID:           req.UserID,
		Status:           store.StatusRunning,
		CurrentIteration: -1,
	}

	if o.Deps.Store != nil {
		if err := o.Deps.Store.Save(ctx, sess, -1); err != nil {
			log.Error().Err(err).Msg("orchestrator: initial session save failed")
			_ = emitter.SendContent(fmt.Sprintf("Error: could not create session: %v", err))
			_ = emitter.SendDone()
			return nil
		}
	}
	if err := emitter.SendSessionID(sess.SessionID); err != nil {
		log.Warn().Err(err).Msg("orchestrator: send session id failed")
	}

	currentPlan := o.planInitial(ctx, sess, req, emitter)

	for k := 0; k < req.MaxIterations; k++ {
		if ctx.Err() != nil {
			o.interrupt(sess, emitter)
			return sess
		}
		doneEarly := o.iterate(ctx, sess, req, k, &currentPlan, emitter)
		if doneEarly {
			break
		}
	}

	if ctx.Err() != nil {
		o.interrupt(sess, emitter)
		return sess
	}

	o.report(ctx, sess, req, currentPlan, emitter)

	sess.Status = store.StatusCompleted
	now := time.Now().UTC()
	sess.EndTime = &now
	if o.Deps.Store != nil {
		if err := o.Deps.Store.Save(ctx, sess, req.MaxIterations); err != nil {
			// Mid-run snapshot failures are tolerated, but losing the final
			// snapshot means the completed run is not durable: enter S_ERROR,
			// marking the history attempt with the -1 error iteration.
			log.Error().Err(err).Msg("orchestrator: final session save failed")
			sess.Status = store.StatusError
			sess.LastError = err.Error()
			if retryErr := o.Deps.Store.Save(context.Background(), sess, -1); retryErr != nil {
				log.Error().Err(retryErr).Msg("orchestrator: error-state snapshot also failed")
			}
			_ = emitter.SendThink("Error: failed to persist the completed session: " + err.Error())
		}
	}
	_ = emitter.SendDone()
	return sess
}

func (o *Orchestrator) interrupt(sess *store.Session, emitter Emitter) {
	sess.Status = store.StatusInterrupted
	now := time.Now().UTC()
	sess.EndTime = &now
	if o.Deps.Store != nil {
		// Use a background context: the request context that triggered the
		// interrupt is already done, but the final snapshot must still land.
		if err := o.Deps.Store.Save(context.Background(), sess, sess.CurrentIteration); err != nil {
			log.Error().Err(err).Msg("orchestrator: interrupt snapshot failed")
		}
	}
	_ = emitter.SendDone()
}
