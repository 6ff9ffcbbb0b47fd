package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperifyio/deepresearch/internal/aggregate"
	"github.com/hyperifyio/deepresearch/internal/budget"
	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/provider"
	"github.com/hyperifyio/deepresearch/internal/scheduler"
	"github.com/hyperifyio/deepresearch/internal/store"
	"github.com/hyperifyio/deepresearch/internal/validate"
	"github.com/rs/zerolog/log"
)

// planInitial implements S_PLAN: if the request carried no plan already
// (this system never receives one pre-built, so it always plans), ask the
// reason model for an initial research plan, store the raw (with-think)
// output as LastPlan, and return the tag-stripped plan driving the rest of
// the run's logic.
func (o *Orchestrator) planInitial(ctx context.Context, sess *store.Session, req Request, emitter Emitter) string {
	if o.Deps.Provider == nil {
		return ""
	}
	raw, err := o.Deps.Provider.Generate(ctx, provider.Request{
		Model:    req.ReasonModel,
		Messages: planningSystemMessages(sess.UserQuery),
	})
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: initial plan generation failed")
		return ""
	}
	sess.AggregatedData.LastPlan = raw
	_ = emitter.SendThink(raw)
	return provider.StripThink(raw)
}

// iterate runs one S_ITERATE step (step k) and reports whether the caller
// should break out of the loop early and move to S_REPORT.
func (o *Orchestrator) iterate(ctx context.Context, sess *store.Session, req Request, k int, currentPlan *string, emitter Emitter) bool {
	_ = emitter.SendThink(fmt.Sprintf("Iteration %d/%d\nCurrent plan:\n%s", k+1, req.MaxIterations, *currentPlan))

	queries := o.generateQueries(ctx, sess.UserQuery, *currentPlan, sess.AggregatedData.AllSearchQueries)
	if len(queries) == 0 {
		o.snapshot(ctx, sess, k)
		return true
	}
	sess.AggregatedData.AllSearchQueries = append(sess.AggregatedData.AllSearchQueries, queries...)

	urls := o.searchAndDedupe(ctx, queries, req.MaxSearchItems)
	contexts := o.fetchAndJudge(ctx, req, urls, sess.UserQuery)
	sess.AggregatedData.AggregatedContexts = append(sess.AggregatedData.AggregatedContexts, contexts...)

	doneEarly := false
	if k+1 < req.MaxIterations {
		refined, stop := o.judgeAndRefine(ctx, req, *currentPlan, sess.AggregatedData.AggregatedContexts)
		if stop {
			doneEarly = true
		} else if refined != "" {
			sess.AggregatedData.LastPlan = refined
			*currentPlan = provider.StripThink(refined)
			_ = emitter.SendThink(refined)
		}
	}

	o.snapshot(ctx, sess, k)
	return doneEarly
}

// snapshot records the current iteration index and pushes a Store.Save.
// It runs exactly once per iterate call regardless of which path produced
// the break, so history grows by one entry per iteration.
func (o *Orchestrator) snapshot(ctx context.Context, sess *store.Session, k int) {
	sess.CurrentIteration = k
	if o.Deps.Store == nil {
		return
	}
	if err := o.Deps.Store.Save(ctx, sess, k); err != nil {
		log.Error().Err(err).Int("iteration", k).Msg("orchestrator: iteration snapshot failed")
	}
}

func (o *Orchestrator) generateQueries(ctx context.Context, userQuery, plan string, priorQueries []string) []string {
	if o.Deps.Provider == nil {
		return nil
	}
	return o.Deps.Provider.GenerateAndParseList(ctx, provider.Request{
		Messages: queryGenerationMessages(userQuery, plan, priorQueries),
	})
}

// searchAndDedupe issues one Searcher call per query, serially and in
// order, caps each query's results at maxSearchItems, then deduplicates
// across the whole iteration. This is the only deduplication point in the
// system; repeat URLs in later iterations are fetched again.
func (o *Orchestrator) searchAndDedupe(ctx context.Context, queries []string, maxSearchItems int) []string {
	if o.Deps.Searcher == nil {
		return nil
	}
	groups := make([][]string, 0, len(queries))
	for _, q := range queries {
		results := o.Deps.Searcher.Search(ctx, q)
		if len(results) > maxSearchItems {
			results = results[:maxSearchItems]
		}
		groups = append(groups, results)
	}
	return aggregate.DedupeURLs(groups)
}

// fetchAndJudge fans fetches out across urls with unbounded task-level
// parallelism (the Scheduler bounds real concurrency), waits for every
// link, then judges and extracts context from each fetched page
// sequentially so contexts append in a deterministic order.
func (o *Orchestrator) fetchAndJudge(ctx context.Context, req Request, urls []string, userQuery string) []store.ContextRecord {
	if o.Deps.Fetcher == nil || len(urls) == 0 {
		return nil
	}

	type fetched struct {
		url  string
		text string
	}
	results := make([]fetched, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			var release scheduler.Release
			if o.Deps.Scheduler != nil {
				r, err := o.Deps.Scheduler.AcquireFetch(ctx, scheduler.Host(u))
				if err != nil {
					results[i] = fetched{url: u, text: "Error: scheduler cancelled: " + err.Error()}
					return
				}
				release = r
			}
			text := o.Deps.Fetcher.Fetch(ctx, u)
			if release != nil {
				release()
			}
			results[i] = fetched{url: u, text: text}
		}(i, u)
	}
	wg.Wait()

	out := make([]store.ContextRecord, 0, len(results))
	for _, r := range results {
		if isFetchError(r.text) {
			log.Warn().Str("url", r.url).Msg("orchestrator: fetch error, skipping")
			continue
		}
		if o.Deps.Provider == nil {
			continue
		}
		pageText := clipToContext(req.DefaultModel, r.text)
		useful, err := o.Deps.Provider.Generate(ctx, provider.Request{Messages: usefulnessMessages(userQuery, pageText)})
		if err != nil || !strings.Contains(strings.ToLower(useful), "yes") {
			continue
		}
		extracted, err := o.Deps.Provider.Generate(ctx, provider.Request{Messages: extractContextMessages(userQuery, pageText)})
		if err != nil || strings.TrimSpace(extracted) == "" {
			continue
		}
		out = append(out, store.ContextRecord{SourceURL: r.url, ExtractedText: extracted})
	}
	return out
}

func isFetchError(text string) bool {
	return strings.HasPrefix(text, "Error:") || strings.HasPrefix(text, "Failed to fetch")
}

// clipToContext bounds fetched page text so the judge/extract prompts fit
// the model's context window, reserving room for the instructions and the
// model's own output.
func clipToContext(model, pageText string) string {
	remaining := budget.RemainingContextWithHeadroom(model, 1024, 256)
	maxChars := remaining * 4
	if maxChars > 0 && len(pageText) > maxChars {
		return pageText[:maxChars]
	}
	return pageText
}

// judgeAndRefine calls the combined judge+refine step. stop is true when
// the tag-stripped response is the literal <done> sentinel.
func (o *Orchestrator) judgeAndRefine(ctx context.Context, req Request, plan string, contexts []store.ContextRecord) (refined string, stop bool) {
	if o.Deps.Provider == nil {
		return "", false
	}
	joined := joinContexts(contexts)
	raw, err := o.Deps.Provider.JudgeAndRefine(ctx, provider.Request{
		Model:    req.ReasonModel,
		Messages: judgeRefineMessages(plan, joined),
	})
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: judge/refine failed")
		return "", false
	}
	if strings.EqualFold(strings.TrimSpace(provider.StripThink(raw)), provider.DoneSentinel) {
		return "", true
	}
	return raw, false
}

func joinContexts(contexts []store.ContextRecord) string {
	parts := make([]string, 0, len(contexts))
	for _, c := range contexts {
		parts = append(parts, c.Wire())
	}
	return strings.Join(parts, "\n")
}

// report implements S_REPORT.
func (o *Orchestrator) report(ctx context.Context, sess *store.Session, req Request, plan string, emitter Emitter) {
	_ = emitter.SendThink("Research phase concluded. Generating final report.")

	var reportText string
	if o.Deps.Provider != nil {
		text, err := o.Deps.Provider.Generate(ctx, provider.Request{
			Model:    req.ReasonModel,
			Messages: reportMessages(sess.UserQuery, plan, sess.AggregatedData.AggregatedContexts),
		})
		if err == nil {
			reportText = strings.TrimSpace(text)
		}
	}

	if len(sess.AggregatedData.AggregatedContexts) == 0 && reportText == "" {
		reportText = validate.NoSourcesMarker
	}

	// Only a missing or sub-200-character report triggers the retry
	// envelope. The citation check is advisory: a well-formed report with an
	// unusual bibliography layout still ships as-is.
	if reportText != validate.NoSourcesMarker && len(reportText) < minReportLength {
		reportText = retryEnvelope(sess.UserQuery, plan, sess.AggregatedData.AggregatedContexts)
	} else if err := validate.ValidateReport(reportText); err != nil {
		log.Warn().Err(err).Msg("orchestrator: report failed citation check, emitting as-is")
	}

	sess.AggregatedData.FinalReportContent = reportText
	_ = emitter.SendContent(reportText)
}

func retryEnvelope(userQuery, plan string, contexts []store.ContextRecord) string {
	var b strings.Builder
	b.WriteString("The model did not return a usable report. Use the material below to retry with another model.\n\n")
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "User Query: %s\n\n", userQuery)
	if plan != "" {
		fmt.Fprintf(&b, "Writing plan:\n%s\n\n", plan)
	}
	b.WriteString("Gathered contexts:\n")
	for _, c := range contexts {
		b.WriteString(c.Wire())
		b.WriteString("\n\n")
	}
	b.WriteString("---\n\nWrite a comprehensive, well-structured report addressing the query above, with inline [cite_number] citations and a trailing bibliography built from the source URLs.")
	return b.String()
}

func planningSystemMessages(userQuery string) []message.WireMessage {
	return []message.WireMessage{
		{Role: "system", Content: "You plan multi-step web research campaigns. Given a user query, produce a structured research plan covering key sub-questions and search strategies. Output only the plan."},
		{Role: "user", Content: userQuery},
	}
}

func queryGenerationMessages(userQuery, plan string, priorQueries []string) []message.WireMessage {
	content := "User query: " + userQuery
	if plan != "" {
		content += "\n\nCurrent research plan:\n" + plan
	}
	if len(priorQueries) > 0 {
		content += "\n\nQueries already tried:\n- " + strings.Join(priorQueries, "\n- ")
	}
	return []message.WireMessage{
		{Role: "system", Content: "You generate web search queries for a research plan. Return a JSON array of new, specific search query strings, e.g. [\"query one\", \"query two\"], and nothing else. If no further searches would help, reply with exactly <done>."},
		{Role: "user", Content: content},
	}
}

func usefulnessMessages(userQuery, pageText string) []message.WireMessage {
	return []message.WireMessage{
		{Role: "system", Content: "Judge whether the following page content is useful for answering the user's query. Reply with only yes or no."},
		{Role: "user", Content: "Query: " + userQuery + "\n\nPage content:\n" + pageText},
	}
}

func extractContextMessages(userQuery, pageText string) []message.WireMessage {
	return []message.WireMessage{
		{Role: "system", Content: "Extract the passages of the following page content that are directly relevant to the user's query. Output only the relevant excerpt text."},
		{Role: "user", Content: "Query: " + userQuery + "\n\nPage content:\n" + pageText},
	}
}

func judgeRefineMessages(plan, joinedContexts string) []message.WireMessage {
	return []message.WireMessage{
		{Role: "system", Content: "Judge whether the gathered research contexts sufficiently answer the research plan. If they do, reply with exactly <done>. Otherwise, output a refined research plan for the next iteration."},
		{Role: "user", Content: "Current plan:\n" + plan + "\n\nGathered contexts:\n" + joinedContexts},
	}
}

func reportMessages(userQuery, plan string, contexts []store.ContextRecord) []message.WireMessage {
	var ctxBuilder strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&ctxBuilder, "[%d] %s\n%s\n\n", i+1, c.SourceURL, c.ExtractedText)
	}
	bibliography := "No available sources"
	if len(contexts) > 0 {
		var bib strings.Builder
		for i, c := range contexts {
			fmt.Fprintf(&bib, "[%d] %s\n", i+1, c.SourceURL)
		}
		bibliography = bib.String()
	}
	return []message.WireMessage{
		{Role: "system", Content: "Write a comprehensive, well-structured report answering the user's query using only the numbered contexts provided. Use inline [cite_number] citations matching the context numbers, and end with a bibliography section listing the cited sources. If there are no sources, write the bibliography section as exactly \"No available sources\"."},
		{Role: "user", Content: fmt.Sprintf("User Query: %s\n\nWriting plan:\n%s\n\nNumbered contexts:\n%s\n\nBibliography sources:\n%s", userQuery, plan, ctxBuilder.String(), bibliography)},
	}
}
