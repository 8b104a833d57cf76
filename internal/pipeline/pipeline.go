package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"policy-claims/backend/internal/reasoner"
	"policy-claims/backend/internal/retrieval"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
	"policy-claims/backend/internal/util"
)

// DefaultDomain is used when a query names no domain.
const DefaultDomain = "insurance"

// Stage names used in logs and metrics.
const (
	StageSlots     = "slots"
	StageRetrieve  = "retrieve"
	StageSummarize = "summarize"
	StageDecide    = "decide"
	StageRules     = "rules"
	StageSave      = "save"
)

var (
	// ErrNotFound is returned when a query identifier is unknown.
	ErrNotFound = errors.New("query result not found")
	// ErrEmptyQuery is returned when the query text is blank.
	ErrEmptyQuery = errors.New("query text is required")
)

// SlotExtractor pulls structured facts out of the query text.
type SlotExtractor interface {
	Extract(text string) slots.Set
}

// Retriever returns the clauses most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Clause, error)
}

// RuleEvaluator applies the deterministic business rules.
type RuleEvaluator interface {
	Evaluate(s slots.Set, d rules.Decision) rules.Outcome
}

// ResultStore persists immutable query results.
type ResultStore interface {
	Save(ctx context.Context, result Result) (string, error)
	Load(ctx context.Context, id string) (Result, error)
	List(ctx context.Context, opts ListOptions) ([]Header, int64, error)
}

// ListOptions pages and filters saved results. A zero FinalDecision or a nil
// Overridden matches every result.
type ListOptions struct {
	Offset        int
	Limit         int
	FinalDecision rules.Verdict
	Overridden    *bool
}

// Notifier receives an event after each saved query.
type Notifier interface {
	Publish(event Event)
}

// Query is one claim question.
type Query struct {
	Text   string
	Domain string
	TopK   int
}

// Event is broadcast after a query result is saved.
type Event struct {
	Type          string        `json:"type"`
	QueryID       string        `json:"query_id"`
	FinalDecision rules.Verdict `json:"final_decision"`
	Overridden    bool          `json:"overridden"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Options tunes a Pipeline. Zero values select defaults.
type Options struct {
	TopK     int
	Retry    RetryPolicy
	Metrics  *Metrics
	Notifier Notifier
}

// Pipeline runs claim queries through slot extraction, retrieval, the
// reasoner and the rules engine, and stores the assembled result.
type Pipeline struct {
	extractor SlotExtractor
	retriever Retriever
	reasoner  reasoner.Reasoner
	engine    RuleEvaluator
	store     ResultStore
	topK      int
	retry     RetryPolicy
	metrics   *Metrics
	notifier  Notifier
}

// New wires a pipeline. A nil engine uses the default rule battery.
func New(extractor SlotExtractor, retriever Retriever, r reasoner.Reasoner, engine RuleEvaluator, store ResultStore, opts Options) (*Pipeline, error) {
	if extractor == nil || retriever == nil || r == nil || store == nil {
		return nil, errors.New("pipeline requires an extractor, retriever, reasoner and store")
	}
	if engine == nil {
		engine = rules.New(rules.DefaultConfig())
	}
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	return &Pipeline{
		extractor: extractor,
		retriever: retriever,
		reasoner:  r,
		engine:    engine,
		store:     store,
		topK:      opts.TopK,
		retry:     opts.Retry.withDefaults(),
		metrics:   opts.Metrics,
		notifier:  opts.Notifier,
	}, nil
}

// Process answers a query and returns the saved result. Retrieval and
// reasoner failures degrade the result instead of failing the query; only a
// failed save is returned as an error.
func (p *Pipeline) Process(ctx context.Context, q Query) (Result, error) {
	timer := util.StartTimer()
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Result{}, ErrEmptyQuery
	}
	domain := strings.TrimSpace(q.Domain)
	if domain == "" {
		domain = DefaultDomain
	}
	k := q.TopK
	if k <= 0 {
		k = p.topK
	}
	log := logrus.WithField("domain", domain)

	var (
		extracted slots.Set
		clauses   []retrieval.Clause
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := util.StartTimer()
		extracted = p.extractor.Extract(text)
		p.metrics.ObserveStage(StageSlots, "ok", start.Elapsed())
		return nil
	})
	g.Go(func() error {
		start := util.StartTimer()
		found, err := p.retriever.Retrieve(gctx, text, k)
		if err != nil {
			p.degrade(log, StageRetrieve, err, start)
			found = []retrieval.Clause{}
		} else {
			p.metrics.ObserveStage(StageRetrieve, "ok", start.Elapsed())
		}
		clauses = found
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	summaries := p.summarize(ctx, log, clauses)
	decision := p.decide(ctx, log, summaries, extracted, domain)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	start := util.StartTimer()
	outcome := p.engine.Evaluate(extracted, decision)
	p.metrics.ObserveStage(StageRules, "ok", start.Elapsed())

	result := Assemble(text, domain, extracted, clauses, summaries, decision, outcome)
	result.ProcessingTimeMs = timer.ElapsedMs()
	result.CreatedAt = time.Now().UTC()

	start = util.StartTimer()
	id, err := p.store.Save(ctx, result)
	if err != nil {
		p.metrics.ObserveStage(StageSave, "error", start.Elapsed())
		return Result{}, fmt.Errorf("save result: %w", err)
	}
	p.metrics.ObserveStage(StageSave, "ok", start.Elapsed())
	result.QueryID = id

	p.metrics.IncProcessed(outcome.FinalDecision, outcome.Overridden)
	if p.notifier != nil {
		p.notifier.Publish(Event{
			Type:          "processed",
			QueryID:       id,
			FinalDecision: outcome.FinalDecision,
			Overridden:    outcome.Overridden,
			Timestamp:     time.Now().UTC(),
		})
	}
	log.WithFields(logrus.Fields{
		"query_id":       id,
		"clauses":        len(clauses),
		"llm_decision":   decision.Decision,
		"final_decision": outcome.FinalDecision,
		"overridden":     outcome.Overridden,
		"duration_ms":    result.ProcessingTimeMs,
	}).Info("query processed")
	return result, nil
}

func (p *Pipeline) summarize(ctx context.Context, log *logrus.Entry, clauses []retrieval.Clause) []reasoner.ClauseSummary {
	if len(clauses) == 0 {
		return []reasoner.ClauseSummary{}
	}
	start := util.StartTimer()
	summaries, err := withRetry(ctx, p.retry, p.metrics, StageSummarize, func(ctx context.Context) ([]reasoner.ClauseSummary, error) {
		return p.reasoner.Summarize(ctx, clauses)
	})
	if err == nil && len(summaries) == len(clauses) {
		p.metrics.ObserveStage(StageSummarize, "ok", start.Elapsed())
		return summaries
	}
	if err == nil {
		err = fmt.Errorf("reasoner returned %d summaries for %d clauses", len(summaries), len(clauses))
	}
	p.degrade(log, StageSummarize, err, start)
	out := make([]reasoner.ClauseSummary, len(clauses))
	for i, clause := range clauses {
		out[i] = reasoner.ClauseSummary{ClauseID: clause.ClauseID, Summary: clause.Text}
	}
	return out
}

func (p *Pipeline) decide(ctx context.Context, log *logrus.Entry, summaries []reasoner.ClauseSummary, s slots.Set, domain string) rules.Decision {
	start := util.StartTimer()
	decision, err := withRetry(ctx, p.retry, p.metrics, StageDecide, func(ctx context.Context) (rules.Decision, error) {
		return p.reasoner.Decide(ctx, summaries, s, domain)
	})
	if err != nil {
		p.degrade(log, StageDecide, err, start)
		return rules.Decision{ReasoningTrace: []string{err.Error()}, Decision: rules.Unknown}
	}
	p.metrics.ObserveStage(StageDecide, "ok", start.Elapsed())
	decision.Decision = rules.ParseVerdict(string(decision.Decision))
	if decision.Amount != nil && *decision.Amount < 0 {
		decision.Amount = nil
	}
	if decision.ReasoningTrace == nil {
		decision.ReasoningTrace = []string{}
	}
	return decision
}

func (p *Pipeline) degrade(log *logrus.Entry, stage string, err error, start util.Timer) {
	p.metrics.ObserveStage(stage, "degraded", start.Elapsed())
	p.metrics.IncFailure(stage)
	log.WithError(err).WithField("stage", stage).Warn("stage failed, continuing with degraded result")
}
