package rules

import (
	"policy-claims/backend/internal/slots"
)

// Verdict is the claim decision produced by the reasoner and the rules engine.
type Verdict string

const (
	Approved Verdict = "approved"
	Rejected Verdict = "rejected"
	Unknown  Verdict = "unknown"
)

// ParseVerdict maps free-form model output onto a Verdict. Anything that is
// not clearly approved or rejected is Unknown.
func ParseVerdict(raw string) Verdict {
	switch Verdict(normalizeToken(raw)) {
	case Approved:
		return Approved
	case Rejected:
		return Rejected
	}
	return Unknown
}

// Result is the outcome of a single rule check.
type Result string

const (
	Passed  Result = "passed"
	Failed  Result = "failed"
	Capped  Result = "capped"
	Unclear Result = "unknown"
)

// Decision is the preliminary decision proposed by the reasoner.
type Decision struct {
	ReasoningTrace []string `json:"reasoning_trace"`
	Decision       Verdict  `json:"decision"`
	Amount         *float64 `json:"amount"`
}

// Event is one entry of the rule audit trail.
type Event struct {
	Rule   string `json:"rule"`
	Result Result `json:"result"`
	Notes  string `json:"notes"`
}

// Outcome is the final, auditable decision.
type Outcome struct {
	FinalDecision Verdict  `json:"final_decision"`
	FinalAmount   *float64 `json:"final_amount"`
	RuleEvents    []Event  `json:"rule_events"`
	Overridden    bool     `json:"overridden"`
}

// Accumulator is the working state threaded through the rule battery.
type Accumulator struct {
	Decision Verdict
	Amount   *float64
	Events   []Event
	rejected bool
}

// Record returns a copy of the accumulator with the event appended.
func (a Accumulator) Record(rule string, result Result, notes string) Accumulator {
	events := make([]Event, len(a.Events), len(a.Events)+1)
	copy(events, a.Events)
	a.Events = append(events, Event{Rule: rule, Result: result, Notes: notes})
	return a
}

// Reject returns a copy of the accumulator with a rejected decision and a zero
// payout.
func (a Accumulator) Reject() Accumulator {
	a.Decision = Rejected
	a.Amount = amountPtr(0)
	a.rejected = true
	return a
}

// WithAmount returns a copy of the accumulator carrying the given payout.
func (a Accumulator) WithAmount(v float64) Accumulator {
	a.Amount = amountPtr(v)
	return a
}

// Rejected reports whether a rule has rejected the claim in this evaluation.
func (a Accumulator) Rejected() bool {
	return a.rejected
}

// Rule is one deterministic policy check. Apply must not mutate its inputs.
type Rule interface {
	Name() string
	Apply(s slots.Set, acc Accumulator) Accumulator
}

// Engine evaluates a fixed, ordered battery of rules.
type Engine struct {
	rules []Rule
}

// New constructs the standard rule battery from cfg.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return NewWithRules(
		waitingPeriod{minMonths: cfg.MinPolicyMonths},
		ageLimit{maxAge: cfg.MaxAge},
		procedureExclusion{terms: cfg.ExcludedProcedures},
		payoutCap{limit: cfg.PayoutCap},
	)
}

// NewWithRules constructs an engine over an explicit rule sequence.
func NewWithRules(rules ...Rule) *Engine {
	seq := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			seq = append(seq, r)
		}
	}
	return &Engine{rules: seq}
}

// Rules returns the names of the rules in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

var defaultEngine = New(DefaultConfig())

// Evaluate runs the default rule battery.
func Evaluate(s slots.Set, d Decision) Outcome {
	return defaultEngine.Evaluate(s, d)
}

// Evaluate folds the rule battery over the reasoner's decision. It is pure and
// never fails.
func (e *Engine) Evaluate(s slots.Set, d Decision) Outcome {
	acc := Accumulator{Decision: d.Decision, Amount: copyAmount(d.Amount)}
	if acc.Decision == "" {
		acc.Decision = Unknown
	}
	if e != nil {
		for _, rule := range e.rules {
			next := rule.Apply(s, acc)
			if acc.rejected {
				next.Decision = Rejected
				next.Amount = acc.Amount
				next.rejected = true
			}
			acc = next
		}
	}

	events := acc.Events
	if events == nil {
		events = []Event{}
	}
	original := d.Decision
	if original == "" {
		original = Unknown
	}
	return Outcome{
		FinalDecision: acc.Decision,
		FinalAmount:   acc.Amount,
		RuleEvents:    events,
		Overridden:    acc.Decision != original,
	}
}

func amountPtr(v float64) *float64 {
	return &v
}

func copyAmount(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return amountPtr(*v)
}
