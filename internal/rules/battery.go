package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"policy-claims/backend/internal/slots"
)

// Rule identifiers as they appear in the audit trail.
const (
	RuleWaitingPeriod      = "waiting_period"
	RuleAgeLimit           = "age_limit"
	RuleProcedureExclusion = "procedure_exclusion"
	RuleMaxPayout          = "max_payout_limit"
)

var monthsPattern = regexp.MustCompile(`(?i)(\d+)[- ]?(?:month|mo)`)

// PolicyMonths extracts the month count from a policy duration phrase such as
// "3-month-old" or "6 months".
func PolicyMonths(duration string) (int, bool) {
	m := monthsPattern.FindStringSubmatch(duration)
	if m == nil {
		return 0, false
	}
	months, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return months, true
}

type waitingPeriod struct {
	minMonths int
}

func (waitingPeriod) Name() string { return RuleWaitingPeriod }

func (r waitingPeriod) Apply(s slots.Set, acc Accumulator) Accumulator {
	duration, ok := s.String(slots.PolicyDuration)
	if !ok {
		return acc
	}
	months, ok := PolicyMonths(duration)
	if !ok {
		return acc
	}
	if months < r.minMonths {
		notes := fmt.Sprintf("Policy duration less than required %d months", r.minMonths)
		return acc.Record(RuleWaitingPeriod, Failed, notes).Reject()
	}
	return acc.Record(RuleWaitingPeriod, Passed, "Policy duration meets waiting period")
}

type ageLimit struct {
	maxAge int
}

func (ageLimit) Name() string { return RuleAgeLimit }

func (r ageLimit) Apply(s slots.Set, acc Accumulator) Accumulator {
	if !s.Has(slots.Age) {
		return acc
	}
	age, ok := coerceInt(s[slots.Age])
	if !ok {
		return acc.Record(RuleAgeLimit, Unclear, "Could not parse age")
	}
	if age > r.maxAge {
		return acc.Record(RuleAgeLimit, Failed, "Claimant over age limit").Reject()
	}
	return acc.Record(RuleAgeLimit, Passed, "Age within allowed range")
}

type procedureExclusion struct {
	terms []string
}

func (procedureExclusion) Name() string { return RuleProcedureExclusion }

// Apply only ever records failures; an allowed procedure leaves no event.
func (r procedureExclusion) Apply(s slots.Set, acc Accumulator) Accumulator {
	if !s.Has(slots.Procedure) {
		return acc
	}
	procedure := strings.ToLower(stringify(s[slots.Procedure]))
	for _, term := range r.terms {
		needle := strings.ToLower(strings.TrimSpace(term))
		if needle == "" || !strings.Contains(procedure, needle) {
			continue
		}
		notes := fmt.Sprintf("%s procedures are not covered", capitalize(needle))
		return acc.Record(RuleProcedureExclusion, Failed, notes).Reject()
	}
	return acc
}

type payoutCap struct {
	limit float64
}

func (payoutCap) Name() string { return RuleMaxPayout }

// Apply treats a zero amount like a missing one.
func (r payoutCap) Apply(_ slots.Set, acc Accumulator) Accumulator {
	if acc.Amount == nil || *acc.Amount == 0 {
		return acc
	}
	if *acc.Amount <= r.limit {
		return acc
	}
	notes := fmt.Sprintf("Payout capped at %s", strconv.FormatFloat(r.limit, 'f', -1, 64))
	return acc.Record(RuleMaxPayout, Capped, notes).WithAmount(r.limit)
}

// coerceInt converts slot values to an int. Integral floats (as produced by
// JSON decoding) and numeric strings are accepted.
func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case float32:
		return coerceInt(float64(n))
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
