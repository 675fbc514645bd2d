package recovery

import "fmt"

// DefaultMaxAttempts is the attempt budget per decision window.
const DefaultMaxAttempts = 4

// Input is what Select decides on.
type Input struct {
	Kind        Kind
	Attempt     int // 1-based, within the current window
	MaxAttempts int
	// History holds the records before the current failure.
	History []AttemptRecord
	// SingleStrategy restricts recovery to SIMPLE_RETRY until the budget
	// is spent.
	SingleStrategy bool
}

// Decision is the selector's output.
type Decision struct {
	Strategy Strategy
	Reason   string
	// BudgetExhausted is set on escalations caused by running out of
	// attempts or strategies, as opposed to a BLOCKING failure.
	BudgetExhausted bool
}

// Select picks the recovery strategy for a failed attempt:
//
//  1. attempt >= max escalates regardless of kind
//  2. the first verification_failed in the window retries as-is
//  3. attempt 1 retries, attempt 2 switches agent configuration (BLOCKING
//     escalates instead), attempt 3 decomposes further, later attempts
//     escalate
//  4. a strategy other than SIMPLE_RETRY already used in the window is
//     exhausted and the next one is taken
func Select(in Input) Decision {
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	window := Window(in.History)

	if in.Attempt >= maxAttempts {
		return Decision{
			Strategy:        StrategyEscalate,
			Reason:          fmt.Sprintf("attempt budget exhausted (%d/%d)", in.Attempt, maxAttempts),
			BudgetExhausted: true,
		}
	}

	if in.Kind == KindVerificationFailed && !hasKind(window, KindVerificationFailed) {
		return Decision{
			Strategy: StrategySimpleRetry,
			Reason:   "first verification failure: retry against the verifier's reasons",
		}
	}

	if in.SingleStrategy {
		return Decision{
			Strategy: StrategySimpleRetry,
			Reason:   fmt.Sprintf("attempt %d of %d", in.Attempt, maxAttempts),
		}
	}

	var d Decision
	switch in.Attempt {
	case 1:
		d = Decision{Strategy: StrategySimpleRetry, Reason: "first failure: retry"}
	case 2:
		if in.Kind == KindBlocking {
			return Decision{
				Strategy: StrategyEscalate,
				Reason:   "blocking failure persisted across attempts",
			}
		}
		d = Decision{Strategy: StrategyAlternateAgent, Reason: "second failure: switch agent configuration"}
	case 3:
		d = Decision{Strategy: StrategyDecomposeFurther, Reason: "third failure: decompose the failing work"}
	default:
		return Decision{
			Strategy:        StrategyEscalate,
			Reason:          fmt.Sprintf("no strategy left for attempt %d", in.Attempt),
			BudgetExhausted: true,
		}
	}

	for d.Strategy != StrategySimpleRetry && d.Strategy != StrategyEscalate && hasStrategy(window, d.Strategy) {
		exhausted := d.Strategy
		d.Strategy = next(d.Strategy)
		d.Reason = fmt.Sprintf("%s already used in this window", exhausted)
		if d.Strategy == StrategyEscalate {
			d.BudgetExhausted = true
		}
	}
	return d
}

func next(s Strategy) Strategy {
	switch s {
	case StrategyAlternateAgent:
		return StrategyDecomposeFurther
	default:
		return StrategyEscalate
	}
}

func hasKind(records []AttemptRecord, k Kind) bool {
	for _, r := range records {
		if r.Kind == k {
			return true
		}
	}
	return false
}

func hasStrategy(records []AttemptRecord, s Strategy) bool {
	for _, r := range records {
		if r.Strategy == s {
			return true
		}
	}
	return false
}
