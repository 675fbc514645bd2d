package recovery

// AlternateHint is prepended to instructions run under the alternate agent
// configuration.
const AlternateHint = "Previous attempt failed, try a simpler approach"

// Config holds the tunables strategies read.
type Config struct {
	AlternateProfile     string
	DecomposeMaxSubtasks int
}

// Params describes how the next attempt runs under a strategy.
type Params struct {
	ClearTranscript bool
	Profile         string // empty keeps the default profile
	Hint            string
	MaxSubtasks     int // children cap for DECOMPOSE_FURTHER
}

// ParamsFor returns the next-attempt parameters for a strategy.
func ParamsFor(s Strategy, cfg Config) Params {
	switch s {
	case StrategySimpleRetry:
		return Params{ClearTranscript: true}
	case StrategyAlternateAgent:
		return Params{Profile: cfg.AlternateProfile, Hint: AlternateHint}
	case StrategyDecomposeFurther:
		maxSubtasks := cfg.DecomposeMaxSubtasks
		if maxSubtasks <= 0 {
			maxSubtasks = 5
		}
		return Params{MaxSubtasks: maxSubtasks}
	default:
		return Params{}
	}
}
