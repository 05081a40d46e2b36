package agent

import "time"

// Policy bounds a single AI turn.
type Policy struct {
	// MaxFunctionRounds caps submit-results iterations in one turn.
	MaxFunctionRounds int
	// MaxTurnDuration bounds the total execution time of a turn.
	MaxTurnDuration time.Duration
	// CallTimeout bounds each individual provider call.
	CallTimeout time.Duration
}

func defaultPolicy() Policy {
	return Policy{
		MaxFunctionRounds: 6,
		MaxTurnDuration:   300 * time.Second,
		CallTimeout:       90 * time.Second,
	}
}

func mergePolicy(base, override Policy) Policy {
	policy := base
	if override.MaxFunctionRounds > 0 {
		policy.MaxFunctionRounds = override.MaxFunctionRounds
	}
	if override.MaxTurnDuration > 0 {
		policy.MaxTurnDuration = override.MaxTurnDuration
	}
	if override.CallTimeout > 0 {
		policy.CallTimeout = override.CallTimeout
	}
	return policy
}
