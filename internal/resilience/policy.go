package resilience

import "time"

// Policy describes how a retry loop treats one failure kind.
type Policy struct {
	Retryable bool
	Delay     time.Duration
}

// PolicyTable maps failure kinds to policies. Kinds not listed use Default.
type PolicyTable struct {
	Kinds   map[Kind]Policy
	Default Policy
}

// For returns the policy for err's kind.
func (t *PolicyTable) For(err error) Policy {
	if p, ok := t.Kinds[KindOf(err)]; ok {
		return p
	}
	return t.Default
}

// Retryable reports whether err may be retried under this table.
func (t *PolicyTable) Retryable(err error) bool {
	return t.For(err).Retryable
}

// Uniform returns a table that retries every failure after the same delay.
func Uniform(delay time.Duration) *PolicyTable {
	return &PolicyTable{Default: Policy{Retryable: true, Delay: delay}}
}

// ExtractionPolicies is the table for the LLM extract-and-validate loop:
// transport errors back off, past dates abort, everything else retries at once.
func ExtractionPolicies(transportBackoff time.Duration) *PolicyTable {
	return &PolicyTable{
		Kinds: map[Kind]Policy{
			KindLLMTransport: {Retryable: true, Delay: transportBackoff},
			KindFieldCount:   {Retryable: true},
			KindDateParse:    {Retryable: true},
			KindPastDate:     {Retryable: false},
			KindAddress:      {Retryable: true},
		},
		Default: Policy{Retryable: true},
	}
}
