package memory

// DefaultRetryCeiling is the total number of attempts per item.
const DefaultRetryCeiling = 3

// RetryPolicy bounds how often a transiently failing item is attempted.
// Re-queued items are retried immediately; there is no backoff.
type RetryPolicy struct {
	ceiling int
}

// NewRetryPolicy builds a policy allowing ceiling total attempts.
func NewRetryPolicy(ceiling int) RetryPolicy {
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	return RetryPolicy{ceiling: ceiling}
}

// Ceiling returns the total attempt budget.
func (p RetryPolicy) Ceiling() int {
	if p.ceiling <= 0 {
		return DefaultRetryCeiling
	}
	return p.ceiling
}

// ShouldRetry reports whether an item that just failed on the given
// zero-based attempt gets another one.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt+1 < p.Ceiling()
}
