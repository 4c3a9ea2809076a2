package resilience

import (
	"time"
)

// Fixed returns a RetryConfig that makes up to attempts tries, sleeping delay
// between them and retrying every error.
func Fixed(attempts int, delay time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		Policies:    Uniform(delay),
	}
}
