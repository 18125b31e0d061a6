package config

import (
	"slices"
	"strings"
)

// RetryBackoffMode is how the wait between lock retries grows.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffModes = []RetryBackoffMode{RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential}

// NormalizeRetryBackoff parses queue.retry.backoff case-insensitively.
// Unknown values yield "".
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	mode := RetryBackoffMode(strings.ToLower(strings.TrimSpace(raw)))
	if slices.Contains(retryBackoffModes, mode) {
		return mode
	}
	return ""
}
