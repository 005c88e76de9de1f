package backend

import "strings"

// IsRetryable classifies an error string per the failover contract: an
// error is retryable when it contains any of the listed substrings, and
// explicitly not retryable when it contains "400". Ambiguous errors
// (matching neither list) are treated as non-retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "400") {
		return false
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var retryableMarkers = []string{
	"429", "401", "timeout", "5xx", "500", "502", "503", "504",
}
