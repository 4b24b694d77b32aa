package eventq

import "time"

// retryDelays is indexed by the retry count recorded before the failure
// increments it. Counts past the end of the table stay at the last delay.
var retryDelays = [...]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

// RetryDelay returns how long a failed item waits before becoming eligible
// again, given its current retry count. Stores use it to stamp next_retry_at
// when scheduling a retry.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}

	return retryDelays[retryCount]
}
