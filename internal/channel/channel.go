// Package channel implements the delivery transports: email, SMS, and
// web push. Senders are independent (a failure on one never blocks the
// others) and classify every failure as transient (retryable) or
// permanent via the notify error taxonomy.
//
// All constructors are nil-safe: with empty credentials they return nil,
// and the dispatcher treats a missing sender as a permanent
// "not configured" failure for that channel only.
package channel

import (
	"fmt"
	"net/http"

	"github.com/attendly/notifyd/internal/notify"
)

// classifyStatus maps an HTTP status to the retry taxonomy. 429 and 5xx
// are provider-side and retryable; other 4xx mean the request itself is
// bad and will not improve on retry.
func classifyStatus(status int) error {
	err := fmt.Errorf("provider returned %d", status)
	if status == http.StatusTooManyRequests || status >= 500 {
		return notify.Transient(err)
	}
	return notify.Permanent(err)
}
