// Package notify delivers cycle outcomes to chat webhooks and the message bus.
package notify

import "alarm-sync/internal/reconcile/application"

// Noteworthy reports whether a cycle result is worth a human notification.
func Noteworthy(res application.CycleResult) bool {
	return res.Error != "" || res.TimedOut || res.Failures() > 0
}
