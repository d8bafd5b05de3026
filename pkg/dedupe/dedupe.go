// Package dedupe suppresses duplicate webhook deliveries. A delivery is
// identified by its dedupe key inside a trigger's scope; the first claim of a
// key wins and every later claim inside the window is rejected.
package dedupe

import "context"

// Store records dedupe keys for a bounded window.
type Store interface {
	// AdmitOnce claims the key for the trigger. It returns true when the
	// key was unseen and is now claimed, false when the key was already
	// claimed inside the window.
	AdmitOnce(ctx context.Context, triggerID, key string, windowSeconds int) (bool, error)

	// Release gives a claimed key back, so a delivery the engine failed to
	// process (not a duplicate) can be retried by the sender.
	Release(ctx context.Context, triggerID, key string) error

	Close() error
}
