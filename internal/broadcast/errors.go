package broadcast

import "errors"

var (
	// ErrSubscriptionSetupFailed is returned by Subscribe when the acknowledgment could not be
	// enqueued. Nothing is registered; the caller may retry the whole subscribe.
	ErrSubscriptionSetupFailed = errors.New("subscription setup failed")

	// ErrSubscriberGone means the subscriber's connection has been closed.
	ErrSubscriberGone = errors.New("subscriber gone")

	// ErrQueueFull means the subscriber queue had no room (immediately, or within the send timeout).
	ErrQueueFull = errors.New("subscriber queue full")

	// ErrHubClosed is returned by Subscribe after Shutdown.
	ErrHubClosed = errors.New("hub closed")
)
