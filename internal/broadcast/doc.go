// Package broadcast implements the channel fan-out hub behind the streaming endpoints.
//
// A Registry maps channel names to copy-on-write slices of subscribers guarded by one short-held
// mutex; no lock is ever held while a message is enqueued. The Hub registers subscribers, fans
// published payloads out to every subscriber of a channel and runs a periodic liveness sweep that
// probes each subscriber and evicts the ones whose connection is gone.
package broadcast
