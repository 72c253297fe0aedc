// Package app holds the background producers that publish into the hub on their own schedule.
//
// A producer is started on demand by the transport when a subscriber joins its channel and stops
// itself once the channel has no subscribers left.
package app
