// Package monitor gathers the state of the managed services and the
// snapshot store into one report, and renders it either once (meshctl
// status) or as a live Bubble Tea dashboard (meshctl status --watch).
//
// Every reading goes through the status cache, so a dashboard refreshing
// faster than the cache TTL does not fork a liveness probe per frame.
package monitor
