// Package monitoring exposes Prometheus metrics for realized applications,
// deferred evaluations and submitted work.
//
// All Record* methods are nil-safe, so components can hold an optional
// *Metrics without guarding every call.
package monitoring
