// Package remote starts units on another host over SSH
// (golang.org/x/crypto/ssh).
//
// The executable is started by a shell launcher that prints its pid and
// then execs the target, so the unit's identity is the real remote process
// id. Dials are guarded by a circuit breaker so a dead host fails fast.
package remote
