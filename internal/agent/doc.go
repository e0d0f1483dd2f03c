// Package agent is the child side of the control channel. A program that
// wants to accept submitted work calls Serve, typically from main:
//
//	if agent.Enabled() {
//		go agent.Serve(ctx, work.Default())
//	}
//
// Property reads the system properties the parent passed in.
package agent
