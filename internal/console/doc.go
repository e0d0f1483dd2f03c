/*
Package console binds the standard streams of a running unit to a consumer.

A console is owned by at most one application at a time. Backends:

	Piped     blocking line readers for output and error, writable input
	System    pass-through to the host terminal with "[label:stream]" prefixes
	Null      drains and discards
	Terminal  Piped on a pseudo-terminal, resizable

Lines are delivered in production order per stream with the trailing
newline (and any carriage return) removed.
*/
package console
