// Package local starts units as separate host processes.
//
// Each process gets fresh pipes for its standard streams, or a
// pseudo-terminal (creack/pty) when a terminal is requested. Its identity is
// the operating system pid.
package local
