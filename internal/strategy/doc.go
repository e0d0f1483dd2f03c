/*
Package strategy is the boundary between applications and the mechanism
that actually starts them.

Implementations live in subpackages:

	local     separate host process (os/exec, optional pseudo-terminal)
	isolated  JavaScript unit on its own goja runtime inside this process
	remote    process on another host over SSH
*/
package strategy
