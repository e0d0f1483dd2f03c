/*
Package isolated runs JavaScript units side by side inside the current
process. Every unit owns a goja runtime, so units share nothing but the
host.

Scripts see:

	process.argv, process.env, process.pid
	process.exit(code), process.sleep(ms), process.stdin.readLine()
	console.log/info (output), console.warn/error (error stream)
	System.getProperty(key[, default]), System.setProperty(key, value)

After the main script returns the unit keeps serving submitted work until
it is terminated or calls process.exit. Work is executed on the unit's own
runtime, never concurrently with its script; process.sleep yields to it.
*/
package isolated
